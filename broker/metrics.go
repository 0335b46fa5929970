package broker

import "expvar"

// brokerMetrics holds a broker's activity counters, the same instrumentation
// style the teacher uses for its peer-level counters (packetRecv, callOut,
// ...): an unpublished *expvar.Map private to the instance, so creating
// many brokers in a single process (as tests do) never collides on a
// globally registered name.
type brokerMetrics struct {
	callsLocal    expvar.Int
	callsRemote   expvar.Int
	callErrors    expvar.Int
	callRetries   expvar.Int
	callFallbacks expvar.Int
	circuitOpens  expvar.Int
	eventsEmitted expvar.Int
	nodesJoined   expvar.Int
	nodesLeft     expvar.Int

	emap *expvar.Map
}

func newBrokerMetrics() *brokerMetrics {
	m := &brokerMetrics{emap: new(expvar.Map)}
	m.emap.Set("calls_local", &m.callsLocal)
	m.emap.Set("calls_remote", &m.callsRemote)
	m.emap.Set("call_errors", &m.callErrors)
	m.emap.Set("call_retries", &m.callRetries)
	m.emap.Set("call_fallbacks", &m.callFallbacks)
	m.emap.Set("circuit_opens", &m.circuitOpens)
	m.emap.Set("events_emitted", &m.eventsEmitted)
	m.emap.Set("nodes_joined", &m.nodesJoined)
	m.emap.Set("nodes_left", &m.nodesLeft)
	return m
}
