package transit

import "sync"

// pendingCall tracks a single outbound REQUEST frame awaiting its RESPONSE.
// The pattern mirrors the teacher's pending outbound call table in peer.go:
// a single-buffered channel that the dispatch loop delivers to exactly once,
// with the caller responsible for draining it (possibly under ctx.Done()).
type pendingCall struct {
	targetNode string
	ch         chan *ResponsePayload
}

func newPendingCall(targetNode string) *pendingCall {
	return &pendingCall{targetNode: targetNode, ch: make(chan *ResponsePayload, 1)}
}

func (p *pendingCall) deliver(r *ResponsePayload) {
	select {
	case p.ch <- r:
	default:
		// Already delivered or abandoned; drop silently, matching the
		// teacher's behavior for a pending entry that no longer has a
		// waiting receiver.
	}
}

// pendingTable is a mutex-guarded registry of in-flight outbound calls,
// keyed by request ID. It is deliberately its own type, rather than a bare
// map guarded by Transit's own mutex, so that node-disconnect sweeps don't
// need to take Transit's broader lock.
type pendingTable struct {
	mu    sync.Mutex
	calls map[string]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[string]*pendingCall)}
}

func (t *pendingTable) register(id, targetNode string) *pendingCall {
	p := newPendingCall(targetNode)
	t.mu.Lock()
	t.calls[id] = p
	t.mu.Unlock()
	return p
}

func (t *pendingTable) remove(id string) {
	t.mu.Lock()
	delete(t.calls, id)
	t.mu.Unlock()
}

func (t *pendingTable) take(id string) *pendingCall {
	t.mu.Lock()
	p := t.calls[id]
	delete(t.calls, id)
	t.mu.Unlock()
	return p
}

// failNode delivers a synthetic failure response to every pending call
// targeting node, and removes them from the table. It is invoked when a
// DISCONNECT frame or a heartbeat timeout indicates node is unreachable.
func (t *pendingTable) failNode(node string, errPayload *ErrorPayload) {
	t.mu.Lock()
	var victims []*pendingCall
	for id, p := range t.calls {
		if p.targetNode == node {
			victims = append(victims, p)
			delete(t.calls, id)
		}
	}
	t.mu.Unlock()

	for _, p := range victims {
		p.deliver(&ResponsePayload{Success: false, Error: errPayload})
	}
}

// failAll delivers a synthetic failure response to every pending call and
// empties the table. It is invoked when the local Transit is stopped.
func (t *pendingTable) failAll(errPayload *ErrorPayload) {
	t.mu.Lock()
	victims := make([]*pendingCall, 0, len(t.calls))
	for id, p := range t.calls {
		victims = append(victims, p)
		delete(t.calls, id)
	}
	t.mu.Unlock()

	for _, p := range victims {
		p.deliver(&ResponsePayload{Success: false, Error: errPayload})
	}
}
