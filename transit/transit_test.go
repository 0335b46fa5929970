package transit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/broker/transit"
	"github.com/relaymesh/broker/transport"
)

// stubHost is a minimal transit.Host used to exercise request/response and
// event delivery without pulling in the broker package.
type stubHost struct {
	mu     sync.Mutex
	events []*transit.EventPayload

	handle func(ctx context.Context, from string, req *transit.RequestPayload) ([]byte, *transit.ErrorPayload)
}

func (h *stubHost) HandleRequest(ctx context.Context, from string, req *transit.RequestPayload) ([]byte, *transit.ErrorPayload) {
	if h.handle != nil {
		return h.handle(ctx, from, req)
	}
	return []byte(`"ok"`), nil
}

func (h *stubHost) HandleEvent(from string, ev *transit.EventPayload) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *stubHost) HandleInfo(from string, info *transit.InfoPayload)         {}
func (h *stubHost) HandleHeartbeat(from string, hb *transit.HeartbeatPayload) {}
func (h *stubHost) HandleDisconnect(from string)                             {}
func (h *stubHost) HandleDiscover(from string)                               {}
func (h *stubHost) LocalInfo() *transit.InfoPayload                          { return &transit.InfoPayload{} }

func newPair(t *testing.T) (a *transit.Transit, aHost *stubHost, b *transit.Transit, bHost *stubHost) {
	t.Helper()
	bus := transport.NewBus()
	aHost, bHost = &stubHost{}, &stubHost{}

	var err error
	a, err = transit.New(&transit.Config{
		NodeID:    "node-a",
		Transport: transport.NewLoopback(bus),
		Host:      aHost,
	})
	if err != nil {
		t.Fatalf("New(a): %v", err)
	}
	b, err = transit.New(&transit.Config{
		NodeID:    "node-b",
		Transport: transport.NewLoopback(bus),
		Host:      bHost,
	})
	if err != nil {
		t.Fatalf("New(b): %v", err)
	}

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start(a): %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start(b): %v", err)
	}
	t.Cleanup(func() {
		_ = a.Stop()
		_ = b.Stop()
	})
	return a, aHost, b, bHost
}

func TestRequestResponseRoundTrip(t *testing.T) {
	a, _, _, bHost := newPair(t)

	bHost.handle = func(ctx context.Context, from string, req *transit.RequestPayload) ([]byte, *transit.ErrorPayload) {
		if req.Action != "math.add" {
			return nil, &transit.ErrorPayload{Kind: "NotFound", Message: "unknown action"}
		}
		return []byte(`7`), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := a.Request(ctx, "node-b", &transit.RequestPayload{
		ID:     "req-1",
		Action: "math.add",
		Level:  1,
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !resp.Success {
		t.Fatalf("Request: unsuccessful response: %+v", resp.Error)
	}
	if string(resp.Data) != "7" {
		t.Errorf("resp.Data = %q, want 7", resp.Data)
	}
}

func TestRequestPropagatesActionError(t *testing.T) {
	a, _, _, bHost := newPair(t)

	bHost.handle = func(ctx context.Context, from string, req *transit.RequestPayload) ([]byte, *transit.ErrorPayload) {
		return nil, &transit.ErrorPayload{Kind: "ValidationError", Message: "bad params", Code: 422}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := a.Request(ctx, "node-b", &transit.RequestPayload{ID: "req-2", Action: "x.y"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Success {
		t.Fatal("Request: expected unsuccessful response")
	}
	if resp.Error.Kind != "ValidationError" || resp.Error.Code != 422 {
		t.Errorf("resp.Error = %+v, want ValidationError/422", resp.Error)
	}
}

func TestRequestTimesOutWithoutResponder(t *testing.T) {
	bus := transport.NewBus()
	a, err := transit.New(&transit.Config{
		NodeID:    "node-a",
		Transport: transport.NewLoopback(bus),
		Host:      &stubHost{},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer a.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = a.Request(ctx, "node-ghost", &transit.RequestPayload{ID: "req-3", Action: "x.y"})
	if err != transit.ErrRequestTimeout {
		t.Errorf("Request: got err %v, want ErrRequestTimeout", err)
	}
}

func TestPublishEventDeliversToPeer(t *testing.T) {
	a, _, _, bHost := newPair(t)

	if err := a.PublishEvent(&transit.EventPayload{Name: "user.created", Data: []byte(`{"id":1}`)}); err != nil {
		t.Fatalf("PublishEvent: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		bHost.mu.Lock()
		n := len(bHost.events)
		bHost.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	bHost.mu.Lock()
	defer bHost.mu.Unlock()
	if len(bHost.events) != 1 || bHost.events[0].Name != "user.created" {
		t.Errorf("events = %+v, want one user.created event", bHost.events)
	}
}
