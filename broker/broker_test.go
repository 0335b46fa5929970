package broker_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	"github.com/relaymesh/broker/broker"
)

func newTestBroker(t *testing.T, cfg *broker.Config) *broker.Broker {
	t.Helper()
	if cfg == nil {
		cfg = &broker.Config{}
	}
	if cfg.NodeID == "" {
		cfg.NodeID = "test-node"
	}
	b, err := broker.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = b.Stop() })
	return b
}

// S1: a local call with no params resolves to a context whose params,
// level, and nodeID reflect a fresh root call, and the handler runs once.
func TestLocalCallNoParams(t *testing.T) {
	defer leaktest.Check(t)()

	var calls int32
	var seenLevel int
	var seenNodeID string

	b := newTestBroker(t, nil)
	svc := broker.NewServiceDefinition("posts").Action("find", func(ctx context.Context, c *broker.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		seenLevel = c.Level
		seenNodeID = c.NodeID
		return map[string]any{}, nil
	})
	if err := b.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	result, err := b.Call(context.Background(), "posts.find", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if diff := cmp.Diff(map[string]any{}, result); diff != "" {
		t.Errorf("Call result mismatch (-want +got):\n%s", diff)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("handler invoked %d times, want 1", calls)
	}
	if seenLevel != 1 {
		t.Errorf("Context.Level = %d, want 1", seenLevel)
	}
	if seenNodeID != "" {
		t.Errorf("Context.NodeID = %q, want empty (local call)", seenNodeID)
	}
}

// S2: calling an action nobody has registered rejects with
// ServiceNotFoundError, not a bare error.
func TestCallUnknownActionReportsServiceNotFound(t *testing.T) {
	defer leaktest.Check(t)()

	b := newTestBroker(t, nil)
	_, err := b.Call(context.Background(), "posts.nope", nil)
	if err == nil {
		t.Fatal("Call: expected error, got nil")
	}
	berr, ok := err.(*broker.Error)
	if !ok {
		t.Fatalf("Call: error type = %T, want *broker.Error", err)
	}
	if berr.Kind != "ServiceNotFoundError" {
		t.Errorf("Kind = %q, want ServiceNotFoundError", berr.Kind)
	}
	if berr.Data["action"] != "posts.nope" {
		t.Errorf("Data[action] = %v, want posts.nope", berr.Data["action"])
	}
}

// S3: a nested call that would exceed MaxCallLevel rejects before the
// handler runs.
func TestCallExceedingMaxCallLevelIsRejected(t *testing.T) {
	defer leaktest.Check(t)()

	var invoked bool
	b := newTestBroker(t, &broker.Config{MaxCallLevel: 5})
	svc := broker.NewServiceDefinition("posts").Action("find", func(ctx context.Context, c *broker.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if err := b.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	parent := &broker.Context{Level: 5}
	_, err := b.Call(context.Background(), "posts.find", map[string]any{}, broker.WithParentContext(parent))
	if err == nil {
		t.Fatal("Call: expected MaxCallLevelError, got nil")
	}
	berr, ok := err.(*broker.Error)
	if !ok || berr.Kind != "MaxCallLevelError" {
		t.Fatalf("Call: error = %v, want MaxCallLevelError", err)
	}
	if berr.Code != 500 {
		t.Errorf("Code = %d, want 500", berr.Code)
	}
	if berr.Data["level"] != 6 {
		t.Errorf("Data[level] = %v, want 6", berr.Data["level"])
	}
	if invoked {
		t.Error("handler was invoked despite MaxCallLevel rejection")
	}
}

// S4: a slow local action times out, is retried once, and finally resolves
// through the caller-supplied fallback.
func TestTimeoutThenRetryThenFallback(t *testing.T) {
	defer leaktest.Check(t)()

	var attempts int32
	b := newTestBroker(t, nil)
	svc := broker.NewServiceDefinition("slow").Action("op", func(ctx context.Context, c *broker.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		select {
		case <-time.After(5 * time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err := b.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	result, err := b.Call(context.Background(), "slow.op", nil,
		broker.WithTimeout(50*time.Millisecond),
		broker.WithRetry(1),
		broker.WithFallback(map[string]any{"ok": true}),
	)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"ok": true}, result); diff != "" {
		t.Errorf("Call result mismatch (-want +got):\n%s", diff)
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("handler invoked %d times, want 2 (original + 1 retry)", got)
	}
}

// S5: repeated timeouts trip the circuit breaker to OPEN, a subsequent call
// is rejected synchronously without invoking the handler, and after
// halfOpenTime a probing call is admitted and closes the breaker again on
// success.
func TestCircuitBreakerTripsAndRecovers(t *testing.T) {
	defer leaktest.Check(t)()

	var attempts int32
	var fail atomic.Bool
	fail.Store(true)

	b := newTestBroker(t, &broker.Config{
		CircuitBreaker: broker.CircuitBreakerConfig{
			Enabled:          true,
			MaxFailures:      2,
			HalfOpenTime:     50 * time.Millisecond,
			FailureOnTimeout: true,
		},
	})
	svc := broker.NewServiceDefinition("flaky").Action("op", func(ctx context.Context, c *broker.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		if fail.Load() {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return "ok", nil
	})
	if err := b.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	for i := 0; i < 2; i++ {
		_, err := b.Call(context.Background(), "flaky.op", nil, broker.WithTimeout(20*time.Millisecond))
		if err == nil {
			t.Fatalf("Call %d: expected timeout error, got nil", i)
		}
	}

	before := atomic.LoadInt32(&attempts)
	_, err := b.Call(context.Background(), "flaky.op", nil, broker.WithTimeout(20*time.Millisecond))
	if err == nil {
		t.Fatal("Call: expected ServiceNotAvailableError once circuit is open, got nil")
	}
	berr, ok := err.(*broker.Error)
	if !ok || berr.Kind != "ServiceNotAvailableError" {
		t.Fatalf("Call: error = %v, want ServiceNotAvailableError", err)
	}
	if atomic.LoadInt32(&attempts) != before {
		t.Error("handler was invoked while circuit breaker was OPEN")
	}

	time.Sleep(60 * time.Millisecond)
	fail.Store(false)

	result, err := b.Call(context.Background(), "flaky.op", nil, broker.WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Call after half-open window: %v", err)
	}
	if result != "ok" {
		t.Errorf("Call result = %v, want ok", result)
	}
}
