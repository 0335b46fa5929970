package broker_test

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"

	"github.com/relaymesh/broker/broker"
	"github.com/relaymesh/broker/brokertest"
)

// S6: a call to an action known only on a remote node dispatches over
// transit and resolves from the matching RESPONSE frame.
func TestRemoteCallDispatchesOverTransit(t *testing.T) {
	defer leaktest.Check(t)()

	pair, err := brokertest.NewLocal(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = pair.Stop() })

	svc := broker.NewServiceDefinition("user").Action("create", func(ctx context.Context, c *broker.Context) (any, error) {
		params, _ := c.Params.(map[string]any)
		return map[string]any{"id": 1, "x": params["x"]}, nil
	})
	if err := pair.B.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}

	if err := brokertest.WaitForAction(pair.A, "user.create", 2*time.Second); err != nil {
		t.Fatalf("WaitForAction: %v", err)
	}

	result, err := pair.A.Call(context.Background(), "user.create", map[string]any{"x": float64(1)}, broker.WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"id": float64(1), "x": float64(1)}, result); diff != "" {
		t.Errorf("Call result mismatch (-want +got):\n%s", diff)
	}
}

// S7: once a remote node disconnects, its endpoints are deregistered and a
// subsequent call to an action it alone hosted rejects with
// ServiceNotFoundError. A clean Stop and a silent heartbeat timeout both
// funnel into the same HandleDisconnect path on the surviving node; this
// test drives it via Stop since that is the only externally triggerable
// disconnection in this harness.
func TestHeartbeatLossDeregistersRemoteEndpoints(t *testing.T) {
	defer leaktest.Check(t)()

	shortHeartbeat := &broker.Config{
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  60 * time.Millisecond,
	}
	pair, err := brokertest.NewLocal(context.Background(), shortHeartbeat, shortHeartbeat)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { _ = pair.Stop() })

	svc := broker.NewServiceDefinition("user").Action("create", func(ctx context.Context, c *broker.Context) (any, error) {
		return "ok", nil
	})
	if err := pair.B.CreateService(svc); err != nil {
		t.Fatalf("CreateService: %v", err)
	}
	if err := brokertest.WaitForAction(pair.A, "user.create", 2*time.Second); err != nil {
		t.Fatalf("WaitForAction: %v", err)
	}

	if err := pair.B.Stop(); err != nil {
		t.Fatalf("Stop(B): %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for pair.A.HasAction("user.create") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_, err = pair.A.Call(context.Background(), "user.create", nil, broker.WithTimeout(200*time.Millisecond))
	if err == nil {
		t.Fatal("Call: expected ServiceNotFoundError after peer disconnect, got nil")
	}
	berr, ok := err.(*broker.Error)
	if !ok || berr.Kind != "ServiceNotFoundError" {
		t.Fatalf("Call: error = %v, want ServiceNotFoundError", err)
	}
}
