package transport_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/relaymesh/broker/transport"
)

func TestLoopbackDeliversInOrder(t *testing.T) {
	bus := transport.NewBus()
	pub := transport.NewLoopback(bus)
	sub := transport.NewLoopback(bus)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	if err := sub.Subscribe("topic.a", func(p []byte) {
		mu.Lock()
		got = append(got, string(p))
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := pub.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for _, msg := range []string{"one", "two", "three"} {
		if err := pub.Publish("topic.a", []byte(msg)); err != nil {
			t.Fatalf("Publish(%q): %v", msg, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("message %d: got %q, want %q", i, got[i], w)
		}
	}

	if err := pub.Disconnect(); err != nil {
		t.Errorf("Disconnect(pub): %v", err)
	}
	if err := sub.Disconnect(); err != nil {
		t.Errorf("Disconnect(sub): %v", err)
	}
}

func TestLoopbackPublishAfterDisconnect(t *testing.T) {
	bus := transport.NewBus()
	l := transport.NewLoopback(bus)
	if err := l.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := l.Publish("topic.a", []byte("x")); err == nil {
		t.Error("Publish after Disconnect: expected error")
	}
}
