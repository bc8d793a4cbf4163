package bus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Declare(Descriptor{Topic: "test.topic", DefaultOrdered: true, Validate: func(any) error { return nil }})
	return r
}

func TestBus_DeliveryOrderMatchesPublishOrder(t *testing.T) {
	b := New(testRegistry(), nil, nil)

	var mu sync.Mutex
	var received []int

	err := b.Subscribe("test.topic", "recorder", func(ctx context.Context, e Envelope) error {
		mu.Lock()
		received = append(received, e.Payload.(int))
		mu.Unlock()
		return nil
	}, SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	const n = 200
	for i := 0; i < n; i++ {
		if err := b.Publish(context.Background(), Envelope{Topic: "test.topic", Payload: i, CorrelationID: "c"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	b.ShutdownAll(2000)

	if len(received) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(received))
	}
	for i, v := range received {
		if v != i {
			t.Fatalf("order violated at index %d: want %d got %d", i, i, v)
		}
	}
}

func TestBus_IdempotentSubscriberDropsReplays(t *testing.T) {
	b := New(testRegistry(), nil, nil)

	var mu sync.Mutex
	calls := 0

	err := b.Subscribe("test.topic", "idem", func(ctx context.Context, e Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}, SubscribeOptions{Idempotent: true, MemorySec: 60})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := Envelope{Topic: "test.topic", Payload: 1, CorrelationID: "dup-1"}
	for i := 0; i < 5; i++ {
		if err := b.Publish(context.Background(), env); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	b.ShutdownAll(2000)

	if calls != 1 {
		t.Fatalf("expected exactly 1 side effect for 5 replays, got %d", calls)
	}
}

func TestBus_DropNewPolicyOnFullQueue(t *testing.T) {
	b := New(testRegistry(), nil, nil)

	block := make(chan struct{})
	err := b.Subscribe("test.topic", "slow", func(ctx context.Context, e Envelope) error {
		<-block
		return nil
	}, SubscribeOptions{QueueSize: 1, Policy: PolicyDropNew})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// First publish is picked up immediately by the dispatcher loop and
	// blocks on <-block; give it a moment to be dequeued.
	_ = b.Publish(context.Background(), Envelope{Topic: "test.topic", Payload: 1, CorrelationID: "a"})
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 10; i++ {
		_ = b.Publish(context.Background(), Envelope{Topic: "test.topic", Payload: i, CorrelationID: "x"})
	}

	health := b.HealthSnapshot()
	close(block)
	b.ShutdownAll(2000)

	found := false
	for _, h := range health {
		if h.Name == "slow" {
			found = true
			if h.Dropped == 0 {
				t.Fatalf("expected some drops under drop_new with a full queue, got 0")
			}
		}
	}
	if !found {
		t.Fatal("subscriber health not reported")
	}
}
