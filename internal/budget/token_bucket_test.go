package budget

import (
	"testing"
	"time"
)

func TestConsumeAction_UsesCostModelAndDefaultsToOne(t *testing.T) {
	b := New(10, time.Hour, map[string]int{"switch": 7})
	defer b.Close()

	if !b.ConsumeAction("switch") {
		t.Fatalf("expected first switch to succeed (10 - 7 = 3 remaining)")
	}
	if b.Remaining() != 3 {
		t.Fatalf("remaining = %d, want 3", b.Remaining())
	}
	if b.ConsumeAction("switch") {
		t.Fatalf("second switch should fail: only 3 tokens left, costs 7")
	}
	if !b.ConsumeAction("revert") {
		t.Fatalf("unregistered action should default to cost 1 and succeed")
	}
	if b.Remaining() != 2 {
		t.Fatalf("remaining = %d, want 2", b.Remaining())
	}
}

func TestConsume_RejectsWhenInsufficientTokens(t *testing.T) {
	b := New(5, time.Hour, nil)
	defer b.Close()

	if !b.Consume(5) {
		t.Fatalf("expected full-capacity consume to succeed")
	}
	if b.Consume(1) {
		t.Fatalf("expected consume to fail once the bucket is empty")
	}
	if b.ConsumedTotal() != 5 {
		t.Fatalf("consumedTotal = %d, want 5", b.ConsumedTotal())
	}
}

func TestNew_PanicsOnInvalidArgs(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}
	mustPanic("zero capacity", func() { New(0, time.Second, nil) })
	mustPanic("zero refill period", func() { New(1, 0, nil) })
}
