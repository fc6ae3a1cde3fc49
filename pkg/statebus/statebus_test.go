package statebus

import "testing"

func TestNoOpWhenAddrEmpty(t *testing.T) {
	b, err := New("", "", 0)
	if err != nil {
		t.Fatalf("New(\"\"): %v", err)
	}
	if err := b.PublishConnection("Ready", "test-robot"); err != nil {
		t.Fatalf("PublishConnection on no-op bus: %v", err)
	}
	if err := b.PublishToolCall("blinkLED", true); err != nil {
		t.Fatalf("PublishToolCall on no-op bus: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close on no-op bus: %v", err)
	}
}
