package pipeline

import "testing"

func TestGateLimitsConcurrency(t *testing.T) {
	gate := NewGate(2)

	if !gate.TryAcquire() {
		t.Fatal("first acquire should succeed")
	}
	if !gate.TryAcquire() {
		t.Fatal("second acquire should succeed")
	}
	if gate.TryAcquire() {
		t.Fatal("acquire beyond limit should fail")
	}
	if gate.Active() != 2 {
		t.Errorf("expected 2 active, got %d", gate.Active())
	}

	gate.Release()
	if !gate.TryAcquire() {
		t.Fatal("acquire after release should succeed")
	}
}

func TestGateMinimumLimit(t *testing.T) {
	gate := NewGate(0)
	if gate.Limit() != 1 {
		t.Errorf("expected limit raised to 1, got %d", gate.Limit())
	}
	if !gate.TryAcquire() {
		t.Fatal("acquire within raised limit should succeed")
	}
	if gate.TryAcquire() {
		t.Fatal("second acquire should fail with limit 1")
	}
}

func TestGateReleaseNeverGoesNegative(t *testing.T) {
	gate := NewGate(1)
	gate.Release()
	if gate.Active() != 0 {
		t.Errorf("expected active clamped at 0, got %d", gate.Active())
	}
}
