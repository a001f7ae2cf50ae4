package breaker

import (
	"testing"
	"time"
)

func TestAllowRequest_ClosedByDefault(t *testing.T) {
	b := New(DefaultConfig(), nil)
	if !b.AllowRequest("peer-1", "broadcast") {
		t.Error("AllowRequest() = false, want true for a fresh circuit")
	}
	if got := b.CurrentState("peer-1", "broadcast"); got != StateClosed {
		t.Errorf("CurrentState() = %q, want %q", got, StateClosed)
	}
}

func TestRecordFailure_TripsAfterConsecutiveThreshold(t *testing.T) {
	cfg := DefaultConfig()
	b := New(cfg, nil)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure("peer-1", "broadcast")
	}
	if got := b.CurrentState("peer-1", "broadcast"); got != StateOpen {
		t.Errorf("CurrentState() = %q, want %q", got, StateOpen)
	}
	if b.AllowRequest("peer-1", "broadcast") {
		t.Error("AllowRequest() = true, want false while open and before timeout")
	}
}

func TestHalfOpen_RecoversAfterConsecutiveSuccesses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = time.Millisecond
	b := New(cfg, nil)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure("peer-1", "broadcast")
	}
	time.Sleep(2 * time.Millisecond)
	if !b.AllowRequest("peer-1", "broadcast") {
		t.Fatal("AllowRequest() = false, want true (half_open trial) after timeout")
	}
	if got := b.CurrentState("peer-1", "broadcast"); got != StateHalfOpen {
		t.Fatalf("CurrentState() = %q, want %q", got, StateHalfOpen)
	}
	for i := 0; i < cfg.SuccessThreshold; i++ {
		b.RecordSuccess("peer-1", "broadcast")
	}
	if got := b.CurrentState("peer-1", "broadcast"); got != StateClosed {
		t.Errorf("CurrentState() = %q, want %q", got, StateClosed)
	}
}

func TestHalfOpen_AnyFailureReopens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = time.Millisecond
	b := New(cfg, nil)
	for i := 0; i < cfg.FailureThreshold; i++ {
		b.RecordFailure("peer-1", "broadcast")
	}
	time.Sleep(2 * time.Millisecond)
	b.AllowRequest("peer-1", "broadcast") // transitions to half_open
	b.RecordFailure("peer-1", "broadcast")
	if got := b.CurrentState("peer-1", "broadcast"); got != StateOpen {
		t.Errorf("CurrentState() = %q, want %q", got, StateOpen)
	}
}

func TestErrorRateTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1000 // disable consecutive-failure path
	cfg.RequestVolumeThreshold = 10
	cfg.ErrorPercentageThreshold = 50
	b := New(cfg, nil)
	for i := 0; i < 5; i++ {
		b.RecordFailure("peer-1", "broadcast")
		b.RecordSuccess("peer-1", "broadcast")
	}
	b.RecordFailure("peer-1", "broadcast")
	if got := b.CurrentState("peer-1", "broadcast"); got != StateOpen {
		t.Errorf("CurrentState() = %q, want %q (error rate should have tripped)", got, StateOpen)
	}
}

func TestIndependentCircuitsPerPeerAndOperation(t *testing.T) {
	b := New(DefaultConfig(), nil)
	for i := 0; i < DefaultConfig().FailureThreshold; i++ {
		b.RecordFailure("peer-1", "broadcast")
	}
	if got := b.CurrentState("peer-1", "sync"); got != StateClosed {
		t.Errorf("CurrentState(peer-1, sync) = %q, want %q (independent of broadcast circuit)", got, StateClosed)
	}
	if got := b.CurrentState("peer-2", "broadcast"); got != StateClosed {
		t.Errorf("CurrentState(peer-2, broadcast) = %q, want %q", got, StateClosed)
	}
}
