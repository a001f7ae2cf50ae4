package peer

import (
	"testing"
	"time"
)

func TestRegister_RejectsDuplicateNodeID(t *testing.T) {
	r := New(time.Minute)
	if err := r.Register("node-a", "10.0.0.1", 9000, nil, "v1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("node-a", "10.0.0.2", 9001, nil, "v1"); err != ErrAlreadyKnown {
		t.Errorf("Register() duplicate node error = %v, want %v", err, ErrAlreadyKnown)
	}
}

func TestRegister_RejectsDuplicateEndpoint(t *testing.T) {
	r := New(time.Minute)
	if err := r.Register("node-a", "10.0.0.1", 9000, nil, "v1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("node-b", "10.0.0.1", 9000, nil, "v1"); err != ErrDuplicateEndpoint {
		t.Errorf("Register() duplicate endpoint error = %v, want %v", err, ErrDuplicateEndpoint)
	}
}

func TestAdjustReputation_ClampsToBounds(t *testing.T) {
	r := New(time.Minute)
	r.Register("node-a", "10.0.0.1", 9000, nil, "v1")

	if err := r.AdjustReputation("node-a", 1000); err != nil {
		t.Fatalf("AdjustReputation() error = %v", err)
	}
	p, _ := r.Get("node-a")
	if p.Reputation != MaxReputation {
		t.Errorf("Reputation = %d, want %d", p.Reputation, MaxReputation)
	}

	if err := r.AdjustReputation("node-a", -1000); err != nil {
		t.Fatalf("AdjustReputation() error = %v", err)
	}
	p, _ = r.Get("node-a")
	if p.Reputation != MinReputation {
		t.Errorf("Reputation = %d, want %d", p.Reputation, MinReputation)
	}
}

func TestBan_ExcludesFromActiveDuringCooldown(t *testing.T) {
	r := New(time.Hour)
	r.Register("node-a", "10.0.0.1", 9000, nil, "v1")
	r.Register("node-b", "10.0.0.2", 9001, nil, "v1")

	if err := r.Ban("node-a"); err != nil {
		t.Fatalf("Ban() error = %v", err)
	}
	active := r.Active()
	if len(active) != 1 || active[0].NodeID != "node-b" {
		t.Errorf("Active() = %+v, want only node-b", active)
	}
}

func TestActive_SortedByDescendingReputation(t *testing.T) {
	r := New(time.Minute)
	r.Register("low", "10.0.0.1", 9000, nil, "v1")
	r.Register("high", "10.0.0.2", 9001, nil, "v1")
	r.AdjustReputation("high", 40)

	active := r.Active()
	if len(active) != 2 || active[0].NodeID != "high" {
		t.Errorf("Active() = %+v, want high first", active)
	}
}

func TestHeartbeat_UnknownPeer(t *testing.T) {
	r := New(time.Minute)
	if err := r.Heartbeat("ghost"); err != ErrUnknownPeer {
		t.Errorf("Heartbeat() error = %v, want %v", err, ErrUnknownPeer)
	}
}
