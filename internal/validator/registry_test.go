package validator

import (
	"errors"
	"testing"
	"time"

	"empower1.com/ptcnode/internal/crypto"
)

func addr(b byte) crypto.Address {
	var a crypto.Address
	a[0] = b
	return a
}

func TestAddAndGetActive(t *testing.T) {
	r := New(time.Minute)
	if err := r.Add(addr(1), 100); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	active := r.GetActive()
	if len(active) != 1 || active[0].Stake != 100 {
		t.Errorf("GetActive() = %+v, want one validator with stake 100", active)
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	r := New(time.Minute)
	r.Add(addr(1), 100)
	if err := r.Add(addr(1), 50); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("Add() duplicate error = %v, want %v", err, ErrAlreadyRegistered)
	}
}

func TestDecreaseStake_RejectsOverdraft(t *testing.T) {
	r := New(time.Minute)
	r.Add(addr(1), 100)
	if err := r.DecreaseStake(addr(1), 200); !errors.Is(err, ErrInsufficientStake) {
		t.Errorf("DecreaseStake() error = %v, want %v", err, ErrInsufficientStake)
	}
}

func TestPenalize_RemovesFromActiveDuringCooldown(t *testing.T) {
	r := New(time.Hour)
	r.Add(addr(1), 100)
	if err := r.Penalize(addr(1), 10, 0.5); err != nil {
		t.Fatalf("Penalize() error = %v", err)
	}
	if len(r.GetActive()) != 0 {
		t.Error("GetActive() still includes a validator in cooldown")
	}
	v, _ := r.Get(addr(1))
	if v.Stake != 90 {
		t.Errorf("Stake after Penalize() = %d, want 90", v.Stake)
	}
}

func TestReward_UpdatesLedger(t *testing.T) {
	r := New(time.Minute)
	r.Add(addr(1), 100)
	if err := r.Reward(addr(1), 25); err != nil {
		t.Fatalf("Reward() error = %v", err)
	}
	v, _ := r.Get(addr(1))
	if v.Stake != 125 || v.RewardsPaid != 25 {
		t.Errorf("Reward() result = %+v, want stake=125 rewardsPaid=25", v)
	}
	if r.TotalRewardsIssued() != 25 {
		t.Errorf("TotalRewardsIssued() = %d, want 25", r.TotalRewardsIssued())
	}
}

func TestGetActive_SnapshotIsolatedFromConcurrentWrite(t *testing.T) {
	r := New(time.Minute)
	r.Add(addr(1), 100)
	snap := r.GetActive()
	r.IncreaseStake(addr(1), 500)
	if snap[0].Stake != 100 {
		t.Errorf("previously taken snapshot mutated: stake = %d, want 100", snap[0].Stake)
	}
}
