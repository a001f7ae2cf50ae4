// Package validator implements the ValidatorRegistry: the PoS validator
// set with stake, penalties, cooldowns, and a rewards ledger. Reads never
// block writes: the active set is published as an immutable snapshot via
// atomic.Value (read-copy-update), generalizing the teacher's
// internal/consensus.ConsensusState map (which used a single RWMutex for
// everything, including the hot read path every proposer-selection call
// takes) into the RCU discipline SPEC_FULL §5 requires.
package validator

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
)

var (
	ErrUnknownValidator  = errkind.New(errkind.Validation, errors.New("validator: unknown address"))
	ErrAlreadyRegistered = errkind.New(errkind.Validation, errors.New("validator: address already registered"))
	ErrInsufficientStake = errkind.New(errkind.Validation, errors.New("validator: stake decrease exceeds current stake"))
	ErrInCooldown        = errkind.New(errkind.Validation, errors.New("validator: address is in penalty cooldown"))
)

// DefaultCooldown is how long a penalized validator is excluded from the
// active (leader-eligible) set.
const DefaultCooldown = 10 * time.Minute

// Validator is one registry entry.
type Validator struct {
	Address       crypto.Address
	Stake         uint64
	Reputation    float64
	RewardsPaid   uint64
	CooldownUntil time.Time
	RegisteredAt  time.Time // used to tie-break equal-stake leader ordering
}

// IsActive reports whether v currently has positive stake and is outside
// its penalty cooldown.
func (v Validator) IsActive(now time.Time) bool {
	return v.Stake > 0 && now.After(v.CooldownUntil)
}

// snapshot is the immutable set published for lock-free reads.
type snapshot struct {
	all    map[crypto.Address]Validator
	active []Validator // eligible as of this publish, in map iteration order
}

// Registry is the ValidatorRegistry.
type Registry struct {
	mu       sync.Mutex // serializes writers only; readers never take it
	cur      atomic.Value
	cooldown time.Duration
}

// New constructs an empty Registry.
func New(cooldown time.Duration) *Registry {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	r := &Registry{cooldown: cooldown}
	r.cur.Store(&snapshot{all: map[crypto.Address]Validator{}})
	return r
}

func (r *Registry) load() *snapshot {
	return r.cur.Load().(*snapshot)
}

// publish builds a new snapshot from mutate(current-copy) and atomically
// swaps it in. Caller must hold r.mu.
func (r *Registry) publish(mutate func(map[crypto.Address]Validator)) {
	old := r.load()
	next := make(map[crypto.Address]Validator, len(old.all))
	for k, v := range old.all {
		next[k] = v
	}
	mutate(next)

	active := make([]Validator, 0, len(next))
	now := time.Now()
	for _, v := range next {
		if v.IsActive(now) {
			active = append(active, v)
		}
	}
	r.cur.Store(&snapshot{all: next, active: active})
}

// Add registers a new validator with an initial stake.
func (r *Registry) Add(addr crypto.Address, stake uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.load().all[addr]; ok {
		return ErrAlreadyRegistered
	}
	r.publish(func(m map[crypto.Address]Validator) {
		m[addr] = Validator{Address: addr, Stake: stake, Reputation: 1.0, RegisteredAt: time.Now()}
	})
	return nil
}

// Remove deregisters a validator entirely.
func (r *Registry) Remove(addr crypto.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.load().all[addr]; !ok {
		return ErrUnknownValidator
	}
	r.publish(func(m map[crypto.Address]Validator) {
		delete(m, addr)
	})
	return nil
}

// IncreaseStake adds amount to addr's stake.
func (r *Registry) IncreaseStake(addr crypto.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.load().all[addr]
	if !ok {
		return ErrUnknownValidator
	}
	r.publish(func(m map[crypto.Address]Validator) {
		v.Stake += amount
		m[addr] = v
	})
	return nil
}

// DecreaseStake removes amount from addr's stake; fails if it would go
// negative.
func (r *Registry) DecreaseStake(addr crypto.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.load().all[addr]
	if !ok {
		return ErrUnknownValidator
	}
	if amount > v.Stake {
		return ErrInsufficientStake
	}
	r.publish(func(m map[crypto.Address]Validator) {
		v.Stake -= amount
		m[addr] = v
	})
	return nil
}

// Penalize subtracts stakeSlash from addr's stake (capped at the current
// stake) and reputationDelta from its reputation (floored at 0), and places
// it in cooldown, excluding it from GetActive until the cooldown expires.
func (r *Registry) Penalize(addr crypto.Address, stakeSlash uint64, reputationDelta float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.load().all[addr]
	if !ok {
		return ErrUnknownValidator
	}
	r.publish(func(m map[crypto.Address]Validator) {
		if stakeSlash > v.Stake {
			stakeSlash = v.Stake
		}
		v.Stake -= stakeSlash
		v.Reputation -= reputationDelta
		if v.Reputation < 0 {
			v.Reputation = 0
		}
		v.CooldownUntil = time.Now().Add(r.cooldown)
		m[addr] = v
	})
	return nil
}

// Reward credits addr with amount and records it in the rewards ledger.
func (r *Registry) Reward(addr crypto.Address, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.load().all[addr]
	if !ok {
		return ErrUnknownValidator
	}
	r.publish(func(m map[crypto.Address]Validator) {
		v.Stake += amount
		v.RewardsPaid += amount
		m[addr] = v
	})
	return nil
}

// Get returns a copy of the validator entry for addr.
func (r *Registry) Get(addr crypto.Address) (Validator, bool) {
	v, ok := r.load().all[addr]
	return v, ok
}

// GetActive returns a lock-free snapshot of all validators currently
// eligible for leader selection (positive stake, not in cooldown).
func (r *Registry) GetActive() []Validator {
	now := time.Now()
	all := r.load().all
	out := make([]Validator, 0, len(all))
	for _, v := range all {
		if v.IsActive(now) {
			out = append(out, v)
		}
	}
	return out
}

// TotalRewardsIssued sums RewardsPaid across the validators currently
// registered; a removed validator's rewards are no longer counted.
func (r *Registry) TotalRewardsIssued() uint64 {
	var total uint64
	for _, v := range r.load().all {
		total += v.RewardsPaid
	}
	return total
}
