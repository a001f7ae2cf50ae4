// Package breaker implements the per-(peerId, operation) circuit breaker
// described in spec §4.10: closed/open/half_open state machine, persisted
// transitions, atomic allowRequest reads.
//
// Grounded on the teacher's internal/consensus ticker/ticker-driven state
// transition shape for the half_open timeout check, and on
// other_examples/manifests/bsv-blockchain-teranode/go.mod for
// github.com/looplab/fsm, used here to drive the closed/open/half_open
// transitions instead of hand-rolled state comparisons.
package breaker

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// State names, also used as the FSM's state identifiers.
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half_open"
)

// Config holds the breaker's tunables. Defaults match spec §4.10.
type Config struct {
	FailureThreshold       int
	SuccessThreshold       int
	Timeout                time.Duration
	RequestVolumeThreshold int
	ErrorPercentageThreshold float64
}

// DefaultConfig returns spec §4.10's stated defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:         5,
		SuccessThreshold:         3,
		Timeout:                  60 * time.Second,
		RequestVolumeThreshold:   10,
		ErrorPercentageThreshold: 50,
	}
}

type key struct {
	peerID    string
	operation string
}

type circuit struct {
	machine               *fsm.FSM
	consecutiveFailures   int
	consecutiveSuccesses  int
	samples               []bool // true = failure; bounded ring for error-rate calc
	openedAt              time.Time
}

func newCircuit() *circuit {
	c := &circuit{}
	c.machine = fsm.NewFSM(StateClosed, fsm.Events{
		{Name: "trip", Src: []string{StateClosed, StateHalfOpen}, Dst: StateOpen},
		{Name: "timeout_elapsed", Src: []string{StateOpen}, Dst: StateHalfOpen},
		{Name: "recover", Src: []string{StateHalfOpen}, Dst: StateClosed},
	}, fsm.Callbacks{})
	return c
}

// Breaker is the registry of per-(peer, operation) circuits.
type Breaker struct {
	mu     sync.Mutex
	cfg    Config
	db     *sql.DB // optional; nil disables persistence (used in tests)
	states map[key]*circuit
}

// New constructs a Breaker. db may be nil to disable persistence (e.g. in
// unit tests); in production it is the same *sql.DB handle ChainStore uses
// (SPEC_FULL §4.10: "persisted via the same ChainStore database/sql handle").
func New(cfg Config, db *sql.DB) *Breaker {
	b := &Breaker{cfg: cfg, db: db, states: map[key]*circuit{}}
	if db != nil {
		_ = migrate(db)
	}
	return b
}

func (b *Breaker) circuitFor(k key) *circuit {
	c, ok := b.states[k]
	if !ok {
		c = newCircuit()
		b.states[k] = c
	}
	return c
}

// AllowRequest reports whether a request to peerID for operation may
// proceed right now, atomically advancing open→half_open when the timeout
// has elapsed.
func (b *Breaker) AllowRequest(peerID, operation string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{peerID, operation}
	c := b.circuitFor(k)
	switch c.machine.Current() {
	case StateOpen:
		if time.Since(c.openedAt) >= b.cfg.Timeout {
			b.transition(k, c, "timeout_elapsed")
			return true // half_open trial request
		}
		return false
	default: // closed, half_open
		return true
	}
}

// RecordSuccess reports a successful call to peerID for operation.
func (b *Breaker) RecordSuccess(peerID, operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{peerID, operation}
	c := b.circuitFor(k)
	c.consecutiveFailures = 0
	c.samples = pushSample(c.samples, false, b.cfg.RequestVolumeThreshold)

	if c.machine.Current() == StateHalfOpen {
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= b.cfg.SuccessThreshold {
			b.transition(k, c, "recover")
			c.consecutiveSuccesses = 0
		}
	}
}

// RecordFailure reports a failed call to peerID for operation.
func (b *Breaker) RecordFailure(peerID, operation string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	k := key{peerID, operation}
	c := b.circuitFor(k)

	if c.machine.Current() == StateHalfOpen {
		b.transition(k, c, "trip")
		return
	}

	c.consecutiveFailures++
	c.samples = pushSample(c.samples, true, b.cfg.RequestVolumeThreshold)
	c.consecutiveSuccesses = 0

	if c.consecutiveFailures >= b.cfg.FailureThreshold || errorRateTripped(c.samples, b.cfg) {
		b.transition(k, c, "trip")
	}
}

func errorRateTripped(samples []bool, cfg Config) bool {
	if len(samples) < cfg.RequestVolumeThreshold {
		return false
	}
	failures := 0
	for _, s := range samples {
		if s {
			failures++
		}
	}
	rate := float64(failures) / float64(len(samples)) * 100
	return rate >= cfg.ErrorPercentageThreshold
}

func pushSample(samples []bool, failed bool, maxLen int) []bool {
	samples = append(samples, failed)
	if len(samples) > maxLen {
		samples = samples[len(samples)-maxLen:]
	}
	return samples
}

// transition fires event on c's machine and persists the resulting state
// transition. Must be called with b.mu held.
func (b *Breaker) transition(k key, c *circuit, event string) {
	from := c.machine.Current()
	if err := c.machine.Event(context.Background(), event); err != nil {
		return
	}
	to := c.machine.Current()
	if to == StateOpen {
		c.openedAt = time.Now()
	}
	if to == StateClosed {
		c.consecutiveFailures = 0
		c.consecutiveSuccesses = 0
		c.samples = nil
	}
	if b.db != nil {
		_ = b.persistTransition(k, from, to)
	}
}

// CurrentState reports the circuit's current state for peerID/operation,
// defaulting to closed if never observed.
func (b *Breaker) CurrentState(peerID, operation string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.states[key{peerID, operation}]
	if !ok {
		return StateClosed
	}
	return c.machine.Current()
}

func (b *Breaker) persistTransition(k key, from, to string) error {
	now := time.Now().Unix()
	if _, err := b.db.Exec(
		`INSERT INTO circuit_breaker_state (peer_id, operation, state, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE state = VALUES(state), updated_at = VALUES(updated_at)`,
		k.peerID, k.operation, to, now,
	); err != nil {
		return fmt.Errorf("breaker: persist state: %w", err)
	}
	if _, err := b.db.Exec(
		`INSERT INTO circuit_breaker_events (peer_id, operation, from_state, to_state, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		k.peerID, k.operation, from, to, now,
	); err != nil {
		return fmt.Errorf("breaker: persist event: %w", err)
	}
	return nil
}
