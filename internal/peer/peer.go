// Package peer tracks the set of known peer nodes: identity, reputation,
// liveness, and ban status (spec §3 "Peer", §6 `nodes` table).
//
// Grounded on internal/validator.Registry's RCU snapshot discipline — reads
// (Active, Get) never block a concurrent Register/Heartbeat/AdjustReputation/Ban —
// generalized from a stake ledger to a reputation/liveness ledger.
package peer

import (
	"errors"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"empower1.com/ptcnode/internal/errkind"
)

// Status is a peer's current standing.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusBanned   Status = "banned"
)

var (
	ErrUnknownPeer     = errkind.New(errkind.Resource, errors.New("peer: unknown node id"))
	ErrAlreadyKnown    = errkind.New(errkind.Validation, errors.New("peer: node id already registered"))
	ErrDuplicateEndpoint = errkind.New(errkind.Validation, errors.New("peer: ip/port already registered to a different node"))
)

// DefaultReputation is the initial score assigned on first contact.
const DefaultReputation = 50

// MinReputation/MaxReputation bound Peer.Reputation.
const (
	MinReputation = 0
	MaxReputation = 100
)

// Peer is the canonical peer record (spec §3, §6 `nodes`).
type Peer struct {
	NodeID          string
	IPAddress       string
	Port            int
	PublicKey       []byte
	Version         string
	Status          Status
	Reputation      int
	LastSeen        time.Time
	Metadata        map[string]string
	BannedUntil     time.Time // zero value means not banned / ban expired
}

// IsUsable reports whether p may currently receive broadcasts or be
// selected as a sync source: active and not within a ban cooldown.
func (p Peer) IsUsable(now time.Time) bool {
	if p.Status == StatusBanned {
		return !now.Before(p.BannedUntil)
	}
	return p.Status == StatusActive
}

type snapshot struct {
	byID       map[string]Peer
	byEndpoint map[string]string // "ip:port" -> nodeID
}

// Registry is the in-process PeerRegistry: RCU reads, single mutator lock.
type Registry struct {
	mu  sync.Mutex
	cur atomic.Value // *snapshot

	banDuration time.Duration
}

// New constructs an empty Registry. banDuration is how long a banned peer
// is excluded from selection once Ban is called.
func New(banDuration time.Duration) *Registry {
	r := &Registry{banDuration: banDuration}
	r.cur.Store(&snapshot{byID: map[string]Peer{}, byEndpoint: map[string]string{}})
	return r
}

func (r *Registry) load() *snapshot {
	return r.cur.Load().(*snapshot)
}

func (r *Registry) publish(mutate func(map[string]Peer, map[string]string)) {
	cur := r.load()
	nextByID := make(map[string]Peer, len(cur.byID)+1)
	for k, v := range cur.byID {
		nextByID[k] = v
	}
	nextByEndpoint := make(map[string]string, len(cur.byEndpoint)+1)
	for k, v := range cur.byEndpoint {
		nextByEndpoint[k] = v
	}
	mutate(nextByID, nextByEndpoint)
	r.cur.Store(&snapshot{byID: nextByID, byEndpoint: nextByEndpoint})
}

func endpointKey(ip string, port int) string {
	return ip + ":" + strconv.Itoa(port)
}

// Register adds a newly contacted peer. Returns ErrAlreadyKnown if nodeID
// is already registered, ErrDuplicateEndpoint if the ip:port pair belongs
// to a different node (spec §6 UNIQUE(ip_address, port)).
func (r *Registry) Register(nodeID, ip string, port int, publicKey []byte, version string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	if _, ok := cur.byID[nodeID]; ok {
		return ErrAlreadyKnown
	}
	key := endpointKey(ip, port)
	if existing, ok := cur.byEndpoint[key]; ok && existing != nodeID {
		return ErrDuplicateEndpoint
	}

	p := Peer{
		NodeID:     nodeID,
		IPAddress:  ip,
		Port:       port,
		PublicKey:  publicKey,
		Version:    version,
		Status:     StatusActive,
		Reputation: DefaultReputation,
		LastSeen:   time.Now(),
		Metadata:   map[string]string{},
	}
	r.publish(func(byID map[string]Peer, byEndpoint map[string]string) {
		byID[nodeID] = p
		byEndpoint[key] = nodeID
	})
	return nil
}

// Heartbeat updates lastSeen for an existing peer.
func (r *Registry) Heartbeat(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	p, ok := cur.byID[nodeID]
	if !ok {
		return ErrUnknownPeer
	}
	p.LastSeen = time.Now()
	r.publish(func(byID map[string]Peer, _ map[string]string) {
		byID[nodeID] = p
	})
	return nil
}

// AdjustReputation changes a peer's reputation by delta, clamped to
// [MinReputation, MaxReputation].
func (r *Registry) AdjustReputation(nodeID string, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	p, ok := cur.byID[nodeID]
	if !ok {
		return ErrUnknownPeer
	}
	p.Reputation += delta
	if p.Reputation > MaxReputation {
		p.Reputation = MaxReputation
	}
	if p.Reputation < MinReputation {
		p.Reputation = MinReputation
	}
	r.publish(func(byID map[string]Peer, _ map[string]string) {
		byID[nodeID] = p
	})
	return nil
}

// Ban marks a peer banned for the registry's configured cooldown (spec
// §4.11 "blacklists the peer for a cooldown").
func (r *Registry) Ban(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.load()
	p, ok := cur.byID[nodeID]
	if !ok {
		return ErrUnknownPeer
	}
	p.Status = StatusBanned
	p.BannedUntil = time.Now().Add(r.banDuration)
	r.publish(func(byID map[string]Peer, _ map[string]string) {
		byID[nodeID] = p
	})
	return nil
}

// Get returns a copy of the peer record for nodeID.
func (r *Registry) Get(nodeID string) (Peer, error) {
	cur := r.load()
	p, ok := cur.byID[nodeID]
	if !ok {
		return Peer{}, ErrUnknownPeer
	}
	return p, nil
}

// Active returns all usable peers, sorted by descending reputation (used to
// select a sync source per spec §4.11 "highest-reputation responsive
// peer").
func (r *Registry) Active() []Peer {
	cur := r.load()
	now := time.Now()
	out := make([]Peer, 0, len(cur.byID))
	for _, p := range cur.byID {
		if p.IsUsable(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reputation != out[j].Reputation {
			return out[i].Reputation > out[j].Reputation
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}
