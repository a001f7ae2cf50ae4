package eventsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"empower1.com/ptcnode/internal/crypto"
)

// DefaultBroadcastConcurrency is spec §4.9's bounded worker-pool size.
const DefaultBroadcastConcurrency = 5

// DefaultBroadcastTrackTTL bounds how long a (eventId, peer) dedup record
// is kept (spec §4.9 "Persist one BroadcastTrack ... with TTL").
const DefaultBroadcastTrackTTL = 10 * time.Minute

// PeerTarget is the minimal peer-addressing info the broadcaster needs,
// decoupling eventsync from internal/peer's full Registry type.
type PeerTarget struct {
	NodeID  string
	BaseURL string // e.g. "https://10.0.0.2:9000"
}

// BreakerGate mirrors the subset of internal/breaker.Breaker the
// broadcaster calls, kept as an interface so eventsync does not import
// internal/breaker directly.
type BreakerGate interface {
	AllowRequest(peerID, operation string) bool
	RecordSuccess(peerID, operation string)
	RecordFailure(peerID, operation string)
}

// Broadcaster fans events out to peers with bounded concurrency, honoring
// CircuitBreaker gating, anti-loop path checks, and hop limits (spec §4.9).
type Broadcaster struct {
	localNodeID string
	secret      []byte
	breaker     BreakerGate
	client      *http.Client
	sem         chan struct{}
	track       *ttlcache.Cache[string, struct{}]
}

// NewBroadcaster constructs a Broadcaster. localNodeID identifies this node
// in outgoing headers/path entries; secret is the shared inter-node HMAC
// key (spec §4.9 "X-Broadcast-Signature").
func NewBroadcaster(localNodeID string, secret []byte, breaker BreakerGate, concurrency int) *Broadcaster {
	if concurrency <= 0 {
		concurrency = DefaultBroadcastConcurrency
	}
	track := ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](DefaultBroadcastTrackTTL))
	go track.Start()
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = 50
	return &Broadcaster{
		localNodeID: localNodeID,
		secret:      secret,
		breaker:     breaker,
		client:      &http.Client{Timeout: 5 * time.Second, Transport: transport},
		sem:         make(chan struct{}, concurrency),
		track:       track,
	}
}

// Close stops the broadcast-track TTL janitor.
func (b *Broadcaster) Close() {
	b.track.Stop()
}

// Broadcast fans e out to every peer in targets with bounded concurrency.
// It never blocks past the per-peer request deadline; callers don't wait on
// individual sends, only on this call returning once all have completed.
func (b *Broadcaster) Broadcast(ctx context.Context, e Event, targets []PeerTarget) {
	done := make(chan struct{})
	count := 0
	for _, target := range targets {
		if e.InPath(target.NodeID) || e.HopCount >= MaxHops {
			continue
		}
		count++
		b.sem <- struct{}{}
		go func(t PeerTarget) {
			defer func() { <-b.sem; done <- struct{}{} }()
			b.sendOne(ctx, e, t)
		}(target)
	}
	for i := 0; i < count; i++ {
		<-done
	}
}

func (b *Broadcaster) trackKey(eventID, peerNodeID string) string {
	return eventID + "|" + peerNodeID
}

func (b *Broadcaster) sendOne(ctx context.Context, e Event, target PeerTarget) {
	if !b.breaker.AllowRequest(target.NodeID, "broadcast") {
		return
	}
	key := b.trackKey(e.ID, target.NodeID)
	if b.track.Get(key) != nil {
		return // already delivered to this peer, spec §4.9 unique-key dedup
	}

	body, err := json.Marshal(e)
	if err != nil {
		b.breaker.RecordFailure(target.NodeID, "broadcast")
		return
	}
	sig := crypto.HMACSHA256(b.secret, body)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, target.BaseURL+"/api/sync/events", bytes.NewReader(body))
	if err != nil {
		b.breaker.RecordFailure(target.NodeID, "broadcast")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Priority", fmt.Sprintf("%d", e.Priority))
	req.Header.Set("X-Source-Node", b.localNodeID)
	req.Header.Set("X-Event-Type", string(e.Type))
	req.Header.Set("X-Broadcast-Signature", fmt.Sprintf("%x", sig))

	resp, err := b.client.Do(req)
	if err != nil {
		b.breaker.RecordFailure(target.NodeID, "broadcast")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		// Back-pressure signal, not a circuit-breaker failure (spec §4.9).
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		b.breaker.RecordSuccess(target.NodeID, "broadcast")
		b.track.Set(key, struct{}{}, ttlcache.DefaultTTL)
	default:
		b.breaker.RecordFailure(target.NodeID, "broadcast")
	}
}
