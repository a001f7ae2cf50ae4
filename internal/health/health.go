// Package health implements the adaptive heartbeat broadcaster and the
// periodic height-reconciliation monitor described in spec §4.11.
//
// Grounded on the teacher's internal/consensus.ConsensusEngine.Start/Stop
// ticker + select + stopChan loop shape (ticker.C drives periodic work,
// stopChan cooperatively shuts the goroutine down) — reused here for two
// independent tickers (heartbeat interval, sync check interval) instead of
// the teacher's single block-slot ticker.
package health

import (
	"context"
	"sync"
	"time"
)

// Defaults per spec §4.11.
const (
	BaseHeartbeatInterval = 30 * time.Second
	MinHeartbeatInterval  = 15 * time.Second
	MaxHeartbeatInterval  = 120 * time.Second
	SyncCheckInterval     = 60 * time.Second
	DefaultSyncThreshold  = 5
)

// Heartbeat is the payload broadcast at the adaptive interval.
type Heartbeat struct {
	NodeID       string
	Height       uint64
	MempoolSize  int
	UptimeSecs   int64
	Version      string
	Capabilities []string
}

// Stats is the live signal set used to compute the adaptive interval.
type Stats struct {
	ActivePeers       int
	AvgResponseTime   time.Duration
	RecentFailures    int
}

// AdaptiveInterval computes spec §4.11's heartbeat cadence: base 30s,
// ×0.5 when activePeers<3, ×1.5 when avgResponseTime>3s, ×0.7 when recent
// failures>10, clamped to [15s,120s].
func AdaptiveInterval(s Stats) time.Duration {
	interval := float64(BaseHeartbeatInterval)
	if s.ActivePeers < 3 {
		interval *= 0.5
	}
	if s.AvgResponseTime > 3*time.Second {
		interval *= 1.5
	}
	if s.RecentFailures > 10 {
		interval *= 0.7
	}
	d := time.Duration(interval)
	if d < MinHeartbeatInterval {
		return MinHeartbeatInterval
	}
	if d > MaxHeartbeatInterval {
		return MaxHeartbeatInterval
	}
	return d
}

// PeerHeight is a responsive peer's reported chain height.
type PeerHeight struct {
	NodeID string
	Height uint64
}

// Dependencies the monitor needs from the rest of the node, injected so
// internal/health has no import-time coupling to internal/peer,
// internal/chainstore, or internal/eventsync.
type Dependencies struct {
	// CollectHeartbeat builds the outgoing Heartbeat payload.
	CollectHeartbeat func() Heartbeat
	// BroadcastHeartbeat fans a Heartbeat out to active peers.
	BroadcastHeartbeat func(Heartbeat)
	// LocalHeight returns the current chain tip height.
	LocalHeight func() uint64
	// PollPeerHeights concurrently queries active peers' reported heights.
	PollPeerHeights func(ctx context.Context) []PeerHeight
	// TriggerSync is invoked when a peer is far enough ahead to warrant
	// reconciliation; it enqueues sync.manual_trigger with PRIORITY_HIGH.
	TriggerSync func(targetHeight uint64, fromPeer string)
	// LiveStats reports the current activePeers/avgResponseTime/failures
	// used to compute the adaptive heartbeat interval.
	LiveStats func() Stats
}

// Monitor runs the heartbeat broadcaster and the sync-check loop as two
// independent goroutines.
type Monitor struct {
	deps          Dependencies
	syncThreshold uint64

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Monitor. syncThreshold is spec §4.11's height-gap
// trigger (default 5).
func New(deps Dependencies, syncThreshold uint64) *Monitor {
	if syncThreshold == 0 {
		syncThreshold = DefaultSyncThreshold
	}
	return &Monitor{deps: deps, syncThreshold: syncThreshold, stopChan: make(chan struct{})}
}

// Start launches the heartbeat and sync-check loops. Call Stop to shut
// both down.
func (m *Monitor) Start() {
	m.wg.Add(2)
	go m.runHeartbeatLoop()
	go m.runSyncCheckLoop()
}

// Stop cooperatively shuts down both loops and waits for them to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
	m.wg.Wait()
}

func (m *Monitor) runHeartbeatLoop() {
	defer m.wg.Done()
	interval := AdaptiveInterval(m.deps.LiveStats())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			hb := m.deps.CollectHeartbeat()
			m.deps.BroadcastHeartbeat(hb)

			next := AdaptiveInterval(m.deps.LiveStats())
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (m *Monitor) runSyncCheckLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(SyncCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.checkHeights()
		}
	}
}

func (m *Monitor) checkHeights() {
	ctx, cancel := context.WithTimeout(context.Background(), SyncCheckInterval)
	defer cancel()

	heights := m.deps.PollPeerHeights(ctx)
	if len(heights) == 0 {
		return
	}
	local := m.deps.LocalHeight()

	best := heights[0]
	for _, h := range heights[1:] {
		if h.Height > best.Height {
			best = h
		}
	}
	if best.Height > local && best.Height-local >= m.syncThreshold {
		m.deps.TriggerSync(best.Height, best.NodeID)
	}
}
