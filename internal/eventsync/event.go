// Package eventsync implements the event-driven gossip protocol described
// in spec §4.9: an in-memory priority queue (queued events are not
// persisted and do not survive a restart), a single-writer local dispatcher,
// a bounded-concurrency broadcaster with anti-loop hop tracking, and an
// HMAC-signed HTTP transport built on github.com/go-chi/chi/v5.
//
// Grounded on internal/mempool's container/heap priority-queue discipline
// (reused here for (priority ASC, createdAt ASC) ordering instead of
// fee-rate) and its github.com/jellydator/ttlcache/v3 usage (reused for
// broadcast-track dedup instead of mempool TTL eviction).
package eventsync

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"empower1.com/ptcnode/internal/errkind"
)

// EventType identifies the gossip message kinds spec §4.9 names.
type EventType string

const (
	EventBlockCreated    EventType = "block.created"
	EventTxReceived      EventType = "tx.received"
	EventNodeRegistered  EventType = "node.registered"
	EventHeartbeat       EventType = "heartbeat"
	EventSyncRequest     EventType = "sync.request"
	EventSyncResponse    EventType = "sync.response"
	EventSyncManualTrigger EventType = "sync.manual_trigger"
)

// Priority levels: 1 is highest, matching spec §4.9 (1..5, 1=highest).
const (
	PriorityHighest = 1
	PriorityHigh    = 2
	PriorityNormal  = 3
	PriorityLow     = 4
	PriorityLowest  = 5
)

// MaxHops bounds gossip fan-out per spec §4.9.
const MaxHops = 6

var (
	ErrQueueOverflow = errkind.New(errkind.Resource, errors.New("eventsync: queue exceeds high-water mark"))
	ErrAuthFailed    = errkind.New(errkind.Authentication, errors.New("eventsync: broadcast signature mismatch"))
)

// Event is the canonical gossip message (spec §4.9).
type Event struct {
	ID           string
	Type         EventType
	Priority     int
	Payload      []byte
	SourceNodeID string
	HopCount     int
	Path         []string
	CreatedAt    time.Time
}

// NewEvent constructs an Event with a fresh random id and CreatedAt=now.
func NewEvent(eventType EventType, priority int, payload []byte, sourceNodeID string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		Priority:     priority,
		Payload:      payload,
		SourceNodeID: sourceNodeID,
		HopCount:     0,
		Path:         []string{sourceNodeID},
		CreatedAt:    time.Now(),
	}
}

// InPath reports whether nodeID already appears in the event's visited path
// (spec §4.9 anti-loop check).
func (e Event) InPath(nodeID string) bool {
	for _, p := range e.Path {
		if p == nodeID {
			return true
		}
	}
	return false
}

// eventHeap orders Events by (priority ASC, createdAt ASC), mirroring
// internal/mempool's priorityQueue shape but with an ascending comparator.
type eventHeap []Event

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].CreatedAt.Before(h[j].CreatedAt)
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the in-memory priority queue backing the local dispatcher and
// broadcaster; its contents are not persisted. HighWaterMark triggers spec §4.9's back-pressure 429 path.
type Queue struct {
	mu            sync.Mutex
	heap          eventHeap
	highWaterMark int
}

// NewQueue constructs an empty Queue. highWaterMark<=0 disables
// back-pressure (used in tests).
func NewQueue(highWaterMark int) *Queue {
	q := &Queue{highWaterMark: highWaterMark}
	heap.Init(&q.heap)
	return q
}

// Push enqueues e, returning ErrQueueOverflow if the queue is at its
// high-water mark.
func (q *Queue) Push(e Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.highWaterMark > 0 && len(q.heap) >= q.highWaterMark {
		return ErrQueueOverflow
	}
	heap.Push(&q.heap, e)
	return nil
}

// Pop removes and returns the highest-priority, oldest event. ok is false
// if the queue is empty.
func (q *Queue) Pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return Event{}, false
	}
	return heap.Pop(&q.heap).(Event), true
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
