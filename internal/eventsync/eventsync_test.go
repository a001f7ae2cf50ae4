package eventsync

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"empower1.com/ptcnode/internal/crypto"
)

func TestQueue_PopOrdersByPriorityThenCreatedAt(t *testing.T) {
	q := NewQueue(0)
	e1 := NewEvent(EventTxReceived, PriorityLow, nil, "a")
	e2 := NewEvent(EventBlockCreated, PriorityHighest, nil, "a")
	e3 := NewEvent(EventHeartbeat, PriorityHighest, nil, "a")
	e3.CreatedAt = e2.CreatedAt.Add(time.Second)

	q.Push(e1)
	q.Push(e3)
	q.Push(e2)

	first, _ := q.Pop()
	if first.ID != e2.ID {
		t.Errorf("first pop = %s, want highest-priority earliest event", first.Type)
	}
	second, _ := q.Pop()
	if second.ID != e3.ID {
		t.Errorf("second pop = %s, want the other highest-priority event", second.Type)
	}
	third, _ := q.Pop()
	if third.ID != e1.ID {
		t.Errorf("third pop = %s, want the low-priority event last", third.Type)
	}
}

func TestQueue_OverflowAtHighWaterMark(t *testing.T) {
	q := NewQueue(1)
	if err := q.Push(NewEvent(EventHeartbeat, PriorityNormal, nil, "a")); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if err := q.Push(NewEvent(EventHeartbeat, PriorityNormal, nil, "a")); err != ErrQueueOverflow {
		t.Errorf("Push() error = %v, want %v", err, ErrQueueOverflow)
	}
}

func TestDispatcher_InvokesRegisteredHandlers(t *testing.T) {
	q := NewQueue(0)
	d := NewDispatcher(q)
	var mu sync.Mutex
	received := []string{}
	d.On(EventBlockCreated, func(e Event) {
		mu.Lock()
		received = append(received, e.ID)
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	e := NewEvent(EventBlockCreated, PriorityHigh, nil, "a")
	q.Push(e)
	d.Notify()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 || received[0] != e.ID {
		t.Errorf("received = %v, want [%s]", received, e.ID)
	}
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	secret := []byte("shared-secret")
	q := NewQueue(0)
	d := NewDispatcher(q)
	r := NewReceiver("local", secret, q, d, nil)
	defer r.Close()

	router := chi.NewRouter()
	r.Routes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	e := NewEvent(EventTxReceived, PriorityNormal, []byte("payload"), "peer-a")
	body, _ := json.Marshal(e)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sync/events", bytes.NewReader(body))
	req.Header.Set("X-Broadcast-Signature", "deadbeef")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestReceiver_AcceptsValidSignatureAndDispatchesLocally(t *testing.T) {
	secret := []byte("shared-secret")
	q := NewQueue(0)
	d := NewDispatcher(q)
	var mu sync.Mutex
	var dispatched bool
	d.On(EventTxReceived, func(Event) {
		mu.Lock()
		dispatched = true
		mu.Unlock()
	})
	d.Start()
	defer d.Stop()

	r := NewReceiver("local", secret, q, d, nil)
	defer r.Close()

	router := chi.NewRouter()
	r.Routes(router)
	srv := httptest.NewServer(router)
	defer srv.Close()

	e := NewEvent(EventTxReceived, PriorityNormal, []byte("payload"), "peer-a")
	body, _ := json.Marshal(e)
	sig := crypto.HMACSHA256(secret, body)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/sync/events", bytes.NewReader(body))
	req.Header.Set("X-Broadcast-Signature", hex.EncodeToString(sig))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		ok := dispatched
		mu.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("event was never dispatched locally")
}
