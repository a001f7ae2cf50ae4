package eventsync

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jellydator/ttlcache/v3"

	"empower1.com/ptcnode/internal/crypto"
)

// Receiver implements the server side of spec §4.9: verifies the HMAC
// signature, dedupes by (eventId, source), bumps hop/path bookkeeping, and
// dispatches accepted events locally before re-broadcasting.
type Receiver struct {
	localNodeID string
	secret      []byte
	queue       *Queue
	dispatcher  *Dispatcher
	rebroadcast func(Event)
	seen        *ttlcache.Cache[string, struct{}]
}

// NewReceiver constructs a Receiver. rebroadcast is called for every
// successfully accepted event so the caller can fan it out again (except
// back along event.Path, which Broadcast already enforces via InPath).
func NewReceiver(localNodeID string, secret []byte, queue *Queue, dispatcher *Dispatcher, rebroadcast func(Event)) *Receiver {
	seen := ttlcache.New[string, struct{}](ttlcache.WithTTL[string, struct{}](DefaultBroadcastTrackTTL))
	go seen.Start()
	return &Receiver{
		localNodeID: localNodeID,
		secret:      secret,
		queue:       queue,
		dispatcher:  dispatcher,
		rebroadcast: rebroadcast,
		seen:        seen,
	}
}

// Close stops the receiver's dedup-cache janitor.
func (r *Receiver) Close() {
	r.seen.Stop()
}

// Routes mounts the receiver's handlers onto router at the paths spec §4.9
// and §6 name.
func (r *Receiver) Routes(router chi.Router) {
	router.Post("/api/sync/events", r.handleEvent)
}

func (r *Receiver) handleEvent(w http.ResponseWriter, req *http.Request) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	sigHeader := req.Header.Get("X-Broadcast-Signature")
	sig, err := hex.DecodeString(sigHeader)
	if err != nil || !crypto.VerifyHMACSHA256(r.secret, body, sig) {
		http.Error(w, "signature mismatch", http.StatusUnauthorized)
		return
	}

	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		http.Error(w, "malformed event", http.StatusBadRequest)
		return
	}

	dedupKey := e.ID + "|" + e.SourceNodeID
	if r.seen.Get(dedupKey) != nil {
		w.WriteHeader(http.StatusOK) // already processed, ack without re-dispatch
		return
	}

	if err := r.queue.Push(e); err != nil {
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	r.seen.Set(dedupKey, struct{}{}, ttlcache.DefaultTTL)
	r.dispatcher.Notify()

	e.Path = append(append([]string{}, e.Path...), r.localNodeID)
	e.HopCount++
	if r.rebroadcast != nil && e.HopCount < MaxHops {
		r.rebroadcast(e)
	}

	w.WriteHeader(http.StatusOK)
}
