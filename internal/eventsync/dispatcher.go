package eventsync

import (
	"sync"
)

// Handler processes a locally-dispatched event.
type Handler func(Event)

// Dispatcher is the single-writer cooperative task that pops events off a
// Queue and invokes registered in-process handlers (spec §4.9 "Local
// dispatcher"). Exactly one goroutine runs the pop loop, matching spec §5's
// single-writer requirement for anything mutating shared state from queue
// consumption.
type Dispatcher struct {
	queue    *Queue
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
	wake     chan struct{}
}

// NewDispatcher constructs a Dispatcher draining queue.
func NewDispatcher(queue *Queue) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		handlers: map[EventType][]Handler{},
		stopChan: make(chan struct{}),
		wake:     make(chan struct{}, 1),
	}
}

// On registers h to run for every event of eventType, in registration order.
func (d *Dispatcher) On(eventType EventType, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Notify wakes the dispatcher loop after a new event is pushed onto the
// queue it drains, so it does not rely purely on polling.
func (d *Dispatcher) Notify() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Start runs the pop-and-dispatch loop in its own goroutine until Stop is
// called.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop signals the loop to exit and waits for it to drain its current work.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		for {
			e, ok := d.queue.Pop()
			if !ok {
				break
			}
			d.dispatch(e)
		}
		select {
		case <-d.stopChan:
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) dispatch(e Event) {
	d.mu.RLock()
	handlers := append([]Handler{}, d.handlers[e.Type]...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
