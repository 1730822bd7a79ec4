// Package progress fans job lifecycle events out to subscribers. Producers
// on any goroutine enqueue through Broadcast; a single dispatcher goroutine
// owned by the hub delivers to per-job subscribers, so subscriber state is
// never touched from arbitrary execution contexts.
package progress

import (
	"context"
	"log/slog"
	"sync"

	"redub/internal/logging"
)

// Event is one progress notification for a job.
type Event struct {
	Type    string `json:"type"`
	Step    string `json:"step,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Message string `json:"message,omitempty"`
}

type delivery struct {
	jobID string
	event Event
}

const (
	queueDepth      = 256
	subscriberDepth = 16
)

// Hub routes events from producers to per-job subscribers. Construct with
// NewHub, start the dispatcher with Start, and tear down with Close.
type Hub struct {
	log   *slog.Logger
	queue chan delivery
	done  chan struct{}

	mu     sync.Mutex
	subs   map[string]map[*Subscriber]struct{}
	closed bool

	closeOnce sync.Once
}

// NewHub creates a hub. It delivers nothing until Start is called.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = logging.NewNop()
	}
	return &Hub{
		log:   log,
		queue: make(chan delivery, queueDepth),
		done:  make(chan struct{}),
		subs:  make(map[string]map[*Subscriber]struct{}),
	}
}

// Start launches the dispatcher. It returns immediately; the dispatcher
// stops when ctx is cancelled or Close is called.
func (h *Hub) Start(ctx context.Context) {
	go h.dispatch(ctx)
}

// Close stops the dispatcher and closes all subscriber channels.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		h.closed = true
		for jobID, set := range h.subs {
			for sub := range set {
				close(sub.ch)
			}
			delete(h.subs, jobID)
		}
		h.mu.Unlock()
	})
}

// Broadcast enqueues an event for a job. It never blocks: when the queue is
// full the event is dropped and logged. Broadcasting to a job with no
// subscribers is a no-op.
func (h *Hub) Broadcast(jobID string, event Event) {
	select {
	case h.queue <- delivery{jobID: jobID, event: event}:
	case <-h.done:
	default:
		h.log.Warn("progress queue full, dropping event",
			logging.String("job_id", jobID),
			logging.String("event_type", event.Type))
	}
}

// Subscribe registers an observer for one job's events. The returned
// subscriber must be closed when no longer needed.
func (h *Hub) Subscribe(jobID string) *Subscriber {
	sub := &Subscriber{
		hub:   h,
		jobID: jobID,
		ch:    make(chan Event, subscriberDepth),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.ch)
		return sub
	}
	set, ok := h.subs[jobID]
	if !ok {
		set = make(map[*Subscriber]struct{})
		h.subs[jobID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// SubscriberCount returns how many observers a job currently has.
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func (h *Hub) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-h.done:
			return
		case d := <-h.queue:
			h.deliver(d)
		}
	}
}

// deliver fans one event out under the hub lock so channel sends never race
// a concurrent close. Sends are non-blocking; a subscriber with a full
// buffer is dropped rather than allowed to stall the dispatcher.
func (h *Hub) deliver(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for sub := range h.subs[d.jobID] {
		select {
		case sub.ch <- d.event:
		default:
			h.log.Warn("subscriber too slow, dropping",
				logging.String("job_id", d.jobID))
			h.removeLocked(sub)
		}
	}
}

func (h *Hub) remove(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

func (h *Hub) removeLocked(sub *Subscriber) {
	set, ok := h.subs[sub.jobID]
	if !ok {
		return
	}
	if _, member := set[sub]; !member {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.jobID)
	}
	close(sub.ch)
}

// Subscriber receives one job's events.
type Subscriber struct {
	hub   *Hub
	jobID string
	ch    chan Event
}

// Events returns the receive channel. It is closed when the subscriber is
// dropped or the hub shuts down.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber from the hub.
func (s *Subscriber) Close() {
	s.hub.remove(s)
}
