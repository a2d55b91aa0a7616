// Package progress fans conversion progress out to per-job subscribers.
//
// Publishing never blocks. Each subscriber owns a small buffer; when it is
// full the oldest queued event is discarded so the newest state always gets
// through. Subscriptions only see events published after they were made and
// end when the job's stream is closed.
package progress

import (
	"sync"

	"reels-studio/internal/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 16

type subscriber struct {
	ch   chan domain.ProgressEvent
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// Hub is a publish/subscribe channel keyed by job ID.
type Hub struct {
	mu     sync.Mutex
	buffer int
	nextID int
	subs   map[string]map[int]*subscriber
	last   map[string]domain.ProgressEvent
	closed map[string]struct{}
}

// NewHub creates a hub with the given per-subscriber buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[int]*subscriber),
		last:   make(map[string]domain.ProgressEvent),
		closed: make(map[string]struct{}),
	}
}

// Subscribe returns a stream of events for jobID and a function that ends the
// subscription. Subscribing to a closed stream yields a closed channel.
func (h *Hub) Subscribe(jobID string) (<-chan domain.ProgressEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{ch: make(chan domain.ProgressEvent, h.buffer)}
	if _, done := h.closed[jobID]; done {
		sub.close()
		return sub.ch, func() {}
	}

	h.nextID++
	id := h.nextID
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[int]*subscriber)
	}
	h.subs[jobID][id] = sub

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[jobID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(h.subs, jobID)
			}
		}
		sub.close()
	}
	return sub.ch, unsubscribe
}

// Publish delivers ev to every subscriber of its job and returns the event as
// delivered. Percent is clamped to 0..100 and never falls below the previous
// event of the same job. Events for closed streams are dropped.
func (h *Hub) Publish(ev domain.ProgressEvent) (domain.ProgressEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, done := h.closed[ev.JobID]; done {
		return ev, false
	}

	ev.Percent = clampPercent(ev.Percent)
	if prev, ok := h.last[ev.JobID]; ok && ev.Percent < prev.Percent {
		ev.Percent = prev.Percent
	}
	h.last[ev.JobID] = ev

	for _, sub := range h.subs[ev.JobID] {
		offer(sub.ch, ev)
	}
	return ev, true
}

// offer enqueues ev, evicting the oldest queued event when the buffer is full.
func offer(ch chan domain.ProgressEvent, ev domain.ProgressEvent) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Close ends every subscription of jobID. Later publishes are dropped.
func (h *Hub) Close(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed[jobID] = struct{}{}
	for _, sub := range h.subs[jobID] {
		sub.close()
	}
	delete(h.subs, jobID)
}

// Forget drops all bookkeeping for jobID.
func (h *Hub) Forget(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[jobID] {
		sub.close()
	}
	delete(h.subs, jobID)
	delete(h.last, jobID)
	delete(h.closed, jobID)
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0 || p != p:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
