// Package telemetry provides the Forge3D host's in-process event bus:
// per-category ring buffers, aggregate counters, a sliding latency
// window for percentile reporting, and best-effort subscriber fan-out
// for the streaming status endpoint (spec.md section 4.6).
//
// It is grounded on pkg/events/events.go's Broker — per-subscriber
// buffered channels with a select/default drop on a full buffer —
// scaled up with the ring-buffer/percentile machinery spec.md section
// 4.6 adds on top of that shape. Publish fans out synchronously on the
// caller's goroutine; the hub runs no goroutine of its own.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/brightforge/forge3d-orchestrator/pkg/metrics"
)

// Event is one occurrence published to the hub.
type Event struct {
	Category  string         `json:"category"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Percentiles reports the p50/p95/p99 of a latency window.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// ring is a fixed-capacity circular buffer of the most recent events
// in one category.
type ring struct {
	buf   []Event
	next  int
	count int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(ev Event) {
	if len(r.buf) == 0 {
		return
	}
	r.buf[r.next] = ev
	r.next = (r.next + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the buffered events oldest-first.
func (r *ring) snapshot() []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	start := (r.next - r.count + len(r.buf)) % len(r.buf)
	for i := 0; i < r.count; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// latencyWindow is a fixed-capacity sliding window of durations,
// oldest overwritten first, used for percentile reporting.
type latencyWindow struct {
	buf   []float64
	next  int
	count int
}

func newLatencyWindow(capacity int) *latencyWindow {
	return &latencyWindow{buf: make([]float64, capacity)}
}

func (w *latencyWindow) add(seconds float64) {
	if len(w.buf) == 0 {
		return
	}
	w.buf[w.next] = seconds
	w.next = (w.next + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// percentiles implements spec.md section 4.6's percentile contract:
// for a sorted sliding window of n durations, p_k = w[ceil(n*k/100)-1];
// for n=0, every percentile is 0.
func (w *latencyWindow) percentiles() Percentiles {
	n := w.count
	if n == 0 {
		return Percentiles{}
	}
	sorted := make([]float64, n)
	copy(sorted, w.buf[:n])
	sort.Float64s(sorted)

	pick := func(k int) float64 {
		idx := ceilDiv(n*k, 100) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}
	return Percentiles{P50: pick(50), P95: pick(95), P99: pick(99)}
}

func ceilDiv(a, b int) int {
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// subscriber is a single streaming consumer's buffered channel plus
// its best-effort drop counter.
type subscriber struct {
	ch      chan Event
	dropped uint64
}

// Hub is the in-process event bus. Categories are created lazily on
// first publish/subscribe.
type Hub struct {
	ringSize      int
	latencySize   int
	subscriberBuf int

	mu       sync.Mutex
	rings    map[string]*ring
	latency  map[string]*latencyWindow
	counts   map[string]uint64
	subs     map[string]map[*subscriber]bool // per-category subscribers
	allSubs  map[*subscriber]bool            // firehose subscribers
}

// New constructs a Hub sized by the host's TelemetryConfig.
func New(ringSize, latencyWindowSize int) *Hub {
	if ringSize <= 0 {
		ringSize = 100
	}
	if latencyWindowSize <= 0 {
		latencyWindowSize = 1000
	}
	return &Hub{
		ringSize:      ringSize,
		latencySize:   latencyWindowSize,
		subscriberBuf: 50,
		rings:         make(map[string]*ring),
		latency:       make(map[string]*latencyWindow),
		counts:        make(map[string]uint64),
		subs:          make(map[string]map[*subscriber]bool),
		allSubs:       make(map[*subscriber]bool),
	}
}

// Publish records ev in its category's ring buffer and aggregate
// counter, then fans it out to subscribers, dropping on a full buffer
// rather than blocking the publisher (spec.md section 4.6).
func (h *Hub) Publish(category string, data map[string]any) {
	ev := Event{Category: category, Data: data, Timestamp: time.Now()}

	h.mu.Lock()
	r, ok := h.rings[category]
	if !ok {
		r = newRing(h.ringSize)
		h.rings[category] = r
	}
	r.push(ev)
	h.counts[category]++

	targets := make([]*subscriber, 0, len(h.allSubs)+4)
	for s := range h.allSubs {
		targets = append(targets, s)
	}
	for s := range h.subs[category] {
		targets = append(targets, s)
	}

	// Sends happen under h.mu so Subscription.Close cannot close a
	// channel between target selection and the send; every send is
	// non-blocking, so the lock is never held waiting on a subscriber.
	dropped := 0
	for _, s := range targets {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
			dropped++
		}
	}
	h.mu.Unlock()

	metrics.TelemetryEventsTotal.WithLabelValues(category).Inc()
	if dropped > 0 {
		metrics.TelemetryDroppedTotal.WithLabelValues(category).Add(float64(dropped))
	}
}

// ObserveLatency adds a duration to a category's sliding latency
// window, for later percentile reporting via Percentiles.
func (h *Hub) ObserveLatency(category string, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.latency[category]
	if !ok {
		w = newLatencyWindow(h.latencySize)
		h.latency[category] = w
	}
	w.add(d.Seconds())
}

// Percentiles reports p50/p95/p99 over a category's latency window.
func (h *Hub) Percentiles(category string) Percentiles {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.latency[category]
	if !ok {
		return Percentiles{}
	}
	return w.percentiles()
}

// Recent returns the buffered events for a category, oldest first.
func (h *Hub) Recent(category string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rings[category]
	if !ok {
		return nil
	}
	return r.snapshot()
}

// Count returns the total number of events ever published to a
// category (not bounded by the ring capacity).
func (h *Hub) Count(category string) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[category]
}

// Subscription is a live streaming handle returned by Subscribe. The
// caller must call Close when done (e.g. on client disconnect) so the
// hub stops fanning events into it.
type Subscription struct {
	hub      *Hub
	category string
	sub      *subscriber
}

// Events returns the channel new events arrive on.
func (s *Subscription) Events() <-chan Event { return s.sub.ch }

// Dropped returns how many events this subscriber has missed due to
// backpressure.
func (s *Subscription) Dropped() uint64 {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.sub.dropped
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.category == "" {
		delete(s.hub.allSubs, s.sub)
	} else {
		if m, ok := s.hub.subs[s.category]; ok {
			delete(m, s.sub)
		}
	}
	close(s.sub.ch)
}

// Subscribe attaches a new streaming consumer to one category.
func (h *Hub) Subscribe(category string) *Subscription {
	s := &subscriber{ch: make(chan Event, h.subscriberBuf)}
	h.mu.Lock()
	m, ok := h.subs[category]
	if !ok {
		m = make(map[*subscriber]bool)
		h.subs[category] = m
	}
	m[s] = true
	h.mu.Unlock()
	return &Subscription{hub: h, category: category, sub: s}
}

// SubscribeAll attaches a firehose consumer that receives every
// category (spec.md section 6's /metrics/stream SSE handler).
func (h *Hub) SubscribeAll() *Subscription {
	s := &subscriber{ch: make(chan Event, h.subscriberBuf)}
	h.mu.Lock()
	h.allSubs[s] = true
	h.mu.Unlock()
	return &Subscription{hub: h, category: "", sub: s}
}
