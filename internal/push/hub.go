// Package push implements the broadcast hub: a process-wide registry of
// live push channels, keyed by connection and scoped by job or user. The
// hub turns poller and upload events into push messages, keeps channels
// alive with periodic pings and evicts the stale ones.
package push

import (
	"log"
	"sync"
	"time"

	"github.com/Shenoy37/voicenotes/internal/events"
)

// Options tune the keep-alive behaviour. Zero values use defaults.
type Options struct {
	PingInterval  time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
	// Buffer is the per-channel event buffer; a subscriber that falls this
	// far behind is considered broken.
	Buffer int
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 60 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 16
	}
}

// Stats is a read-only snapshot of the hub for observability.
type Stats struct {
	TotalConnections int            `json:"total_connections"`
	PerJob           map[string]int `json:"per_job"`
	PerUser          map[int64]int  `json:"per_user"`
}

// Hub owns every live push channel. All registry access is serialized under
// one mutex; the publish path and the eviction sweep therefore never race,
// and a channel removed by one can not be double-closed by the other.
type Hub struct {
	opts Options

	mu       sync.Mutex
	channels map[string]*Channel

	stop     chan struct{}
	stopOnce sync.Once
}

// NewHub creates a hub. Call Run in a goroutine to start keep-alive.
func NewHub(opts Options) *Hub {
	opts.applyDefaults()
	return &Hub{
		opts:     opts,
		channels: make(map[string]*Channel),
		stop:     make(chan struct{}),
	}
}

// Run drives the ping and eviction tickers until Close is called.
func (h *Hub) Run() {
	ping := time.NewTicker(h.opts.PingInterval)
	sweep := time.NewTicker(h.opts.SweepInterval)
	defer ping.Stop()
	defer sweep.Stop()

	for {
		select {
		case <-ping.C:
			h.pingAll()
		case <-sweep.C:
			h.evictStale()
		case <-h.stop:
			return
		}
	}
}

// Close tears down the hub and every live channel. Used on shutdown and in
// tests.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.channels {
		delete(h.channels, id)
		ch.close()
	}
}

// Subscribe registers a channel and immediately acknowledges the
// connection. jobID may be empty for a user-wide channel.
func (h *Hub) Subscribe(connectionID string, userID int64, jobID string) *Channel {
	ch := newChannel(connectionID, userID, jobID, h.opts.Buffer)

	h.mu.Lock()
	h.channels[connectionID] = ch
	ch.deliver(events.Connected(connectionID))
	h.mu.Unlock()

	return ch
}

// Unsubscribe removes and closes one channel. Idempotent.
func (h *Hub) Unsubscribe(connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.channels[connectionID]; ok {
		delete(h.channels, connectionID)
		ch.close()
	}
}

// PublishJob delivers an event to every channel scoped to the job, plus the
// owning user's unscoped channels. On a terminal event the job's channels
// are closed after delivery; nothing lingers for a finished job.
func (h *Hub) PublishJob(jobID string, userID int64, ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.channels {
		matches := ch.JobID == jobID || (ch.JobID == "" && ch.UserID == userID)
		if !matches {
			continue
		}
		if !ch.deliver(ev) {
			// Broken transport: evict immediately, never retry.
			delete(h.channels, id)
			ch.close()
			continue
		}
		if ev.Terminal() && ch.JobID == jobID {
			delete(h.channels, id)
			ch.close()
		}
	}
}

// PublishUser delivers an event to every channel owned by the user that is
// not scoped to some other job.
func (h *Hub) PublishUser(userID int64, ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.channels {
		if ch.UserID != userID || ch.JobID != "" {
			continue
		}
		if !ch.deliver(ev) {
			delete(h.channels, id)
			ch.close()
		}
	}
}

// Stats returns connection counts overall and per job/user.
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	st := Stats{
		TotalConnections: len(h.channels),
		PerJob:           make(map[string]int),
		PerUser:          make(map[int64]int),
	}
	for _, ch := range h.channels {
		if ch.JobID != "" {
			st.PerJob[ch.JobID]++
		}
		st.PerUser[ch.UserID]++
	}
	return st
}

// pingAll delivers a keep-alive to every channel; a successful delivery
// advances the channel's lastPing.
func (h *Hub) pingAll() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.channels {
		if ch.deliver(events.Ping()) {
			ch.touchPing(now)
		}
	}
}

// evictStale closes channels that have not taken a ping within the
// staleness threshold.
func (h *Hub) evictStale() {
	now := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.channels {
		if ch.pingAge(now) > h.opts.StaleAfter {
			log.Printf("Evicting stale push channel %s (no ping for %s)", id, ch.pingAge(now).Truncate(time.Second))
			delete(h.channels, id)
			ch.close()
		}
	}
}
