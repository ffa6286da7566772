package push

import (
	"sync"
	"time"

	"github.com/Shenoy37/voicenotes/internal/events"
)

// Channel is one live push subscription. Events are buffered; a subscriber
// that stops draining its buffer is treated as broken and evicted by the
// hub rather than ever blocking a publisher.
type Channel struct {
	ID     string
	UserID int64
	// JobID scopes the channel to a single job. Empty means the channel
	// receives every event for its user.
	JobID string

	send chan events.Event
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	lastPing time.Time
}

func newChannel(id string, userID int64, jobID string, buffer int) *Channel {
	return &Channel{
		ID:       id,
		UserID:   userID,
		JobID:    jobID,
		send:     make(chan events.Event, buffer),
		done:     make(chan struct{}),
		lastPing: time.Now(),
	}
}

// Events is the subscriber's read side. It is closed when the channel is
// evicted or its job finishes.
func (c *Channel) Events() <-chan events.Event {
	return c.send
}

// Done is closed together with the event stream; useful in selects.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// deliver enqueues one event without blocking. A full buffer counts as a
// delivery failure.
func (c *Channel) deliver(ev events.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

// touchPing records a successful keep-alive. lastPing only moves forward.
func (c *Channel) touchPing(at time.Time) {
	c.mu.Lock()
	if at.After(c.lastPing) {
		c.lastPing = at
	}
	c.mu.Unlock()
}

func (c *Channel) pingAge(now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return now.Sub(c.lastPing)
}

// close shuts the channel down. Safe to call from the publish path and the
// eviction sweep concurrently.
func (c *Channel) close() {
	c.once.Do(func() {
		close(c.done)
		close(c.send)
	})
}
