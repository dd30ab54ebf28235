// Package notify owns the dashboard's notification banner. A Center holds at
// most one notification; showing a new one replaces the current one and
// cancels its expiry timer.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 4 * time.Second

type Notification struct {
	ID       string
	Message  string
	Severity Severity
}

type EventKind int

const (
	EventShown EventKind = iota + 1
	EventCleared
)

// Event is delivered to subscribers. For EventCleared, Notification is the one
// that was removed.
type Event struct {
	Kind         EventKind
	Notification Notification
}

type Center struct {
	ttl time.Duration

	mu      sync.Mutex
	current *Notification
	timer   *time.Timer
	subs    map[chan Event]struct{}
	shown   int
}

func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, subs: map[chan Event]struct{}{}}
}

// Show replaces the current notification and schedules its removal.
func (c *Center) Show(message string, severity Severity) Notification {
	n := Notification{ID: uuid.NewString(), Message: message, Severity: severity}

	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.current = &n
	c.shown++
	c.timer = time.AfterFunc(c.ttl, func() { c.expire(n.ID) })
	c.publishLocked(Event{Kind: EventShown, Notification: n})
	c.mu.Unlock()
	return n
}

// Clear removes the current notification, if any.
func (c *Center) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	c.clearLocked()
}

func (c *Center) expire(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// A timer that fired while Show was replacing its notification must not
	// remove the replacement.
	if c.current == nil || c.current.ID != id {
		return
	}
	c.clearLocked()
}

func (c *Center) clearLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	n := *c.current
	c.current = nil
	c.publishLocked(Event{Kind: EventCleared, Notification: n})
}

// Current returns the visible notification.
func (c *Center) Current() (Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Notification{}, false
	}
	return *c.current, true
}

// ShownCount is the number of notifications shown since the center was created.
func (c *Center) ShownCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shown
}

// Subscribe returns a channel receiving every subsequent event. Slow
// subscribers drop events rather than block Show.
func (c *Center) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			c.mu.Unlock()
			close(ch)
		})
	}
}

func (c *Center) publishLocked(ev Event) {
	for ch := range c.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Stop cancels the pending expiry without publishing anything.
func (c *Center) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
