// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of the relay.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one relay process.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	connectionsActive atomic.Int64
	connectionsTotal  atomic.Int64
	sessionsActive    atomic.Int64
	joins             atomic.Int64
	leaves            atomic.Int64
	messagesIn        atomic.Int64
	deliveries        atomic.Int64
	deliveryFailures  atomic.Int64
	errorsTotal       atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ActiveConnections returns the current number of open connections,
// identified or not.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Session lifecycle ────────────────────────────────────────────────

// SessionJoined records a Connecting → Active transition.
func (c *Collector) SessionJoined() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(1)
	c.joins.Add(1)
}

// SessionLeft records an Active → Closed transition.
func (c *Collector) SessionLeft() {
	if c == nil {
		return
	}
	c.sessionsActive.Add(-1)
	c.leaves.Add(1)
}

// ActiveSessions returns the number of identified sessions.
func (c *Collector) ActiveSessions() int64 {
	if c == nil {
		return 0
	}
	return c.sessionsActive.Load()
}

// Joins returns the lifetime count of join notifications.
func (c *Collector) Joins() int64 {
	if c == nil {
		return 0
	}
	return c.joins.Load()
}

// Leaves returns the lifetime count of leave notifications.
func (c *Collector) Leaves() int64 {
	if c == nil {
		return 0
	}
	return c.leaves.Load()
}

// ── Message metrics ──────────────────────────────────────────────────

// MessageReceived records one chat line read from a client.
func (c *Collector) MessageReceived() {
	if c == nil {
		return
	}
	c.messagesIn.Add(1)
}

// Delivered records one successful per-recipient send.
func (c *Collector) Delivered() {
	if c == nil {
		return
	}
	c.deliveries.Add(1)
}

// DeliveryFailed records one failed per-recipient send.
func (c *Collector) DeliveryFailed() {
	if c == nil {
		return
	}
	c.deliveryFailures.Add(1)
}

// MessagesReceived returns the number of chat lines read.
func (c *Collector) MessagesReceived() int64 {
	if c == nil {
		return 0
	}
	return c.messagesIn.Load()
}

// Deliveries returns the number of successful sends.
func (c *Collector) Deliveries() int64 {
	if c == nil {
		return 0
	}
	return c.deliveries.Load()
}

// DeliveryFailures returns the number of failed sends.
func (c *Collector) DeliveryFailures() int64 {
	if c == nil {
		return 0
	}
	return c.deliveryFailures.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime            string `json:"uptime"`
	ConnectionsActive int64  `json:"connections_active"`
	ConnectionsTotal  int64  `json:"connections_total"`
	SessionsActive    int64  `json:"sessions_active"`
	Joins             int64  `json:"joins"`
	Leaves            int64  `json:"leaves"`
	MessagesReceived  int64  `json:"messages_received"`
	Deliveries        int64  `json:"deliveries"`
	DeliveryFailures  int64  `json:"delivery_failures"`
	ErrorsTotal       int64  `json:"errors_total"`
	LastError         string `json:"last_error,omitempty"`
	LastErrorMessage  string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:            time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive: c.connectionsActive.Load(),
		ConnectionsTotal:  c.connectionsTotal.Load(),
		SessionsActive:    c.sessionsActive.Load(),
		Joins:             c.joins.Load(),
		Leaves:            c.leaves.Load(),
		MessagesReceived:  c.messagesIn.Load(),
		Deliveries:        c.deliveries.Load(),
		DeliveryFailures:  c.deliveryFailures.Load(),
		ErrorsTotal:       c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
