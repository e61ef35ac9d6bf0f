package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/session"
)

// SessionEvent is the wire form of a session.Event.
type SessionEvent struct {
	Type   string    `json:"type"`
	Reason string    `json:"reason,omitempty"`
	UserID string    `json:"user_id,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func FromSession(ev session.Event) SessionEvent {
	out := SessionEvent{
		Type:   string(ev.Type),
		Reason: ev.Reason,
		At:     ev.At.UTC(),
	}
	if ev.User != nil {
		out.UserID = ev.User.ID
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	return out
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, key string, event any) error
}

// Forwarder ships session events to a publisher from its own goroutine so
// the controller's subscribers never block on the broker. Events arriving
// while the buffer is full are dropped.
type Forwarder struct {
	pub EventPublisher
	log *slog.Logger
	ch  chan SessionEvent

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewForwarder(pub EventPublisher, log *slog.Logger, buffer int) *Forwarder {
	if buffer <= 0 {
		buffer = 64
	}
	f := &Forwarder{
		pub:  pub,
		log:  log.With("component", "event_forwarder"),
		ch:   make(chan SessionEvent, buffer),
		done: make(chan struct{}),
	}
	go f.run()
	return f
}

// Handle has the shape session.Controller.Subscribe expects. Events that
// arrive after Close are dropped.
func (f *Forwarder) Handle(ev session.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		f.log.Debug("event_after_close", "type", ev.Type)
		return
	}
	select {
	case f.ch <- FromSession(ev):
	default:
		f.log.Warn("event_dropped", "type", ev.Type)
	}
}

// Close flushes what is buffered and stops the forwarder.
func (f *Forwarder) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	f.mu.Unlock()
	<-f.done
}

func (f *Forwarder) run() {
	defer close(f.done)
	for ev := range f.ch {
		if err := f.pub.PublishEvent(context.Background(), ev.UserID, ev); err != nil {
			f.log.Error("event_publish_failed", "type", ev.Type, "error", err)
		}
	}
}
