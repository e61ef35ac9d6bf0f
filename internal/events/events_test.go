package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/session"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *memWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *memWriter) messages() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestPublisher_PublishEvent(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	p := NewPublisher(w, "session_events")

	require.NoError(t, p.PublishEvent(context.Background(), "u-1", map[string]string{"type": "logged_out"}))

	msgs := w.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "u-1", string(msgs[0].Key))
	assert.JSONEq(t, `{"type":"logged_out"}`, string(msgs[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublisher_Errors(t *testing.T) {
	t.Parallel()

	p := NewPublisher(&memWriter{err: errors.New("broker down")}, "session_events")
	err := p.PublishEvent(context.Background(), "k", struct{}{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session_events")

	err = p.PublishEvent(context.Background(), "k", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json.Marshal")
}

func TestForwarder_ShipsSessionEvents(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	f := NewForwarder(NewPublisher(w, "session_events"), logging.Discard(), 8)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f.Handle(session.Event{
		Type:   session.EventAuthenticated,
		Reason: "login",
		User:   &models.UserProfile{ID: "u-42"},
		At:     at,
	})
	f.Handle(session.Event{
		Type:   session.EventSessionExpired,
		Reason: "refresh_rejected",
		Err:    errors.New("session terminated"),
		At:     at,
	})
	f.Close()

	msgs := w.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "u-42", string(msgs[0].Key))

	var got SessionEvent
	require.NoError(t, json.Unmarshal(msgs[1].Value, &got))
	assert.Equal(t, SessionEvent{
		Type:   "session_expired",
		Reason: "refresh_rejected",
		Error:  "session terminated",
		At:     at,
	}, got)
}

func TestForwarder_KeepsGoingAfterPublishFailure(t *testing.T) {
	t.Parallel()

	w := &memWriter{err: errors.New("broker down")}
	f := NewForwarder(NewPublisher(w, "session_events"), logging.Discard(), 1)

	assert.NotPanics(t, func() {
		for i := 0; i < 10; i++ {
			f.Handle(session.Event{Type: session.EventRefreshed})
		}
	})
	f.Close()
	f.Close()
	assert.Empty(t, w.messages())
}

func TestForwarder_HandleRacingClose(t *testing.T) {
	t.Parallel()

	w := &memWriter{}
	f := NewForwarder(NewPublisher(w, "session_events"), logging.Discard(), 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				f.Handle(session.Event{Type: session.EventRefreshed})
			}
		}()
	}
	f.Close()
	wg.Wait()

	assert.NotPanics(t, func() {
		f.Handle(session.Event{Type: session.EventLoggedOut})
	})
	for _, m := range w.messages() {
		assert.NotContains(t, string(m.Value), string(session.EventLoggedOut))
	}
}
