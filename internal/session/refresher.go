package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/flight"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

var (
	ErrSessionTerminated = errors.New("session terminated")
	ErrEmptyAccessToken  = errors.New("refresh returned no access token")
)

const refreshKey = "refresh"

type TokenAPI interface {
	Refresh(ctx context.Context, refreshToken string) (*models.AuthResponse, error)
}

// outcome is what the one real refresh call produced. Exactly one of bundle
// and err is set.
type outcome struct {
	bundle *models.AuthResponse
	err    error
}

// Refresher makes sure at most one refresh call is in flight; everybody who
// asks while it runs gets its result.
type Refresher struct {
	store   *tokenstore.Store
	api     TokenAPI
	group   flight.Group[string]
	now     func() time.Time
	metrics *Metrics

	mu        sync.RWMutex
	observers []func(outcome)
}

type RefresherOption func(*Refresher)

func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) { r.now = now }
}

func WithRefresherMetrics(m *Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func NewRefresher(store *tokenstore.Store, api TokenAPI, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		store: store,
		api:   api,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

var _ apiclient.Refresher = (*Refresher)(nil)

// RefreshAccessToken returns the new access token, or "" with a nil error
// when there is no refresh token to use.
//
// A rejected refresh token ends the session: the store is cleared and the
// returned error wraps ErrSessionTerminated. Transport failures leave the
// store untouched.
func (r *Refresher) RefreshAccessToken(ctx context.Context) (string, error) {
	rt, err := r.store.GetRefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if rt == "" {
		return "", nil
	}

	token, shared, err := r.group.Do(ctx, refreshKey, r.refresh)
	if shared {
		r.metrics.refresh("shared")
	}
	return token, err
}

// refresh runs inside the flight. The refresh token is read here, not by the
// caller: a caller that read it just before another flight rotated it would
// otherwise send a spent token.
func (r *Refresher) refresh(ctx context.Context) (string, error) {
	l := logging.FromContext(ctx).With("component", "refresher")

	refreshToken, err := r.store.GetRefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("read refresh token: %w", err)
	}
	if refreshToken == "" {
		return "", nil
	}

	resp, err := r.api.Refresh(ctx, refreshToken)
	if err == nil && resp.AccessToken == "" {
		err = ErrEmptyAccessToken
	}
	if err != nil {
		var apiErr *apiclient.APIError
		if !errors.As(err, &apiErr) && !errors.Is(err, ErrEmptyAccessToken) {
			l.Warn("refresh_failed", "error", err)
			r.metrics.refresh("error")
			return "", err
		}

		l.Warn("refresh_rejected", "error", err)
		if cerr := r.store.Clear(ctx); cerr != nil {
			l.Error("refresh_clear_failed", "error", cerr)
		}
		r.metrics.refresh("rejected")
		r.notify(outcome{err: err})
		return "", fmt.Errorf("%w: %w", ErrSessionTerminated, err)
	}

	if err := r.store.SaveBundle(ctx, *resp, r.now()); err != nil {
		l.Error("refresh_persist_failed", "error", err)
		r.metrics.refresh("error")
		return "", fmt.Errorf("persist refreshed session: %w", err)
	}

	l.Debug("refresh_ok", "expires_in", resp.ExpiresIn)
	r.metrics.refresh("success")
	r.notify(outcome{bundle: resp})
	return resp.AccessToken, nil
}

func (r *Refresher) observe(fn func(outcome)) {
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

func (r *Refresher) notify(o outcome) {
	r.mu.RLock()
	obs := append([]func(outcome){}, r.observers...)
	r.mu.RUnlock()
	for _, fn := range obs {
		fn(o)
	}
}
