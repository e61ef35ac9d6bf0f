package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_760_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeIdentity plays the remote identity API.
type fakeIdentity struct {
	mu          sync.Mutex
	valid       map[string]bool
	liveRefresh map[string]bool
	issued      int

	// rotateRefresh makes refresh tokens single-use, like the real API.
	rotateRefresh bool

	refreshCalls  atomic.Int32
	logoutCalls   atomic.Int32
	unauthorized  atomic.Int32
	refreshStatus atomic.Int32
	refreshGate   chan struct{}

	loginExpiresIn   int64
	refreshExpiresIn int64
	lastLogout       atomic.Value
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		valid:            make(map[string]bool),
		liveRefresh:      make(map[string]bool),
		loginExpiresIn:   900,
		refreshExpiresIn: 900,
	}
}

func (f *fakeIdentity) issue(user models.UserProfile, expiresIn int64) models.AuthResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	access := fmt.Sprintf("access-%d", f.issued)
	f.valid[access] = true
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.liveRefresh[refresh] = true
	return models.AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		User:         user,
	}
}

// spend consumes the refresh token in the request body.
func (f *fakeIdentity) spend(r *http.Request) bool {
	var req models.RefreshRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.liveRefresh[req.RefreshToken] {
		return false
	}
	delete(f.liveRefresh, req.RefreshToken)
	return true
}

func (f *fakeIdentity) authorized(r *http.Request) bool {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valid[token]
}

func (f *fakeIdentity) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req models.LoginRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Password != "x" {
			writeErr(w, r, http.StatusUnauthorized, "Invalid email/username or password")
			return
		}
		writeJSON(w, http.StatusOK, f.issue(testUser(req.EmailOrUsername), f.loginExpiresIn))
	})

	mux.HandleFunc("POST /auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req models.RegisterRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Email == "taken@b.com" {
			writeErr(w, r, http.StatusConflict, "Email is already registered")
			return
		}
		u := testUser(req.Email)
		u.Username = req.Username
		writeJSON(w, http.StatusCreated, f.issue(u, f.loginExpiresIn))
	})

	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		if f.refreshGate != nil {
			<-f.refreshGate
		}
		if status := int(f.refreshStatus.Load()); status != 0 {
			writeErr(w, r, status, "Refresh token is invalid or expired")
			return
		}
		if f.rotateRefresh && !f.spend(r) {
			writeErr(w, r, http.StatusUnauthorized, "Refresh token is invalid or expired")
			return
		}
		u := testUser("a@b.com")
		u.Username = "refreshed"
		writeJSON(w, http.StatusOK, f.issue(u, f.refreshExpiresIn))
	})

	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		var req models.LogoutRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.lastLogout.Store(req.RefreshToken)
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Logged out"})
	})

	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			f.unauthorized.Add(1)
			writeErr(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		u := testUser("a@b.com")
		u.FullName = "Alice Liddell"
		writeJSON(w, http.StatusOK, u)
	})

	mux.HandleFunc("GET /problems", func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			f.unauthorized.Add(1)
			writeErr(w, r, http.StatusUnauthorized, "Unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "two-sum"})
	})

	mux.HandleFunc("POST /auth/forgot-password", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "If the email exists, a reset link has been sent"})
	})

	mux.HandleFunc("POST /auth/reset-password", func(w http.ResponseWriter, r *http.Request) {
		var req models.ResetPasswordRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Token != "good" {
			writeErr(w, r, http.StatusBadRequest, "Reset token is invalid or expired")
			return
		}
		writeJSON(w, http.StatusOK, models.MessageResponse{Message: "Password has been reset"})
	})

	return mux
}

func testUser(email string) models.UserProfile {
	return models.UserProfile{
		ID:       "u-1",
		Email:    email,
		Username: "alice",
		Role:     models.RoleUser,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, apiclient.APIError{
		Status:    status,
		Kind:      http.StatusText(status),
		Message:   msg,
		Path:      r.URL.Path,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type harness struct {
	api       *fakeIdentity
	srv       *httptest.Server
	clock     *fakeClock
	eph, dur  *tokenstore.Memory
	store     *tokenstore.Store
	client    *apiclient.Client
	refresher *Refresher
	ctrl      *Controller

	evMu   sync.Mutex
	events []Event
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	return newHarnessWith(t, newFakeIdentity(), opts)
}

func newHarnessWith(t *testing.T, api *fakeIdentity, opts Options) *harness {
	t.Helper()

	h := &harness{api: api, clock: newFakeClock()}
	h.srv = httptest.NewServer(api.handler())
	t.Cleanup(h.srv.Close)
	h.dur = tokenstore.NewMemory()
	h.wire(t, opts)
	return h
}

// restart models a new process: same API, clock and durable slot, but a
// fresh ephemeral slot and controller.
func (h *harness) restart(t *testing.T, opts Options) *harness {
	t.Helper()
	next := &harness{api: h.api, srv: h.srv, clock: h.clock, dur: h.dur}
	next.wire(t, opts)
	return next
}

func (h *harness) wire(t *testing.T, opts Options) {
	t.Helper()

	h.eph = tokenstore.NewMemory()
	h.store = tokenstore.New(h.eph, h.dur, tokenstore.WithClock(h.clock.Now))
	h.client = apiclient.New(h.srv.URL, h.store)
	h.refresher = NewRefresher(h.store, h.client, WithRefresherClock(h.clock.Now))
	h.client.SetRefresher(h.refresher)

	opts.Now = h.clock.Now
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	h.ctrl = NewController(h.store, h.client, h.refresher, opts)
	h.ctrl.Subscribe(func(ev Event) {
		h.evMu.Lock()
		h.events = append(h.events, ev)
		h.evMu.Unlock()
	})
	t.Cleanup(h.ctrl.Close)
}

// seed stores a bundle issued by the fake API at issuedAt.
func (h *harness) seed(t *testing.T, issuedAt time.Time, remember bool) models.AuthResponse {
	t.Helper()
	bundle := h.api.issue(testUser("a@b.com"), 900)
	h.store.SetRememberMe(remember)
	require.NoError(t, h.store.SaveBundle(context.Background(), bundle, issuedAt))
	return bundle
}

func (h *harness) eventTypes() []EventType {
	h.evMu.Lock()
	defer h.evMu.Unlock()
	out := make([]EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}
