package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateAuthenticated
	StateAnonymous
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type AuthAPI interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string) error
	Me(ctx context.Context) (*models.UserProfile, error)
	ForgotPassword(ctx context.Context, email string) (*models.MessageResponse, error)
	ResetPassword(ctx context.Context, token, newPassword string) (*models.MessageResponse, error)
}

type Options struct {
	// RefreshInterval is how often the expiry is checked while authenticated.
	RefreshInterval time.Duration
	// RefreshThreshold is how close to expiry a pre-emptive refresh fires.
	RefreshThreshold time.Duration
	Now              func() time.Time
	Logger           *slog.Logger
	Metrics          *Metrics
}

const (
	DefaultRefreshInterval  = time.Minute
	DefaultRefreshThreshold = 5 * time.Minute
)

// Snapshot is the view handed to the UI.
type Snapshot struct {
	State           State
	User            *models.UserProfile
	IsAuthenticated bool
	IsLoading       bool
	Error           string
}

// ActionError is returned by user-initiated operations. Message is what the
// user should see.
type ActionError struct {
	Op      string
	Message string
	Err     error
}

func (e *ActionError) Error() string { return e.Op + ": " + e.Message }

func (e *ActionError) Unwrap() error { return e.Err }

type Controller struct {
	store     *tokenstore.Store
	api       AuthAPI
	refresher *Refresher
	opts      Options
	log       *slog.Logger

	initOnce sync.Once

	mu      sync.RWMutex
	state   State
	user    *models.UserProfile
	pending int
	errMsg  string
	loop    *refreshLoop
	closed  bool

	activeLoops atomic.Int32

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int
}

type refreshLoop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewController(store *tokenstore.Store, api AuthAPI, refresher *Refresher, opts Options) *Controller {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.RefreshThreshold <= 0 {
		opts.RefreshThreshold = DefaultRefreshThreshold
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := &Controller{
		store:     store,
		api:       api,
		refresher: refresher,
		opts:      opts,
		log:       opts.Logger.With("component", "session"),
		subs:      make(map[int]func(Event)),
	}
	refresher.observe(c.onRefreshOutcome)
	return c
}

// Subscribe registers fn for background events. The returned func removes
// it. fn runs on the goroutine that caused the event and must not block.
func (c *Controller) Subscribe(fn func(Event)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := Snapshot{
		State:           c.state,
		IsAuthenticated: c.state == StateAuthenticated,
		IsLoading:       c.state == StateUninitialized || c.state == StateInitializing || c.pending > 0,
		Error:           c.errMsg,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	return snap
}

func (c *Controller) State() State { return c.Snapshot().State }

func (c *Controller) User() *models.UserProfile { return c.Snapshot().User }

func (c *Controller) IsAuthenticated() bool { return c.Snapshot().IsAuthenticated }

func (c *Controller) IsLoading() bool { return c.Snapshot().IsLoading }

func (c *Controller) Err() string { return c.Snapshot().Error }

func (c *Controller) ClearError() {
	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
}

// Init restores the session from storage. Only the first call does anything.
// It never fails: whatever goes wrong ends in the anonymous state.
func (c *Controller) Init(ctx context.Context) {
	c.initOnce.Do(func() { c.boot(c.withLogger(ctx)) })
}

func (c *Controller) boot(ctx context.Context) {
	c.mu.Lock()
	c.state = StateInitializing
	c.mu.Unlock()

	sess, err := c.store.Load(ctx)
	if err != nil {
		c.log.Warn("boot_restore_failed", "error", err)
		c.clearStore(ctx)
		c.setAnonymous("boot_corrupt")
		return
	}
	if !sess.HasCredentials() {
		c.setAnonymous("boot_empty")
		return
	}
	// keep writing to the slot the login picked, or a refresh would leave
	// the rotated tokens behind in the ephemeral slot
	c.store.SetRememberMe(sess.Remembered)
	if !c.store.IsTokenExpired(ctx) {
		c.setAuthenticated(*sess.User, "boot")
		return
	}

	token, err := c.refresher.RefreshAccessToken(ctx)
	if err != nil || token == "" {
		c.log.Info("boot_refresh_failed", "error", err)
		c.clearStore(ctx)
		c.setAnonymous("boot_refresh_failed")
		c.emit(Event{Type: EventSessionExpired, Reason: "boot", Err: err, At: c.opts.Now()})
		return
	}

	user, err := c.store.GetUser(ctx)
	if err != nil || user == nil {
		c.log.Warn("boot_user_missing", "error", err)
		c.clearStore(ctx)
		c.setAnonymous("boot_corrupt")
		return
	}
	c.setAuthenticated(*user, "boot")
}

func (c *Controller) Login(ctx context.Context, req models.LoginRequest) error {
	ctx = c.withLogger(ctx)
	c.store.SetRememberMe(req.RememberMe)
	c.beginAction()
	defer c.endAction()

	resp, err := c.api.Login(ctx, req)
	if err != nil {
		return c.fail("login", err)
	}
	return c.establish(ctx, "login", resp)
}

func (c *Controller) Register(ctx context.Context, req models.RegisterRequest) error {
	ctx = c.withLogger(ctx)
	c.store.SetRememberMe(req.RememberMe)
	c.beginAction()
	defer c.endAction()

	resp, err := c.api.Register(ctx, req)
	if err != nil {
		return c.fail("register", err)
	}
	return c.establish(ctx, "register", resp)
}

func (c *Controller) establish(ctx context.Context, op string, resp *models.AuthResponse) error {
	if err := c.store.SaveBundle(ctx, *resp, c.opts.Now()); err != nil {
		return c.fail(op, fmt.Errorf("persist session: %w", err))
	}
	c.log.Info(op+"_ok", "user_id", resp.User.ID, "remember_me", c.store.RememberMe())
	c.setAuthenticated(resp.User, op)
	return nil
}

// Logout always ends the local session; a failing remote call is only logged.
func (c *Controller) Logout(ctx context.Context) {
	ctx = c.withLogger(ctx)
	c.beginAction()
	defer c.endAction()

	rt, err := c.store.GetRefreshToken(ctx)
	if err != nil {
		c.log.Warn("logout_read_token_failed", "error", err)
	}
	if rt != "" {
		if err := c.api.Logout(ctx, rt); err != nil {
			c.log.Warn("logout_remote_failed", "error", err)
		}
	}
	c.clearStore(ctx)

	c.mu.Lock()
	c.errMsg = ""
	c.mu.Unlock()
	c.setAnonymous("logout")
	c.emit(Event{Type: EventLoggedOut, Reason: "logout", At: c.opts.Now()})
}

func (c *Controller) ForgotPassword(ctx context.Context, email string) (string, error) {
	ctx = c.withLogger(ctx)
	c.beginAction()
	defer c.endAction()

	resp, err := c.api.ForgotPassword(ctx, email)
	if err != nil {
		return "", c.fail("forgot_password", err)
	}
	return resp.Message, nil
}

func (c *Controller) ResetPassword(ctx context.Context, token, newPassword string) (string, error) {
	ctx = c.withLogger(ctx)
	c.beginAction()
	defer c.endAction()

	resp, err := c.api.ResetPassword(ctx, token, newPassword)
	if err != nil {
		return "", c.fail("reset_password", err)
	}
	return resp.Message, nil
}

// RefreshUser reloads the profile from the API. Failures are not UI errors:
// a dead session shows up as an anonymous state through the refresher.
func (c *Controller) RefreshUser(ctx context.Context) error {
	ctx = c.withLogger(ctx)
	if !c.IsAuthenticated() {
		return nil
	}

	user, err := c.api.Me(ctx)
	if err != nil {
		c.log.Warn("refresh_user_failed", "error", err)
		return err
	}
	if err := c.store.SetUser(ctx, *user); err != nil {
		c.log.Warn("refresh_user_persist_failed", "error", err)
	}

	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	c.user = user
	c.mu.Unlock()
	c.emit(Event{Type: EventUserUpdated, Reason: "refresh_user", User: user, At: c.opts.Now()})
	return nil
}

// Close stops the background refresh loop and waits for it to exit. The
// controller never starts another one afterwards.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	done := c.stopLoopLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (c *Controller) beginAction() {
	c.mu.Lock()
	c.pending++
	c.errMsg = ""
	c.mu.Unlock()
}

func (c *Controller) endAction() {
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()
}

func (c *Controller) fail(op string, err error) error {
	msg := apiclient.UserMessage(err)
	c.log.Warn(op+"_failed", "error", err)

	c.mu.Lock()
	c.errMsg = msg
	if c.state != StateAuthenticated {
		c.state = StateAnonymous
	}
	c.mu.Unlock()
	return &ActionError{Op: op, Message: msg, Err: err}
}

func (c *Controller) setAuthenticated(user models.UserProfile, reason string) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.user = &user
	c.startLoopLocked()
	c.mu.Unlock()

	c.opts.Metrics.transition(StateAuthenticated, reason)
	c.emit(Event{Type: EventAuthenticated, Reason: reason, User: &user, At: c.opts.Now()})
}

func (c *Controller) setAnonymous(reason string) {
	c.mu.Lock()
	c.state = StateAnonymous
	c.user = nil
	c.stopLoopLocked()
	c.mu.Unlock()

	c.opts.Metrics.transition(StateAnonymous, reason)
}

// expire tears down an authenticated session after a background refresh
// failure. It is a no-op when the session is already gone.
func (c *Controller) expire(ctx context.Context, reason string, cause error) {
	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	c.state = StateAnonymous
	c.user = nil
	c.stopLoopLocked()
	c.mu.Unlock()

	c.clearStore(ctx)
	c.log.Info("session_expired", "reason", reason, "error", cause)
	c.opts.Metrics.transition(StateAnonymous, reason)
	c.emit(Event{Type: EventSessionExpired, Reason: reason, Err: cause, At: c.opts.Now()})
}

// onRefreshOutcome follows refreshes started anywhere, including the
// gateway's 401 retry. During boot the boot code decides on its own.
func (c *Controller) onRefreshOutcome(o outcome) {
	if o.err != nil {
		c.expire(context.Background(), "refresh_rejected", o.err)
		return
	}

	c.mu.Lock()
	if c.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	user := o.bundle.User
	c.user = &user
	c.mu.Unlock()
	c.emit(Event{Type: EventRefreshed, Reason: "refresh", User: &user, At: c.opts.Now()})
}

// startLoopLocked must be called with c.mu held.
func (c *Controller) startLoopLocked() {
	if c.loop != nil || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(logging.IntoContext(context.Background(), c.log))
	loop := &refreshLoop{cancel: cancel, done: make(chan struct{})}
	c.loop = loop
	c.activeLoops.Add(1)
	go c.runLoop(ctx, loop.done)
}

// stopLoopLocked must be called with c.mu held. It does not wait: the loop
// itself may be the caller.
func (c *Controller) stopLoopLocked() <-chan struct{} {
	if c.loop == nil {
		return nil
	}
	loop := c.loop
	c.loop = nil
	loop.cancel()
	return loop.done
}

func (c *Controller) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.activeLoops.Add(-1)

	t := time.NewTicker(c.opts.RefreshInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.checkExpiry(ctx)
		}
	}
}

func (c *Controller) checkExpiry(ctx context.Context) {
	exp, ok, err := c.store.GetTokenExpiry(ctx)
	if err != nil {
		c.log.Warn("expiry_check_failed", "error", err)
		return
	}
	var remaining time.Duration
	if ok {
		remaining = exp.Sub(c.opts.Now())
	}
	if remaining > c.opts.RefreshThreshold {
		return
	}

	rt, err := c.store.GetRefreshToken(ctx)
	if err != nil || rt == "" {
		return
	}

	c.log.Debug("preemptive_refresh", "remaining_ms", remaining.Milliseconds())
	token, err := c.refresher.RefreshAccessToken(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil || token == "" {
		c.expire(ctx, "preemptive_refresh_failed", err)
	}
}

func (c *Controller) clearStore(ctx context.Context) {
	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("clear_session_failed", "error", err)
	}
}

func (c *Controller) emit(ev Event) {
	c.subMu.RLock()
	subs := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.subMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (c *Controller) withLogger(ctx context.Context) context.Context {
	return logging.IntoContext(ctx, c.log)
}
