package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Skotchmaster/interview_prep/internal/models"
)

const (
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyUser         = "user"
	KeyTokenExpiry  = "tokenExpiry"
)

var allKeys = []string{KeyAccessToken, KeyRefreshToken, KeyUser, KeyTokenExpiry}

var ErrCorruptUser = errors.New("stored user is corrupt")

// Session is a point-in-time view of everything the store holds.
type Session struct {
	AccessToken  string
	RefreshToken string
	User         *models.UserProfile
	Expiry       time.Time
	// Remembered is set when the refresh token was found in the durable
	// slot, which means it was written there by a remembered login.
	Remembered bool
}

func (s Session) HasCredentials() bool {
	return s.AccessToken != "" && s.User != nil
}

// Store holds credential material in two slots.
//
// Reads check the ephemeral slot first and fall back to the durable one, key
// by key. Writes go only to the slot picked by SetRememberMe: durable when
// remembered, ephemeral otherwise. A nil slot means that storage is not
// available; operations on it are silently skipped.
type Store struct {
	mu        sync.RWMutex
	ephemeral Backend
	durable   Backend
	remember  bool
	now       func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(ephemeral, durable Backend, opts ...Option) *Store {
	s := &Store{
		ephemeral: ephemeral,
		durable:   durable,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetRememberMe picks the slot for subsequent writes. Data already written
// stays where it is.
func (s *Store) SetRememberMe(remember bool) {
	s.mu.Lock()
	s.remember = remember
	s.mu.Unlock()
}

func (s *Store) RememberMe() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remember
}

func (s *Store) SetAccessToken(ctx context.Context, token string) error {
	return s.set(ctx, map[string]string{KeyAccessToken: token})
}

func (s *Store) GetAccessToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _, err := s.get(ctx, KeyAccessToken)
	return v, err
}

func (s *Store) SetRefreshToken(ctx context.Context, token string) error {
	return s.set(ctx, map[string]string{KeyRefreshToken: token})
}

func (s *Store) GetRefreshToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, _, err := s.get(ctx, KeyRefreshToken)
	return v, err
}

func (s *Store) SetUser(ctx context.Context, user models.UserProfile) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return s.set(ctx, map[string]string{KeyUser: string(raw)})
}

// GetUser returns nil, nil when no user is stored.
func (s *Store) GetUser(ctx context.Context) (*models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getUser(ctx)
}

func (s *Store) SetTokenExpiry(ctx context.Context, expiry time.Time) error {
	return s.set(ctx, map[string]string{KeyTokenExpiry: formatExpiry(expiry)})
}

// GetTokenExpiry reports ok == false when nothing usable is recorded.
func (s *Store) GetTokenExpiry(ctx context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getExpiry(ctx)
}

// IsTokenExpired is fail-closed: no expiry, an unreadable one or a storage
// error all count as expired.
func (s *Store) IsTokenExpired(ctx context.Context) bool {
	exp, ok, err := s.GetTokenExpiry(ctx)
	if err != nil || !ok {
		return true
	}
	return !s.now().Before(exp)
}

// SaveBundle writes access token, refresh token, user and expiry in one
// backend call under the write lock.
func (s *Store) SaveBundle(ctx context.Context, bundle models.AuthResponse, issuedAt time.Time) error {
	raw, err := json.Marshal(bundle.User)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	expiry := issuedAt.Add(time.Duration(bundle.ExpiresIn) * time.Second)
	return s.set(ctx, map[string]string{
		KeyAccessToken:  bundle.AccessToken,
		KeyRefreshToken: bundle.RefreshToken,
		KeyUser:         string(raw),
		KeyTokenExpiry:  formatExpiry(expiry),
	})
}

// Load reads all four values under one read lock so a concurrent SaveBundle
// or Clear is either fully visible or not at all.
func (s *Store) Load(ctx context.Context) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess Session
	var err error
	if sess.AccessToken, _, err = s.get(ctx, KeyAccessToken); err != nil {
		return Session{}, err
	}
	var slot Backend
	if sess.RefreshToken, slot, err = s.lookup(ctx, KeyRefreshToken); err != nil {
		return Session{}, err
	}
	sess.Remembered = slot != nil && slot == s.durable
	exp, ok, err := s.getExpiry(ctx)
	if err != nil {
		return Session{}, err
	}
	if ok {
		sess.Expiry = exp
	}
	if sess.User, err = s.getUser(ctx); err != nil {
		return sess, err
	}
	return sess, nil
}

// Clear removes every key from both slots regardless of the remember-me
// choice. Missing keys and missing slots are fine.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, b := range []Backend{s.ephemeral, s.durable} {
		if b == nil {
			continue
		}
		if err := b.Delete(ctx, allKeys...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) set(ctx context.Context, values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.durable
	if !s.remember {
		b = s.ephemeral
	}
	if b == nil {
		return nil
	}
	return b.SetMany(ctx, values)
}

// get must be called with s.mu held.
func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	v, slot, err := s.lookup(ctx, key)
	return v, slot != nil, err
}

// lookup returns the value and the slot it came from, nil when no slot has
// the key. Must be called with s.mu held.
func (s *Store) lookup(ctx context.Context, key string) (string, Backend, error) {
	for _, b := range []Backend{s.ephemeral, s.durable} {
		if b == nil {
			continue
		}
		v, ok, err := b.Get(ctx, key)
		if err != nil {
			return "", nil, fmt.Errorf("read %s: %w", key, err)
		}
		if ok {
			return v, b, nil
		}
	}
	return "", nil, nil
}

func (s *Store) getUser(ctx context.Context) (*models.UserProfile, error) {
	raw, ok, err := s.get(ctx, KeyUser)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var u models.UserProfile
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptUser, err)
	}
	return &u, nil
}

func (s *Store) getExpiry(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := s.get(ctx, KeyTokenExpiry)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func formatExpiry(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
