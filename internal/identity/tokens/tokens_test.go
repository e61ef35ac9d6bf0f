package tokens

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(now func() time.Time) *Issuer {
	return &Issuer{
		AccessSecret:  []byte("test-jwt-secret"),
		RefreshSecret: []byte("test-refresh-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Now:           now,
	}
}

func TestIssuer_CreateAccessToken_SetsExpectedClaims(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(nil)
	userID := uuid.NewString()

	token, exp, err := iss.CreateAccessToken(Subject{ID: userID, Email: "a@b.com", Username: "alice", Role: "ADMIN"})
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := iss.AccessClaimsFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, "a@b.com", claims.Email)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "ADMIN", claims.Role)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, exp, claims.ExpiresAt.Time, time.Second)
}

func TestIssuer_CreateRefreshToken_SetsExpectedClaims(t *testing.T) {
	t.Parallel()

	iss := newTestIssuer(nil)
	userID := uuid.NewString()

	token, jti, exp, err := iss.CreateRefreshToken(userID)
	require.NoError(t, err)

	claims, err := iss.RefreshClaimsFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)
	assert.Equal(t, jti, claims.ID)
	assert.WithinDuration(t, exp, claims.ExpiresAt.Time, time.Second)
}

func TestIssuer_RejectsForeignAndExpiredTokens(t *testing.T) {
	t.Parallel()

	now := time.Now()
	iss := newTestIssuer(func() time.Time { return now })

	access, _, err := iss.CreateAccessToken(Subject{ID: "u"})
	require.NoError(t, err)
	refresh, _, _, err := iss.CreateRefreshToken("u")
	require.NoError(t, err)

	tests := []struct {
		name  string
		parse func() error
	}{
		{name: "access token used as refresh", parse: func() error { _, err := iss.RefreshClaimsFromToken(access); return err }},
		{name: "refresh token used as access", parse: func() error { _, err := iss.AccessClaimsFromToken(refresh); return err }},
		{name: "garbage", parse: func() error { _, err := iss.AccessClaimsFromToken("not-a-jwt"); return err }},
		{name: "expired access", parse: func() error {
			later := newTestIssuer(func() time.Time { return now.Add(16 * time.Minute) })
			_, err := later.AccessClaimsFromToken(access)
			return err
		}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Error(t, tt.parse())
		})
	}
}

func TestSha256Hex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Sha256Hex(""))
	assert.Len(t, Sha256Hex("token"), 64)
}
