package httpserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/interview_prep/internal/apiclient"
	"github.com/Skotchmaster/interview_prep/internal/models"
	"github.com/Skotchmaster/interview_prep/internal/session"
	"github.com/Skotchmaster/interview_prep/internal/tokenstore"
	"github.com/Skotchmaster/interview_prep/pkg/logging"
)

func TestSessionAgainstIdentityServer(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	srv := httptest.NewServer(env.E)
	t.Cleanup(srv.Close)

	eph, dur := tokenstore.NewMemory(), tokenstore.NewMemory()
	store := tokenstore.New(eph, dur)
	client := apiclient.New(srv.URL+"/api", store)
	refresher := session.NewRefresher(store, client)
	client.SetRefresher(refresher)
	ctrl := session.NewController(store, client, refresher, session.Options{Logger: logging.Discard()})
	t.Cleanup(ctrl.Close)

	ctx := context.Background()
	ctrl.Init(ctx)
	require.Equal(t, session.StateAnonymous, ctrl.State())

	err := ctrl.Register(ctx, models.RegisterRequest{Email: "a@b.com", Username: "alice", Password: "Secret123", FirstName: "Alice", RememberMe: true})
	require.NoError(t, err)
	require.True(t, ctrl.IsAuthenticated())
	assert.Equal(t, 4, dur.Len())
	assert.Equal(t, 0, eph.Len())

	// an access token the server no longer accepts is refreshed transparently
	firstRefresh, err := store.GetRefreshToken(ctx)
	require.NoError(t, err)
	require.NoError(t, store.SetAccessToken(ctx, "stale"))
	require.NoError(t, ctrl.RefreshUser(ctx))
	assert.Equal(t, "Alice", ctrl.User().FullName)

	rotated, err := store.GetRefreshToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, firstRefresh, rotated)

	v, err := client.Validate(ctx, "stale")
	require.NoError(t, err)
	assert.False(t, v.Valid)

	ctrl.Logout(ctx)
	assert.Equal(t, session.StateAnonymous, ctrl.State())
	assert.Equal(t, 0, dur.Len())

	_, err = client.Refresh(ctx, rotated)
	assert.True(t, apiclient.IsUnauthorized(err), "logout revokes the refresh token server-side")

	err = ctrl.Login(ctx, models.LoginRequest{EmailOrUsername: "alice", Password: "nope"})
	var actionErr *session.ActionError
	require.ErrorAs(t, err, &actionErr)
	assert.Equal(t, "Invalid email/username or password", ctrl.Err())

	err = ctrl.Register(ctx, models.RegisterRequest{Email: "bad", Username: "alice", Password: "Secret123"})
	require.ErrorAs(t, err, &actionErr)
	assert.Contains(t, actionErr.Message, "Email should be valid")
}
