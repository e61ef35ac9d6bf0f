package tokenstore

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSQLiteBackend(t *testing.T) *GormBackend {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every pooled connection would get its own :memory: database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	b, err := NewGormBackend(context.Background(), db)
	require.NoError(t, err)
	return b
}

func TestGormBackend_SetGetDelete(t *testing.T) {
	b := newSQLiteBackend(t)
	ctx := context.Background()

	_, ok, err := b.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.SetMany(ctx, map[string]string{KeyAccessToken: "a1", KeyRefreshToken: "r1"}))
	require.NoError(t, b.SetMany(ctx, map[string]string{KeyAccessToken: "a2"}))

	v, ok, err := b.Get(ctx, KeyAccessToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a2", v)

	require.NoError(t, b.Delete(ctx, allKeys...))
	require.NoError(t, b.Delete(ctx, allKeys...))

	_, ok, err = b.Get(ctx, KeyRefreshToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DurableSQLiteSurvivesNewStore(t *testing.T) {
	dur := newSQLiteBackend(t)
	ctx := context.Background()

	s := New(NewMemory(), dur)
	s.SetRememberMe(true)
	require.NoError(t, s.SaveBundle(ctx, sampleBundle(7), fixedNow))

	again := New(NewMemory(), dur)
	sess, err := again.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-7", sess.AccessToken)
	require.NotNil(t, sess.User)
	assert.Equal(t, "user-7", sess.User.ID)
}
