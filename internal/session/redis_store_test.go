package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sircharge/admin/internal/store"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rs, err := NewRedisStore(context.Background(), "redis://"+s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.Close() })
	return rs, s
}

func TestNewRedisStore(t *testing.T) {
	rs, _ := setupTestRedis(t)
	assert.NoError(t, rs.Ping(context.Background()))
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestSaveAndLookupRefreshSession(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, rs.SaveRefreshSession(ctx, "hash-1", "usr_123", time.Now().Add(24*time.Hour)))

	user, err := rs.LookupRefreshSession(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "usr_123", user.ID)

	ttl := s.TTL("refresh:hash-1")
	assert.InDelta(t, (24 * time.Hour).Seconds(), ttl.Seconds(), 5)
}

func TestRefreshSessionPastExpiryUsesDefaultTTL(t *testing.T) {
	rs, s := setupTestRedis(t)
	require.NoError(t, rs.SaveRefreshSession(context.Background(), "hash-old", "usr_1", time.Now().Add(-time.Hour)))
	assert.Equal(t, defaultTTL, s.TTL("refresh:hash-old"))
}

func TestRefreshSessionExpires(t *testing.T) {
	rs, s := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, rs.SaveRefreshSession(ctx, "hash-2", "usr_1", time.Now().Add(time.Minute)))

	s.FastForward(2 * time.Minute)

	_, err := rs.LookupRefreshSession(ctx, "hash-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRevokeRefreshSession(t *testing.T) {
	rs, _ := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, rs.SaveRefreshSession(ctx, "hash-3", "usr_1", time.Now().Add(time.Hour)))
	require.NoError(t, rs.RevokeRefreshSession(ctx, "hash-3"))

	_, err := rs.LookupRefreshSession(ctx, "hash-3")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
