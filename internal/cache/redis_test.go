package cache

import (
	"context"
	"testing"
	"time"

	"wowmeta/aggregator/internal/client"
	"wowmeta/aggregator/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(Config{Host: mr.Host(), Port: mr.Port(), LockTTL: time.Second})
	require.NoError(t, err, "Failed to connect to miniredis")
	t.Cleanup(func() { c.Close() })

	return c, mr
}

func TestTokenRoundTrip(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	_, ok, err := c.LoadToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "Empty cache should report no token")

	expires := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, c.SaveToken(ctx, models.AccessToken{Value: "abc", ExpiresAt: expires}))

	tok, ok, err := c.LoadToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abc", tok.Value)
	assert.True(t, expires.Equal(tok.ExpiresAt))
	assert.Greater(t, mr.TTL(tokenKey), 59*time.Minute, "Key should expire with the token")

	require.NoError(t, c.DeleteToken(ctx, "abc"))
	_, ok, err = c.LoadToken(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveExpiredTokenIsSkipped(t *testing.T) {
	c, mr := setupTestCache(t)

	require.NoError(t, c.SaveToken(context.Background(), models.AccessToken{Value: "old", ExpiresAt: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists(tokenKey))
}

func TestTokenLock(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	release, err := c.AcquireLock(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, mr.Exists(tokenLockKey))

	_, err = c.AcquireLock(ctx, 150*time.Millisecond)
	assert.ErrorIs(t, err, client.ErrLockNotAcquired)

	release(ctx)
	assert.False(t, mr.Exists(tokenLockKey), "Release should delete the lock")

	release2, err := c.AcquireLock(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	release2(ctx)
}

func TestReleaseDoesNotDeleteForeignLock(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	release, err := c.AcquireLock(ctx, 50*time.Millisecond)
	require.NoError(t, err)

	// Lock expired and another worker took it
	require.NoError(t, mr.Set(tokenLockKey, "someone-else"))
	release(ctx)

	v, err := mr.Get(tokenLockKey)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v)
}

func TestTokenProviderWithRedisStore(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveToken(ctx, models.AccessToken{Value: "shared", ExpiresAt: time.Now().Add(time.Hour)}))

	p := client.NewTokenProvider(client.TokenProviderConfig{
		ClientID: "id", ClientSecret: "secret", TokenURL: "http://127.0.0.1:1",
	}, c)

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shared", tok, "Token stored by another worker should be reused")
	assert.Zero(t, p.Exchanges())
}

func TestDeleteTokenKeepsNewerToken(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveToken(ctx, models.AccessToken{Value: "newer", ExpiresAt: time.Now().Add(time.Hour)}))
	require.NoError(t, c.DeleteToken(ctx, "rejected"))

	tok, ok, err := c.LoadToken(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "newer", tok.Value)

	require.NoError(t, c.DeleteToken(ctx, "newer"))
	assert.False(t, mr.Exists(tokenKey))

	require.NoError(t, c.DeleteToken(ctx, "anything"), "Missing key is not an error")
}

func TestTokenProviderInvalidateWithRedisStore(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.SaveToken(ctx, models.AccessToken{Value: "peer", ExpiresAt: time.Now().Add(time.Hour)}))

	p := client.NewTokenProvider(client.TokenProviderConfig{
		ClientID: "id", ClientSecret: "secret", TokenURL: "http://127.0.0.1:1",
	}, c)
	p.Invalidate(ctx, "stale")

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "peer", tok)
	assert.Zero(t, p.Exchanges())
}

func TestInvalidateMeta(t *testing.T) {
	c, mr := setupTestCache(t)

	require.NoError(t, mr.Set("meta:dps:latest", "x"))
	require.NoError(t, mr.Set("meta:healer:latest", "y"))
	require.NoError(t, mr.Set("other:key", "z"))

	n, err := c.InvalidateMeta(context.Background(), "meta:*")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, mr.Exists("meta:dps:latest"))
	assert.True(t, mr.Exists("other:key"))
}
