package repositories

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisPresenceRepository(t *testing.T) {
	runPresenceRepositorySuite(t, func(t *testing.T) PresenceRepository {
		_, client := newTestRedis(t)
		return NewRedisPresenceRepository(client)
	})
}

// TestRedisPresenceRepository_HashLayout tests that each field is stored separately
func TestRedisPresenceRepository_HashLayout(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisPresenceRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.MergePresence(ctx, "user_rubayet", models.StatusPatch("Missing you", 2000)))

	assert.Equal(t, "Missing you", mr.HGet("presence:user_rubayet", "status"))
	assert.Equal(t, "2000", mr.HGet("presence:user_rubayet", "statusTimestamp"))
	assert.Equal(t, "", mr.HGet("presence:user_rubayet", "location"))
}

func TestRedisPresenceRepository_EmptyPatch(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisPresenceRepository(client)

	require.NoError(t, repo.MergePresence(context.Background(), "user_rubayet", models.PresencePatch{}))
	assert.False(t, mr.Exists("presence:user_rubayet"))
}

// TestRedisPresenceRepository_CorruptLocation tests that a bad stored field surfaces as an error
func TestRedisPresenceRepository_CorruptLocation(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisPresenceRepository(client)

	mr.HSet("presence:user_rubayet", "location", "{not json")
	_, err := repo.GetPresence(context.Background(), "user_rubayet")
	assert.Error(t, err)
}

func TestRedisPresenceRepository_WriteFailure(t *testing.T) {
	mr, client := newTestRedis(t)
	repo := NewRedisPresenceRepository(client)
	mr.Close()

	err := repo.MergePresence(context.Background(), "user_rubayet", models.StatusPatch("x", 1))
	assert.Error(t, err)
}
