package video

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisCatalog_Duration(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	catalog := NewRedisCatalog(client)
	ctx := context.Background()

	require.NoError(t, catalog.SetDuration(ctx, "v1", 1432.5))
	d, err := catalog.Duration(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, 1432.5, d)

	d, err = catalog.Duration(ctx, "unknown")
	require.NoError(t, err)
	assert.Zero(t, d)

	mr.HSet("video:broken", "duration", "abc")
	d, err = catalog.Duration(ctx, "broken")
	require.NoError(t, err)
	assert.Zero(t, d)
}

func TestRedisPolicy_CanPost(t *testing.T) {
	t.Parallel()

	_, client := setupRedis(t)
	policy := NewRedisPolicy(client, false)
	ctx := context.Background()

	require.NoError(t, policy.Ban(ctx, "troll"))
	require.NoError(t, policy.Mute(ctx, "v1", "noisy"))

	tests := []struct {
		name    string
		userID  string
		videoID string
		want    bool
	}{
		{"regular user", "alice", "v1", true},
		{"banned everywhere", "troll", "v2", false},
		{"muted on this video", "noisy", "v1", false},
		{"muted elsewhere only", "noisy", "v2", true},
		{"guest not allowed", "guest-123", "v1", false},
		{"anonymous", "", "v1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := policy.CanPost(ctx, tt.userID, tt.videoID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestRedisPolicy_GuestAllowed(t *testing.T) {
	t.Parallel()

	_, client := setupRedis(t)
	policy := NewRedisPolicy(client, true)

	ok, err := policy.CanPost(context.Background(), "guest-9", "v1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisPolicy_RedisDown(t *testing.T) {
	t.Parallel()

	mr, client := setupRedis(t)
	policy := NewRedisPolicy(client, true)
	mr.Close()

	ok, err := policy.CanPost(context.Background(), "alice", "v1")
	assert.Error(t, err)
	assert.False(t, ok)
}
