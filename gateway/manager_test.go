package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_AssignsShardIDsAcrossGroup(t *testing.T) {
	m := NewManager(ManagerConfig{Token: "T", URL: "wss://gateway.test/", TotalShards: 3})
	require.Len(t, m.Sessions(), 3)
	for i, s := range m.Sessions() {
		assert.Equal(t, i, s.ShardID())
		assert.Equal(t, 3, s.ShardCount())
	}
}

func TestNewManager_HonorsExplicitShardIDs(t *testing.T) {
	m := NewManager(ManagerConfig{Token: "T", URL: "wss://gateway.test/", TotalShards: 4, ShardIDs: []int{2, 3}})
	require.Len(t, m.Sessions(), 2)
	assert.Equal(t, 2, m.Sessions()[0].ShardID())
	assert.Equal(t, 3, m.Sessions()[1].ShardID())
}

func TestTokenBucketIdentifyLimiter_BurstThenRefill(t *testing.T) {
	l := NewIdentifyRateLimiter(2, 20*time.Millisecond)
	defer l.(*tokenBucketIdentifyLimiter).Close()

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))

	shortCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(shortCtx), context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		return l.Wait(context.Background()) == nil
	}, 200*time.Millisecond, 5*time.Millisecond)
}
