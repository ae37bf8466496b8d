package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUSeenMarksOnFirstUse(t *testing.T) {
	s, err := NewLRUStore(8, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = s.Seen(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, seen, "different key is unseen")
}

func TestLRUForget(t *testing.T) {
	s, err := NewLRUStore(8, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Seen(ctx, "k1")
	require.NoError(t, err)
	require.NoError(t, s.Forget(ctx, "k1"))

	seen, err := s.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "forgotten key is unseen again")
}

func TestLRUTTLExpiry(t *testing.T) {
	s, err := NewLRUStore(8, 5*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Seen(ctx, "k1")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)

	seen, err := s.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "expired mark does not count as seen")
}

func TestLRUEvictsOldest(t *testing.T) {
	s, err := NewLRUStore(2, time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	_, _ = s.Seen(ctx, "k1")
	_, _ = s.Seen(ctx, "k2")
	_, _ = s.Seen(ctx, "k3")

	seen, err := s.Seen(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, seen, "bounded window drops the oldest entry")
}

func TestKeyFormat(t *testing.T) {
	assert.Equal(t, "idem:notifications:evt-1", Key("notifications", "evt-1"))
}
