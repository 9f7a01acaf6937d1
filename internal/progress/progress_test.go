package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lildude/strautocoach/internal/cache"
)

func setup(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCache(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	s := NewStore(rc, 24*time.Hour)
	s.now = func() time.Time { return time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC) }
	return s, mr
}

func TestGetMissing(t *testing.T) {
	s, _ := setup(t)
	p, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestPutAndGet(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, 7, &Progress{Status: StatusInProgress, Total: 12, Processed: 3}))

	got, err := s.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 12, got.Total)
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, s.now(), got.StartedAt)
	assert.Equal(t, ClaimTTL, mr.TTL("import:progress:7"))
}

func TestTerminalEntriesExpire(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		progress Progress
	}{
		{"completed", Progress{Status: StatusCompleted, Total: 2, Processed: 2}},
		{"error", Progress{Status: StatusError, Error: "listing activities: boom"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := tc.progress
			require.True(t, p.Terminal())
			require.NoError(t, s.Put(ctx, 3, &p))
			assert.Equal(t, 24*time.Hour, mr.TTL("import:progress:3"))

			mr.FastForward(25 * time.Hour)
			got, err := s.Get(ctx, 3)
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestClaimAndRelease(t *testing.T) {
	s, mr := setup(t)
	ctx := context.Background()

	ok, err := s.Claim(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Claim(ctx, 5)
	require.NoError(t, err)
	assert.False(t, ok, "second claim for the same user must fail")

	ok, err = s.Claim(ctx, 6)
	require.NoError(t, err)
	assert.True(t, ok, "other users are independent")

	require.NoError(t, s.Release(ctx, 5))
	ok, err = s.Claim(ctx, 5)
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(ClaimTTL + time.Minute)
	ok, err = s.Claim(ctx, 6)
	require.NoError(t, err)
	assert.True(t, ok, "stale claims expire")
}
