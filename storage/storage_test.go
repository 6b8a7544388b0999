package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitKey(t *testing.T) {
	cases := []struct {
		key  string
		path string
		leaf string
	}{
		{"sessions/t1/s1", "sessions/t1/", "s1"},
		{"refresh/abc", "refresh/", "abc"},
		{"flat", "/", "flat"},
	}
	for _, tc := range cases {
		path, leaf := SplitKey(tc.key)
		assert.Equal(t, tc.path, path, tc.key)
		assert.Equal(t, tc.leaf, leaf, tc.key)
	}
}

func TestLockForKeyStable(t *testing.T) {
	locks := CreateLocks()
	require.Len(t, locks, LockCount)

	a := LockForKey(locks, "session-1")
	b := LockForKey(locks, "session-1")
	assert.Same(t, a, b)
}

func TestPermitPool(t *testing.T) {
	pool := NewPermitPool(2)
	ctx := context.Background()

	require.NoError(t, pool.Acquire(ctx))
	require.NoError(t, pool.Acquire(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, pool.Acquire(cancelled))

	pool.Release()
	pool.Release()
}
