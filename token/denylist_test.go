package token

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInmemDenylist(t *testing.T) {
	d, err := NewInmemDenylist()
	require.NoError(t, err)
	defer d.Close()
	ctx := context.Background()

	found, err := d.Contains(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, d.Add(ctx, "s1", time.Hour))

	found, err = d.Contains(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = d.Contains(ctx, "s2")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisDenylist(t *testing.T) {
	srv := miniredis.RunT(t)
	d := NewRedisDenylist(srv.Addr(), "", logger.NewNop())
	defer d.Close()
	ctx := context.Background()

	found, err := d.Contains(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, d.Add(ctx, "s1", time.Minute))

	found, err = d.Contains(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)

	// Entries expire with their TTL.
	srv.FastForward(2 * time.Minute)

	found, err = d.Contains(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisDenylistUnavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	d := NewRedisDenylist(srv.Addr(), "", logger.NewNop())
	defer d.Close()
	srv.Close()

	_, err := d.Contains(context.Background(), "s1")
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	err = d.Add(context.Background(), "s1", time.Minute)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}
