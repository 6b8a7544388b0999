package inmem

import (
	"context"
	"testing"

	"github.com/sentra-id/sentra/logger"
	"github.com/sentra-id/sentra/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInmemCRUD(t *testing.T) {
	b := NewInmemBackend(logger.NewNop())
	ctx := context.Background()

	entry, err := b.Get(ctx, "sessions/t1/s1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	require.NoError(t, b.Put(ctx, &storage.Entry{Key: "sessions/t1/s1", Value: []byte("v1")}))

	entry, err = b.Get(ctx, "sessions/t1/s1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte("v1"), entry.Value)

	require.NoError(t, b.Put(ctx, &storage.Entry{Key: "sessions/t1/s1", Value: []byte("v2")}))
	entry, err = b.Get(ctx, "sessions/t1/s1")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)

	require.NoError(t, b.Delete(ctx, "sessions/t1/s1"))
	entry, err = b.Get(ctx, "sessions/t1/s1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestInmemList(t *testing.T) {
	b := NewInmemBackend(logger.NewNop())
	ctx := context.Background()

	for _, key := range []string{
		"policy/t1/roles/admin",
		"policy/t1/roles/editor",
		"policy/t1/policies/mfa",
		"policy/t2/roles/admin",
	} {
		require.NoError(t, b.Put(ctx, &storage.Entry{Key: key, Value: []byte("x")}))
	}

	keys, err := b.List(ctx, "policy/t1/roles/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admin", "editor"}, keys)

	keys, err = b.List(ctx, "policy/t1/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"roles/", "policies/"}, keys)

	keys, err = b.List(ctx, "policy/t9/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestInmemValueIsolation(t *testing.T) {
	b := NewInmemBackend(logger.NewNop())
	ctx := context.Background()

	value := []byte("original")
	require.NoError(t, b.Put(ctx, &storage.Entry{Key: "k", Value: value}))
	value[0] = 'X'

	entry, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), entry.Value)

	entry.Value[0] = 'Y'
	again, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again.Value)
}

func TestFactoryRegistration(t *testing.T) {
	b, err := storage.NewBackend(context.Background(), map[string]string{"type": "inmem"}, logger.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, b)

	_, err = storage.NewBackend(context.Background(), map[string]string{"type": "bogus"}, logger.NewNop())
	require.Error(t, err)
}
