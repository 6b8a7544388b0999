package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret(43)
	require.NoError(t, err)
	b, err := GenerateSecret(43)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestHashSecretStable(t *testing.T) {
	assert.Equal(t, HashSecret("abc"), HashSecret("abc"))
	assert.NotEqual(t, HashSecret("abc"), HashSecret("abd"))
	assert.Len(t, HashSecret("abc"), 64)
}

func TestGenerateEventID(t *testing.T) {
	a := GenerateEventID()
	b := GenerateEventID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
