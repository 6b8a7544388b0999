package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"sentra_kv"`, QuoteIdentifier("sentra_kv"))
	assert.Equal(t, `"weird""name"`, QuoteIdentifier(`weird"name`))
	assert.Equal(t, `"trunc"`, QuoteIdentifier("trunc\x00ated"))
}
