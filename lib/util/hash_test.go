package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash(t *testing.T) {
	// FNV-1a reference values
	assert.Equal(t, uint64(14695981039346656037), HashBytes(nil, 0))
	assert.Equal(t, uint64(0xaf63dc4c8601ec8c), HashBytes([]byte("a"), 0))

	assert.NotEqual(t, HashBytes([]byte("dictionary"), 1), HashBytes([]byte("dictionary"), 2))
}
