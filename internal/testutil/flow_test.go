package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("0a1b2c3d")

	assert.Equal(t, "0a1b2c3d", gen.Generate())
	assert.Equal(t, "0a1b2c3d", gen.Generate())
}

func TestFixedIDGenerator_EmptyDefault(t *testing.T) {
	assert.Equal(t, "deadbeef", NewFixedIDGenerator("").Generate())
}
