package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashString(t *testing.T) {
	assert.Equal(t, HashString("model", "text"), HashString("model", "text"))
	assert.NotEqual(t, HashString("ab", "c"), HashString("a", "bc"))
	assert.NotEqual(t, HashString("model-a", "text"), HashString("model-b", "text"))
	assert.Len(t, HashString("x"), 64)
}
