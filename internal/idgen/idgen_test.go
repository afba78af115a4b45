package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	first, second := New(), New()
	assert.Len(t, first, 36)
	assert.NotEqual(t, first, second)

	prev := NewFunc
	defer func() { NewFunc = prev }()
	NewFunc = func() string { return "fixed" }
	assert.Equal(t, "fixed", New())
}
