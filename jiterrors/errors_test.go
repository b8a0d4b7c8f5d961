package jiterrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorNames(t *testing.T) {
	wrapped := fmt.Errorf("build %q: %w", "tsc", ErrCapacityExceeded)
	assert.Equal(t, "CapacityExceeded", GetErrorName(wrapped))
	assert.Equal(t, "B2", GetErrorCode(wrapped))
	assert.Equal(t, "B2_CapacityExceeded", GetErrorCodeWithName(wrapped))
	assert.Equal(t, ErrCapacityExceeded, Sentinel(wrapped))

	assert.Equal(t, "No Error", GetErrorName(nil))
	assert.Equal(t, "", GetErrorCode(fmt.Errorf("plain")))
	assert.Nil(t, Sentinel(fmt.Errorf("plain")))
}
