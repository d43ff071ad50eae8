package custom_errors

import (
	"errors"
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestValidationError_Empty(t *testing.T) {
	v := &ValidationError{}
	assert.False(t, v.HasError())
	assert.Equal(t, "", v.Error())
}

func TestValidationError_Add(t *testing.T) {
	v := &ValidationError{}
	v.Add(errors.New("first"))
	v.Add(errors.New("second"))

	assert.True(t, v.HasError())
	assert.Contains(t, v.Error(), "first")
	assert.Contains(t, v.Error(), "second")
}
