package role

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRole_Valid(t *testing.T) {
	tests := []struct {
		role Role
		want bool
	}{
		{System, true},
		{User, true},
		{Assistant, true},
		{Role("tool"), false},
		{Role("unknown"), false},
		{Role(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.role.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.role.Valid())
		})
	}
}

func TestRole_String(t *testing.T) {
	assert.Equal(t, "system", System.String())
	assert.Equal(t, "user", User.String())
	assert.Equal(t, "assistant", Assistant.String())
}

func TestParse(t *testing.T) {
	r, err := Parse("assistant")
	require.NoError(t, err)
	assert.Equal(t, Assistant, r)

	_, err = Parse("model")
	assert.Error(t, err)
}
