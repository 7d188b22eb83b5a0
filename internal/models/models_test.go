package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionBindingConfig(t *testing.T) {
	cfg := SessionConfig{APIBase: "http://api.local", Links: map[string]string{"docs": "http://docs.local"}}
	binding := NewSessionBinding("s1", cfg)

	assert.Equal(t, "s1", binding.SessionID)
	assert.Equal(t, cfg, binding.Config())
}

func TestSessionBindingWithoutLinks(t *testing.T) {
	binding := NewSessionBinding("s1", SessionConfig{APIBase: "http://api.local"})
	assert.Empty(t, binding.Links)
	assert.Nil(t, binding.Config().Links)
}

func TestIsNavigation(t *testing.T) {
	assert.True(t, CategoryNavigate.IsNavigation())
	assert.False(t, CategoryClick.IsNavigation())
}
