package recovery_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docsmith/docsmith/internal/recovery"
)

func TestParseScope(t *testing.T) {
	tests := []struct {
		name   string
		facets []string
	}{
		{"document.save", []string{"document", "save"}},
		{"auth/login", []string{"auth", "login"}},
		{"Template:Load-Preview", []string{"load", "preview", "template"}},
		{"marketplace_uploads sync", []string{"marketplace", "sync", "uploads"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.facets, recovery.ParseScope(tt.name).Facets())
		})
	}
}

func TestScope_ExactMatchOnly(t *testing.T) {
	s := recovery.ParseScope("documentation.render")

	assert.False(t, s.Has("document"))
	assert.True(t, s.Has("documentation"))

	authorized := recovery.ParseScope("unauthorized.banner")
	assert.False(t, authorized.HasAny("auth", "login"))
}

func TestNewScope(t *testing.T) {
	s := recovery.NewScope("editor", " Uploads ", "")

	assert.Equal(t, "editor", s.String())
	assert.True(t, s.Has("uploads"))
	assert.True(t, s.Has("editor"))
	assert.Len(t, s.Facets(), 2)
}
