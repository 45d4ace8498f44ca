package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "(empty)"},
		{"short key fully masked", "sk-short", "****"},
		{"fifteen chars fully masked", "123456789012345", "****"},
		{"long key shows edges", "sk-abcdefghijklmnopqrstuvwxyz1234", "sk-abcde...1234"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskKey(tt.in))
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "exact", Truncate("exact", 5))
	assert.Equal(t, "abcde...(truncated)", Truncate("abcdefgh", 5))
}
