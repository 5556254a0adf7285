package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldEmitURLChange(t *testing.T) {
	var tr urlTracker
	assert.True(t, tr.shouldEmitURLChange("https://example.com/a"))
	assert.False(t, tr.shouldEmitURLChange("https://example.com/a"), "same url")
	assert.True(t, tr.shouldEmitURLChange("https://example.com/b"))
	assert.True(t, tr.shouldEmitURLChange("https://example.com/a"), "back to a")

	tr.reset()
	assert.True(t, tr.shouldEmitURLChange("https://example.com/a"), "after reset")
}

func TestNextActiveIndex(t *testing.T) {
	tests := []struct {
		name           string
		count, closing int
		want           int
	}{
		{"only tab", 1, 0, -1},
		{"first of three", 3, 0, 1},
		{"middle of three", 3, 1, 2},
		{"last of three", 3, 2, 1},
		{"out of range", 3, 3, -1},
		{"negative", 3, -1, -1},
		{"empty", 0, 0, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextActiveIndex(tt.count, tt.closing))
		})
	}
}

func TestShouldEmitURLChangeIgnoresTrailingSlashAndSchemeCase(t *testing.T) {
	var tr urlTracker
	assert.True(t, tr.shouldEmitURLChange("https://x.com/a"))
	assert.False(t, tr.shouldEmitURLChange("https://x.com/a/"))
	assert.False(t, tr.shouldEmitURLChange("HTTPS://x.com/a"))
	assert.True(t, tr.shouldEmitURLChange("https://x.com/b"))
}

func TestNavigable(t *testing.T) {
	assert.Equal(t, "https://example.com", navigable("example.com"))
	assert.Equal(t, "https://example.com/a?b=1", navigable(" https://example.com/a?b=1 "))
	assert.Equal(t, "http://localhost:8080", navigable("http://localhost:8080"))
	assert.Equal(t, "about:blank", navigable("about:blank"))
}
