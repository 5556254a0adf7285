package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscape(t *testing.T) {
	tests := map[string]string{
		"login":   "login",
		"1a":      `\31 a`,
		"-1":      `-\31 `,
		"-":       `\-`,
		"a b":     `a\ b`,
		"foo:bar": `foo\:bar`,
		"ünï":     "ünï",
		"a\x01":   `a\1 `,
	}
	for in, want := range tests {
		assert.Equal(t, want, Escape(in), "escape %q", in)
	}
}

func TestEscapedSelectorsResolve(t *testing.T) {
	snap := mustParse(t, `<div id="1st"></div><div id="a:b"></div><div title='say "hi"'></div>`)
	assert.Len(t, snap.Query("#"+Escape("1st")), 1)
	assert.Len(t, snap.Query("#"+Escape("a:b")), 1)
	assert.Len(t, snap.Query(attrSelector("title", `say "hi"`)), 1)
}

func TestSplitTopLevel(t *testing.T) {
	parts, delims := splitTopLevel(`[aria-label="a >> b"] >> .x :>> #y`, FrameDelimiter, ShadowDelimiter)
	assert.Equal(t, []string{`[aria-label="a >> b"]`, ".x", "#y"}, parts)
	assert.Equal(t, []string{ShadowDelimiter, FrameDelimiter}, delims)

	groups, _ := splitTopLevel(`a:is(.x, .y), b`, ",")
	assert.Equal(t, []string{"a:is(.x, .y)", " b"}, groups)
}
