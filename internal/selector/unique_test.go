package selector

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
	"pgregory.net/rapid"
)

func mustParse(t testing.TB, markup string) *Snapshot {
	t.Helper()
	snap, err := ParseHTML(strings.NewReader(markup))
	require.NoError(t, err)
	return snap
}

func first(t testing.TB, snap *Snapshot, sel string) *html.Node {
	t.Helper()
	m := snap.Query(sel)
	require.NotEmpty(t, m, "no match for %q", sel)
	return m[0]
}

func TestUnique(t *testing.T) {
	tests := []struct {
		name   string
		markup string
		target string
		want   string
	}{
		{
			name:   "id wins",
			markup: `<form><input id="login" class="field"></form>`,
			target: "input",
			want:   "#login",
		},
		{
			name:   "class with position among identical siblings",
			markup: `<ul><li class="item">a</li><li class="item">b</li></ul>`,
			target: "li:nth-child(2)",
			want:   ".item:nth-child(2)",
		},
		{
			name:   "generated id is skipped",
			markup: `<div><button id="btn-839201">Go</button></div>`,
			target: "button",
			want:   "button",
		},
		{
			name:   "html element",
			markup: `<p>x</p>`,
			target: "html",
			want:   "html",
		},
		{
			name:   "ancestor id scopes a class",
			markup: `<div id="a"><span class="x">1</span></div><div id="b"><span class="x">2</span></div>`,
			target: "#b span",
			want:   "#b > .x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := mustParse(t, tt.markup)
			el := first(t, snap, tt.target)
			got, err := Unique(DefaultOptions(), snap.Top(), el)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []*html.Node{el}, snap.Query(got))
		})
	}
}

func TestUniqueRejectsNonElements(t *testing.T) {
	snap := mustParse(t, `<p>x</p>`)
	_, err := Unique(DefaultOptions(), snap.Top(), nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUniqueFlatAndDeepDocuments(t *testing.T) {
	var flat strings.Builder
	for i := 0; i < 300; i++ {
		flat.WriteString(`<div class="row">x</div>`)
	}
	var deep strings.Builder
	for i := 0; i < 40; i++ {
		deep.WriteString(`<div class="wrap">`)
	}
	deep.WriteString(`<span class="leaf">x</span>`)
	for i := 0; i < 40; i++ {
		deep.WriteString(`</div>`)
	}

	for name, markup := range map[string]string{"flat": flat.String(), "deep": deep.String()} {
		t.Run(name, func(t *testing.T) {
			snap := mustParse(t, markup)
			els := elementsOf(snap.Top())
			el := els[len(els)-1]
			got, err := Unique(Options{Threshold: 50, MaxNumberOfTries: 200}, snap.Top(), el)
			require.NoError(t, err)
			assert.Equal(t, []*html.Node{el}, snap.Query(got))
		})
	}
}

// genMarkup draws a small random document of nested elements with a shared
// vocabulary of classes and occasionally repeated ids.
func genMarkup(t *rapid.T) string {
	var b strings.Builder
	var gen func(depth int, label string)
	gen = func(depth int, label string) {
		n := rapid.IntRange(0, 3).Draw(t, label+"_children")
		if depth >= 3 {
			n = 0
		}
		for i := 0; i < n; i++ {
			l := fmt.Sprintf("%s_%d", label, i)
			tag := rapid.SampledFrom([]string{"div", "span", "section", "p"}).Draw(t, l+"_tag")
			b.WriteString("<" + tag)
			if rapid.IntRange(0, 4).Draw(t, l+"_hasid") == 0 {
				b.WriteString(` id="` + rapid.SampledFrom([]string{"a", "b", "main"}).Draw(t, l+"_id") + `"`)
			}
			classes := rapid.SliceOfNDistinct(rapid.SampledFrom([]string{"x", "y", "card", "row"}), 0, 2, rapid.ID[string]).Draw(t, l+"_class")
			if len(classes) > 0 {
				b.WriteString(` class="` + strings.Join(classes, " ") + `"`)
			}
			b.WriteString(">")
			gen(depth+1, l)
			b.WriteString("</" + tag + ">")
		}
	}
	gen(0, "root")
	return b.String()
}

func TestUniqueRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		markup := genMarkup(rt)
		snap, err := ParseHTML(strings.NewReader(markup))
		require.NoError(rt, err)
		for _, el := range elementsOf(snap.Top()) {
			sel, err := Unique(DefaultOptions(), snap.Top(), el)
			require.NoError(rt, err)
			got := snap.Query(sel)
			require.Len(rt, got, 1, "selector %q in %s", sel, markup)
			require.Same(rt, el, got[0], "selector %q in %s", sel, markup)
		}
	})
}
