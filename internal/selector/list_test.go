package selector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const listPage = `
<ul class="results">
  <li class="item hover:bg-red" data-rect="0,0,300,40"><span class="title" data-rect="0,0,100,20">One</span><span class="price" data-rect="100,0,50,20">1</span></li>
  <li class="item" data-rect="0,40,300,40"><span class="title" data-rect="0,40,100,20">Two</span><span class="price" data-rect="100,40,50,20">2</span></li>
</ul>
<nav><a class="next" rel="next" href="/p/2" aria-label="Next page" data-rect="0,200,60,20">Next</a></nav>
<table><tr><td>a</td><td><em>b</em></td></tr></table>
`

func TestNonUnique(t *testing.T) {
	snap := mustParse(t, listPage)
	syn := New(DefaultOptions())

	target, ok := snap.ResolvePoint(10, 10, 4)
	require.True(t, ok)
	sel := syn.NonUnique(target)
	assert.Equal(t, "ul.results > li.item > span.title", sel)
	assert.Len(t, snap.Query(sel), 2)

	cell := first(t, snap, "td:nth-child(2)")
	tsel := syn.NonUnique(&Target{Element: cell, Root: snap.Top(), snap: snap})
	assert.Equal(t, "tbody > tr > td:nth-child(2)", tsel)
}

func TestChildSelectors(t *testing.T) {
	snap := mustParse(t, listPage)
	syn := New(DefaultOptions())

	got := syn.ChildSelectors(snap, "li.item")
	assert.Equal(t, []string{"li.item > span.title", "li.item > span.price"}, got)

	cells := syn.ChildSelectors(snap, "tr")
	assert.Equal(t, []string{"tr > td:nth-child(1)", "tr > td:nth-child(2)", "tr > td:nth-child(2) > em"}, cells)

	assert.Nil(t, syn.ChildSelectors(snap, ".missing"))
}

func TestChildSelectorsDisambiguateIdenticalSiblings(t *testing.T) {
	snap := mustParse(t, `<div class="card"><p>a</p><p>b</p><h2>t</h2></div>`)
	got := New(DefaultOptions()).ChildSelectors(snap, ".card")
	assert.Equal(t, []string{".card > p:nth-child(1)", ".card > p:nth-child(2)", ".card > h2"}, got)
}

func TestPaginationChain(t *testing.T) {
	snap := mustParse(t, listPage)
	syn := New(DefaultOptions())

	target, ok := snap.ResolvePoint(10, 205, 4)
	require.True(t, ok)
	chain := syn.For(target, ModePagination, "click")
	parts, _ := splitTopLevel(chain, ",")
	require.NotEmpty(t, parts)
	assert.Contains(t, chain, `[rel="next"]`)
	for _, p := range parts {
		assert.NotEmpty(t, snap.Query(strings.TrimSpace(p)), "variant %q", p)
	}
	assert.Equal(t, []*html.Node{target.Element}, snap.Query(chain))
}

func TestForUniqueMode(t *testing.T) {
	snap := mustParse(t, listPage)
	syn := New(DefaultOptions())
	target, ok := snap.ResolvePoint(10, 205, 4)
	require.True(t, ok)
	sel := syn.For(target, ModeUnique, "click")
	assert.Equal(t, []*html.Node{target.Element}, snap.Query(sel))
}
