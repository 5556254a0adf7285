package selector

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ErrNotFound is returned when no unique selector exists for an element.
var ErrNotFound = errors.New("selector was not found")

// Penalties per level candidate kind.
const (
	penaltyID    = 0
	penaltyAttr  = 0.5
	penaltyClass = 1
	penaltyTag   = 2
	penaltyAny   = 3
	penaltyNth   = 1
)

type searchLimit int

const (
	limitAll searchLimit = iota
	limitTwo
	limitOne
	limitNone
)

type knot struct {
	name    string
	penalty float64
	level   int
}

type path []knot

func (p path) penalty() float64 {
	var sum float64
	for _, k := range p {
		sum += k.penalty
	}
	return sum
}

// String renders the path. Adjacent levels are joined with the child
// combinator, skipped levels with the descendant combinator.
func (p path) String() string {
	if len(p) == 0 {
		return ""
	}
	query := p[0].name
	prev := p[0]
	for _, k := range p[1:] {
		if prev.level == k.level-1 {
			query = k.name + " > " + query
		} else {
			query = k.name + " " + query
		}
		prev = k
	}
	return query
}

// finder searches for a unique selector of one element inside one root.
type finder struct {
	opts   Options
	root   *Root
	idName func(string) bool
	attr   func(name, value string) bool
}

func newFinder(opts Options, root *Root) *finder {
	return &finder{
		opts:   opts.withDefaults(),
		root:   root,
		idName: func(id string) bool { return !generatedID(id) },
		attr:   func(string, string) bool { return false },
	}
}

// Unique returns the cheapest selector that matches exactly el within
// root, after an optimization pass that drops redundant middle levels.
func Unique(opts Options, root *Root, el *html.Node) (string, error) {
	return newFinder(opts, root).find(el)
}

func (f *finder) find(el *html.Node) (string, error) {
	if el == nil || el.Type != html.ElementNode {
		return "", ErrNotFound
	}
	if el.Data == "html" {
		return "html", nil
	}
	p := f.bottomUp(el, limitAll)
	if p == nil {
		return "", ErrNotFound
	}
	if optimized := f.optimize(p, el); len(optimized) > 0 {
		sort.SliceStable(optimized, func(i, j int) bool {
			pi, pj := optimized[i].penalty(), optimized[j].penalty()
			if pi != pj {
				return pi < pj
			}
			return len(optimized[i].String()) < len(optimized[j].String())
		})
		p = optimized[0]
	}
	return p.String(), nil
}

func (f *finder) bottomUp(el *html.Node, limit searchLimit) path {
	var (
		found path
		stack [][]knot
	)
	fallback := func() path {
		if limit == limitNone {
			return nil
		}
		return f.bottomUp(el, limit+1)
	}
	i := 0
	for cur := el; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		level := f.level(cur)
		nth := nthIndex(cur)
		switch limit {
		case limitAll:
			if nth > 0 {
				level = append(level, nthVariants(level, nth)...)
			}
		case limitTwo:
			level = level[:1]
			if nth > 0 {
				level = append(level, nthVariants(level, nth)...)
			}
		case limitOne:
			level = level[:1]
			if nth > 0 && dispensableNth(level[0]) {
				level = []knot{withNth(level[0], nth)}
			}
		case limitNone:
			level = []knot{{name: "*", penalty: penaltyAny}}
			if nth > 0 {
				level = []knot{withNth(level[0], nth)}
			}
		}
		for j := range level {
			level[j].level = i
		}
		stack = append(stack, level)
		if len(stack) >= f.opts.SeedMinLength {
			var overflow bool
			found, overflow = f.uniquePath(stack)
			if overflow {
				return fallback()
			}
			if found != nil {
				break
			}
		}
		i++
	}
	if found == nil {
		var overflow bool
		found, overflow = f.uniquePath(stack)
		if overflow {
			return fallback()
		}
	}
	if found == nil {
		return fallback()
	}
	return found
}

// uniquePath tries the level combinations cheapest first. overflow is set
// when the combination space exceeds the threshold.
func (f *finder) uniquePath(stack [][]knot) (path, bool) {
	total := 1
	for _, level := range stack {
		total *= len(level)
		if total > f.opts.Threshold {
			return nil, true
		}
	}
	paths := combinations(stack)
	sort.SliceStable(paths, func(i, j int) bool { return paths[i].penalty() < paths[j].penalty() })
	for _, p := range paths {
		if f.unique(p) {
			return p, false
		}
	}
	return nil, false
}

func combinations(stack [][]knot) []path {
	out := []path{nil}
	for _, level := range stack {
		next := make([]path, 0, len(out)*len(level))
		for _, prefix := range out {
			for _, k := range level {
				p := make(path, len(prefix), len(prefix)+1)
				copy(p, prefix)
				next = append(next, append(p, k))
			}
		}
		out = next
	}
	return out
}

func (f *finder) matches(p path) []*html.Node {
	sel, err := cascadia.Compile(p.String())
	if err != nil {
		return nil
	}
	return sel.MatchAll(f.root.Node)
}

func (f *finder) unique(p path) bool {
	return len(f.matches(p)) == 1
}

func (f *finder) same(p path, el *html.Node) bool {
	m := f.matches(p)
	return len(m) > 0 && m[0] == el
}

type optimizeScope struct {
	counter int
	visited map[string]bool
	out     []path
}

func (f *finder) optimize(p path, el *html.Node) []path {
	scope := &optimizeScope{visited: make(map[string]bool)}
	f.optimizeInto(p, el, scope)
	return scope.out
}

func (f *finder) optimizeInto(p path, el *html.Node, scope *optimizeScope) {
	if len(p) <= 2 || len(p) <= f.opts.OptimizedMinLength {
		return
	}
	for i := 1; i < len(p)-1; i++ {
		if scope.counter > f.opts.MaxNumberOfTries {
			return
		}
		scope.counter++
		candidate := make(path, 0, len(p)-1)
		candidate = append(candidate, p[:i]...)
		candidate = append(candidate, p[i+1:]...)
		key := candidate.String()
		if scope.visited[key] {
			return
		}
		if f.unique(candidate) && f.same(candidate, el) {
			scope.out = append(scope.out, candidate)
			scope.visited[key] = true
			f.optimizeInto(candidate, el, scope)
		}
	}
}

// level lists the candidates for one element: the first non-empty of id,
// whitelisted attributes, classes, tag, wildcard.
func (f *finder) level(n *html.Node) []knot {
	if id := attr(n, "id"); id != "" && f.idName(id) {
		return []knot{{name: "#" + Escape(id), penalty: penaltyID}}
	}
	var attrs []knot
	for _, a := range n.Attr {
		if a.Namespace == "" && f.attr(a.Key, a.Val) {
			attrs = append(attrs, knot{name: attrSelector(a.Key, a.Val), penalty: penaltyAttr})
		}
	}
	if len(attrs) > 0 {
		return attrs
	}
	var classes []knot
	for _, c := range strings.Fields(attr(n, "class")) {
		classes = append(classes, knot{name: "." + Escape(c), penalty: penaltyClass})
	}
	if len(classes) > 0 {
		return classes
	}
	return []knot{{name: n.Data, penalty: penaltyTag}}
}

// nthIndex returns the 1-based position of n among its parent's element
// children, or 0 when n has no parent.
func nthIndex(n *html.Node) int {
	if n.Parent == nil {
		return 0
	}
	i := 0
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			i++
		}
		if c == n {
			return i
		}
	}
	return 0
}

func withNth(k knot, nth int) knot {
	return knot{name: k.name + ":nth-child(" + strconv.Itoa(nth) + ")", penalty: k.penalty + penaltyNth, level: k.level}
}

func nthVariants(level []knot, nth int) []knot {
	var out []knot
	for _, k := range level {
		if dispensableNth(k) {
			out = append(out, withNth(k, nth))
		}
	}
	return out
}

func dispensableNth(k knot) bool {
	return k.name != "html" && !strings.HasPrefix(k.name, "#")
}

// generatedID reports ids that look framework-generated and unlikely to
// survive a re-render.
func generatedID(id string) bool {
	if len(id) > 48 || strings.Contains(id, ":") {
		return true
	}
	run := 0
	for _, r := range id {
		if r >= '0' && r <= '9' {
			run++
			if run >= 4 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}
