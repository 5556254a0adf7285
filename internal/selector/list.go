package selector

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Mode selects how a clicked element is addressed.
type Mode int

const (
	ModeUnique Mode = iota
	ModeList
	ModePagination
)

// NonUnique returns a structural selector built from tags, classes and
// table-cell positions. It deliberately matches every sibling item of a
// repeating list. Boundary hosts are prefixed the same way.
func (s *Synthesizer) NonUnique(t *Target) string {
	if t == nil || t.Element == nil {
		return ""
	}
	var b strings.Builder
	for _, hop := range t.Chain {
		b.WriteString(s.structuralPath(hop.Host))
		if hop.Kind == BoundaryShadow {
			b.WriteString(ShadowDelimiter)
		} else {
			b.WriteString(FrameDelimiter)
		}
	}
	b.WriteString(s.structuralPath(t.Element))
	return b.String()
}

func (s *Synthesizer) structuralPath(el *html.Node) string {
	var parts []string
	for cur := el; cur != nil && cur.Type == html.ElementNode && len(parts) < s.opts.ListDepth; cur = cur.Parent {
		if cur.Data == "body" {
			break
		}
		parts = append([]string{structural(cur)}, parts...)
	}
	return strings.Join(parts, " > ")
}

// structural renders one list-mode level: table cells by position, any
// other element by tag and stable classes.
func structural(n *html.Node) string {
	if n.Data == "td" || n.Data == "th" {
		if i := nthIndex(n); i > 0 && n.Parent != nil && n.Parent.Type == html.ElementNode {
			return n.Data + ":nth-child(" + strconv.Itoa(i) + ")"
		}
		return n.Data
	}
	sel := n.Data
	for _, c := range stableClasses(n) {
		sel += "." + Escape(c)
	}
	return sel
}

// stableClasses drops utility classes carrying variants or important
// markers, which rarely survive between renders.
func stableClasses(n *html.Node) []string {
	var out []string
	for _, c := range strings.Fields(attr(n, "class")) {
		if strings.HasPrefix(c, "!") || strings.Contains(c, ":") {
			continue
		}
		out = append(out, c)
	}
	return out
}

// ChildSelectors lists selectors for the descendants of the first element
// matched by parent, each prefixed by parent. Positions are added where
// identical siblings would otherwise be indistinguishable.
func (s *Synthesizer) ChildSelectors(snap *Snapshot, parent string) []string {
	matches := snap.Query(parent)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	var walk func(n *html.Node, prefix string, depth int)
	walk = func(n *html.Node, prefix string, depth int) {
		if depth > s.opts.ListDepth+2 {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || c.Data == "script" || c.Data == "style" {
				continue
			}
			sel := prefix + " > " + childLevel(c)
			if !seen[sel] {
				seen[sel] = true
				out = append(out, sel)
			}
			walk(c, sel, depth+1)
		}
	}
	walk(matches[0], parent, 0)
	return out
}

func childLevel(n *html.Node) string {
	sel := structural(n)
	if n.Data == "td" || n.Data == "th" {
		return sel
	}
	for c := n.Parent.FirstChild; c != nil; c = c.NextSibling {
		if c != n && c.Type == html.ElementNode && structural(c) == sel {
			return sel + ":nth-child(" + strconv.Itoa(nthIndex(n)) + ")"
		}
	}
	return sel
}

// Chain concatenates independently computed variants that each resolve to
// at least one element, so that whichever survives a re-render can be used.
// It serves pagination controls.
func (s *Synthesizer) Chain(t *Target) string {
	if t == nil || t.Element == nil {
		return ""
	}
	el, snap := t.Element, t.snap
	prefix, ok := s.hostPrefix(t)
	if !ok {
		return ""
	}
	var variants []string
	if v := attr(el, "aria-label"); v != "" {
		variants = append(variants, prefix+el.Data+attrSelector("aria-label", v))
	}
	if v := attr(el, "href"); v != "" {
		variants = append(variants, prefix+el.Data+attrSelector("href", v))
	}
	if v := attr(el, "rel"); v != "" {
		variants = append(variants, prefix+attrSelector("rel", v))
	}
	for _, name := range testIDAttrs {
		if v := attr(el, name); v != "" {
			variants = append(variants, prefix+attrSelector(name, v))
			break
		}
	}
	if len(t.Chain) > 0 {
		variants = append(variants, s.FullPath(t))
	}
	variants = append(variants, s.NonUnique(t))
	if g, err := Unique(s.opts, t.Root, el); err == nil {
		variants = append(variants, prefix+g)
	}

	seen := make(map[string]bool)
	var kept []string
	for _, v := range variants {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		if len(snap.Query(v)) > 0 {
			kept = append(kept, v)
		}
	}
	return strings.Join(kept, ", ")
}

// For computes the selector for a click target in the given mode. Unique
// mode returns "" when no verified selector exists.
func (s *Synthesizer) For(t *Target, mode Mode, action string) string {
	switch mode {
	case ModeList:
		return s.NonUnique(t)
	case ModePagination:
		return s.Chain(t)
	}
	return s.Candidates(t).Best(action, t.Tag())
}
