package selector

import (
	"golang.org/x/net/html"
)

// Target is an element resolved from viewport coordinates together with
// the roots crossed to reach it.
type Target struct {
	Element *html.Node
	Root    *Root
	Chain   []Boundary
	// OffsetX and OffsetY translate the element's own-document coordinates
	// into top-level viewport coordinates.
	OffsetX float64
	OffsetY float64

	snap *Snapshot
}

// Rect returns the target's bounding box in top-level viewport coordinates.
func (t *Target) Rect() (Rect, bool) {
	r, ok := t.snap.Rect(t.Element)
	if !ok {
		return Rect{}, false
	}
	return r.Offset(t.OffsetX, t.OffsetY), true
}

// Tag returns the lowercase tag name of the element.
func (t *Target) Tag() string { return t.Element.Data }

// Snapshot returns the snapshot the target was resolved in.
func (t *Target) Snapshot() *Snapshot { return t.snap }

// ResolvePoint finds the most deeply nested element at (x, y), descending
// into iframes, frames and open shadow roots up to maxDepth boundaries.
// It is the single traversal behind selector, rect and click information.
func (s *Snapshot) ResolvePoint(x, y float64, maxDepth int) (*Target, bool) {
	if s == nil || s.top == nil {
		return nil, false
	}
	var best *Target
	root := s.top
	var ox, oy float64
	for hop := 0; ; hop++ {
		el := s.deepestAt(root, x-ox, y-oy)
		if el == nil {
			break
		}
		best = &Target{Element: el, Root: root, Chain: s.Chain(root), OffsetX: ox, OffsetY: oy, snap: s}
		if hop >= maxDepth {
			break
		}
		if frameEl, ok := s.frameAt(el, x-ox, y-oy); ok {
			fr, _ := s.FrameRoot(frameEl)
			r, _ := s.Rect(frameEl)
			ox, oy = ox+r.X, oy+r.Y
			root = fr
			continue
		}
		if host := s.shadowHostOf(el); host != nil {
			sr := s.shadows[host]
			if s.deepestAt(sr, x-ox, y-oy) == nil {
				break
			}
			root = sr
			continue
		}
		break
	}
	return best, best != nil
}

// RectAt returns the bounding box, in top-level coordinates, of the element
// at (x, y).
func (s *Snapshot) RectAt(x, y float64, maxDepth int) (Rect, bool) {
	t, ok := s.ResolvePoint(x, y, maxDepth)
	if !ok {
		return Rect{}, false
	}
	return t.Rect()
}

// deepestAt picks, among visible elements of root whose box contains the
// point, the one with the longest ancestor chain. Ties go to the later
// element in document order, which paints on top.
func (s *Snapshot) deepestAt(root *Root, x, y float64) *html.Node {
	var (
		best      *html.Node
		bestDepth = -1
	)
	for _, el := range elementsOf(root) {
		r, ok := s.rects[el]
		if !ok || s.Hidden(el) || !r.Contains(x, y) {
			continue
		}
		if d := depth(el); d >= bestDepth {
			best, bestDepth = el, d
		}
	}
	return best
}

// frameAt returns the accessible frame element to descend into: el itself
// when it is an iframe or frame, or the frame of a frameset containing the
// point.
func (s *Snapshot) frameAt(el *html.Node, x, y float64) (*html.Node, bool) {
	switch el.Data {
	case "iframe", "frame":
		_, ok := s.FrameRoot(el)
		return el, ok
	}
	var frameset *html.Node
	for p := el; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if p.Data == "frameset" {
			frameset = p
			break
		}
	}
	if frameset == nil {
		return nil, false
	}
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "frame" {
				if r, ok := s.rects[c]; ok && r.Contains(x, y) {
					if _, ok := s.FrameRoot(c); ok {
						found = c
						return
					}
				}
			}
			walk(c)
		}
	}
	walk(frameset)
	return found, found != nil
}

// shadowHostOf returns el or its nearest ancestor hosting an open shadow root.
func (s *Snapshot) shadowHostOf(el *html.Node) *html.Node {
	for p := el; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if _, ok := s.shadows[p]; ok {
			return p
		}
	}
	return nil
}

// Retarget moves a hit to the element a replay should address: an anchor
// wrapping the hit element, or in list mode the table around a cell.
func (t *Target) Retarget(listMode bool) *Target {
	if t == nil {
		return nil
	}
	out := *t
	if listMode && (t.Element.Data == "td" || t.Element.Data == "th") {
		if table := closest(t.Element, "table"); table != nil {
			out.Element = table
			return &out
		}
	}
	if a := closest(t.Element, "a"); a != nil {
		out.Element = a
	}
	return &out
}

func closest(n *html.Node, tag string) *html.Node {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if p.Data == tag {
			return p
		}
	}
	return nil
}
