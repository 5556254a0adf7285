// Package selector synthesizes CSS selectors that relocate elements of a
// rendered page. It works on a Snapshot, a serialized copy of the page that
// keeps open shadow roots, same-origin frame documents, element geometry and
// visibility. Selectors crossing a shadow boundary are joined with " >> ",
// selectors crossing a frame boundary with " :>> ".
package selector

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Boundary delimiters inside a selector chain.
const (
	ShadowDelimiter = " >> "
	FrameDelimiter  = " :>> "
)

// ErrEmptySnapshot is returned when a serialized snapshot has no document.
var ErrEmptySnapshot = errors.New("snapshot has no document")

// BoundaryKind says how a nested root is attached to its host element.
type BoundaryKind string

const (
	BoundaryShadow BoundaryKind = "shadow"
	BoundaryIFrame BoundaryKind = "iframe"
	BoundaryFrame  BoundaryKind = "frame"
)

// Boundary is one hop of a root chain.
type Boundary struct {
	Kind BoundaryKind
	Host *html.Node
}

// Rect is an element's bounding box in its own document's viewport.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Empty reports whether the box has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether the point lies inside the box.
func (r Rect) Contains(x, y float64) bool {
	return !r.Empty() && x >= r.X && x <= r.X+r.Width && y >= r.Y && y <= r.Y+r.Height
}

// Offset translates the box.
func (r Rect) Offset(dx, dy float64) Rect {
	r.X += dx
	r.Y += dy
	return r
}

// Root is a document-like container: the top document, an open shadow root
// or a frame document. Node is a detached html.DocumentNode whose children
// are the root's top-level nodes.
type Root struct {
	Node   *html.Node
	Kind   BoundaryKind // empty for the top document
	Host   *html.Node
	Parent *Root
	URL    string
	Denied bool
}

// Snapshot is a serialized page.
type Snapshot struct {
	URL    string
	Width  float64
	Height float64

	top     *Root
	roots   map[*html.Node]*Root
	shadows map[*html.Node]*Root
	frames  map[*html.Node]*Root
	rects   map[*html.Node]Rect
	hidden  map[*html.Node]bool
	values  map[*html.Node]string
}

func newSnapshot() *Snapshot {
	return &Snapshot{
		roots:   make(map[*html.Node]*Root),
		shadows: make(map[*html.Node]*Root),
		frames:  make(map[*html.Node]*Root),
		rects:   make(map[*html.Node]Rect),
		hidden:  make(map[*html.Node]bool),
		values:  make(map[*html.Node]string),
	}
}

type wireNode struct {
	Tag      string      `json:"tag,omitempty"`
	Text     string      `json:"text,omitempty"`
	Attrs    [][2]string `json:"attrs,omitempty"`
	Rect     []float64   `json:"rect,omitempty"`
	Hidden   bool        `json:"hidden,omitempty"`
	Value    *string     `json:"value,omitempty"`
	Children []wireNode  `json:"children,omitempty"`
	Shadow   *wireRoot   `json:"shadow,omitempty"`
	Frame    *wireRoot   `json:"frame,omitempty"`
}

type wireRoot struct {
	URL      string     `json:"url,omitempty"`
	Denied   bool       `json:"denied,omitempty"`
	Children []wireNode `json:"children,omitempty"`
}

type wireSnapshot struct {
	URL      string     `json:"url"`
	Width    float64    `json:"width"`
	Height   float64    `json:"height"`
	Children []wireNode `json:"children"`
}

// Decode builds a Snapshot from the JSON produced by the in-page serializer.
func Decode(data []byte) (*Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(w.Children) == 0 {
		return nil, ErrEmptySnapshot
	}
	s := newSnapshot()
	s.URL, s.Width, s.Height = w.URL, w.Width, w.Height
	s.top = s.newRoot("", nil, nil, w.URL, false)
	for i := range w.Children {
		s.top.Node.AppendChild(s.build(&w.Children[i], s.top))
	}
	return s, nil
}

func (s *Snapshot) newRoot(kind BoundaryKind, host *html.Node, parent *Root, url string, denied bool) *Root {
	r := &Root{Node: &html.Node{Type: html.DocumentNode}, Kind: kind, Host: host, Parent: parent, URL: url, Denied: denied}
	s.roots[r.Node] = r
	return r
}

func (s *Snapshot) build(w *wireNode, root *Root) *html.Node {
	if w.Tag == "" {
		return &html.Node{Type: html.TextNode, Data: w.Text}
	}
	n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(w.Tag)}
	for _, a := range w.Attrs {
		n.Attr = append(n.Attr, html.Attribute{Key: a[0], Val: a[1]})
	}
	if len(w.Rect) == 4 {
		s.rects[n] = Rect{X: w.Rect[0], Y: w.Rect[1], Width: w.Rect[2], Height: w.Rect[3]}
	}
	if w.Hidden {
		s.hidden[n] = true
	}
	if w.Value != nil {
		s.values[n] = *w.Value
	}
	for i := range w.Children {
		n.AppendChild(s.build(&w.Children[i], root))
	}
	if w.Shadow != nil {
		sr := s.newRoot(BoundaryShadow, n, root, root.URL, false)
		for i := range w.Shadow.Children {
			sr.Node.AppendChild(s.build(&w.Shadow.Children[i], sr))
		}
		s.shadows[n] = sr
	}
	if w.Frame != nil {
		kind := BoundaryIFrame
		if n.Data == "frame" {
			kind = BoundaryFrame
		}
		fr := s.newRoot(kind, n, root, w.Frame.URL, w.Frame.Denied)
		for i := range w.Frame.Children {
			fr.Node.AppendChild(s.build(&w.Frame.Children[i], fr))
		}
		s.frames[n] = fr
	}
	return n
}

// ParseHTML builds a Snapshot from markup. Geometry and nested roots are
// taken from conventions that a serializer cannot express in plain HTML:
// data-rect="x,y,w,h" sets the bounding box, the hidden attribute or an
// inline display:none marks the element hidden, <template shadowrootmode>
// becomes an open shadow root, srcdoc on iframe/frame becomes the frame
// document and data-denied marks a frame as cross-origin.
func ParseHTML(r io.Reader) (*Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot html: %w", err)
	}
	s := newSnapshot()
	s.top = &Root{Node: doc}
	s.roots[doc] = s.top
	if err := s.adopt(doc, s.top); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Snapshot) adopt(n *html.Node, root *Root) error {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode {
			if c.Data == "template" && hasAttr(c, "shadowrootmode") && n.Type == html.ElementNode {
				n.RemoveChild(c)
				sr := s.newRoot(BoundaryShadow, n, root, root.URL, false)
				for gc := c.FirstChild; gc != nil; {
					gnext := gc.NextSibling
					c.RemoveChild(gc)
					sr.Node.AppendChild(gc)
					gc = gnext
				}
				s.shadows[n] = sr
				if err := s.adopt(sr.Node, sr); err != nil {
					return err
				}
				c = next
				continue
			}
			if err := s.annotate(c, root); err != nil {
				return err
			}
			if err := s.adopt(c, root); err != nil {
				return err
			}
		}
		c = next
	}
	return nil
}

func (s *Snapshot) annotate(n *html.Node, root *Root) error {
	if v, ok := takeAttr(n, "data-rect"); ok {
		rect, err := parseRect(v)
		if err != nil {
			return err
		}
		s.rects[n] = rect
	}
	if hasAttr(n, "hidden") || strings.Contains(strings.ReplaceAll(attr(n, "style"), " ", ""), "display:none") {
		s.hidden[n] = true
	}
	if n.Data != "iframe" && n.Data != "frame" {
		return nil
	}
	kind := BoundaryIFrame
	if n.Data == "frame" {
		kind = BoundaryFrame
	}
	_, denied := takeAttr(n, "data-denied")
	src, ok := takeAttr(n, "srcdoc")
	if !ok && !denied {
		return nil
	}
	fr := s.newRoot(kind, n, root, attr(n, "src"), denied)
	s.frames[n] = fr
	if denied {
		return nil
	}
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return fmt.Errorf("parse frame document: %w", err)
	}
	for c := doc.FirstChild; c != nil; {
		next := c.NextSibling
		doc.RemoveChild(c)
		fr.Node.AppendChild(c)
		c = next
	}
	return s.adopt(fr.Node, fr)
}

func parseRect(v string) (Rect, error) {
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("data-rect %q: want x,y,w,h", v)
	}
	var f [4]float64
	for i, p := range parts {
		n, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Rect{}, fmt.Errorf("data-rect %q: %w", v, err)
		}
		f[i] = n
	}
	return Rect{X: f[0], Y: f[1], Width: f[2], Height: f[3]}, nil
}

// Top returns the top document root.
func (s *Snapshot) Top() *Root { return s.top }

// RootOf returns the root containing n.
func (s *Snapshot) RootOf(n *html.Node) *Root {
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return s.roots[p]
		}
	}
	return nil
}

// ShadowRoot returns the open shadow root hosted by n.
func (s *Snapshot) ShadowRoot(n *html.Node) (*Root, bool) {
	r, ok := s.shadows[n]
	return r, ok
}

// FrameRoot returns the document of an iframe or frame element. Denied
// frames are reported as absent.
func (s *Snapshot) FrameRoot(n *html.Node) (*Root, bool) {
	r, ok := s.frames[n]
	if !ok || r.Denied {
		return nil, false
	}
	return r, true
}

// Chain returns the boundaries from the top document down to root.
func (s *Snapshot) Chain(root *Root) []Boundary {
	var out []Boundary
	for r := root; r != nil && r.Parent != nil; r = r.Parent {
		out = append(out, Boundary{Kind: r.Kind, Host: r.Host})
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Rect returns the recorded bounding box of n in its own document.
func (s *Snapshot) Rect(n *html.Node) (Rect, bool) {
	r, ok := s.rects[n]
	return r, ok
}

// Value returns the live form value of n, falling back to its value attribute.
func (s *Snapshot) Value(n *html.Node) string {
	if v, ok := s.values[n]; ok {
		return v
	}
	if n.Data == "textarea" {
		return textOf(n)
	}
	return attr(n, "value")
}

// Hidden reports whether n or one of its ancestors in the same root is
// hidden.
func (s *Snapshot) Hidden(n *html.Node) bool {
	for p := n; p != nil && p.Type == html.ElementNode; p = p.Parent {
		if s.hidden[p] {
			return true
		}
	}
	return false
}

// Visible reports whether n would be rendered. Elements without recorded
// geometry count as visible unless hidden.
func (s *Snapshot) Visible(n *html.Node) bool {
	if n == nil || s.Hidden(n) {
		return false
	}
	if r, ok := s.rects[n]; ok {
		return !r.Empty()
	}
	return true
}

// Query resolves a selector, which may be a comma-separated group and may
// cross boundaries, to matching elements. Invalid selectors match nothing.
func (s *Snapshot) Query(sel string) []*html.Node {
	return s.QueryIn(s.top, sel)
}

// QueryIn is Query scoped to root.
func (s *Snapshot) QueryIn(root *Root, sel string) []*html.Node {
	if root == nil || strings.TrimSpace(sel) == "" {
		return nil
	}
	groups, _ := splitTopLevel(sel, ",")
	if len(groups) == 1 {
		return s.queryChain(root, sel)
	}
	seen := make(map[*html.Node]bool)
	var out []*html.Node
	for _, g := range groups {
		for _, n := range s.queryChain(root, g) {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	return out
}

func (s *Snapshot) queryChain(root *Root, sel string) []*html.Node {
	parts, delims := splitTopLevel(sel, FrameDelimiter, ShadowDelimiter)
	roots := []*Root{root}
	var matches []*html.Node
	for i, part := range parts {
		compiled, err := cascadia.Compile(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		matches = matches[:0:0]
		for _, r := range roots {
			matches = append(matches, compiled.MatchAll(r.Node)...)
		}
		if i == len(delims) {
			break
		}
		roots = roots[:0:0]
		for _, m := range matches {
			var next *Root
			var ok bool
			if delims[i] == FrameDelimiter {
				next, ok = s.FrameRoot(m)
			} else {
				next, ok = s.ShadowRoot(m)
			}
			if ok {
				roots = append(roots, next)
			}
		}
		if len(roots) == 0 {
			return nil
		}
	}
	return matches
}

// Count returns the number of elements sel matches.
func (s *Snapshot) Count(sel string) int {
	return len(s.Query(sel))
}

// IsVisible reports whether sel matches at least one visible element.
func (s *Snapshot) IsVisible(sel string) bool {
	for _, n := range s.Query(sel) {
		if s.Visible(n) {
			return true
		}
	}
	return false
}

// AllVisible reports whether every selector is visible. An empty list is
// never visible.
func (s *Snapshot) AllVisible(sels []string) bool {
	if len(sels) == 0 {
		return false
	}
	for _, sel := range sels {
		if !s.IsVisible(sel) {
			return false
		}
	}
	return true
}

// Document wraps a root for goquery extraction.
func (s *Snapshot) Document(root *Root) *goquery.Document {
	return goquery.NewDocumentFromNode(root.Node)
}

// Text returns the whitespace-collapsed text content of n.
func (s *Snapshot) Text(n *html.Node) string {
	return strings.Join(strings.Fields(textOf(n)), " ")
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func takeAttr(n *html.Node, key string) (string, bool) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return a.Val, true
		}
	}
	return "", false
}

// Attr returns the value of an attribute of n.
func Attr(n *html.Node, key string) string { return attr(n, key) }

// depth counts element ancestors of n within its root.
func depth(n *html.Node) int {
	d := 0
	for p := n.Parent; p != nil && p.Type == html.ElementNode; p = p.Parent {
		d++
	}
	return d
}

// elementsOf returns the elements of root in document order.
func elementsOf(root *Root) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
				walk(c)
			}
		}
	}
	walk(root.Node)
	return out
}
