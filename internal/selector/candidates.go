package selector

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Attribute sets used for the attribute-scoped candidates.
var (
	testIDAttrs        = []string{"data-testid", "data-test-id", "data-testing", "data-test", "data-qa", "data-cy"}
	formAttrs          = []string{"name", "placeholder", "for"}
	accessibilityAttrs = []string{"aria-label", "alt", "title"}
	hrefAttrs          = []string{"href"}
)

// Candidates are the independently computed selectors for one element. Empty
// fields had no verified selector.
type Candidates struct {
	ID            string `json:"id,omitempty"`
	TestID        string `json:"testIdSelector,omitempty"`
	Attr          string `json:"attrSelector,omitempty"`
	Href          string `json:"hrefSelector,omitempty"`
	Accessibility string `json:"accessibilitySelector,omitempty"`
	Form          string `json:"formSelector,omitempty"`
	Rel           string `json:"relSelector,omitempty"`
	Generic       string `json:"generalSelector,omitempty"`
	IFrameFull    string `json:"iframeSelector,omitempty"`
	ShadowFull    string `json:"shadowSelector,omitempty"`
}

// ElementInfo describes the element a click landed on.
type ElementInfo struct {
	Tag         string                `json:"tagName"`
	ID          string                `json:"id,omitempty"`
	InputType   string                `json:"inputType,omitempty"`
	Value       string                `json:"value,omitempty"`
	Text        string                `json:"innerText,omitempty"`
	HasOnlyText bool                  `json:"hasOnlyText"`
	Href        string                `json:"href,omitempty"`
	Rect        Rect                  `json:"rect"`
	Options     []models.SelectOption `json:"options,omitempty"`
	Selectors   Candidates            `json:"selectors"`
}

// Synthesizer computes selectors for targets of one snapshot.
type Synthesizer struct {
	opts Options
}

// New returns a Synthesizer.
func New(opts Options) *Synthesizer {
	return &Synthesizer{opts: opts.withDefaults()}
}

// Options returns the effective options.
func (s *Synthesizer) Options() Options { return s.opts }

// Candidates computes every candidate selector for the target. Candidates
// that cannot be computed or do not resolve back to the element are left
// empty.
func (s *Synthesizer) Candidates(t *Target) Candidates {
	var c Candidates
	if t == nil || t.Element == nil {
		return c
	}
	el, root, snap := t.Element, t.Root, t.snap

	verify := func(sel string) string {
		if sel == "" {
			return ""
		}
		m := snap.QueryIn(root, sel)
		if len(m) == 1 && m[0] == el {
			return sel
		}
		return ""
	}

	if id := attr(el, "id"); id != "" && !generatedID(id) {
		c.ID = verify("#" + Escape(id))
	}
	if sel, err := Unique(s.opts, root, el); err == nil {
		c.Generic = verify(sel)
	}
	all := newFinder(s.opts, root)
	all.attr = func(string, string) bool { return true }
	if sel, err := all.find(el); err == nil {
		c.Attr = verify(sel)
	}
	c.TestID = verify(s.attributeScoped(root, el, testIDAttrs))
	c.Form = verify(s.attributeScoped(root, el, formAttrs))
	c.Accessibility = verify(s.attributeScoped(root, el, accessibilityAttrs))
	c.Href = verify(s.attributeScoped(root, el, hrefAttrs))
	if rel := attr(el, "rel"); rel != "" {
		sel := `[rel="` + Escape(rel) + `"]`
		if len(snap.QueryIn(root, sel)) > 0 {
			c.Rel = sel
		}
	}

	if len(t.Chain) > 0 {
		if full := s.FullPath(t); full != "" {
			m := snap.Query(full)
			if len(m) == 1 && m[0] == el {
				for _, b := range t.Chain {
					if b.Kind == BoundaryShadow {
						c.ShadowFull = full
					} else {
						c.IFrameFull = full
					}
				}
			}
		}
	}
	return c
}

// attributeScoped runs the unique search restricted to the given attribute
// names, ignoring ids. It returns "" when the element carries none of them.
func (s *Synthesizer) attributeScoped(root *Root, el *html.Node, names []string) string {
	defined := false
	for _, n := range names {
		if attr(el, n) != "" {
			defined = true
			break
		}
	}
	if !defined {
		return ""
	}
	f := newFinder(s.opts, root)
	f.idName = func(string) bool { return false }
	f.attr = func(name, _ string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
	sel, err := f.find(el)
	if err != nil {
		return ""
	}
	return sel
}

// FullPath joins the unique selector of every boundary host with the
// element's own selector, using the boundary delimiters.
func (s *Synthesizer) FullPath(t *Target) string {
	prefix, ok := s.hostPrefix(t)
	if !ok {
		return ""
	}
	sel, err := Unique(s.opts, t.Root, t.Element)
	if err != nil {
		return ""
	}
	return prefix + sel
}

// hostPrefix renders the boundary hosts of t, each followed by its
// delimiter. ok is false when a host has no unique selector.
func (s *Synthesizer) hostPrefix(t *Target) (string, bool) {
	var b strings.Builder
	for _, hop := range t.Chain {
		sel, err := Unique(s.opts, t.snap.RootOf(hop.Host), hop.Host)
		if err != nil {
			return "", false
		}
		b.WriteString(sel)
		if hop.Kind == BoundaryShadow {
			b.WriteString(ShadowDelimiter)
		} else {
			b.WriteString(FrameDelimiter)
		}
	}
	return b.String(), true
}

// Best picks the selector a replay should use for the given action. Targets
// behind a boundary always use their full path.
func (c Candidates) Best(action, tag string) string {
	if c.IFrameFull != "" {
		return c.IFrameFull
	}
	if c.ShadowFull != "" {
		return c.ShadowFull
	}
	var order []string
	switch {
	case action == models.ActionType || action == models.ActionPress || action == models.ActionFill || tag == "input":
		order = []string{c.TestID, c.ID, c.Form, c.Accessibility, c.Generic, c.Attr}
	case tag == "a":
		order = []string{c.TestID, c.ID, c.Href, c.Accessibility, c.Generic, c.Attr}
	default:
		order = []string{c.TestID, c.ID, c.Accessibility, c.Generic, c.Attr}
	}
	for _, sel := range order {
		if sel != "" {
			return sel
		}
	}
	return ""
}

// Describe builds the element information used by the recorder.
func (s *Synthesizer) Describe(t *Target) ElementInfo {
	el := t.Element
	info := ElementInfo{
		Tag:       el.Data,
		ID:        attr(el, "id"),
		InputType: strings.ToLower(attr(el, "type")),
		Value:     t.snap.Value(el),
		Text:      t.snap.Text(el),
		Href:      attr(el, "href"),
		Selectors: s.Candidates(t),
	}
	if r, ok := t.Rect(); ok {
		info.Rect = r
	}
	info.HasOnlyText = true
	for c := el.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			info.HasOnlyText = false
			break
		}
	}
	if el.Data == "select" {
		info.Options = selectOptions(t.snap, el)
	}
	return info
}

func selectOptions(snap *Snapshot, sel *html.Node) []models.SelectOption {
	var out []models.SelectOption
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.Data == "option" {
				text := snap.Text(c)
				value := text
				if hasAttr(c, "value") {
					value = attr(c, "value")
				}
				out = append(out, models.SelectOption{
					Value:    value,
					Text:     text,
					Selected: hasAttr(c, "selected"),
					Disabled: hasAttr(c, "disabled"),
				})
				continue
			}
			walk(c)
		}
	}
	walk(sel)
	return out
}
