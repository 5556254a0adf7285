package interpret

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Field extraction attributes besides plain attribute names.
const (
	attrInnerText = "innerText"
	attrInnerHTML = "innerHTML"
)

// field describes one extracted value.
type field struct {
	Selector  string
	Attribute string
}

func parseFields(raw map[string]any) (map[string]field, []string) {
	fields := make(map[string]field, len(raw))
	names := make([]string, 0, len(raw))
	for name, v := range raw {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		f := field{Attribute: attrInnerText}
		f.Selector, _ = m["selector"].(string)
		if a, _ := m["attribute"].(string); a != "" {
			f.Attribute = a
		}
		fields[name] = f
		names = append(names, name)
	}
	slices.Sort(names)
	return fields, names
}

// scrape records the text of every element matching the optional selector,
// or of the whole body.
func (in *Interpreter) scrape(ctx context.Context, page Page, step models.Step, res *Result) error {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return err
	}
	sel := ""
	if m, ok := step.MapArg(0); ok {
		sel, _ = m["selector"].(string)
	} else if s, ok := step.StringArg(0); ok {
		sel = s
	}
	if sel == "" {
		body := snap.Document(snap.Top()).Find("body")
		res.Records = append(res.Records, map[string]any{
			"url":  page.URL(),
			"text": strings.Join(strings.Fields(body.Text()), " "),
		})
		return nil
	}
	for _, n := range snap.Query(sel) {
		res.Records = append(res.Records, map[string]any{"text": snap.Text(n)})
	}
	return nil
}

// scrapeSchema records one record holding the first match of every field.
func (in *Interpreter) scrapeSchema(ctx context.Context, page Page, step models.Step, res *Result) error {
	raw, ok := step.MapArg(0)
	if !ok {
		return fmt.Errorf("%w: scrapeSchema needs a schema", ErrBadArgs)
	}
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return err
	}
	fields, names := parseFields(raw)
	record := make(map[string]any, len(names))
	for _, name := range names {
		f := fields[name]
		nodes := snap.Query(f.Selector)
		if len(nodes) == 0 {
			record[name] = ""
			continue
		}
		record[name] = valueOf(goquery.NewDocumentFromNode(nodes[0]).Selection, f.Attribute, page.URL())
	}
	res.Records = append(res.Records, record)
	return nil
}

// listConfig is the argument of a scrapeList step.
type listConfig struct {
	ListSelector string
	Fields       map[string]field
	Names        []string
	Limit        int
	NextSelector string
}

func parseListConfig(m map[string]any) (listConfig, error) {
	cfg := listConfig{}
	cfg.ListSelector, _ = m["listSelector"].(string)
	if cfg.ListSelector == "" {
		return cfg, fmt.Errorf("%w: scrapeList needs a listSelector", ErrBadArgs)
	}
	if raw, ok := m["fields"].(map[string]any); ok {
		cfg.Fields, cfg.Names = parseFields(raw)
	}
	if n, ok := models.IntArg(m["limit"]); ok {
		cfg.Limit = n
	}
	if p, ok := m["pagination"].(map[string]any); ok {
		cfg.NextSelector, _ = p["selector"].(string)
	}
	return cfg, nil
}

// scrapeList records one record per list item, following a next-page
// control until the limit is reached or the control disappears.
func (in *Interpreter) scrapeList(ctx context.Context, page Page, step models.Step, res *Result) error {
	raw, ok := step.MapArg(0)
	if !ok {
		return fmt.Errorf("%w: scrapeList needs a config", ErrBadArgs)
	}
	cfg, err := parseListConfig(raw)
	if err != nil {
		return err
	}

	collected := 0
	for pageNo := 0; pageNo < in.opts.MaxRepeats; pageNo++ {
		snap, err := page.Snapshot(ctx)
		if err != nil {
			return err
		}
		for _, item := range snap.Query(cfg.ListSelector) {
			if cfg.Limit > 0 && collected >= cfg.Limit {
				return nil
			}
			res.Records = append(res.Records, extractItem(item, cfg, page.URL()))
			collected++
		}
		if cfg.NextSelector == "" || (cfg.Limit > 0 && collected >= cfg.Limit) {
			return nil
		}
		if !snap.IsVisible(cfg.NextSelector) {
			return nil
		}
		if err := page.Click(ctx, firstVisible(snap, cfg.NextSelector)); err != nil {
			return fmt.Errorf("next page: %w", err)
		}
		if err := page.WaitForLoadState(ctx, models.NetworkIdle); err != nil {
			return fmt.Errorf("next page: %w", err)
		}
	}
	return nil
}

// firstVisible picks the first alternative of a selector group that is
// visible, so the click targets a concrete control.
func firstVisible(snap *selector.Snapshot, group string) string {
	for _, alt := range strings.Split(group, ",") {
		alt = strings.TrimSpace(alt)
		if alt != "" && snap.IsVisible(alt) {
			return alt
		}
	}
	return group
}

func extractItem(item *html.Node, cfg listConfig, pageURL string) map[string]any {
	sel := goquery.NewDocumentFromNode(item).Selection
	record := make(map[string]any, len(cfg.Names))
	if len(cfg.Names) == 0 {
		record["text"] = strings.Join(strings.Fields(sel.Text()), " ")
		return record
	}
	for _, name := range cfg.Names {
		f := cfg.Fields[name]
		rel := lastSegment(f.Selector)
		match := sel.Find(rel).First()
		if rel == "" {
			match = sel
		}
		if match.Length() == 0 {
			record[name] = ""
			continue
		}
		record[name] = valueOf(match, f.Attribute, pageURL)
	}
	return record
}

// lastSegment drops the boundary hosts of a cross-boundary selector. Field
// selectors are evaluated inside the list item they belong to.
func lastSegment(sel string) string {
	for _, delim := range []string{selector.FrameDelimiter, selector.ShadowDelimiter} {
		if i := strings.LastIndex(sel, delim); i >= 0 {
			sel = sel[i+len(delim):]
		}
	}
	return strings.TrimSpace(sel)
}

func valueOf(s *goquery.Selection, attribute, pageURL string) string {
	switch attribute {
	case attrInnerText, "":
		return strings.Join(strings.Fields(s.Text()), " ")
	case attrInnerHTML:
		h, _ := s.Html()
		return h
	case "href", "src":
		v, _ := s.Attr(attribute)
		return absolute(pageURL, v)
	default:
		v, _ := s.Attr(attribute)
		return v
	}
}

func absolute(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}
