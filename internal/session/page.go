package session

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/shehryarbajwa/browserflow/internal/interpret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// idleWindow is how long the network must be quiet to count as idle.
const idleWindow = 500 * time.Millisecond

// loadStateTimeout bounds one load-state wait. A page that never goes
// quiet is treated as loaded.
const loadStateTimeout = 10 * time.Second

const setValueJS = `function (v) {
  this.value = v;
  this.dispatchEvent(new Event('input', { bubbles: true }));
  this.dispatchEvent(new Event('change', { bubbles: true }));
}`

var (
	_ workflow.Page  = livePage{}
	_ interpret.Page = livePage{}
)

// livePage is the session's active tab as seen by the generator and the
// interpreter. Every call addresses the tab that is active at call time.
type livePage struct {
	s *RemoteBrowser
}

func (p livePage) page(ctx context.Context) (*rod.Page, error) {
	page := p.s.activePage()
	if page == nil {
		return nil, ErrNoPage
	}
	return page.Context(ctx), nil
}

func (p livePage) URL() string {
	page := p.s.activePage()
	if page == nil {
		return ""
	}
	return pageURL(page)
}

func (p livePage) Snapshot(ctx context.Context) (*selector.Snapshot, error) {
	page, err := p.page(ctx)
	if err != nil {
		return nil, err
	}
	res, err := page.Eval(snapshotJS, p.s.snapshotDepth)
	if err != nil {
		return nil, fmt.Errorf("serialize page: %w", err)
	}
	return selector.Decode([]byte(res.Value.Str()))
}

func (p livePage) PrefixWidths(ctx context.Context, sel string) ([]float64, float64, error) {
	el, err := p.element(ctx, sel)
	if err != nil {
		return nil, 0, err
	}
	res, err := el.Eval(widthsJS, el.Object)
	if err != nil {
		return nil, 0, fmt.Errorf("measure %s: %w", sel, err)
	}
	var out struct {
		Widths []float64 `json:"widths"`
		Left   float64   `json:"left"`
	}
	if err := res.Value.Unmarshal(&out); err != nil {
		return nil, 0, fmt.Errorf("measure %s: %w", sel, err)
	}
	return out.Widths, out.Left, nil
}

// element resolves a selector chain, crossing shadow and frame boundaries.
func (p livePage) element(ctx context.Context, sel string) (*rod.Element, error) {
	page, err := p.page(ctx)
	if err != nil {
		return nil, err
	}
	el, err := page.ElementByJS(rod.Eval(resolveJS, sel))
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", sel, err)
	}
	return el, nil
}

func (p livePage) Goto(ctx context.Context, url string) error {
	page, err := p.page(ctx)
	if err != nil {
		return err
	}
	return page.Navigate(url)
}

func (p livePage) GoBack(ctx context.Context) error {
	page, err := p.page(ctx)
	if err != nil {
		return err
	}
	return page.NavigateBack()
}

func (p livePage) GoForward(ctx context.Context) error {
	page, err := p.page(ctx)
	if err != nil {
		return err
	}
	return page.NavigateForward()
}

func (p livePage) WaitForLoadState(ctx context.Context, state string) error {
	waitCtx, cancel := context.WithTimeout(ctx, loadStateTimeout)
	defer cancel()
	page, err := p.page(waitCtx)
	if err != nil {
		return err
	}
	switch state {
	case "load", "domcontentloaded":
		if err := page.WaitLoad(); err != nil && ctx.Err() == nil && waitCtx.Err() == nil {
			return err
		}
	default:
		page.WaitRequestIdle(idleWindow, nil, nil, nil)()
	}
	return context.Cause(ctx)
}

func (p livePage) Click(ctx context.Context, sel string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (p livePage) Press(ctx context.Context, sel, key string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return err
	}
	page, err := p.page(ctx)
	if err != nil {
		return err
	}
	return pressKey(page, key)
}

func (p livePage) Type(ctx context.Context, sel, value string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	return el.Input(value)
}

func (p livePage) Fill(ctx context.Context, sel, value string) error {
	el, err := p.element(ctx, sel)
	if err != nil {
		return err
	}
	_, err = el.Eval(setValueJS, value)
	return err
}

func (p livePage) SelectOption(ctx context.Context, sel, value string) error {
	return p.Fill(ctx, sel, value)
}

func (p livePage) Scroll(ctx context.Context, pages int) error {
	page, err := p.page(ctx)
	if err != nil {
		return err
	}
	res, err := page.Eval(`() => window.innerHeight`)
	if err != nil {
		return err
	}
	return page.Mouse.Scroll(0, res.Value.Num()*float64(pages), 1)
}

func (p livePage) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := p.page(ctx)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(fullPage, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
}

func (p livePage) OpenTab(ctx context.Context, url string) error {
	return p.s.openTab(ctx, url)
}

func (p livePage) SwitchTab(ctx context.Context, index int) error {
	return p.s.switchTab(ctx, index)
}

func (p livePage) CloseTab(ctx context.Context, index int) error {
	return p.s.closeTab(ctx, index)
}

var namedKeys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Backspace":  input.Backspace,
	"Delete":     input.Delete,
	"Escape":     input.Escape,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"Home":       input.Home,
	"End":        input.End,
	"PageUp":     input.PageUp,
	"PageDown":   input.PageDown,
	"Shift":      input.ShiftLeft,
	"Control":    input.ControlLeft,
	"Alt":        input.AltLeft,
	"Meta":       input.MetaLeft,
}

// keyFor maps a DOM key value to a rod key. Printable ASCII maps to its
// own key. Anything else has no key and is inserted as text.
func keyFor(key string) (input.Key, bool) {
	if k, ok := namedKeys[key]; ok {
		return k, true
	}
	if len(key) == 1 && key[0] >= ' ' && key[0] <= '~' {
		return input.Key(key[0]), true
	}
	return 0, false
}

func pressKey(page *rod.Page, key string) error {
	if k, ok := keyFor(key); ok {
		return page.Keyboard.Type(k)
	}
	if len([]rune(key)) == 1 {
		return page.InsertText(key)
	}
	return fmt.Errorf("%w: unknown key %q", interpret.ErrBadArgs, key)
}

// pageURL returns the url of a tab, empty when it is gone.
func pageURL(page *rod.Page) string {
	info, err := page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// tabsOf describes tabs for the client.
func tabsOf(pages []*rod.Page, active *rod.Page) []models.Tab {
	tabs := make([]models.Tab, len(pages))
	for i, p := range pages {
		tabs[i] = models.Tab{Index: i, URL: pageURL(p), Active: p == active}
	}
	return tabs
}
