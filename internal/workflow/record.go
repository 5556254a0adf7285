package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// ClickKind tells the session how to reproduce a recorded click.
type ClickKind int

const (
	// ClickReplay means the click should be dispatched to the page.
	ClickReplay ClickKind = iota
	// ClickOverlay means a value picker must be shown instead.
	ClickOverlay
	// ClickIgnored means nothing was hit or no selector exists. The click
	// is still dispatched by coordinates.
	ClickIgnored
)

// Overlay kinds sent with picker prompts.
const (
	OverlayDropdown = "dropdown"
	OverlayDate     = "date"
	OverlayTime     = "time"
	OverlayDateTime = "datetime-local"
)

// ClickOutcome is the result of recording a click.
type ClickOutcome struct {
	Kind     ClickKind
	Selector string
	Event    string
	Prompt   *models.OverlayPrompt
}

// SetMode switches selector synthesis between unique, list and
// pagination addressing.
func (g *Generator) SetMode(mode selector.Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Mode = mode
}

// OnClick records a click at viewport coordinates.
func (g *Generator) OnClick(ctx context.Context, page Page, x, y float64) (ClickOutcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.LastX, g.state.LastY = x, y

	target, info, err := g.resolve(ctx, page, x, y, models.ActionClick)
	if err != nil {
		return ClickOutcome{Kind: ClickIgnored}, err
	}
	sel := g.synth.For(target, g.state.Mode, models.ActionClick)
	if sel == "" {
		g.logger.Debug("no selector for clicked element", zap.String("tag", info.Tag))
		g.metrics.Pair("unresolved")
		return ClickOutcome{Kind: ClickIgnored}, nil
	}

	if kind, event, ok := overlayFor(info); ok {
		prompt := &models.OverlayPrompt{
			Selector: sel,
			Kind:     kind,
			Value:    info.Value,
			Options:  info.Options,
			X:        info.Rect.X,
			Y:        info.Rect.Y,
			Width:    info.Rect.Width,
			Height:   info.Rect.Height,
		}
		g.emitter.Emit(event, prompt)
		return ClickOutcome{Kind: ClickOverlay, Selector: sel, Event: event, Prompt: prompt}, nil
	}

	step := models.Step{Action: models.ActionClick, Args: []any{sel}}
	if isTextField(info) {
		step.Args = append(step.Args, map[string]any{cursorKey: g.cursorIndex(ctx, page, sel, info, x)})
	}
	pair := models.Rule{
		Where: models.Where{URL: BestURL(page.URL()), Selectors: []string{sel}},
		What:  []models.Step{step},
	}
	g.state.LastSelector = sel
	g.state.LastAction = models.ActionClick
	if err := g.addPair(ctx, page, pair); err != nil {
		return ClickOutcome{Kind: ClickIgnored}, err
	}
	return ClickOutcome{Kind: ClickReplay, Selector: sel}, nil
}

// OnKeyDown records a key press against the element under the last
// pointer position.
func (g *Generator) OnKeyDown(ctx context.Context, page Page, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, info, err := g.resolve(ctx, page, g.state.LastX, g.state.LastY, models.ActionPress)
	if err != nil {
		return err
	}
	sel := g.synth.For(target, selector.ModeUnique, models.ActionPress)
	if sel == "" {
		g.logger.Debug("no selector for key target", zap.String("tag", info.Tag))
		return nil
	}
	sealed, err := g.box.Encrypt(key)
	if err != nil {
		return fmt.Errorf("encrypt key: %w", err)
	}
	inputType := info.InputType
	if inputType == "" {
		inputType = "text"
	}
	pair := models.Rule{
		Where: models.Where{URL: BestURL(page.URL()), Selectors: []string{sel}},
		What:  []models.Step{{Action: models.ActionPress, Args: []any{sel, sealed, inputType}}},
	}
	g.state.LastSelector = sel
	g.state.LastAction = models.ActionPress
	return g.addPair(ctx, page, pair)
}

// OnNavigate records navigating away from the current page to rawURL.
func (g *Generator) OnNavigate(ctx context.Context, page Page, rawURL string) error {
	return g.recordNavigation(ctx, page, page.URL(), models.Step{Action: models.ActionGoto, Args: []any{rawURL}})
}

// OnGoBack records a history back navigation that landed on newURL.
func (g *Generator) OnGoBack(ctx context.Context, page Page, newURL string) error {
	return g.recordNavigation(ctx, page, newURL, models.Step{Action: models.ActionGoBack})
}

// OnGoForward records a history forward navigation that landed on newURL.
func (g *Generator) OnGoForward(ctx context.Context, page Page, newURL string) error {
	return g.recordNavigation(ctx, page, newURL, models.Step{Action: models.ActionGoForward})
}

// OnOpenTab records opening a tab.
func (g *Generator) OnOpenTab(ctx context.Context, page Page, rawURL string) error {
	step := models.Step{Action: models.ActionOpenTab}
	if rawURL != "" {
		step.Args = []any{rawURL}
	}
	return g.recordNavigation(ctx, page, page.URL(), step)
}

// OnSwitchTab records switching to the tab at index.
func (g *Generator) OnSwitchTab(ctx context.Context, page Page, index int) error {
	return g.recordNavigation(ctx, page, page.URL(), models.Step{Action: models.ActionSwitchTab, Args: []any{index}})
}

// OnCloseTab records closing the tab at index.
func (g *Generator) OnCloseTab(ctx context.Context, page Page, index int) error {
	return g.recordNavigation(ctx, page, page.URL(), models.Step{Action: models.ActionCloseTab, Args: []any{index}})
}

func (g *Generator) recordNavigation(ctx context.Context, page Page, whereURL string, step models.Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.LastSelector = ""
	g.state.LastAction = step.Action
	pair := models.Rule{
		Where: models.Where{URL: BestURL(whereURL)},
		What:  []models.Step{step},
	}
	return g.addPair(ctx, page, pair)
}

// OnSelection records a value chosen through a picker overlay. Dropdowns
// replay as selectOption, date and time pickers as fill.
func (g *Generator) OnSelection(ctx context.Context, page Page, kind, sel, value string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	action := models.ActionFill
	if kind == OverlayDropdown {
		action = models.ActionSelectOption
	}
	pair := models.Rule{
		Where: models.Where{URL: BestURL(page.URL()), Selectors: []string{sel}},
		What:  []models.Step{{Action: action, Args: []any{sel, value}}},
	}
	g.state.LastSelector = sel
	g.state.LastAction = action
	return g.addPair(ctx, page, pair)
}

// OnCustomAction records a scrape, screenshot or scroll. When a selector
// was used just before, the client decides whether the action should be
// scoped to it and the pair waits for ResolveDecision.
func (g *Generator) OnCustomAction(ctx context.Context, page Page, action string, settings any) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pair := models.Rule{
		Where: models.Where{URL: BestURL(page.URL())},
		What:  []models.Step{{Action: action, Args: settingsArgs(settings)}},
	}
	if g.state.LastSelector == "" {
		return g.addPair(ctx, page, pair)
	}

	prompt := &models.DecisionPrompt{
		Pair:       pair,
		ActionType: "customAction",
		Selector:   g.state.LastSelector,
		LastAction: g.state.LastAction,
	}
	if snap, err := page.Snapshot(ctx); err == nil {
		if nodes := snap.Query(g.state.LastSelector); len(nodes) > 0 {
			prompt.TagName = strings.ToUpper(nodes[0].Data)
			prompt.InnerText = snap.Text(nodes[0])
		}
	}
	g.state.pending = prompt
	g.emitter.Emit(models.EventDecision, prompt)
	return nil
}

// ResolveDecision records the pending custom action, scoped to the last
// used selector when accept is true.
func (g *Generator) ResolveDecision(ctx context.Context, page Page, accept bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	prompt := g.state.pending
	if prompt == nil {
		return ErrNoDecision
	}
	g.state.pending = nil
	g.state.LastSelector = ""
	pair := prompt.Pair
	if accept {
		pair.Where.Selectors = []string{prompt.Selector}
	}
	return g.addPair(ctx, page, pair)
}

// PendingDecision returns the prompt awaiting an answer.
func (g *Generator) PendingDecision() (models.DecisionPrompt, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.pending == nil {
		return models.DecisionPrompt{}, false
	}
	return *g.state.pending, true
}

// ListFields returns the child selectors of a list container, used to
// prefill a list-scrape schema.
func (g *Generator) ListFields(ctx context.Context, page Page, listSelector string) ([]string, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
	}
	return g.synth.ChildSelectors(snap, listSelector), nil
}

func (g *Generator) resolve(ctx context.Context, page Page, x, y float64, action string) (*selector.Target, selector.ElementInfo, error) {
	snap, err := page.Snapshot(ctx)
	if err != nil {
		return nil, selector.ElementInfo{}, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
	}
	target, ok := snap.ResolvePoint(x, y, g.synth.Options().MaxDepth)
	if !ok {
		return nil, selector.ElementInfo{}, fmt.Errorf("%w at (%.0f, %.0f) for %s", ErrNoSelector, x, y, action)
	}
	target = target.Retarget(g.state.Mode == selector.ModeList)
	return target, g.synth.Describe(target), nil
}

func overlayFor(info selector.ElementInfo) (kind, event string, ok bool) {
	if info.Tag == "select" {
		return OverlayDropdown, models.EventShowDropdown, true
	}
	if info.Tag != "input" {
		return "", "", false
	}
	switch info.InputType {
	case "date":
		return OverlayDate, models.EventShowDatePicker, true
	case "time":
		return OverlayTime, models.EventShowTimePicker, true
	case "datetime-local":
		return OverlayDateTime, models.EventShowDateTimePicker, true
	}
	return "", "", false
}

func isTextField(info selector.ElementInfo) bool {
	if info.Tag == "textarea" {
		return true
	}
	if info.Tag != "input" {
		return false
	}
	switch info.InputType {
	case "", "text", "password", "email", "search", "tel", "url", "number":
		return true
	}
	return false
}

func settingsArgs(settings any) []any {
	switch s := settings.(type) {
	case nil:
		return nil
	case []any:
		return s
	default:
		return []any{s}
	}
}
