// Package workflow turns recorded input into a replayable workflow.
//
// A Generator accumulates (where, what) pairs for one recording session.
// Every pair is merged into an existing rule with the same single selector,
// folded into a rule it overshadows at the insertion anchor, or inserted as
// a new rule. The full document is emitted after each mutation.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

var (
	ErrRuleIndex    = errors.New("rule index out of range")
	ErrStepIndex    = errors.New("step index out of range")
	ErrNoDecision   = errors.New("no decision pending")
	ErrEmptyPair    = errors.New("pair has no steps")
	ErrNoSnapshot   = errors.New("page snapshot unavailable")
	ErrNoSelector   = errors.New("no selector for element")
	ErrAnchorBounds = errors.New("insertion anchor out of range")
)

// Page is the live page as the generator sees it.
type Page interface {
	URL() string
	Snapshot(ctx context.Context) (*selector.Snapshot, error)
	// PrefixWidths measures the rendered width of every prefix of the
	// field's value and the viewport x where its text starts.
	PrefixWidths(ctx context.Context, sel string) (widths []float64, textLeft float64, err error)
}

// Emitter receives outbound events.
type Emitter interface {
	Emit(event string, data any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, data any)

// Emit implements Emitter.
func (f EmitterFunc) Emit(event string, data any) { f(event, data) }

// InsertionAnchor is the rule index new rules are spliced at. A nil anchor
// inserts at the front.
type InsertionAnchor struct {
	Index int
}

// State is the ephemeral recording state. It is reset on Save.
type State struct {
	LastSelector string
	LastAction   string
	Anchor       *InsertionAnchor
	Mode         selector.Mode
	// LastX and LastY are the last click coordinates, used to address
	// keyboard input.
	LastX, LastY float64

	pending *models.DecisionPrompt
}

// Generator records one session's workflow.
type Generator struct {
	mu sync.Mutex

	file  models.WorkflowFile
	state State

	synth   *selector.Synthesizer
	box     secret.Box
	emitter Emitter
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewGenerator returns a generator with an empty workflow.
func NewGenerator(synth *selector.Synthesizer, box secret.Box, emitter Emitter, logger *zap.Logger, m *metrics.Collector) *Generator {
	if emitter == nil {
		emitter = EmitterFunc(func(string, any) {})
	}
	return &Generator{
		file:    models.WorkflowFile{Workflow: []models.Rule{}},
		synth:   synth,
		box:     box,
		emitter: emitter,
		logger:  logger.With(zap.String("component", "generator")),
		metrics: m,
	}
}

// Workflow returns a copy of the working document.
func (g *Generator) Workflow() models.WorkflowFile {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.file.Clone()
}

// State returns a copy of the recording state.
func (g *Generator) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.state
	if s.Anchor != nil {
		a := *s.Anchor
		s.Anchor = &a
	}
	return s
}

// AddPair folds a recorded pair into the workflow and emits the result.
func (g *Generator) AddPair(ctx context.Context, page Page, pair models.Rule) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addPair(ctx, page, pair)
}

func (g *Generator) addPair(ctx context.Context, page Page, pair models.Rule) error {
	if len(pair.What) == 0 {
		return ErrEmptyPair
	}
	pair = pair.Clone()

	var snap *selector.Snapshot
	snapshot := func() *selector.Snapshot {
		if snap == nil && page != nil {
			s, err := page.Snapshot(ctx)
			if err != nil {
				g.logger.Debug("snapshot for visibility check failed", zap.Error(err))
				return nil
			}
			snap = s
		}
		return snap
	}

	if pair.What[0].Action == models.ActionScrapeSchema {
		g.broadenSchema(&pair, snapshot())
	}

	if len(pair.Where.Selectors) > 0 && pair.Where.Selectors[0] != "" {
		if i := g.ruleWithSoleSelector(pair.Where.Selectors[0]); i >= 0 {
			rule := &g.file.Workflow[i]
			rule.What = append(rule.What, withWait(pair.What)...)
			g.metrics.Pair("merged")
			g.emitWorkflow()
			return nil
		}
	}

	if i := g.overshadowing(pair, snapshot()); i >= 0 {
		if i == g.anchorIndex() {
			rule := &g.file.Workflow[i]
			for _, sel := range pair.Where.Selectors {
				if !slices.Contains(rule.Where.Selectors, sel) {
					rule.Where.Selectors = append(rule.Where.Selectors, sel)
				}
			}
			rule.What = append(rule.What, withWait(pair.What)...)
			g.metrics.Pair("overshadowed")
			g.emitWorkflow()
			return nil
		}
		g.logger.Info("overshadowing rule is not at the insertion anchor, inserting",
			zap.Int("rule", i), zap.Int("anchor", g.anchorIndex()))
		g.metrics.Pair("overshadow_unresolved")
	}

	pair.What = withWait(pair.What)
	g.insert(pair)
	g.metrics.Pair("inserted")
	g.emitWorkflow()
	return nil
}

// insert splices a new rule at the anchor. Inserting at index zero clears
// the anchor, any other index moves it one rule towards the front.
func (g *Generator) insert(rule models.Rule) {
	a := g.state.Anchor
	if a == nil || a.Index <= 0 {
		g.file.Workflow = slices.Insert(g.file.Workflow, 0, rule)
		g.state.Anchor = nil
		return
	}
	idx := min(a.Index, len(g.file.Workflow))
	g.file.Workflow = slices.Insert(g.file.Workflow, idx, rule)
	a.Index = idx - 1
}

func (g *Generator) anchorIndex() int {
	if g.state.Anchor == nil {
		return 0
	}
	return g.state.Anchor.Index
}

func (g *Generator) ruleWithSoleSelector(sel string) int {
	for i, r := range g.file.Workflow {
		if len(r.Where.Selectors) == 1 && r.Where.Selectors[0] == sel {
			return i
		}
	}
	return -1
}

// overshadowing returns the first rule on the pair's url whose selectors
// are all visible on the page, or -1.
func (g *Generator) overshadowing(pair models.Rule, snap *selector.Snapshot) int {
	if snap == nil {
		return -1
	}
	for i, r := range g.file.Workflow {
		if r.Where.URL != pair.Where.URL || len(r.Where.Selectors) == 0 {
			continue
		}
		if snap.AllVisible(r.Where.Selectors) {
			return i
		}
	}
	return -1
}

// broadenSchema adds every visible schema field selector to the pair's
// condition. Invisible fields are skipped.
func (g *Generator) broadenSchema(pair *models.Rule, snap *selector.Snapshot) {
	if snap == nil {
		return
	}
	schema, ok := pair.What[0].MapArg(0)
	if !ok {
		return
	}
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field, ok := schema[k].(map[string]any)
		if !ok {
			continue
		}
		sel, _ := field["selector"].(string)
		if sel == "" || slices.Contains(pair.Where.Selectors, sel) {
			continue
		}
		if snap.IsVisible(sel) {
			pair.Where.Selectors = append(pair.Where.Selectors, sel)
		}
	}
}

// withWait appends a network-idle wait unless the last step already is a
// wait or a key press.
func withWait(steps []models.Step) []models.Step {
	if len(steps) == 0 || steps[len(steps)-1].IsWaitOrPress() {
		return steps
	}
	return append(steps, models.WaitStep())
}

func (g *Generator) emitWorkflow() {
	g.emitter.Emit(models.EventWorkflow, g.file.Clone())
}

// SetInsertionAnchor makes new rules splice in at index.
func (g *Generator) SetInsertionAnchor(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index < 0 || index > len(g.file.Workflow) {
		return fmt.Errorf("%w: %d", ErrAnchorBounds, index)
	}
	g.state.Anchor = &InsertionAnchor{Index: index}
	return nil
}

// ClearInsertionAnchor makes new rules go to the front again.
func (g *Generator) ClearInsertionAnchor() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state.Anchor = nil
}

// UpdateStep replaces one step of the working copy.
func (g *Generator) UpdateStep(ruleIndex, stepIndex int, step models.Step) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if ruleIndex < 0 || ruleIndex >= len(g.file.Workflow) {
		return fmt.Errorf("%w: %d", ErrRuleIndex, ruleIndex)
	}
	rule := &g.file.Workflow[ruleIndex]
	if stepIndex < 0 || stepIndex >= len(rule.What) {
		return fmt.Errorf("%w: %d", ErrStepIndex, stepIndex)
	}
	rule.What[stepIndex] = models.Step{Action: step.Action, Args: slices.Clone(step.Args)}
	g.emitWorkflow()
	return nil
}

// RemoveRule deletes one rule of the working copy.
func (g *Generator) RemoveRule(index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if index < 0 || index >= len(g.file.Workflow) {
		return fmt.Errorf("%w: %d", ErrRuleIndex, index)
	}
	g.file.Workflow = slices.Delete(g.file.Workflow, index, index+1)
	if a := g.state.Anchor; a != nil && a.Index > len(g.file.Workflow) {
		a.Index = len(g.file.Workflow)
	}
	g.emitWorkflow()
	return nil
}

// Save optimizes the workflow, records its parameters and returns the
// document. The recording state is reset.
func (g *Generator) Save(meta models.WorkflowMeta) (models.WorkflowFile, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	optimized, err := Optimize(g.file, g.box)
	if err != nil {
		return models.WorkflowFile{}, fmt.Errorf("optimize workflow: %w", err)
	}
	meta.Params = Params(optimized)
	optimized.Meta = meta
	g.file = optimized
	g.state = State{}
	g.emitWorkflow()
	return g.file.Clone(), nil
}

// Load replaces the working copy with a saved document.
func (g *Generator) Load(file models.WorkflowFile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.file = file.Clone()
	if g.file.Workflow == nil {
		g.file.Workflow = []models.Rule{}
	}
	g.state = State{}
	g.emitWorkflow()
}
