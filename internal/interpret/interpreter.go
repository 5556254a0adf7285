// Package interpret replays a recorded workflow against a page.
//
// The interpreter repeatedly snapshots the page, picks the first rule whose
// condition holds, executes its steps and drops it from the working copy.
// Steps are a closed set of actions dispatched by a switch.
package interpret

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action")
	ErrBadArgs           = errors.New("bad step arguments")
	ErrStopped           = errors.New("interpretation stopped")
	ErrBusy              = errors.New("interpretation already running")
)

// Options bound a replay.
type Options struct {
	MaxRepeats  int
	StepTimeout time.Duration
}

// Artifact is a binary output of a run.
type Artifact struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result is what a replay produced. It is returned even when the replay
// fails.
type Result struct {
	Records   []map[string]any
	Artifacts []Artifact
	Log       []string
	Rules     int
}

func (r *Result) logf(format string, args ...any) {
	r.Log = append(r.Log, time.Now().UTC().Format(time.RFC3339)+" "+fmt.Sprintf(format, args...))
}

// Interpreter replays workflows. One interpreter runs one replay at a time.
type Interpreter struct {
	opts    Options
	box     secret.Box
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

// New returns an interpreter.
func New(opts Options, box secret.Box, logger *zap.Logger, m *metrics.Collector) *Interpreter {
	if opts.MaxRepeats <= 0 {
		opts.MaxRepeats = 30
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	return &Interpreter{
		opts:    opts,
		box:     box,
		logger:  logger.With(zap.String("component", "interpreter")),
		metrics: m,
	}
}

// Run replays file on page with the given parameter values.
func (in *Interpreter) Run(ctx context.Context, page Page, file models.WorkflowFile, params map[string]string) (*Result, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	in.mu.Lock()
	if in.cancel != nil {
		in.mu.Unlock()
		cancel(nil)
		return &Result{}, ErrBusy
	}
	in.cancel = cancel
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.cancel = nil
		in.mu.Unlock()
		cancel(nil)
	}()

	res := &Result{}
	working := file.Clone().Workflow
	for repeat := 0; repeat < in.opts.MaxRepeats && len(working) > 0; repeat++ {
		if err := context.Cause(ctx); err != nil {
			res.logf("stopped: %v", err)
			return res, err
		}
		snap, err := page.Snapshot(ctx)
		if err != nil {
			res.logf("snapshot failed: %v", err)
			return res, fmt.Errorf("snapshot: %w", err)
		}
		idx := applicable(working, page.URL(), snap)
		if idx < 0 {
			res.logf("no rule applies on %s", page.URL())
			break
		}
		rule := working[idx]
		res.logf("rule %d applies on %s", idx, page.URL())
		for i, step := range rule.What {
			if err := in.step(ctx, page, step, params, res); err != nil {
				if cause := context.Cause(ctx); cause != nil {
					err = cause
				}
				res.logf("step %d (%s) failed: %v", i, step.Action, err)
				return res, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
			}
		}
		res.Rules++
		working = append(working[:idx], working[idx+1:]...)
	}
	res.logf("finished after %d rules with %d records", res.Rules, len(res.Records))
	return res, nil
}

// Stop cancels a running replay, also in the middle of a step.
func (in *Interpreter) Stop() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.cancel != nil {
		in.cancel(ErrStopped)
	}
}

// Running reports whether a replay is in progress.
func (in *Interpreter) Running() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.cancel != nil
}

// applicable returns the first rule whose url matches and whose selectors
// all resolve, or -1.
func applicable(rules []models.Rule, pageURL string, snap *selector.Snapshot) int {
	for i, r := range rules {
		if !r.Where.URL.Matches(pageURL) {
			continue
		}
		ok := true
		for _, sel := range r.Where.Selectors {
			if snap.Count(sel) == 0 {
				ok = false
				break
			}
		}
		if ok {
			return i
		}
	}
	return -1
}

func (in *Interpreter) step(ctx context.Context, page Page, raw models.Step, params map[string]string, res *Result) (err error) {
	ctx, cancel := context.WithTimeout(ctx, in.opts.StepTimeout)
	defer cancel()
	defer func() { in.metrics.Step(raw.Action, err) }()

	step, err := workflow.Substitute(raw, params)
	if err != nil {
		return err
	}

	switch step.Action {
	case models.ActionGoto:
		u, ok := step.StringArg(0)
		if !ok {
			return fmt.Errorf("%w: goto needs a url", ErrBadArgs)
		}
		return page.Goto(ctx, u)
	case models.ActionGoBack:
		return page.GoBack(ctx)
	case models.ActionGoForward:
		return page.GoForward(ctx)
	case models.ActionWaitForLoadState:
		state, _ := step.StringArg(0)
		if state == "" {
			state = models.NetworkIdle
		}
		return page.WaitForLoadState(ctx, state)
	case models.ActionClick:
		sel, ok := step.StringArg(0)
		if !ok {
			return fmt.Errorf("%w: click needs a selector", ErrBadArgs)
		}
		return page.Click(ctx, sel)
	case models.ActionPress:
		sel, value, err := in.secretArgs(raw, step)
		if err != nil {
			return err
		}
		return page.Press(ctx, sel, value)
	case models.ActionType:
		sel, value, err := in.secretArgs(raw, step)
		if err != nil {
			return err
		}
		return page.Type(ctx, sel, value)
	case models.ActionFill:
		sel, value, err := plainArgs(step)
		if err != nil {
			return err
		}
		return page.Fill(ctx, sel, value)
	case models.ActionSelectOption:
		sel, value, err := plainArgs(step)
		if err != nil {
			return err
		}
		return page.SelectOption(ctx, sel, value)
	case models.ActionScroll:
		pages := 1
		if len(step.Args) > 0 {
			if n, ok := models.IntArg(step.Args[0]); ok && n != 0 {
				pages = n
			}
		}
		return page.Scroll(ctx, pages)
	case models.ActionScreenshot:
		full := false
		if m, ok := step.MapArg(0); ok {
			full, _ = m["fullPage"].(bool)
		}
		data, err := page.Screenshot(ctx, full)
		if err != nil {
			return err
		}
		res.Artifacts = append(res.Artifacts, Artifact{
			Name:     fmt.Sprintf("screenshot-%d.png", len(res.Artifacts)+1),
			MimeType: "image/png",
			Data:     data,
		})
		return nil
	case models.ActionScrape:
		return in.scrape(ctx, page, step, res)
	case models.ActionScrapeSchema:
		return in.scrapeSchema(ctx, page, step, res)
	case models.ActionScrapeList:
		return in.scrapeList(ctx, page, step, res)
	case models.ActionOpenTab:
		u, _ := step.StringArg(0)
		return page.OpenTab(ctx, u)
	case models.ActionSwitchTab, models.ActionCloseTab:
		idx := 0
		if len(step.Args) > 0 {
			n, ok := models.IntArg(step.Args[0])
			if !ok {
				return fmt.Errorf("%w: %s needs a tab index", ErrBadArgs, step.Action)
			}
			idx = n
		}
		if step.Action == models.ActionSwitchTab {
			return page.SwitchTab(ctx, idx)
		}
		return page.CloseTab(ctx, idx)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAction, step.Action)
	}
}

// secretArgs returns the selector and value of a press or type step.
// Recorded values are decrypted, parameter values are used as given.
func (in *Interpreter) secretArgs(raw, step models.Step) (string, string, error) {
	sel, value, err := plainArgs(step)
	if err != nil {
		return "", "", err
	}
	if _, isParam := workflow.ParamName(raw.Args[1]); isParam {
		return sel, value, nil
	}
	plain, err := in.box.Decrypt(value)
	if err != nil {
		return "", "", fmt.Errorf("decrypt %s value: %w", step.Action, err)
	}
	return sel, plain, nil
}

func plainArgs(step models.Step) (string, string, error) {
	sel, ok := step.StringArg(0)
	if !ok {
		return "", "", fmt.Errorf("%w: %s needs a selector", ErrBadArgs, step.Action)
	}
	value, ok := step.StringArg(1)
	if !ok {
		return "", "", fmt.Errorf("%w: %s needs a value", ErrBadArgs, step.Action)
	}
	return sel, value, nil
}
