package workflow

import (
	"fmt"
	"slices"

	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Keys that edit the accumulated value. Other named keys such as Enter or
// Tab end a typing run and are kept as press steps.
const (
	keyBackspace  = "Backspace"
	keyDelete     = "Delete"
	keyArrowLeft  = "ArrowLeft"
	keyArrowRight = "ArrowRight"
	keyHome       = "Home"
	keyEnd        = "End"
)

var modifierKeys = []string{"Shift", "Control", "Alt", "Meta", "CapsLock"}

// typingRun accumulates the caret clicks and key presses recorded against
// one field.
type typingRun struct {
	selector  string
	inputType string
	value     []rune
	cursor    int
	edited    bool
	steps     []models.Step
}

func (r *typingRun) moveTo(i int) {
	r.cursor = max(0, min(i, len(r.value)))
}

// apply reports false for keys that do not belong to the run.
func (r *typingRun) apply(key string) bool {
	if slices.Contains(modifierKeys, key) {
		return true
	}
	switch key {
	case keyBackspace:
		if r.cursor > 0 {
			r.value = slices.Delete(r.value, r.cursor-1, r.cursor)
			r.cursor--
		}
	case keyDelete:
		if r.cursor < len(r.value) {
			r.value = slices.Delete(r.value, r.cursor, r.cursor+1)
		}
	case keyArrowLeft:
		r.moveTo(r.cursor - 1)
		return true
	case keyArrowRight:
		r.moveTo(r.cursor + 1)
		return true
	case keyHome:
		r.moveTo(0)
		return true
	case keyEnd:
		r.moveTo(len(r.value))
		return true
	default:
		runes := []rune(key)
		if len(runes) != 1 {
			return false
		}
		r.value = slices.Insert(r.value, r.cursor, runes[0])
		r.cursor++
	}
	r.edited = true
	return true
}

// Optimize collapses the caret clicks and single key presses recorded while
// typing into one type step per field carrying the final value. Values are
// decrypted to replay the edits and the result is encrypted again.
func Optimize(file models.WorkflowFile, box secret.Box) (models.WorkflowFile, error) {
	out := file.Clone()
	for i := range out.Workflow {
		steps, err := optimizeSteps(out.Workflow[i].What, box)
		if err != nil {
			return models.WorkflowFile{}, fmt.Errorf("rule %d: %w", i, err)
		}
		out.Workflow[i].What = steps
	}
	return out, nil
}

func optimizeSteps(steps []models.Step, box secret.Box) ([]models.Step, error) {
	out := make([]models.Step, 0, len(steps))
	var run *typingRun

	flush := func() error {
		if run == nil {
			return nil
		}
		defer func() { run = nil }()
		if !run.edited {
			out = append(out, run.steps...)
			return nil
		}
		sealed, err := box.Encrypt(string(run.value))
		if err != nil {
			return fmt.Errorf("encrypt typed value: %w", err)
		}
		out = append(out,
			models.Step{Action: models.ActionType, Args: []any{run.selector, sealed, run.inputType}},
			models.WaitStep(),
		)
		return nil
	}

	for _, step := range steps {
		switch {
		case isCaretClick(step):
			sel, _ := step.StringArg(0)
			idx, _ := step.MapArg(1)
			pos, _ := models.IntArg(idx[cursorKey])
			if run == nil || run.selector != sel {
				if err := flush(); err != nil {
					return nil, err
				}
				run = &typingRun{selector: sel, inputType: "text"}
			}
			run.moveTo(pos)
			run.steps = append(run.steps, step)

		case step.Action == models.ActionPress:
			sel, _ := step.StringArg(0)
			sealed, _ := step.StringArg(1)
			key, err := box.Decrypt(sealed)
			if err != nil || sel == "" {
				if err := flush(); err != nil {
					return nil, err
				}
				out = append(out, step)
				continue
			}
			if run == nil || run.selector != sel {
				if err := flush(); err != nil {
					return nil, err
				}
				run = &typingRun{selector: sel, inputType: "text"}
			}
			if t, ok := step.StringArg(2); ok && t != "" {
				run.inputType = t
			}
			if !run.apply(key) {
				if err := flush(); err != nil {
					return nil, err
				}
				out = append(out, step, models.WaitStep())
				continue
			}
			run.steps = append(run.steps, step)

		case step.Action == models.ActionWaitForLoadState && run != nil:
			run.steps = append(run.steps, step)

		default:
			if err := flush(); err != nil {
				return nil, err
			}
			out = append(out, step)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return slices.CompactFunc(out, func(a, b models.Step) bool {
		return a.Action == models.ActionWaitForLoadState && b.Action == models.ActionWaitForLoadState
	}), nil
}

func isCaretClick(step models.Step) bool {
	if step.Action != models.ActionClick {
		return false
	}
	m, ok := step.MapArg(1)
	if !ok {
		return false
	}
	_, ok = m[cursorKey]
	return ok
}
