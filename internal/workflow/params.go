package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// ErrMissingParam is returned when a placeholder has no runtime value.
var ErrMissingParam = errors.New("missing workflow parameter")

// Params returns the distinct placeholder names of the workflow in the
// order they first appear.
func Params(file models.WorkflowFile) []string {
	var names []string
	for _, rule := range file.Workflow {
		for _, step := range rule.What {
			for _, arg := range step.Args {
				walkParams(arg, func(name string) {
					if !slices.Contains(names, name) {
						names = append(names, name)
					}
				})
			}
		}
	}
	return names
}

func walkParams(arg any, fn func(string)) {
	switch v := arg.(type) {
	case map[string]any:
		if name, ok := ParamName(v); ok {
			fn(name)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			walkParams(v[k], fn)
		}
	case []any:
		for _, e := range v {
			walkParams(e, fn)
		}
	}
}

// ParamName reports whether arg is a placeholder and returns its name.
func ParamName(arg any) (string, bool) {
	m, ok := arg.(map[string]any)
	if !ok || len(m) != 1 {
		return "", false
	}
	name, ok := m[models.ParamKey].(string)
	return name, ok && name != ""
}

// Substitute returns a copy of the step with every placeholder replaced by
// its value.
func Substitute(step models.Step, values map[string]string) (models.Step, error) {
	out := models.Step{Action: step.Action, Args: make([]any, len(step.Args))}
	for i, arg := range step.Args {
		v, err := substitute(arg, values)
		if err != nil {
			return models.Step{}, err
		}
		out.Args[i] = v
	}
	return out, nil
}

func substitute(arg any, values map[string]string) (any, error) {
	if name, ok := ParamName(arg); ok {
		v, found := values[name]
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
		}
		return v, nil
	}
	switch v := arg.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			s, err := substitute(e, values)
			if err != nil {
				return nil, err
			}
			out[k] = s
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			s, err := substitute(e, values)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	return arg, nil
}
