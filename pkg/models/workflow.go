package models

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Step actions understood by the generator and the interpreter.
const (
	ActionClick            = "click"
	ActionPress            = "press"
	ActionType             = "type"
	ActionFill             = "fill"
	ActionSelectOption     = "selectOption"
	ActionGoto             = "goto"
	ActionGoBack           = "goBack"
	ActionGoForward        = "goForward"
	ActionWaitForLoadState = "waitForLoadState"
	ActionScroll           = "scroll"
	ActionScreenshot       = "screenshot"
	ActionScrape           = "scrape"
	ActionScrapeSchema     = "scrapeSchema"
	ActionScrapeList       = "scrapeList"
	ActionOpenTab          = "openTab"
	ActionSwitchTab        = "switchTab"
	ActionCloseTab         = "closeTab"
)

// NetworkIdle is the load state appended after navigating actions.
const NetworkIdle = "networkidle"

// ParamKey marks a step argument as a runtime-supplied placeholder.
const ParamKey = "$param"

// URLMatch is the url part of a rule condition. It is either an exact
// url or a regular expression, serialized as {"$regex": "..."}.
type URLMatch struct {
	Value string
	Regex bool
}

// ExactURL returns a literal url condition.
func ExactURL(u string) URLMatch {
	return URLMatch{Value: u}
}

// RegexURL returns a regular-expression url condition.
func RegexURL(pattern string) URLMatch {
	return URLMatch{Value: pattern, Regex: true}
}

// IsZero reports whether no url condition is set.
func (m URLMatch) IsZero() bool {
	return m.Value == ""
}

// Matches reports whether the page url satisfies the condition.
func (m URLMatch) Matches(pageURL string) bool {
	if m.IsZero() {
		return true
	}
	if m.Regex {
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return false
		}
		return re.MatchString(pageURL)
	}
	return NormalizeURL(m.Value) == NormalizeURL(pageURL)
}

// MarshalJSON implements json.Marshaler.
func (m URLMatch) MarshalJSON() ([]byte, error) {
	if m.Regex {
		return json.Marshal(map[string]string{"$regex": m.Value})
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *URLMatch) UnmarshalJSON(data []byte) error {
	var plain string
	if err := json.Unmarshal(data, &plain); err == nil {
		*m = URLMatch{Value: plain}
		return nil
	}
	var obj map[string]string
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("url condition must be a string or {\"$regex\": ...}: %w", err)
	}
	pattern, ok := obj["$regex"]
	if !ok {
		return fmt.Errorf("url condition object has no $regex key")
	}
	*m = URLMatch{Value: pattern, Regex: true}
	return nil
}

// NormalizeURL lowercases scheme and host and drops a trailing slash so
// that equivalent page addresses compare equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" {
		return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Opaque == "" {
		u.Path = strings.TrimSuffix(u.Path, "/")
		u.RawPath = ""
	}
	return u.String()
}

// Where is the match condition of a rule.
type Where struct {
	URL       URLMatch `json:"url,omitzero"`
	Selectors []string `json:"selectors,omitempty"`
}

// Step is one atomic action with its arguments.
type Step struct {
	Action string `json:"action"`
	Args   []any  `json:"args,omitempty"`
}

// StringArg returns args[i] when it is a string.
func (s Step) StringArg(i int) (string, bool) {
	if i < 0 || i >= len(s.Args) {
		return "", false
	}
	v, ok := s.Args[i].(string)
	return v, ok
}

// MapArg returns args[i] when it is an object.
func (s Step) MapArg(i int) (map[string]any, bool) {
	if i < 0 || i >= len(s.Args) {
		return nil, false
	}
	v, ok := s.Args[i].(map[string]any)
	return v, ok
}

// IsWaitOrPress reports whether the step is assumed not to navigate.
func (s Step) IsWaitOrPress() bool {
	return s.Action == ActionWaitForLoadState || s.Action == ActionPress
}

// WaitStep returns the network-idle wait appended after navigating steps.
func WaitStep() Step {
	return Step{Action: ActionWaitForLoadState, Args: []any{NetworkIdle}}
}

// Param returns a placeholder argument for a runtime parameter.
func Param(name string) map[string]any {
	return map[string]any{ParamKey: name}
}

// Rule is one (where, what) pair of a workflow.
type Rule struct {
	ID    string `json:"id,omitempty"`
	Where Where  `json:"where"`
	What  []Step `json:"what"`
}

// Clone copies the rule so edits do not alias the original slices.
func (r Rule) Clone() Rule {
	out := Rule{ID: r.ID, Where: Where{URL: r.Where.URL}}
	if r.Where.Selectors != nil {
		out.Where.Selectors = append([]string(nil), r.Where.Selectors...)
	}
	out.What = make([]Step, len(r.What))
	for i, s := range r.What {
		out.What[i] = Step{Action: s.Action, Args: append([]any(nil), s.Args...)}
	}
	return out
}

// WorkflowMeta describes a saved workflow.
type WorkflowMeta struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Params    []string  `json:"params,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// WorkflowFile is the complete workflow document emitted on every mutation
// and accepted for replay.
type WorkflowFile struct {
	Meta     WorkflowMeta `json:"meta"`
	Workflow []Rule       `json:"workflow"`
}

// Clone deep-copies the rules of the document.
func (w WorkflowFile) Clone() WorkflowFile {
	out := WorkflowFile{Meta: w.Meta, Workflow: make([]Rule, len(w.Workflow))}
	out.Meta.Params = append([]string(nil), w.Meta.Params...)
	for i, r := range w.Workflow {
		out.Workflow[i] = r.Clone()
	}
	return out
}

// IntArg converts a decoded numeric argument to int.
func IntArg(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
