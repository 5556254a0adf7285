package interpret

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// fakePage serves fixed markup per url and records every call.
type fakePage struct {
	mu     sync.Mutex
	url    string
	pages  map[string]string
	links  map[string]string // selector -> url a click navigates to
	calls  []string
	block  chan struct{}
	failOn string
}

func (p *fakePage) record(format string, args ...any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := fmt.Sprintf(format, args...)
	p.calls = append(p.calls, call)
	if p.failOn != "" && strings.HasPrefix(call, p.failOn) {
		return errors.New("element detached")
	}
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Snapshot(context.Context) (*selector.Snapshot, error) {
	return selector.ParseHTML(strings.NewReader(p.pages[p.URL()]))
}

func (p *fakePage) Goto(_ context.Context, u string) error {
	p.mu.Lock()
	p.url = u
	p.mu.Unlock()
	return p.record("goto %s", u)
}

func (p *fakePage) GoBack(context.Context) error { return p.record("back") }
func (p *fakePage) GoForward(context.Context) error { return p.record("forward") }

func (p *fakePage) WaitForLoadState(ctx context.Context, state string) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.record("wait %s", state)
}

func (p *fakePage) Click(_ context.Context, sel string) error {
	if err := p.record("click %s", sel); err != nil {
		return err
	}
	if u, ok := p.links[sel]; ok {
		p.mu.Lock()
		p.url = u
		p.mu.Unlock()
	}
	return nil
}

func (p *fakePage) Press(_ context.Context, sel, key string) error {
	return p.record("press %s %s", sel, key)
}

func (p *fakePage) Type(_ context.Context, sel, value string) error {
	return p.record("type %s %s", sel, value)
}

func (p *fakePage) Fill(_ context.Context, sel, value string) error {
	return p.record("fill %s %s", sel, value)
}

func (p *fakePage) SelectOption(_ context.Context, sel, value string) error {
	return p.record("select %s %s", sel, value)
}

func (p *fakePage) Scroll(_ context.Context, pages int) error { return p.record("scroll %d", pages) }

func (p *fakePage) Screenshot(_ context.Context, full bool) ([]byte, error) {
	return []byte("png"), p.record("screenshot %t", full)
}

func (p *fakePage) OpenTab(_ context.Context, u string) error { return p.record("open %s", u) }
func (p *fakePage) SwitchTab(_ context.Context, i int) error { return p.record("switch %d", i) }
func (p *fakePage) CloseTab(_ context.Context, i int) error { return p.record("close %d", i) }

func newInterpreter(t testing.TB) (*Interpreter, secret.Box) {
	t.Helper()
	box, err := secret.NewAESBox("k")
	require.NoError(t, err)
	return New(Options{MaxRepeats: 10, StepTimeout: time.Second}, box, zap.NewNop(), nil), box
}

func seal(t testing.TB, box secret.Box, v string) string {
	t.Helper()
	s, err := box.Encrypt(v)
	require.NoError(t, err)
	return s
}

const loginMarkup = `<form><input id="user"><input id="pass" type="password"><button id="login">Go</button></form>`

const resultsMarkup = `
<h1 id="title">Results</h1>
<ul class="results">
<li class="item"><span class="title">One</span><a class="more" href="/one">more</a></li>
<li class="item"><span class="title">Two</span><a class="more" href="/two">more</a></li>
</ul>
<a id="next" rel="next" href="/results?p=2">Next</a>`

const resultsMarkup2 = `
<ul class="results"><li class="item"><span class="title">Three</span><a class="more" href="/three">more</a></li></ul>`

func TestRunReplaysLogin(t *testing.T) {
	in, box := newInterpreter(t)
	page := &fakePage{
		url: "about:blank",
		pages: map[string]string{
			"about:blank":              "<body></body>",
			"https://example.com":      loginMarkup,
			"https://example.com/home": `<p id="welcome">Hi</p>`,
		},
		links: map[string]string{"#login": "https://example.com/home"},
	}
	file := models.WorkflowFile{Workflow: []models.Rule{
		{
			Where: models.Where{URL: models.ExactURL("https://example.com"), Selectors: []string{"#user", "#pass"}},
			What: []models.Step{
				{Action: models.ActionType, Args: []any{"#user", models.Param("user"), "text"}},
				{Action: models.ActionType, Args: []any{"#pass", seal(t, box, "hunter2"), "password"}},
				{Action: models.ActionPress, Args: []any{"#pass", seal(t, box, "Enter"), "password"}},
				{Action: models.ActionClick, Args: []any{"#login"}},
				models.WaitStep(),
			},
		},
		{
			Where: models.Where{URL: models.ExactURL("about:blank")},
			What:  []models.Step{{Action: models.ActionGoto, Args: []any{"https://example.com"}}, models.WaitStep()},
		},
	}}

	res, err := in.Run(context.Background(), page, file, map[string]string{"user": "ada"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rules)
	assert.Equal(t, []string{
		"goto https://example.com",
		"wait networkidle",
		"type #user ada",
		"type #pass hunter2",
		"press #pass Enter",
		"click #login",
		"wait networkidle",
	}, page.calls)
	assert.NotEmpty(t, res.Log)
	assert.False(t, in.Running())
}

func TestRunScrapesListAcrossPages(t *testing.T) {
	in, _ := newInterpreter(t)
	page := &fakePage{
		url: "https://x.com/results",
		pages: map[string]string{
			"https://x.com/results":     resultsMarkup,
			"https://x.com/results?p=2": resultsMarkup2,
		},
		links: map[string]string{"a[rel=\"next\"]": "https://x.com/results?p=2"},
	}
	file := models.WorkflowFile{Workflow: []models.Rule{{
		Where: models.Where{URL: models.ExactURL("https://x.com/results")},
		What: []models.Step{
			{Action: models.ActionScrapeSchema, Args: []any{map[string]any{
				"heading": map[string]any{"selector": "#title"},
			}}},
			{Action: models.ActionScrapeList, Args: []any{map[string]any{
				"listSelector": "ul.results > li.item",
				"fields": map[string]any{
					"title": map[string]any{"selector": "ul.results > li.item > span.title"},
					"link":  map[string]any{"selector": "ul.results > li.item > a.more", "attribute": "href"},
				},
				"limit":      float64(3),
				"pagination": map[string]any{"selector": "a[rel=\"next\"], #next"},
			}}},
		},
	}}}

	res, err := in.Run(context.Background(), page, file, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{
		{"heading": "Results"},
		{"title": "One", "link": "https://x.com/one"},
		{"title": "Two", "link": "https://x.com/two"},
		{"title": "Three", "link": "https://x.com/three"},
	}, res.Records)
	assert.Contains(t, page.calls, `click a[rel="next"]`)
}

func TestRunScrapeAndScreenshot(t *testing.T) {
	in, _ := newInterpreter(t)
	page := &fakePage{url: "https://x.com/results", pages: map[string]string{"https://x.com/results": resultsMarkup}}
	file := models.WorkflowFile{Workflow: []models.Rule{{
		What: []models.Step{
			{Action: models.ActionScrape, Args: []any{map[string]any{"selector": "span.title"}}},
			{Action: models.ActionScreenshot, Args: []any{map[string]any{"fullPage": true}}},
			{Action: models.ActionScroll, Args: []any{float64(2)}},
		},
	}}}
	res, err := in.Run(context.Background(), page, file, nil)
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"text": "One"}, {"text": "Two"}}, res.Records)
	require.Len(t, res.Artifacts, 1)
	assert.Equal(t, "image/png", res.Artifacts[0].MimeType)
	assert.Equal(t, []string{"screenshot true", "scroll 2"}, page.calls)
}

func TestRunStopsWhenNothingApplies(t *testing.T) {
	in, _ := newInterpreter(t)
	page := &fakePage{url: "https://x.com", pages: map[string]string{"https://x.com": loginMarkup}}
	file := models.WorkflowFile{Workflow: []models.Rule{{
		Where: models.Where{Selectors: []string{"#missing"}},
		What:  []models.Step{{Action: models.ActionClick, Args: []any{"#missing"}}},
	}}}
	res, err := in.Run(context.Background(), page, file, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Rules)
	assert.Empty(t, page.calls)
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		steps  []models.Step
		params map[string]string
		failOn string
		want   error
	}{
		{name: "unknown action", steps: []models.Step{{Action: "eval", Args: []any{"1+1"}}}, want: ErrUnsupportedAction},
		{name: "missing selector", steps: []models.Step{{Action: models.ActionClick}}, want: ErrBadArgs},
		{name: "missing param", steps: []models.Step{{Action: models.ActionGoto, Args: []any{models.Param("start")}}}},
		{name: "undecryptable value", steps: []models.Step{{Action: models.ActionType, Args: []any{"#q", "plain"}}}, want: secret.ErrCiphertext},
		{name: "page failure", steps: []models.Step{{Action: models.ActionClick, Args: []any{"#login"}}}, failOn: "click"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _ := newInterpreter(t)
			page := &fakePage{url: "https://x.com", pages: map[string]string{"https://x.com": loginMarkup}, failOn: tt.failOn}
			res, err := in.Run(context.Background(), page, models.WorkflowFile{Workflow: []models.Rule{{What: tt.steps}}}, tt.params)
			require.Error(t, err)
			require.NotNil(t, res)
			assert.NotEmpty(t, res.Log)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestStopCancelsMidStep(t *testing.T) {
	in, _ := newInterpreter(t)
	page := &fakePage{
		url:   "https://x.com",
		pages: map[string]string{"https://x.com": loginMarkup},
		block: make(chan struct{}),
	}
	file := models.WorkflowFile{Workflow: []models.Rule{{What: []models.Step{models.WaitStep()}}}}

	done := make(chan error, 1)
	go func() {
		_, err := in.Run(context.Background(), page, file, nil)
		done <- err
	}()
	require.Eventually(t, in.Running, time.Second, 5*time.Millisecond)

	_, err := in.Run(context.Background(), page, file, nil)
	assert.ErrorIs(t, err, ErrBusy)

	in.Stop()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("replay did not stop")
	}
}
