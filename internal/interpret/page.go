package interpret

import (
	"context"

	"github.com/shehryarbajwa/browserflow/internal/selector"
)

// Page is the browser page a workflow is replayed against. Selectors may
// cross shadow and frame boundaries.
type Page interface {
	URL() string
	Snapshot(ctx context.Context) (*selector.Snapshot, error)

	Goto(ctx context.Context, url string) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	WaitForLoadState(ctx context.Context, state string) error

	Click(ctx context.Context, sel string) error
	Press(ctx context.Context, sel, key string) error
	Type(ctx context.Context, sel, value string) error
	Fill(ctx context.Context, sel, value string) error
	SelectOption(ctx context.Context, sel, value string) error
	Scroll(ctx context.Context, pages int) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)

	OpenTab(ctx context.Context, url string) error
	SwitchTab(ctx context.Context, index int) error
	CloseTab(ctx context.Context, index int) error
}
