package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// ErrUnknownInput is returned for an input event type the session does
// not handle.
var ErrUnknownInput = errors.New("unknown input event")

var selectionKinds = map[string]string{
	models.InputDropdownSelect: workflow.OverlayDropdown,
	models.InputDateSelect:     workflow.OverlayDate,
	models.InputTimeSelect:     workflow.OverlayTime,
	models.InputDateTimeSelect: workflow.OverlayDateTime,
}

// HandleInput applies one client event to the active tab. Events are
// handled one at a time. In a recording session each event is recorded
// before it reaches the page, except history navigation which is recorded
// once the page has moved.
func (s *RemoteBrowser) HandleInput(ctx context.Context, ev models.InputEvent) error {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	switch s.Phase() {
	case PhaseShuttingDown, PhaseClosed:
		return ErrSessionClosed
	}
	s.touch()

	page := s.activePage()
	if page == nil && ev.Type != models.InputAddTab {
		return ErrNoPage
	}
	lp := livePage{s}
	recording := s.state == models.StateRecording && s.Phase() == PhaseRecording

	switch ev.Type {
	case models.InputClick:
		if recording {
			out, err := s.generator.OnClick(ctx, lp, ev.X, ev.Y)
			s.recorded(ev.Type, err)
			if out.Kind == workflow.ClickOverlay {
				return nil
			}
		}
		return s.click(ctx, page, ev.X, ev.Y)

	case models.InputWheel:
		return page.Context(ctx).Mouse.Scroll(ev.DeltaX, ev.DeltaY, 1)

	case models.InputMouseMove:
		return page.Context(ctx).Mouse.MoveTo(proto.Point{X: ev.X, Y: ev.Y})

	case models.InputKeyUp:
		return nil

	case models.InputKeyDown:
		if recording {
			s.recorded(ev.Type, s.generator.OnKeyDown(ctx, lp, ev.Key))
		}
		return pressKey(page.Context(ctx), ev.Key)

	case models.InputNavigate:
		u := navigable(ev.URL)
		if recording {
			s.recorded(ev.Type, s.generator.OnNavigate(ctx, lp, u))
		}
		return page.Context(ctx).Navigate(u)

	case models.InputRefresh:
		return page.Context(ctx).Reload()

	case models.InputBack:
		if err := page.Context(ctx).NavigateBack(); err != nil {
			return err
		}
		if recording {
			s.recorded(ev.Type, s.generator.OnGoBack(ctx, lp, pageURL(page)))
		}
		return nil

	case models.InputForward:
		if err := page.Context(ctx).NavigateForward(); err != nil {
			return err
		}
		if recording {
			s.recorded(ev.Type, s.generator.OnGoForward(ctx, lp, pageURL(page)))
		}
		return nil

	case models.InputDropdownSelect, models.InputDateSelect, models.InputTimeSelect, models.InputDateTimeSelect:
		if recording {
			s.recorded(ev.Type, s.generator.OnSelection(ctx, lp, selectionKinds[ev.Type], ev.Selector, ev.Value))
		}
		return lp.Fill(ctx, ev.Selector, ev.Value)

	case models.InputCustomAction:
		if !recording {
			return nil
		}
		return s.generator.OnCustomAction(ctx, lp, ev.Action, ev.Settings)

	case models.InputDecision:
		if !recording {
			return nil
		}
		return s.generator.ResolveDecision(ctx, lp, ev.Accept)

	case models.InputAddTab:
		u := ev.URL
		if u != "" {
			u = navigable(u)
		}
		if recording && page != nil {
			s.recorded(ev.Type, s.generator.OnOpenTab(ctx, lp, u))
		}
		return s.openTab(ctx, u)

	case models.InputSwitchTab:
		if recording {
			s.recorded(ev.Type, s.generator.OnSwitchTab(ctx, lp, ev.Index))
		}
		return s.switchTab(ctx, ev.Index)

	case models.InputCloseTab:
		if err := s.closeTab(ctx, ev.Index); err != nil {
			return err
		}
		if recording {
			s.recorded(ev.Type, s.generator.OnCloseTab(ctx, lp, ev.Index))
		}
		return nil

	case models.InputListMode:
		s.generator.SetMode(modeFor(ev.Enabled, selector.ModeList))
		return nil

	case models.InputPagination:
		s.generator.SetMode(modeFor(ev.Enabled, selector.ModePagination))
		return nil

	case models.InputScreencast:
		if ev.Enabled {
			return s.SubscribeToScreencast(ctx)
		}
		return s.StopScreencast(ctx)
	}
	return fmt.Errorf("%w: %q", ErrUnknownInput, ev.Type)
}

// navigable adds https to a url typed without a scheme.
func navigable(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "data:") {
		return raw
	}
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		return raw
	}
	return "https://" + raw
}

func modeFor(enabled bool, m selector.Mode) selector.Mode {
	if enabled {
		return m
	}
	return selector.ModeUnique
}

// recorded logs a recording failure. The event still reaches the page.
func (s *RemoteBrowser) recorded(input string, err error) {
	if err != nil {
		s.logger.Warn("input not recorded", zap.String("input", input), zap.Error(err))
	}
}

// click dispatches a click and gives a navigation it triggers a bounded
// time to start.
func (s *RemoteBrowser) click(ctx context.Context, page *rod.Page, x, y float64) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationWait)
	defer cancel()
	wait := page.Context(waitCtx).WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)

	p := page.Context(ctx)
	if err := p.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return err
	}
	if err := p.Mouse.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return err
	}
	wait()
	return nil
}
