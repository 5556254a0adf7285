// Package session owns live remote browsers.
//
// A RemoteBrowser drives one isolated browser context over the DevTools
// protocol. It streams the active tab as a screencast, reproduces client
// input on the page and records that input through its workflow
// Generator before replaying it. The Manager registers sessions in the
// pool and bounds how many browsers run at once.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/browser"
	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/interpret"
	"github.com/shehryarbajwa/browserflow/internal/logging"
	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Phase is the lifecycle state of a RemoteBrowser.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
	PhaseRecording     Phase = "recording"
	PhaseRunning       Phase = "running"
	PhaseShuttingDown  Phase = "shutting_down"
	PhaseClosed        Phase = "closed"
)

// ErrLastTab is returned when closing the only open tab.
var ErrLastTab = errors.New("cannot close the last tab")

// Options configures a RemoteBrowser.
type Options struct {
	ID       string
	UserID   string
	State    models.SessionState
	Config   config.SessionConfig
	Launcher browser.Launcher
	Synth    *selector.Synthesizer
	Box      secret.Box
	Logger   *zap.Logger
	Metrics  *metrics.Collector
	// OnLost runs, on its own goroutine, when the browser connection drops
	// while the session is live. Without it the session switches itself
	// off.
	OnLost func(id string)
}

// tab is an open page and the cancel func of its event listener.
type tab struct {
	page   *rod.Page
	cancel context.CancelFunc
}

// RemoteBrowser is one live browser context.
type RemoteBrowser struct {
	id       string
	userID   string
	state    models.SessionState
	cfg      config.SessionConfig
	launcher browser.Launcher
	logger   *zap.Logger
	metrics  *metrics.Collector
	onLost   func(id string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu            sync.RWMutex
	phase         Phase
	instance      *browser.Instance
	conn          *devtoolsConn
	browser       *rod.Browser
	tabs          []*tab
	active        *rod.Page
	screencasting bool
	lastActivity  time.Time

	sinkMu sync.RWMutex
	sink   workflow.Emitter

	// inputMu serializes input so that each recorded pair resolves
	// before the next event is handled.
	inputMu sync.Mutex

	generator   *workflow.Generator
	interpreter *interpret.Interpreter
	frames      *frameQueue
	optimizer   frameOptimizer
	urls        urlTracker
	watchdog    *watchdog

	// snapshotDepth bounds the shadow and frame nesting a page snapshot
	// descends into.
	snapshotDepth int

	startedAt time.Time
	closeOnce sync.Once
	closeErr  error
}

// New returns an uninitialized session.
func New(opts Options) *RemoteBrowser {
	ctx, cancel := context.WithCancel(context.Background())
	s := &RemoteBrowser{
		id:           opts.ID,
		userID:       opts.UserID,
		state:        opts.State,
		cfg:          opts.Config,
		launcher:     opts.Launcher,
		logger:       logging.Session(opts.Logger.With(zap.String("component", "session")), opts.ID, opts.UserID),
		metrics:      opts.Metrics,
		onLost:       opts.OnLost,
		ctx:          ctx,
		cancel:       cancel,
		phase:        PhaseUninitialized,
		frames:       newFrameQueue(),
		startedAt:    time.Now(),
		lastActivity: time.Now(),
		optimizer: frameOptimizer{
			maxWidth: opts.Config.OptimizeMaxWidth,
			quality:  opts.Config.ScreencastQuality,
			deadline: opts.Config.OptimizeDeadline,
		},
	}
	s.snapshotDepth = selector.DefaultOptions().MaxDepth
	if opts.Synth != nil {
		s.snapshotDepth = opts.Synth.Options().MaxDepth
	}
	s.generator = workflow.NewGenerator(opts.Synth, opts.Box, s, s.logger, opts.Metrics)
	s.interpreter = interpret.New(interpret.Options{
		MaxRepeats:  opts.Config.MaxRepeats,
		StepTimeout: opts.Config.InterpretStepTimeout,
	}, opts.Box, s.logger, opts.Metrics)
	s.watchdog = newWatchdog(opts.Config.WatchdogInterval, opts.Config.MemorySoftLimitMB<<20, nil, s.onMemorySoft, s.onMemoryHard)
	return s
}

// ID returns the session id.
func (s *RemoteBrowser) ID() string { return s.id }

// UserID returns the owning user.
func (s *RemoteBrowser) UserID() string { return s.userID }

// Generator returns the session's workflow generator.
func (s *RemoteBrowser) Generator() *workflow.Generator { return s.generator }

// Phase returns the lifecycle state.
func (s *RemoteBrowser) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *RemoteBrowser) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// LastActivity returns when input was last handled.
func (s *RemoteBrowser) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

func (s *RemoteBrowser) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// Info describes the session for API clients.
func (s *RemoteBrowser) Info() models.Session {
	return models.Session{
		ID:        s.id,
		UserID:    s.userID,
		State:     s.state,
		Phase:     string(s.Phase()),
		URL:       livePage{s}.URL(),
		StartedAt: s.startedAt,
	}
}

// Attach routes outbound events to sink and returns a func that detaches
// it again. Only one sink is attached at a time.
func (s *RemoteBrowser) Attach(sink workflow.Emitter) (detach func()) {
	s.sinkMu.Lock()
	s.sink = sink
	s.sinkMu.Unlock()
	return func() {
		s.sinkMu.Lock()
		if s.sink == sink {
			s.sink = nil
		}
		s.sinkMu.Unlock()
	}
}

// Emit implements workflow.Emitter. Events without an attached sink are
// dropped.
func (s *RemoteBrowser) Emit(event string, data any) {
	s.sinkMu.RLock()
	sink := s.sink
	s.sinkMu.RUnlock()
	if sink != nil {
		sink.Emit(event, data)
	}
}

// Initialize launches the browser, retrying with exponential backoff up
// to the configured attempt budget, and opens the first tab.
func (s *RemoteBrowser) Initialize(ctx context.Context, proxy *models.ProxyConfig) error {
	s.setPhase(PhaseInitializing)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = s.cfg.LaunchBackoff
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := s.launch(ctx, proxy)
		s.metrics.LaunchAttempt(err == nil)
		return struct{}{}, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(s.cfg.LaunchAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("browser launch failed, retrying", zap.Error(err), zap.Duration("backoff", next))
		}),
	)
	if err != nil {
		s.logger.Error("browser launch failed", zap.Int("attempts", attempts), zap.Error(err))
		s.cancel()
		s.setPhase(PhaseClosed)
		return &InitializationError{Attempts: attempts, Err: err}
	}

	s.watchdog.start()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.frames.consume(s.ctx, s.deliverFrame)
	}()
	s.mu.RLock()
	lost := s.conn.Lost()
	s.mu.RUnlock()
	go func() {
		defer s.wg.Done()
		s.watchConnection(lost)
	}()

	s.setPhase(PhaseReady)
	if s.state == models.StateRecording {
		s.setPhase(PhaseRecording)
	}
	s.logger.Info("session initialized", zap.Int("attempts", attempts))
	return nil
}

func (s *RemoteBrowser) launch(ctx context.Context, proxy *models.ProxyConfig) error {
	inst, err := s.launcher.Launch(ctx, browser.LaunchOptions{SessionID: s.id, UserID: s.userID, Proxy: proxy})
	if err != nil {
		return err
	}
	var (
		conn      *devtoolsConn
		incognito *rod.Browser
	)
	fail := func(err error) error {
		cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		s.mu.Lock()
		s.instance, s.conn, s.browser = nil, nil, nil
		s.tabs, s.active = nil, nil
		s.mu.Unlock()
		if incognito != nil {
			if err := incognito.Context(cleanup).Close(); err != nil {
				s.logger.Debug("dispose failed browser context", zap.Error(err))
			}
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("close failed devtools connection", zap.Error(err))
			}
		}
		if stopErr := s.launcher.Stop(cleanup, inst); stopErr != nil {
			s.logger.Warn("stop failed launch", zap.Error(stopErr))
		}
		return err
	}

	conn, root, err := dialDevtools(s.ctx, ctx, inst.ControlURL)
	if err != nil {
		return fail(err)
	}
	if err := root.Connect(); err != nil {
		return fail(fmt.Errorf("connect devtools: %w", err))
	}
	incognito, err = root.Incognito()
	if err != nil {
		return fail(fmt.Errorf("create browser context: %w", err))
	}
	if proxy != nil && proxy.Username != "" {
		auth := incognito.HandleAuth(proxy.Username, proxy.Password)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := auth(); err != nil && s.ctx.Err() == nil {
				s.logger.Warn("proxy authentication failed", zap.Error(err))
			}
		}()
	}

	s.mu.Lock()
	s.instance = inst
	s.conn = conn
	s.browser = incognito
	s.mu.Unlock()

	if _, err := s.addTab(incognito, ""); err != nil {
		return fail(fmt.Errorf("open first tab: %w", err))
	}
	s.watchPopups(incognito)
	return nil
}

// watchConnection waits for the browser connection to drop. A drop
// while the session is live is reported to the client and hands the
// session to onLost for teardown.
func (s *RemoteBrowser) watchConnection(lost <-chan struct{}) {
	select {
	case <-s.ctx.Done():
		return
	case <-lost:
	}
	if s.ctx.Err() != nil {
		return
	}
	if p := s.Phase(); p == PhaseShuttingDown || p == PhaseClosed {
		return
	}
	s.logger.Error("browser connection lost", zap.String("phase", string(s.Phase())))
	s.metrics.BrowserLost()
	s.Emit(models.EventSessionError, models.SessionError{
		SessionID: s.id,
		Reason:    "browser_disconnected",
		Message:   "the browser connection was lost",
	})
	if s.onLost != nil {
		go s.onLost(s.id)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.SwitchOff(ctx); err != nil {
			s.logger.Warn("switch off lost session", zap.Error(err))
		}
	}()
}

// addTab opens a page in b, prepares it and makes it active.
func (s *RemoteBrowser) addTab(b *rod.Browser, url string) (*rod.Page, error) {
	page, err := b.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	if err := s.preparePage(page); err != nil {
		_ = page.Close()
		return nil, err
	}
	s.register(page)
	if err := s.activate(page); err != nil {
		s.logger.Warn("activate new tab", zap.Error(err))
	}
	if url != "" {
		if err := page.Context(s.ctx).Navigate(url); err != nil {
			return page, fmt.Errorf("navigate new tab: %w", err)
		}
	}
	return page, nil
}

func (s *RemoteBrowser) preparePage(page *rod.Page) error {
	if _, err := page.EvalOnNewDocument(stealthJS); err != nil {
		return fmt.Errorf("install stealth script: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	s.applyAdblock(page)
	return nil
}

// applyAdblock blocks the configured url patterns. Failure leaves the page
// unfiltered.
func (s *RemoteBrowser) applyAdblock(page *rod.Page) {
	if len(s.cfg.BlockedURLPatterns) == 0 {
		return
	}
	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		s.logger.Warn("adblock unavailable", zap.Error(err))
		return
	}
	if err := (proto.NetworkSetBlockedURLs{Urls: s.cfg.BlockedURLPatterns}).Call(page); err != nil {
		s.logger.Warn("adblock unavailable", zap.Error(err))
	}
}

// register adds page to the tab list and listens to its frames and
// navigations until the tab closes or the session ends.
func (s *RemoteBrowser) register(page *rod.Page) {
	ctx, cancel := context.WithCancel(s.ctx)
	pg := page.Context(ctx)
	wait := pg.EachEvent(
		func(e *proto.PageScreencastFrame) {
			_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(pg)
			if s.activePage() != page {
				return
			}
			f := rawFrame{Seq: e.SessionID, Data: e.Data, Width: s.cfg.ViewportWidth, Height: s.cfg.ViewportHeight}
			if e.Metadata != nil {
				f.Width, f.Height = int(e.Metadata.DeviceWidth), int(e.Metadata.DeviceHeight)
			}
			if s.frames.push(f) {
				s.metrics.Frame("coalesced")
			}
		},
		func(e *proto.PageFrameNavigated) {
			if e.Frame == nil || e.Frame.ParentID != "" || s.activePage() != page {
				return
			}
			s.announceURL(e.Frame.URL + e.Frame.URLFragment)
		},
	)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait()
	}()

	s.mu.Lock()
	s.tabs = append(s.tabs, &tab{page: page, cancel: cancel})
	s.mu.Unlock()
}

// watchPopups adopts tabs opened by pages of this session.
func (s *RemoteBrowser) watchPopups(b *rod.Browser) {
	wait := b.Context(s.ctx).EachEvent(func(e *proto.TargetTargetCreated) {
		info := e.TargetInfo
		if info == nil || info.Type != proto.TargetTargetInfoTypePage || info.OpenerID == "" || !s.ownsTarget(info.OpenerID) {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			page, err := b.PageFromTarget(info.TargetID)
			if err != nil {
				s.logger.Debug("adopt popup", zap.Error(err))
				return
			}
			if err := s.preparePage(page); err != nil {
				s.logger.Debug("prepare popup", zap.Error(err))
			}
			s.register(page)
			if err := s.activate(page); err != nil {
				s.logger.Debug("activate popup", zap.Error(err))
			}
			s.emitTabs()
		}()
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait()
	}()
}

func (s *RemoteBrowser) ownsTarget(id proto.TargetTargetID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.ContainsFunc(s.tabs, func(t *tab) bool { return t.page.TargetID == id })
}

func (s *RemoteBrowser) activePage() *rod.Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// activate makes page the active tab and moves the screencast to it.
func (s *RemoteBrowser) activate(page *rod.Page) error {
	s.mu.Lock()
	prev := s.active
	s.active = page
	casting := s.screencasting
	s.mu.Unlock()

	if _, err := page.Activate(); err != nil {
		return err
	}
	if casting && prev != page {
		if prev != nil {
			_ = proto.PageStopScreencast{}.Call(prev)
		}
		s.frames.clear()
		if err := s.startScreencast(page); err != nil {
			return err
		}
	}
	s.announceURL(pageURL(page))
	return nil
}

func (s *RemoteBrowser) announceURL(u string) {
	if u == "" || !s.urls.shouldEmitURLChange(u) {
		return
	}
	s.Emit(models.EventURLChanged, u)
}

func (s *RemoteBrowser) emitTabs() {
	s.mu.RLock()
	pages := make([]*rod.Page, len(s.tabs))
	for i, t := range s.tabs {
		pages[i] = t.page
	}
	active := s.active
	s.mu.RUnlock()
	s.Emit(models.EventTabs, tabsOf(pages, active))
}

// Tabs lists the open tabs.
func (s *RemoteBrowser) Tabs() []models.Tab {
	s.mu.RLock()
	pages := make([]*rod.Page, len(s.tabs))
	for i, t := range s.tabs {
		pages[i] = t.page
	}
	active := s.active
	s.mu.RUnlock()
	return tabsOf(pages, active)
}

func (s *RemoteBrowser) openTab(ctx context.Context, url string) error {
	s.mu.RLock()
	b := s.browser
	s.mu.RUnlock()
	if b == nil {
		return ErrSessionClosed
	}
	_, err := s.addTab(b.Context(ctx), url)
	s.emitTabs()
	return err
}

func (s *RemoteBrowser) switchTab(_ context.Context, index int) error {
	s.mu.RLock()
	if index < 0 || index >= len(s.tabs) {
		s.mu.RUnlock()
		return fmt.Errorf("tab %d: %w", index, interpret.ErrBadArgs)
	}
	page := s.tabs[index].page
	s.mu.RUnlock()

	if err := s.activate(page); err != nil {
		return err
	}
	s.emitTabs()
	return nil
}

// closeTab switches to the next tab before closing the one at index.
func (s *RemoteBrowser) closeTab(ctx context.Context, index int) error {
	s.mu.RLock()
	count := len(s.tabs)
	if index < 0 || index >= count {
		s.mu.RUnlock()
		return fmt.Errorf("tab %d: %w", index, interpret.ErrBadArgs)
	}
	closing := s.tabs[index]
	next := nextActiveIndex(count, index)
	var nextPage *rod.Page
	if next >= 0 {
		nextPage = s.tabs[next].page
	}
	s.mu.RUnlock()

	if nextPage == nil {
		return ErrLastTab
	}
	if s.activePage() == closing.page {
		if err := s.activate(nextPage); err != nil {
			return fmt.Errorf("activate tab %d: %w", next, err)
		}
	}
	s.removeTab(closing)
	if err := closing.page.Context(ctx).Close(); err != nil {
		s.logger.Debug("close tab", zap.Error(err))
	}
	s.emitTabs()
	return nil
}

func (s *RemoteBrowser) removeTab(t *tab) {
	s.mu.Lock()
	s.tabs = slices.DeleteFunc(s.tabs, func(x *tab) bool { return x == t })
	s.mu.Unlock()
	t.cancel()
}

// freshPage opens a new tab and closes every other one.
func (s *RemoteBrowser) freshPage(ctx context.Context) error {
	s.mu.RLock()
	b := s.browser
	old := slices.Clone(s.tabs)
	s.mu.RUnlock()
	if b == nil {
		return ErrSessionClosed
	}
	if _, err := s.addTab(b.Context(ctx), ""); err != nil {
		return err
	}
	for _, t := range old {
		s.removeTab(t)
		if err := t.page.Context(ctx).Close(); err != nil {
			s.logger.Debug("close replaced tab", zap.Error(err))
		}
	}
	s.urls.reset()
	s.emitTabs()
	return nil
}

// SubscribeToScreencast starts streaming the active tab.
func (s *RemoteBrowser) SubscribeToScreencast(ctx context.Context) error {
	page := s.activePage()
	if page == nil {
		return ErrNoPage
	}
	if err := s.startScreencast(page.Context(ctx)); err != nil {
		return err
	}
	s.mu.Lock()
	s.screencasting = true
	s.mu.Unlock()
	return nil
}

func (s *RemoteBrowser) startScreencast(page *rod.Page) error {
	quality := s.cfg.ScreencastQuality
	width, height := s.cfg.ViewportWidth, s.cfg.ViewportHeight
	nth := max(s.cfg.EveryNthFrame, 1)
	err := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		MaxWidth:      &width,
		MaxHeight:     &height,
		EveryNthFrame: &nth,
	}.Call(page)
	if err != nil {
		return fmt.Errorf("start screencast: %w", err)
	}
	return nil
}

// StopScreencast stops streaming and drops any pending frame.
func (s *RemoteBrowser) StopScreencast(ctx context.Context) error {
	s.mu.Lock()
	s.screencasting = false
	page := s.active
	s.mu.Unlock()
	s.frames.clear()
	if page == nil {
		return nil
	}
	if err := (proto.PageStopScreencast{}).Call(page.Context(ctx)); err != nil {
		return fmt.Errorf("stop screencast: %w", err)
	}
	return nil
}

// MakeAndEmitScreenshot captures the active tab once and emits it as a
// screencast frame.
func (s *RemoteBrowser) MakeAndEmitScreenshot(ctx context.Context) error {
	page := s.activePage()
	if page == nil {
		return ErrNoPage
	}
	quality := s.cfg.ScreencastQuality
	data, err := page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	s.Emit(models.EventScreencast, models.ScreencastFrame{
		SessionID: s.id,
		Image:     base64.StdEncoding.EncodeToString(data),
		Width:     s.cfg.ViewportWidth,
		Height:    s.cfg.ViewportHeight,
	})
	return nil
}

// deliverFrame emits f in viewport coordinates. Clients map input
// through the reported size, so it stays the viewport size whatever the
// encoded image measures.
func (s *RemoteBrowser) deliverFrame(f rawFrame) {
	out, ok := s.optimizer.optimize(s.ctx, f)
	if ok {
		s.metrics.Frame("emitted")
	} else {
		s.metrics.Frame("raw")
		s.logger.Debug("frame optimisation skipped", zap.Int("seq", f.Seq))
	}
	s.Emit(models.EventScreencast, models.ScreencastFrame{
		SessionID: s.id,
		Image:     base64.StdEncoding.EncodeToString(out.Data),
		Width:     s.cfg.ViewportWidth,
		Height:    s.cfg.ViewportHeight,
	})
}

func (s *RemoteBrowser) onMemorySoft(inUse uint64) {
	s.logger.Warn("memory above soft limit, dropping queued frames", zap.Uint64("heap_bytes", inUse))
	s.frames.clear()
	s.metrics.Watchdog("clear_frames")
}

func (s *RemoteBrowser) onMemoryHard(inUse uint64) {
	s.logger.Warn("memory above hard limit, resetting screencast", zap.Uint64("heap_bytes", inUse))
	s.metrics.Watchdog("reset_screencast")
	s.mu.RLock()
	page, casting := s.active, s.screencasting
	s.mu.RUnlock()
	if page == nil || !casting {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	_ = proto.PageStopScreencast{}.Call(page.Context(ctx))
	if err := s.startScreencast(page.Context(ctx)); err != nil {
		s.logger.Warn("screencast reset failed", zap.Error(err))
	}
}

// Interpret replays file on the active tab.
func (s *RemoteBrowser) Interpret(ctx context.Context, file models.WorkflowFile, params map[string]string) (*interpret.Result, error) {
	if s.Phase() == PhaseClosed || s.Phase() == PhaseShuttingDown {
		return &interpret.Result{}, ErrSessionClosed
	}
	prev := s.Phase()
	s.setPhase(PhaseRunning)
	defer func() {
		if s.Phase() == PhaseRunning {
			s.setPhase(prev)
		}
	}()

	res, err := s.interpreter.Run(ctx, livePage{s}, file, params)
	if err != nil {
		return res, &InterpretationError{Log: res.Log, Err: err}
	}
	return res, nil
}

// InterpretCurrentRecording replays the recorded workflow on a fresh tab.
// Input is held back until the replay ends.
func (s *RemoteBrowser) InterpretCurrentRecording(ctx context.Context) (*interpret.Result, error) {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()

	if err := s.freshPage(ctx); err != nil {
		return &interpret.Result{}, fmt.Errorf("open replay tab: %w", err)
	}
	res, err := s.Interpret(ctx, s.generator.Workflow(), nil)
	s.generator.ClearInsertionAnchor()

	done := map[string]any{"success": err == nil, "log": res.Log, "records": res.Records}
	if err != nil {
		done["error"] = err.Error()
	}
	s.Emit(models.EventInterpretDone, done)
	return res, err
}

// Screenshot captures the visible part of the active tab as png.
func (s *RemoteBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	return livePage{s}.Screenshot(ctx, false)
}

// ListFields returns the child selectors of a list container on the
// active tab.
func (s *RemoteBrowser) ListFields(ctx context.Context, listSelector string) ([]string, error) {
	s.touch()
	return s.generator.ListFields(ctx, livePage{s}, listSelector)
}

// StopInterpretation cancels a running replay.
func (s *RemoteBrowser) StopInterpretation() {
	s.interpreter.Stop()
}

// SwitchOff tears the session down. It is idempotent and tolerates a
// browser that is already gone.
func (s *RemoteBrowser) SwitchOff(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.setPhase(PhaseShuttingDown)
		s.interpreter.Stop()
		s.watchdog.Stop()

		s.mu.Lock()
		b, conn, inst := s.browser, s.conn, s.instance
		s.browser, s.conn, s.instance = nil, nil, nil
		s.screencasting = false
		s.mu.Unlock()

		if b != nil {
			if err := b.Context(ctx).Close(); err != nil {
				s.logger.Debug("browser context already gone", zap.Error(err))
			}
		}
		s.cancel()
		if conn != nil {
			if err := conn.Close(); err != nil {
				s.logger.Debug("close devtools connection", zap.Error(err))
			}
		}
		s.wg.Wait()
		s.frames.clear()

		s.mu.Lock()
		s.tabs, s.active = nil, nil
		s.mu.Unlock()

		if inst != nil {
			s.closeErr = s.launcher.Stop(ctx, inst)
		}
		s.setPhase(PhaseClosed)
		s.logger.Info("session switched off")
	})
	return s.closeErr
}
