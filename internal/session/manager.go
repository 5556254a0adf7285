package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/shehryarbajwa/browserflow/internal/browser"
	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/pool"
	"github.com/shehryarbajwa/browserflow/internal/secret"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Manager starts sessions, registers them in the pool and stops them when
// asked or when they sit idle.
type Manager struct {
	cfg      config.SessionConfig
	launcher browser.Launcher
	pool     *pool.Pool
	slots    *semaphore.Weighted
	synth    *selector.Synthesizer
	box      secret.Box
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// ManagerOptions wires a Manager.
type ManagerOptions struct {
	Session       config.SessionConfig
	MaxConcurrent int64
	Launcher      browser.Launcher
	Pool          *pool.Pool
	Synth         *selector.Synthesizer
	Box           secret.Box
	Logger        *zap.Logger
	Metrics       *metrics.Collector
}

// NewManager returns a Manager.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		cfg:      opts.Session,
		launcher: opts.Launcher,
		pool:     opts.Pool,
		slots:    semaphore.NewWeighted(max(opts.MaxConcurrent, 1)),
		synth:    opts.Synth,
		box:      opts.Box,
		logger:   opts.Logger.With(zap.String("component", "session_manager")),
		metrics:  opts.Metrics,
		timers:   make(map[string]*time.Timer),
	}
}

// StartRecording launches a recording session for userID and, when req
// names a url, navigates to it.
func (m *Manager) StartRecording(ctx context.Context, userID string, req models.StartSessionRequest) (*RemoteBrowser, error) {
	if _, ok := m.pool.ActiveID(userID, models.StateRecording); ok {
		m.metrics.PoolRejected("recording_exists")
		return nil, ErrRecordingExists
	}
	s, err := m.start(ctx, userID, models.StateRecording, req.Proxy)
	if err != nil {
		return nil, err
	}
	if req.URL != "" {
		if err := s.HandleInput(ctx, models.InputEvent{Type: models.InputNavigate, URL: req.URL}); err != nil {
			s.logger.Warn("initial navigation failed", zap.String("url", req.URL), zap.Error(err))
		}
	}
	return s, nil
}

// StartRun launches a session that replays a workflow.
func (m *Manager) StartRun(ctx context.Context, userID string, proxy *models.ProxyConfig) (*RemoteBrowser, error) {
	return m.start(ctx, userID, models.StateRun, proxy)
}

func (m *Manager) start(ctx context.Context, userID string, state models.SessionState, proxy *models.ProxyConfig) (*RemoteBrowser, error) {
	if len(m.pool.UserSessions(userID)) >= pool.MaxSessionsPerUser {
		m.metrics.PoolRejected("capacity")
		return nil, ErrUserCapacity
	}
	if !m.slots.TryAcquire(1) {
		m.metrics.PoolRejected("concurrency")
		return nil, ErrConcurrencyLimit
	}

	s := m.newSession(userID, state)
	if err := s.Initialize(ctx, proxy); err != nil {
		m.slots.Release(1)
		return nil, err
	}
	if err := m.admit(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) newSession(userID string, state models.SessionState) *RemoteBrowser {
	return New(Options{
		ID:       uuid.NewString(),
		UserID:   userID,
		State:    state,
		Config:   m.cfg,
		Launcher: m.launcher,
		Synth:    m.synth,
		Box:      m.box,
		Logger:   m.logger,
		Metrics:  m.metrics,
		OnLost:   m.lost,
	})
}

// admit registers an initialized session that holds a slot. On failure
// the session is switched off and the slot released.
func (m *Manager) admit(ctx context.Context, s *RemoteBrowser) error {
	if !m.pool.Add(s.ID(), s, s.UserID(), true, s.state) {
		_ = s.SwitchOff(context.WithoutCancel(ctx))
		m.slots.Release(1)
		if s.state == models.StateRecording {
			return ErrRecordingExists
		}
		return ErrUserCapacity
	}
	m.armIdle(s.ID())
	s.logger.Info("session started", zap.String("state", string(s.state)))
	return nil
}

// lost stops a session whose browser went away.
func (m *Manager) lost(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
		m.logger.Warn("stop lost session", zap.String("session_id", id), zap.Error(err))
	}
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*RemoteBrowser, error) {
	h, ok := m.pool.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	s, ok := h.(*RemoteBrowser)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Recording returns the user's recording session. An empty userID falls
// back to any recording session.
func (m *Manager) Recording(userID string) (*RemoteBrowser, error) {
	var (
		id string
		ok bool
	)
	if userID == "" {
		id, ok = m.pool.FallbackID(models.StateRecording)
	} else {
		id, ok = m.pool.ActiveID(userID, models.StateRecording)
	}
	if !ok {
		return nil, ErrNoRecordingSession
	}
	s, err := m.Get(id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrNoRecordingSession
	}
	return s, err
}

// Owned returns session id when it belongs to userID.
func (m *Manager) Owned(userID, id string) (*RemoteBrowser, error) {
	e, ok := m.pool.Entry(id)
	if !ok || e.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return m.Get(id)
}

// ListSessions describes the user's live sessions, oldest first.
func (m *Manager) ListSessions(userID string) []models.Session {
	entries := m.pool.UserSessions(userID)
	out := make([]models.Session, 0, len(entries))
	for _, e := range entries {
		info := models.Session{ID: e.ID, UserID: e.UserID, State: e.State}
		if s, ok := e.Handle.(*RemoteBrowser); ok {
			info = s.Info()
		}
		info.Active = e.Active
		info.ExpiresAt = m.expiry(e.ID)
		out = append(out, info)
	}
	return out
}

// Touch postpones the idle deadline of session id.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.timers[id]; t != nil {
		t.Reset(m.cfg.IdleTimeout)
	}
}

// Stop switches session id off and frees its slot. Stopping an unknown id
// reports ErrSessionNotFound.
func (m *Manager) Stop(ctx context.Context, id string) error {
	owned := m.disarmIdle(id)
	found, err := m.pool.Close(ctx, id)
	if owned {
		m.slots.Release(1)
	}
	if !found {
		return ErrSessionNotFound
	}
	return err
}

// Shutdown stops every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.timers))
	for id := range m.timers {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("stop session on shutdown", zap.String("session_id", id), zap.Error(err))
		}
	}
	m.pool.CloseAll(ctx)
}

func (m *Manager) armIdle(id string) {
	if m.cfg.IdleTimeout <= 0 {
		m.mu.Lock()
		m.timers[id] = nil
		m.mu.Unlock()
		return
	}
	t := time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.logger.Info("stopping idle session", zap.String("session_id", id))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("stop idle session", zap.String("session_id", id), zap.Error(err))
		}
	})
	m.mu.Lock()
	m.timers[id] = t
	m.mu.Unlock()
}

// disarmIdle forgets the idle timer of id and reports whether the
// manager started that session and so holds its slot.
func (m *Manager) disarmIdle(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return false
	}
	if t != nil {
		t.Stop()
	}
	delete(m.timers, id)
	return true
}

func (m *Manager) expiry(id string) time.Time {
	if m.cfg.IdleTimeout <= 0 {
		return time.Time{}
	}
	s, err := m.Get(id)
	if err != nil {
		return time.Time{}
	}
	return s.LastActivity().Add(m.cfg.IdleTimeout)
}
