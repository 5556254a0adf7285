package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/browser"
	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/pool"
	"github.com/shehryarbajwa/browserflow/internal/selector"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

var errNoBrowser = errors.New("no browser available")

type failingLauncher struct {
	launches atomic.Int32
}

func (l *failingLauncher) Launch(context.Context, browser.LaunchOptions) (*browser.Instance, error) {
	l.launches.Add(1)
	return nil, errNoBrowser
}

func (l *failingLauncher) Stop(context.Context, *browser.Instance) error { return nil }

func (l *failingLauncher) Close() error { return nil }

type fakeHandle struct {
	closed atomic.Int32
}

func (f *fakeHandle) SwitchOff(context.Context) error {
	f.closed.Add(1)
	return nil
}

func newTestManager(t *testing.T, launcher browser.Launcher, maxConcurrent int64) (*Manager, *pool.Pool) {
	t.Helper()
	cfg := config.Default().Session
	cfg.LaunchAttempts = 3
	cfg.LaunchBackoff = time.Millisecond
	p := pool.New(zap.NewNop(), nil)
	m := NewManager(ManagerOptions{
		Session:       cfg,
		MaxConcurrent: maxConcurrent,
		Launcher:      launcher,
		Pool:          p,
		Synth:         selector.New(selector.DefaultOptions()),
		Logger:        zap.NewNop(),
	})
	return m, p
}

func TestStartReportsInitializationError(t *testing.T) {
	l := &failingLauncher{}
	m, p := newTestManager(t, l, 1)

	_, err := m.StartRun(context.Background(), "u1", nil)
	var initErr *InitializationError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, 3, initErr.Attempts)
	assert.ErrorIs(t, err, errNoBrowser)
	assert.Equal(t, int32(3), l.launches.Load())
	assert.Equal(t, 0, p.Len())

	_, err = m.StartRun(context.Background(), "u1", nil)
	assert.ErrorAs(t, err, &initErr, "slot was released after the failed start")
}

func TestStartRejectsBeforeLaunching(t *testing.T) {
	tests := []struct {
		name    string
		prefill func(p *pool.Pool)
		start   func(m *Manager) error
		want    error
	}{
		{
			name: "user at capacity",
			prefill: func(p *pool.Pool) {
				p.Add("a", &fakeHandle{}, "u1", true, models.StateRun)
				p.Add("b", &fakeHandle{}, "u1", false, models.StateRun)
			},
			start: func(m *Manager) error {
				_, err := m.StartRun(context.Background(), "u1", nil)
				return err
			},
			want: ErrUserCapacity,
		},
		{
			name: "second recording",
			prefill: func(p *pool.Pool) {
				p.Add("a", &fakeHandle{}, "u1", true, models.StateRecording)
			},
			start: func(m *Manager) error {
				_, err := m.StartRecording(context.Background(), "u1", models.StartSessionRequest{URL: "https://example.com"})
				return err
			},
			want: ErrRecordingExists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &failingLauncher{}
			m, p := newTestManager(t, l, 4)
			tt.prefill(p)
			assert.ErrorIs(t, tt.start(m), tt.want)
			assert.Zero(t, l.launches.Load())
		})
	}
}

func TestStartHonoursConcurrencyLimit(t *testing.T) {
	l := &failingLauncher{}
	m, _ := newTestManager(t, l, 1)
	require.True(t, m.slots.TryAcquire(1))
	defer m.slots.Release(1)

	_, err := m.StartRun(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, ErrConcurrencyLimit)
	assert.Zero(t, l.launches.Load())
}

func TestStopClosesAndForgets(t *testing.T) {
	m, p := newTestManager(t, &failingLauncher{}, 1)
	h := &fakeHandle{}
	require.True(t, p.Add("a", h, "u1", true, models.StateRun))

	require.NoError(t, m.Stop(context.Background(), "a"))
	assert.Equal(t, int32(1), h.closed.Load())
	assert.Equal(t, 0, p.Len())
	assert.ErrorIs(t, m.Stop(context.Background(), "a"), ErrSessionNotFound)
}

func TestRecordingLookup(t *testing.T) {
	m, _ := newTestManager(t, &failingLauncher{}, 1)
	_, err := m.Recording("u1")
	assert.ErrorIs(t, err, ErrNoRecordingSession)
	_, err = m.Recording("")
	assert.ErrorIs(t, err, ErrNoRecordingSession)
	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessions(t *testing.T) {
	m, p := newTestManager(t, &failingLauncher{}, 1)
	p.Add("a", &fakeHandle{}, "u1", true, models.StateRecording)
	p.Add("b", &fakeHandle{}, "u1", false, models.StateRun)
	p.Add("c", &fakeHandle{}, "u2", false, models.StateRun)

	got := m.ListSessions("u1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.True(t, got[0].Active)
	assert.Equal(t, models.StateRun, got[1].State)
	assert.Empty(t, m.ListSessions("nobody"))
}

func TestOwned(t *testing.T) {
	m, p := newTestManager(t, &failingLauncher{}, 1)
	p.Add("a", &fakeHandle{}, "u1", true, models.StateRun)
	_, err := m.Owned("u2", "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

type sinkLog struct {
	mu     sync.Mutex
	events []string
	data   []any
}

func (l *sinkLog) Emit(event string, data any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
	l.data = append(l.data, data)
}

func (l *sinkLog) find(event string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.events {
		if e == event {
			return l.data[i], true
		}
	}
	return nil, false
}

func TestLostBrowserFreesSession(t *testing.T) {
	m, p := newTestManager(t, &failingLauncher{}, 1)
	require.True(t, m.slots.TryAcquire(1))
	s := m.newSession("u1", models.StateRecording)
	require.NoError(t, m.admit(context.Background(), s))
	s.setPhase(PhaseRecording)
	sink := &sinkLog{}
	s.Attach(sink)

	lost := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchConnection(lost)
	}()
	close(lost)

	require.Eventually(t, func() bool {
		return p.Len() == 0 && s.Phase() == PhaseClosed
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		if !m.slots.TryAcquire(1) {
			return false
		}
		m.slots.Release(1)
		return true
	}, 2*time.Second, 10*time.Millisecond, "slot released")

	got, ok := sink.find(models.EventSessionError)
	require.True(t, ok)
	assert.Equal(t, models.SessionError{
		SessionID: s.ID(),
		Reason:    "browser_disconnected",
		Message:   "the browser connection was lost",
	}, got)

	_, err := m.StartRecording(context.Background(), "u1", models.StartSessionRequest{})
	var initErr *InitializationError
	assert.ErrorAs(t, err, &initErr, "the lost recording no longer blocks a new one")
}

func TestConnectionClosedDuringSwitchOffIsQuiet(t *testing.T) {
	m, _ := newTestManager(t, &failingLauncher{}, 1)
	var calls atomic.Int32
	s := m.newSession("u1", models.StateRun)
	s.onLost = func(string) { calls.Add(1) }
	s.setPhase(PhaseReady)
	sink := &sinkLog{}
	s.Attach(sink)

	lost := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watchConnection(lost)
	}()

	require.NoError(t, s.SwitchOff(context.Background()))
	close(lost)

	assert.Zero(t, calls.Load())
	_, ok := sink.find(models.EventSessionError)
	assert.False(t, ok)
}
