package socket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errNoSession = errors.New("session not found")

type fakeSession struct {
	mu     sync.Mutex
	sink   workflow.Emitter
	inputs []models.InputEvent
	fail   string
	shot   bool
}

func (f *fakeSession) ID() string { return "s1" }

func (f *fakeSession) Attach(sink workflow.Emitter) func() {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.sink = nil
		f.mu.Unlock()
	}
}

func (f *fakeSession) HandleInput(_ context.Context, ev models.InputEvent) error {
	f.mu.Lock()
	f.inputs = append(f.inputs, ev)
	sink := f.sink
	f.mu.Unlock()
	if ev.Type == f.fail {
		return errors.New("boom")
	}
	if sink != nil && ev.Type == models.InputNavigate {
		sink.Emit(models.EventURLChanged, ev.URL)
	}
	return nil
}

func (f *fakeSession) MakeAndEmitScreenshot(context.Context) error {
	f.mu.Lock()
	sink, shot := f.sink, f.shot
	f.mu.Unlock()
	if shot && sink != nil {
		sink.Emit(models.EventScreencast, models.ScreencastFrame{SessionID: "s1", Image: "aW1n"})
	}
	return nil
}

func (f *fakeSession) received() []models.InputEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InputEvent(nil), f.inputs...)
}

func (f *fakeSession) attached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink != nil
}

func start(t *testing.T, sess *fakeSession) (*websocket.Conn, *counter) {
	t.Helper()
	touches := &counter{}
	srv := NewServer(func(userID, id string) (Session, error) {
		if userID != "u1" || id != "s1" {
			return nil, errNoSession
		}
		return sess, nil
	}, func(string) { touches.inc() }, []string{"*"}, zap.NewNop())

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.Handle(w, r, r.URL.Query().Get("user"), r.URL.Query().Get("id"))
	}))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "?user=u1&id=s1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, sess.attached, time.Second, 5*time.Millisecond)
	return conn, touches
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func readMessage(t *testing.T, conn *websocket.Conn) models.OutboundMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.OutboundMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestInputReachesSessionAndEventsReachClient(t *testing.T) {
	sess := &fakeSession{}
	conn, touches := start(t, sess)

	require.NoError(t, conn.WriteJSON(models.InputEvent{Type: models.InputNavigate, URL: "https://example.com"}))
	msg := readMessage(t, conn)
	assert.Equal(t, models.EventURLChanged, msg.Type)
	assert.Equal(t, "https://example.com", msg.Data)

	require.NoError(t, conn.WriteJSON(models.InputEvent{Type: models.InputClick, X: 10, Y: 20}))
	require.Eventually(t, func() bool { return len(sess.received()) == 2 }, time.Second, 5*time.Millisecond)
	got := sess.received()
	assert.Equal(t, models.InputClick, got[1].Type)
	assert.Equal(t, 20.0, got[1].Y)
	assert.Eventually(t, func() bool { return touches.get() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNewClientGetsScreenshot(t *testing.T) {
	sess := &fakeSession{shot: true}
	conn, _ := start(t, sess)

	msg := readMessage(t, conn)
	assert.Equal(t, models.EventScreencast, msg.Type)
}

func TestInputErrorsAreReported(t *testing.T) {
	sess := &fakeSession{fail: models.InputRefresh}
	conn, _ := start(t, sess)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)

	require.NoError(t, conn.WriteJSON(models.InputEvent{Type: models.InputRefresh}))
	msg = readMessage(t, conn)
	assert.Equal(t, EventError, msg.Type)
	assert.Equal(t, map[string]any{"type": models.InputRefresh, "error": "boom"}, msg.Data)
}

func TestDisconnectDetaches(t *testing.T) {
	sess := &fakeSession{}
	conn, _ := start(t, sess)
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !sess.attached() }, 2*time.Second, 5*time.Millisecond)
}

func TestUnknownSessionIsRejected(t *testing.T) {
	srv := NewServer(func(string, string) (Session, error) { return nil, errNoSession }, nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	srv.Handle(rec, httptest.NewRequest(http.MethodGet, "/", nil), "u1", "s1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmitKeepsLatestFrame(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &client{
		ctx:     ctx,
		logger:  zap.NewNop(),
		control: make(chan models.OutboundMessage, 1),
		frames:  make(chan models.OutboundMessage, 1),
	}
	for i := 1; i <= 3; i++ {
		c.Emit(models.EventScreencast, i)
	}
	msg := <-c.frames
	assert.Equal(t, 3, msg.Data)

	c.Emit(models.EventWorkflow, "a")
	c.Emit(models.EventWorkflow, "b")
	assert.Len(t, c.control, 1, "full control queue drops")
}
