// Package socket streams a recording session to its client over a
// websocket. Inbound messages are input events, outbound messages are the
// events the session emits.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 1 << 20
	controlBuffer  = 256
	inputBuffer    = 64
)

// EventError reports a failed input event to the client.
const EventError = "error"

// Session is the part of a live session the socket drives.
type Session interface {
	ID() string
	Attach(sink workflow.Emitter) (detach func())
	HandleInput(ctx context.Context, ev models.InputEvent) error
}

// screenshotter is implemented by sessions that can push one frame
// outside the screencast, so a new client sees the page at once.
type screenshotter interface {
	MakeAndEmitScreenshot(ctx context.Context) error
}

// Lookup returns the session id owned by userID.
type Lookup func(userID, id string) (Session, error)

// Server upgrades requests to session sockets.
type Server struct {
	lookup   Lookup
	touch    func(id string)
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer returns a Server. touch is called after each handled input
// event and may be nil. An origin list containing "*" allows any origin.
func NewServer(lookup Lookup, touch func(id string), allowedOrigins []string, logger *zap.Logger) *Server {
	if touch == nil {
		touch = func(string) {}
	}
	return &Server{
		lookup: lookup,
		touch:  touch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 64 << 10,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
		logger: logger.With(zap.String("component", "socket")),
	}
}

// Handle serves the socket of session id for userID.
func (s *Server) Handle(w http.ResponseWriter, r *http.Request, userID, id string) {
	sess, err := s.lookup(userID, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}

	c := newClient(conn, sess, s.touch, s.logger.With(zap.String("session_id", id), zap.String("user_id", userID)))
	c.serve()
}

// client is one socket connection.
type client struct {
	conn   *websocket.Conn
	sess   Session
	touch  func(string)
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	control chan models.OutboundMessage
	frames  chan models.OutboundMessage
	inputs  chan models.InputEvent
}

func newClient(conn *websocket.Conn, sess Session, touch func(string), logger *zap.Logger) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		conn:    conn,
		sess:    sess,
		touch:   touch,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		control: make(chan models.OutboundMessage, controlBuffer),
		frames:  make(chan models.OutboundMessage, 1),
		inputs:  make(chan models.InputEvent, inputBuffer),
	}
}

// Emit implements workflow.Emitter. Screencast frames replace an unsent
// frame. Other events are queued and dropped only when the client stops
// reading.
func (c *client) Emit(event string, data any) {
	msg := models.OutboundMessage{Type: event, Data: data}
	if event == models.EventScreencast {
		for {
			select {
			case c.frames <- msg:
				return
			case <-c.ctx.Done():
				return
			default:
			}
			select {
			case <-c.frames:
			default:
			}
		}
	}
	select {
	case c.control <- msg:
	case <-c.ctx.Done():
	default:
		c.logger.Warn("client not reading, dropping event", zap.String("event", event))
	}
}

func (c *client) serve() {
	c.logger.Info("client connected")
	detach := c.sess.Attach(c)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.consumeInputs()
	}()

	c.readLoop()
	detach()
	c.cancel()
	_ = c.conn.Close()
	wg.Wait()
	c.logger.Info("client disconnected")
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("socket read failed", zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var ev models.InputEvent
		if err := json.Unmarshal(data, &ev); err != nil || ev.Type == "" {
			c.Emit(EventError, map[string]string{"error": "malformed input event"})
			continue
		}
		select {
		case c.inputs <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

// consumeInputs hands input to the session one event at a time.
func (c *client) consumeInputs() {
	if sc, ok := c.sess.(screenshotter); ok {
		if err := sc.MakeAndEmitScreenshot(c.ctx); err != nil {
			c.logger.Debug("initial screenshot failed", zap.Error(err))
		}
	}
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.inputs:
			err := c.sess.HandleInput(c.ctx, ev)
			c.touch(c.sess.ID())
			if err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Debug("input failed", zap.String("type", ev.Type), zap.Error(err))
				c.Emit(EventError, map[string]string{"type": ev.Type, "error": err.Error()})
			}
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		var msg models.OutboundMessage
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.cancel()
				return
			}
			continue
		case msg = <-c.control:
		case msg = <-c.frames:
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			c.logger.Debug("socket write failed", zap.Error(err))
			c.cancel()
			_ = c.conn.Close()
			return
		}
	}
}
