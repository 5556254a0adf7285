package session

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
)

// devtoolsConn is the session's own DevTools websocket. Owning it lets
// the session close the socket on every exit path and notice when the
// browser end goes away.
type devtoolsConn struct {
	ws *cdp.WebSocket

	lost      chan struct{}
	lostOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// dialDevtools connects to controlURL and returns the socket together
// with a rod browser driving it. The browser is bound to ctx.
func dialDevtools(ctx, dialCtx context.Context, controlURL string) (*devtoolsConn, *rod.Browser, error) {
	u, err := url.Parse(controlURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse control url: %w", err)
	}
	d := &connDialer{tls: u.Scheme == "wss"}
	if d.tls && u.Port() == "" {
		u.Host += ":443"
	}
	key := make([]byte, 16)
	_, _ = rand.Read(key)
	header := http.Header{"Sec-WebSocket-Key": {base64.StdEncoding.EncodeToString(key)}}

	ws := &cdp.WebSocket{Dialer: d}
	if err := ws.Connect(dialCtx, u.String(), header); err != nil {
		// The handshake can fail after the dial went through.
		if d.conn != nil {
			_ = d.conn.Close()
		}
		return nil, nil, fmt.Errorf("dial devtools: %w", err)
	}
	c := &devtoolsConn{ws: ws, lost: make(chan struct{})}
	// An explicit empty control url keeps rod from dialing on its own.
	b := rod.New().ControlURL("").Client(cdp.New().Start(c)).Context(ctx)
	return c, b, nil
}

func (c *devtoolsConn) Send(msg []byte) error { return c.ws.Send(msg) }

// Read implements cdp.WebSocketable. The first read error marks the
// connection lost.
func (c *devtoolsConn) Read() ([]byte, error) {
	msg, err := c.ws.Read()
	if err != nil {
		c.lostOnce.Do(func() { close(c.lost) })
	}
	return msg, err
}

// Lost is closed once the socket stops delivering messages, whether the
// browser dropped it or Close was called.
func (c *devtoolsConn) Lost() <-chan struct{} { return c.lost }

func (c *devtoolsConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.ws.Close() })
	return c.closeErr
}

// connDialer remembers the last connection it opened.
type connDialer struct {
	tls  bool
	conn net.Conn
}

func (d *connDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if d.tls {
		conn, err = (&tls.Dialer{}).DialContext(ctx, network, address)
	} else {
		conn, err = (&net.Dialer{}).DialContext(ctx, network, address)
	}
	d.conn = conn
	return conn, err
}
