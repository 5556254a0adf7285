package models

import "time"

// SessionState is the pool-level role of a browser session.
type SessionState string

const (
	StateRecording SessionState = "recording"
	StateRun       SessionState = "run"
)

// Session represents a live remote browser as reported to API clients.
type Session struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	State     SessionState `json:"state"`
	Phase     string       `json:"phase"`
	Active    bool         `json:"active"`
	URL       string       `json:"url,omitempty"`
	StartedAt time.Time    `json:"startedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
}

// ProxyConfig routes a browser context through an upstream proxy.
type ProxyConfig struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Bypass   string `json:"bypass,omitempty"`
}

// StartSessionRequest is the payload for starting a recording session.
type StartSessionRequest struct {
	URL   string       `json:"url,omitempty"`
	Proxy *ProxyConfig `json:"proxy,omitempty"`
}

// ScreencastFrame is one encoded frame delivered to the frame sink.
type ScreencastFrame struct {
	SessionID string `json:"sessionId"`
	Image     string `json:"image"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// SessionError tells the client that its session failed and is being
// torn down.
type SessionError struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

// Tab describes one page of a session.
type Tab struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Active bool   `json:"active"`
}
