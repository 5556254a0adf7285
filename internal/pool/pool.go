// Package pool is the process-wide registry of live browser sessions.
//
// A user owns at most two sessions and at most one of them records. The
// pool indexes sessions but does not own their resources: Close asks the
// handle to tear itself down, Delete only forgets it. Every operation is
// synchronous and reports failure through its return value.
package pool

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// MaxSessionsPerUser bounds the sessions one user may hold.
const MaxSessionsPerUser = 2

// Handle is the part of a session the pool needs to close it.
type Handle interface {
	SwitchOff(ctx context.Context) error
}

// Entry is one registered session.
type Entry struct {
	ID     string
	UserID string
	State  models.SessionState
	Active bool
	Handle Handle
}

// Pool maps session ids to entries and users to their ordered session ids.
// Both maps change under one lock.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*Entry
	users    map[string][]string

	logger  *zap.Logger
	metrics *metrics.Collector
}

// New returns an empty pool.
func New(logger *zap.Logger, m *metrics.Collector) *Pool {
	return &Pool{
		sessions: make(map[string]*Entry),
		users:    make(map[string][]string),
		logger:   logger.With(zap.String("component", "pool")),
		metrics:  m,
	}
}

// Add registers a session. Re-adding an id the user already owns updates
// it in place. It returns false when the user would hold a second
// recording session or more than MaxSessionsPerUser sessions, or when the
// id belongs to another user.
func (p *Pool) Add(id string, h Handle, userID string, active bool, state models.SessionState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.sessions[id]; ok {
		if existing.UserID != userID {
			p.logger.Warn("session id owned by another user", zap.String("session_id", id))
			p.metrics.PoolRejected("foreign_id")
			return false
		}
		if state == models.StateRecording && existing.State != models.StateRecording && p.recordingOtherThan(userID, id) {
			p.metrics.PoolRejected("recording_exists")
			return false
		}
		if existing.State != state {
			p.metrics.SessionClosed(string(existing.State))
			p.metrics.SessionOpened(string(state))
		}
		existing.Handle = h
		existing.Active = active
		existing.State = state
		return true
	}

	if state == models.StateRecording && p.recordingOtherThan(userID, id) {
		p.logger.Info("rejecting second recording session", zap.String("user_id", userID), zap.String("session_id", id))
		p.metrics.PoolRejected("recording_exists")
		return false
	}
	if len(p.liveIDs(userID)) >= MaxSessionsPerUser {
		p.logger.Info("user session capacity reached", zap.String("user_id", userID), zap.String("session_id", id))
		p.metrics.PoolRejected("capacity")
		return false
	}

	p.sessions[id] = &Entry{ID: id, UserID: userID, State: state, Active: active, Handle: h}
	p.users[userID] = append(p.users[userID], id)
	p.metrics.SessionOpened(string(state))
	p.logger.Debug("session added", zap.String("session_id", id), zap.String("user_id", userID), zap.String("state", string(state)))
	return true
}

// Get returns the handle registered under id.
func (p *Pool) Get(id string) (Handle, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.sessions[id]
	if !ok {
		return nil, false
	}
	return e.Handle, true
}

// Entry returns a copy of the entry registered under id.
func (p *Pool) Entry(id string) (Entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.sessions[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ActiveID returns the most recently added session of the user, filtered
// by state when state is non-empty. Stale ids in the user index are pruned.
func (p *Pool) ActiveID(userID string, state models.SessionState) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeID(userID, state)
}

func (p *Pool) activeID(userID string, state models.SessionState) (string, bool) {
	ids := p.liveIDs(userID)
	for i := len(ids) - 1; i >= 0; i-- {
		e := p.sessions[ids[i]]
		if state == "" || e.State == state {
			return e.ID, true
		}
	}
	return "", false
}

// FallbackID resolves a session without a user id. It only answers when
// exactly one user holds sessions.
func (p *Pool) FallbackID(state models.SessionState) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var only string
	users := 0
	for userID := range p.users {
		if len(p.liveIDs(userID)) == 0 {
			continue
		}
		users++
		only = userID
	}
	if users != 1 {
		return "", false
	}
	return p.activeID(only, state)
}

// SetState changes the state of a session. Moving to recording fails when
// the owner already records in a different session.
func (p *Pool) SetState(id string, state models.SessionState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sessions[id]
	if !ok {
		p.logger.Debug("set state on unknown session", zap.String("session_id", id))
		return false
	}
	if state == models.StateRecording && p.recordingOtherThan(e.UserID, id) {
		p.metrics.PoolRejected("recording_exists")
		return false
	}
	if e.State != state {
		p.metrics.SessionClosed(string(e.State))
		p.metrics.SessionOpened(string(state))
		e.State = state
	}
	return true
}

// SetActive flags a session as the foreground one of its user.
func (p *Pool) SetActive(id string, active bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sessions[id]
	if !ok {
		return false
	}
	e.Active = active
	return true
}

// UserSessions returns the user's live entries, oldest first.
func (p *Pool) UserSessions(userID string) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.liveIDs(userID)
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		out = append(out, *p.sessions[id])
	}
	return out
}

// Len returns the number of registered sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Close switches the session off and then deletes it. The entry is
// removed even when switching off fails.
func (p *Pool) Close(ctx context.Context, id string) (bool, error) {
	e, ok := p.take(id)
	if !ok {
		p.logger.Debug("close on unknown session", zap.String("session_id", id))
		return false, nil
	}
	if e.Handle == nil {
		return true, nil
	}
	if err := e.Handle.SwitchOff(ctx); err != nil {
		p.logger.Warn("session switch off failed", zap.String("session_id", id), zap.Error(err))
		return true, err
	}
	return true, nil
}

// Delete forgets a session without closing it.
func (p *Pool) Delete(id string) bool {
	_, ok := p.take(id)
	if !ok {
		p.logger.Debug("delete on unknown session", zap.String("session_id", id))
	}
	return ok
}

// CloseAll closes every registered session.
func (p *Pool) CloseAll(ctx context.Context) {
	p.mu.RLock()
	ids := make([]string, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	for _, id := range ids {
		_, _ = p.Close(ctx, id)
	}
}

func (p *Pool) take(id string) (*Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.sessions[id]
	if !ok {
		return nil, false
	}
	delete(p.sessions, id)
	ids := slices.DeleteFunc(p.users[e.UserID], func(s string) bool { return s == id })
	if len(ids) == 0 {
		delete(p.users, e.UserID)
	} else {
		p.users[e.UserID] = ids
	}
	p.metrics.SessionClosed(string(e.State))
	p.logger.Debug("session removed", zap.String("session_id", id), zap.String("user_id", e.UserID))
	return e, true
}

// liveIDs prunes ids missing from the session map. Callers hold the write
// lock.
func (p *Pool) liveIDs(userID string) []string {
	ids := p.users[userID]
	live := ids[:0:0]
	for _, id := range ids {
		if e, ok := p.sessions[id]; ok && e.UserID == userID {
			live = append(live, id)
		}
	}
	if len(live) != len(ids) {
		if len(live) == 0 {
			delete(p.users, userID)
		} else {
			p.users[userID] = live
		}
	}
	return live
}

func (p *Pool) recordingOtherThan(userID, id string) bool {
	for _, sid := range p.liveIDs(userID) {
		if sid != id && p.sessions[sid].State == models.StateRecording {
			return true
		}
	}
	return false
}
