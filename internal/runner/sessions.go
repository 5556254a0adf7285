package runner

import (
	"context"

	"github.com/shehryarbajwa/browserflow/internal/session"
)

// ManagerSessions starts replay sessions through a session manager.
type ManagerSessions struct {
	Manager *session.Manager
}

func (m ManagerSessions) StartReplay(ctx context.Context, userID string) (Replayer, error) {
	s, err := m.Manager.StartRun(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (m ManagerSessions) Stop(ctx context.Context, id string) error {
	return m.Manager.Stop(ctx, id)
}
