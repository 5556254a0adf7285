// Package browser starts the browser processes that sessions drive.
//
// A Launcher returns a DevTools control URL per session. The docker
// launcher runs one browserless/chrome container per session, the local
// launcher starts a chromium binary on this host and the remote launcher
// hands out a fixed endpoint of an externally managed browser.
package browser

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Instance is one launched browser.
type Instance struct {
	SessionID   string
	ControlURL  string
	ContainerID string
	UserDataDir string

	stop func(ctx context.Context) error
}

// LaunchOptions configures one launch.
type LaunchOptions struct {
	SessionID string
	UserID    string
	Proxy     *models.ProxyConfig
}

// Launcher starts and stops browsers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (*Instance, error)
	Stop(ctx context.Context, inst *Instance) error
	Close() error
}

// New returns the launcher selected by cfg.Launcher.
func New(cfg config.BrowserConfig, logger *zap.Logger) (Launcher, error) {
	logger = logger.With(zap.String("component", "launcher"), zap.String("launcher", cfg.Launcher))
	switch cfg.Launcher {
	case "docker":
		return NewDockerLauncher(cfg, logger)
	case "local":
		return NewLocalLauncher(cfg, logger), nil
	case "remote":
		return NewRemoteLauncher(cfg.ControlURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown launcher %q", cfg.Launcher)
	}
}

// stopInstance runs the instance's own teardown once.
func stopInstance(ctx context.Context, inst *Instance) error {
	if inst == nil || inst.stop == nil {
		return nil
	}
	stop := inst.stop
	inst.stop = nil
	return stop(ctx)
}
