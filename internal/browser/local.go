package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/config"
)

// LocalLauncher starts a chromium process on this host per session.
type LocalLauncher struct {
	bin      string
	headless bool
	logger   *zap.Logger
}

// NewLocalLauncher returns a launcher for a local binary. An empty bin
// lets rod find or download one.
func NewLocalLauncher(cfg config.BrowserConfig, logger *zap.Logger) *LocalLauncher {
	return &LocalLauncher{bin: cfg.Bin, headless: cfg.Headless, logger: logger}
}

// Launch starts the process and returns its DevTools url.
func (l *LocalLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	ln := launcher.New().Context(ctx).Headless(l.headless).Leakless(true)
	if l.bin != "" {
		ln = ln.Bin(l.bin)
	}
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		ln = ln.Proxy(opts.Proxy.Server)
		if opts.Proxy.Bypass != "" {
			ln = ln.Set("proxy-bypass-list", opts.Proxy.Bypass)
		}
	}

	u, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch local browser: %w", err)
	}
	l.logger.Info("local browser started", zap.String("session_id", opts.SessionID), zap.Int("pid", ln.PID()))

	inst := &Instance{SessionID: opts.SessionID, ControlURL: u}
	inst.stop = func(context.Context) error {
		ln.Kill()
		go ln.Cleanup()
		return nil
	}
	return inst, nil
}

// Stop kills the process and removes its profile directory.
func (l *LocalLauncher) Stop(ctx context.Context, inst *Instance) error {
	return stopInstance(ctx, inst)
}

// Close is a no-op.
func (l *LocalLauncher) Close() error { return nil }

// RemoteLauncher hands out one externally managed browser endpoint.
type RemoteLauncher struct {
	controlURL string
	logger     *zap.Logger
}

// NewRemoteLauncher returns a launcher for a fixed control url.
func NewRemoteLauncher(controlURL string, logger *zap.Logger) *RemoteLauncher {
	return &RemoteLauncher{controlURL: controlURL, logger: logger}
}

// Launch returns the configured endpoint. Proxies cannot be applied to a
// browser this process did not start.
func (r *RemoteLauncher) Launch(_ context.Context, opts LaunchOptions) (*Instance, error) {
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		r.logger.Warn("proxy ignored by remote launcher", zap.String("session_id", opts.SessionID))
	}
	return &Instance{SessionID: opts.SessionID, ControlURL: r.controlURL}, nil
}

// Stop is a no-op. The session closes its own browser context.
func (r *RemoteLauncher) Stop(context.Context, *Instance) error { return nil }

// Close is a no-op.
func (r *RemoteLauncher) Close() error { return nil }
