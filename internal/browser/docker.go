package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/config"
)

const browserlessPort = "3000/tcp"

// ErrNotReady is returned when a launched browser never answers its
// version endpoint.
var ErrNotReady = errors.New("browser did not become ready")

// DockerLauncher runs one browserless/chrome container per session.
type DockerLauncher struct {
	client         *client.Client
	image          string
	startupTimeout time.Duration
	logger         *zap.Logger
}

// NewDockerLauncher connects to the docker daemon from the environment.
func NewDockerLauncher(cfg config.BrowserConfig, logger *zap.Logger) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerLauncher{
		client:         cli,
		image:          cfg.Image,
		startupTimeout: cfg.StartupTimeout,
		logger:         logger,
	}, nil
}

// Launch creates and starts a container and waits until its DevTools
// endpoint answers.
func (d *DockerLauncher) Launch(ctx context.Context, opts LaunchOptions) (*Instance, error) {
	userDataDir := filepath.Join(os.TempDir(), "browserflow-data", opts.SessionID)
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user data directory: %w", err)
	}

	containerConfig := &container.Config{
		Image: d.image,
		Labels: map[string]string{
			"session-id": opts.SessionID,
			"user-id":    opts.UserID,
			"managed-by": "browserflow",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
		},
		ExposedPorts: nat.PortSet{
			browserlessPort: struct{}{},
		},
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			browserlessPort: []nat.PortBinding{
				{
					HostIP:   "0.0.0.0",
					HostPort: "0",
				},
			},
		},
		Mounts: []mount.Mount{
			{
				Type:   mount.TypeBind,
				Source: userDataDir,
				Target: "/data",
			},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(opts.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	inst := &Instance{
		SessionID:   opts.SessionID,
		ContainerID: resp.ID,
		UserDataDir: userDataDir,
	}
	inst.stop = func(ctx context.Context) error { return d.removeContainer(ctx, resp.ID, userDataDir) }

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		_ = stopInstance(context.WithoutCancel(ctx), inst)
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		_ = stopInstance(context.WithoutCancel(ctx), inst)
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[browserlessPort]
	if len(bindings) == 0 {
		_ = stopInstance(context.WithoutCancel(ctx), inst)
		return nil, fmt.Errorf("container %s exposes no devtools port", resp.ID[:12])
	}
	port := bindings[0].HostPort

	readyCtx, cancel := context.WithTimeout(ctx, d.startupTimeout)
	defer cancel()
	if err := waitForBrowserReady(readyCtx, fmt.Sprintf("http://localhost:%s/json/version", port)); err != nil {
		_ = stopInstance(context.WithoutCancel(ctx), inst)
		return nil, err
	}

	inst.ControlURL = controlURL(port, opts)
	d.logger.Info("browser container started",
		zap.String("session_id", opts.SessionID),
		zap.String("container_id", resp.ID[:12]),
		zap.String("port", port),
	)
	return inst, nil
}

// Stop stops and removes the session's container.
func (d *DockerLauncher) Stop(ctx context.Context, inst *Instance) error {
	return stopInstance(ctx, inst)
}

func (d *DockerLauncher) removeContainer(ctx context.Context, containerID, userDataDir string) error {
	defer os.RemoveAll(userDataDir)

	timeout := 10
	if err := d.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	d.logger.Debug("browser container removed", zap.String("container_id", containerID[:12]))
	return nil
}

// IsHealthy reports whether the container still runs.
func (d *DockerLauncher) IsHealthy(ctx context.Context, containerID string) bool {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return false
	}
	return inspect.State.Running
}

// EnsureImage pulls the browser image when it is not present.
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.image {
				return nil
			}
		}
	}

	d.logger.Info("pulling browser image", zap.String("image", d.image))
	reader, err := d.client.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

// Close releases the docker client.
func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

func containerName(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return "browserflow-" + sessionID
}

// controlURL builds the browserless websocket endpoint. Launch flags are
// passed as query parameters.
func controlURL(port string, opts LaunchOptions) string {
	u := url.URL{Scheme: "ws", Host: "localhost:" + port}
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		q := url.Values{}
		q.Set("--proxy-server", opts.Proxy.Server)
		if opts.Proxy.Bypass != "" {
			q.Set("--proxy-bypass-list", opts.Proxy.Bypass)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// waitForBrowserReady polls the DevTools version endpoint until it answers
// 200 or ctx ends.
func waitForBrowserReady(ctx context.Context, endpoint string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build readiness request: %w", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrNotReady, context.Cause(ctx))
		case <-ticker.C:
		}
	}
}
