// Package runner replays saved robots in dedicated run sessions and keeps
// their run records current.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shehryarbajwa/browserflow/internal/artifact"
	"github.com/shehryarbajwa/browserflow/internal/interpret"
	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/store"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// ErrShuttingDown is returned for runs requested after Shutdown.
var ErrShuttingDown = errors.New("runner is shutting down")

// Replayer is a session that can interpret a workflow.
type Replayer interface {
	ID() string
	Interpret(ctx context.Context, file models.WorkflowFile, params map[string]string) (*interpret.Result, error)
}

// Sessions starts and stops replay sessions.
type Sessions interface {
	StartReplay(ctx context.Context, userID string) (Replayer, error)
	Stop(ctx context.Context, id string) error
}

// Runner executes runs in the background.
type Runner struct {
	store     *store.Store
	artifacts *artifact.Store
	sessions  Sessions
	timeout   time.Duration
	logger    *zap.Logger
	metrics   *metrics.Collector

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]context.CancelFunc
}

// Options configures a Runner.
type Options struct {
	Store     *store.Store
	Artifacts *artifact.Store
	Sessions  Sessions
	// Timeout bounds one run. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// New returns a Runner.
func New(opts Options) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:     opts.Store,
		artifacts: opts.Artifacts,
		sessions:  opts.Sessions,
		timeout:   opts.Timeout,
		logger:    opts.Logger.With(zap.String("component", "runner")),
		metrics:   opts.Metrics,
		ctx:       ctx,
		cancel:    cancel,
		running:   make(map[string]context.CancelFunc),
	}
}

// Start queues a run of robotID for userID and executes it in the
// background. The queued record is returned.
func (r *Runner) Start(ctx context.Context, userID, robotID string, params map[string]string) (*store.Run, error) {
	robot, err := r.robotFor(ctx, userID, robotID)
	if err != nil {
		return nil, err
	}
	run, err := r.store.CreateRun(ctx, robot.ID, userID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel, err := r.track(run.ID)
	if err != nil {
		r.finish(run, nil, err)
		return nil, err
	}

	queued := *run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(run.ID, cancel)
		r.execute(runCtx, run, robot, params)
	}()
	return &queued, nil
}

// Run executes a run of robotID and returns its final record.
func (r *Runner) Run(ctx context.Context, userID, robotID string, params map[string]string) (*store.Run, error) {
	robot, err := r.robotFor(ctx, userID, robotID)
	if err != nil {
		return nil, err
	}
	run, err := r.store.CreateRun(ctx, robot.ID, userID)
	if err != nil {
		return nil, err
	}
	runCtx, cancel, err := r.track(run.ID)
	if err != nil {
		r.finish(run, nil, err)
		return run, err
	}
	defer r.untrack(run.ID, cancel)

	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	r.execute(runCtx, run, robot, params)
	return run, nil
}

// Abort cancels a run in progress. It reports whether the run was found.
func (r *Runner) Abort(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.running[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown aborts every run and waits for them to record their outcome.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) robotFor(ctx context.Context, userID, robotID string) (*store.Robot, error) {
	robot, err := r.store.GetRobot(ctx, robotID)
	if err != nil {
		return nil, err
	}
	if robot.UserID != userID {
		return nil, store.ErrRobotNotFound
	}
	return robot, nil
}

func (r *Runner) track(runID string) (context.Context, context.CancelFunc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, nil, ErrShuttingDown
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(r.ctx, r.timeout)
	} else {
		ctx, cancel = context.WithCancel(r.ctx)
	}
	r.running[runID] = cancel
	return ctx, cancel, nil
}

func (r *Runner) untrack(runID string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.running, runID)
	r.mu.Unlock()
}

// execute drives one run to a final status.
func (r *Runner) execute(ctx context.Context, run *store.Run, robot *store.Robot, params map[string]string) {
	logger := r.logger.With(zap.String("run_id", run.ID), zap.String("robot_id", robot.ID))
	var (
		res *interpret.Result
		err error
	)
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
			logger.Error("run panicked", zap.Any("panic", p))
		}
		r.finish(run, res, err)
	}()

	run.Status = models.RunRunning
	if err = r.store.SaveRun(ctx, run); err != nil {
		return
	}

	sess, err := r.sessions.StartReplay(ctx, run.UserID)
	if err != nil {
		logger.Warn("run session unavailable", zap.Error(err))
		return
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if stopErr := r.sessions.Stop(stopCtx, sess.ID()); stopErr != nil {
			logger.Warn("stop run session", zap.Error(stopErr))
		}
	}()

	logger.Info("run started", zap.String("session_id", sess.ID()))
	res, err = sess.Interpret(ctx, robot.Workflow, params)
	if res == nil {
		res = &interpret.Result{}
	}

	g := new(errgroup.Group)
	g.Go(func() error {
		path, aerr := r.artifacts.Archive(run.ID, res.Artifacts)
		if aerr != nil {
			return aerr
		}
		run.ArtifactPath = path
		return nil
	})
	g.Go(func() error {
		run.Log = strings.Join(res.Log, "\n")
		run.Output = res.Records
		return nil
	})
	if aerr := g.Wait(); aerr != nil {
		logger.Warn("archive artifacts", zap.Error(aerr))
		if err == nil {
			err = aerr
		}
	}
}

// finish records the final status of run. It never leaves a run running.
func (r *Runner) finish(run *store.Run, res *interpret.Result, err error) {
	now := time.Now().UTC()
	run.FinishedAt = &now
	switch {
	case err == nil:
		run.Status = models.RunSuccess
	case errors.Is(err, context.Canceled) || errors.Is(err, interpret.ErrStopped) || errors.Is(err, ErrShuttingDown):
		run.Status = models.RunAborted
	default:
		run.Status = models.RunFailed
	}
	if err != nil {
		msg := "error: " + err.Error()
		if run.Log == "" && res != nil {
			run.Log = strings.Join(res.Log, "\n")
		}
		if run.Log != "" {
			msg = run.Log + "\n" + msg
		}
		run.Log = msg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := r.store.SaveRun(ctx, run); serr != nil {
		r.logger.Error("persist run outcome", zap.String("run_id", run.ID), zap.Error(serr))
	}
	r.metrics.RunFinished(string(run.Status))
	r.logger.Info("run finished", zap.String("run_id", run.ID), zap.String("status", string(run.Status)))
}
