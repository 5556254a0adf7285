package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(config.StoreConfig{DSN: ":memory:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleWorkflow() models.WorkflowFile {
	return models.WorkflowFile{
		Meta: models.WorkflowMeta{Params: []string{"user"}},
		Workflow: []models.Rule{{
			Where: models.Where{URL: models.ExactURL("https://example.com/login"), Selectors: []string{"#user"}},
			What: []models.Step{
				{Action: models.ActionType, Args: []any{"#user", models.Param("user")}},
				{Action: models.ActionWaitForLoadState, Args: []any{"networkidle"}},
			},
		}},
	}
}

func TestRobotRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.CreateRobot(ctx, "u1", "login", sampleWorkflow())
	require.NoError(t, err)
	assert.Equal(t, created.ID, created.Workflow.Meta.ID)
	assert.Equal(t, "login", created.Workflow.Meta.Name)

	got, err := s.GetRobot(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, []string{"user"}, got.Params)
	require.Len(t, got.Workflow.Workflow, 1)
	rule := got.Workflow.Workflow[0]
	assert.Equal(t, []string{"#user"}, rule.Where.Selectors)
	require.Len(t, rule.What, 2)
	assert.Equal(t, models.ActionType, rule.What[0].Action)

	list, err := s.ListRobots(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	list, err = s.ListRobots(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGetMissing(t *testing.T) {
	s := newStore(t)
	_, err := s.GetRobot(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRobotNotFound)
	_, err = s.GetRun(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, s.DeleteRobot(context.Background(), "nope"), ErrRobotNotFound)
}

func TestUpdateRobotWorkflow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	r, err := s.CreateRobot(ctx, "u1", "login", sampleWorkflow())
	require.NoError(t, err)

	file := sampleWorkflow()
	file.Workflow = append(file.Workflow, models.Rule{What: []models.Step{{Action: models.ActionGoto, Args: []any{"https://example.com"}}}})
	file.Meta.Params = nil
	updated, err := s.UpdateRobotWorkflow(ctx, r.ID, file)
	require.NoError(t, err)
	assert.Len(t, updated.Workflow.Workflow, 2)
	assert.Equal(t, "login", updated.Workflow.Meta.Name)

	got, err := s.GetRobot(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, got.Workflow.Workflow, 2)
	assert.Empty(t, got.Params)
}

func TestRunLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	robot, err := s.CreateRobot(ctx, "u1", "login", sampleWorkflow())
	require.NoError(t, err)

	run, err := s.CreateRun(ctx, robot.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.RunQueued, run.Status)

	finished := time.Now().UTC()
	run.Status = models.RunSuccess
	run.Log = "done"
	run.Output = []map[string]any{{"title": "Example"}}
	run.FinishedAt = &finished
	require.NoError(t, s.SaveRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunSuccess, got.Status)
	assert.Equal(t, "Example", got.Output[0]["title"])
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, models.RunSuccess, got.Model().Status)

	runs, err := s.ListRuns(ctx, robot.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, s.DeleteRobot(ctx, robot.ID))
	_, err = s.GetRun(ctx, run.ID)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestAbortUnfinished(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	queued, err := s.CreateRun(ctx, "r1", "u1")
	require.NoError(t, err)
	running, err := s.CreateRun(ctx, "r1", "u1")
	require.NoError(t, err)
	running.Status = models.RunRunning
	require.NoError(t, s.SaveRun(ctx, running))
	done, err := s.CreateRun(ctx, "r1", "u1")
	require.NoError(t, err)
	done.Status = models.RunSuccess
	require.NoError(t, s.SaveRun(ctx, done))

	n, err := s.AbortUnfinished(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for id, want := range map[string]models.RunStatus{queued.ID: models.RunAborted, running.ID: models.RunAborted, done.ID: models.RunSuccess} {
		got, err := s.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}
}
