package models

import "time"

// RunStatus is the lifecycle state of a replay run.
type RunStatus string

const (
	RunQueued  RunStatus = "queued"
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunAborted RunStatus = "aborted"
)

// Robot is a saved workflow as returned by the API.
type Robot struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Name      string       `json:"name"`
	Workflow  WorkflowFile `json:"recording"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// SaveRobotRequest saves the current recording of a session.
type SaveRobotRequest struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
}

// StartRunRequest starts a replay of a robot.
type StartRunRequest struct {
	Params map[string]string `json:"params,omitempty"`
}

// Run is one replay of a robot.
type Run struct {
	ID         string           `json:"id"`
	RobotID    string           `json:"robotId"`
	Status     RunStatus        `json:"status"`
	Log        string           `json:"log,omitempty"`
	Output     []map[string]any `json:"output,omitempty"`
	Artifact   string           `json:"artifact,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty"`
}
