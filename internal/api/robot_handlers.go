package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/session"
	"github.com/shehryarbajwa/browserflow/internal/store"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// SaveRobot handles POST /v1/robots. It saves the recording of the named
// session, or of the user's recording session when none is named.
func (h *Handler) SaveRobot(w http.ResponseWriter, r *http.Request) {
	var req models.SaveRobotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user := userID(r)
	var (
		s   *session.RemoteBrowser
		err error
	)
	if req.SessionID != "" {
		s, err = h.sessions.Owned(user, req.SessionID)
	} else {
		s, err = h.sessions.Recording(user)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	file, err := s.Generator().Save(models.WorkflowMeta{Name: req.Name})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	robot, err := h.store.CreateRobot(r.Context(), user, req.Name, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, robot.Model())
}

// ListRobots handles GET /v1/robots.
func (h *Handler) ListRobots(w http.ResponseWriter, r *http.Request) {
	robots, err := h.store.ListRobots(r.Context(), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]models.Robot, len(robots))
	for i := range robots {
		out[i] = robots[i].Model()
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRobot handles GET /v1/robots/{id}.
func (h *Handler) GetRobot(w http.ResponseWriter, r *http.Request) {
	robot, ok := h.robot(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, robot.Model())
}

// GetRobotParams handles GET /v1/robots/{id}/params.
func (h *Handler) GetRobotParams(w http.ResponseWriter, r *http.Request) {
	robot, ok := h.robot(w, r)
	if !ok {
		return
	}
	params := workflow.Params(robot.Workflow)
	if params == nil {
		params = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"params": params})
}

// DeleteRobot handles DELETE /v1/robots/{id}.
func (h *Handler) DeleteRobot(w http.ResponseWriter, r *http.Request) {
	robot, ok := h.robot(w, r)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(r.Context(), robot.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteRobot(r.Context(), robot.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	for _, run := range runs {
		if run.ArtifactPath == "" {
			continue
		}
		if err := h.artifacts.Remove(run.ID); err != nil {
			h.logger.Warn("remove run artifacts", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateRobotWorkflow handles PUT /v1/robots/{id}/workflow. The body is
// a full workflow document. Its params are recomputed and the rest of its
// meta is kept from the stored robot.
func (h *Handler) UpdateRobotWorkflow(w http.ResponseWriter, r *http.Request) {
	robot, ok := h.robot(w, r)
	if !ok {
		return
	}
	var file models.WorkflowFile
	if err := json.NewDecoder(r.Body).Decode(&file); err != nil || file.Workflow == nil {
		writeError(w, http.StatusBadRequest, "workflow document is required")
		return
	}
	file.Meta = robot.Workflow.Meta
	file.Meta.Params = workflow.Params(file)
	updated, err := h.store.UpdateRobotWorkflow(r.Context(), robot.ID, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated.Model())
}

// StartRun handles POST /v1/robots/{id}/runs. The run executes in the
// background; poll GET /v1/runs/{id} for its outcome.
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req models.StartRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	run, err := h.runner.Start(r.Context(), userID(r), mux.Vars(r)["id"], req.Params)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run.Model())
}

// ListRuns handles GET /v1/robots/{id}/runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	robot, ok := h.robot(w, r)
	if !ok {
		return
	}
	runs, err := h.store.ListRuns(r.Context(), robot.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]models.Run, len(runs))
	for i := range runs {
		out[i] = runs[i].Model()
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRun handles GET /v1/runs/{id}.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run.Model())
}

type artifactBody struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// GetRunArtifacts handles GET /v1/runs/{id}/artifacts. Data is base64.
func (h *Handler) GetRunArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	arts, err := h.artifacts.Open(run.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]artifactBody, len(arts))
	for i, a := range arts {
		out[i] = artifactBody{Name: a.Name, MimeType: a.MimeType, Data: a.Data}
	}
	writeJSON(w, http.StatusOK, out)
}

// AbortRun handles DELETE /v1/runs/{id}.
func (h *Handler) AbortRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if !h.runner.Abort(run.ID) {
		writeError(w, http.StatusConflict, "run is not in progress")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) robot(w http.ResponseWriter, r *http.Request) (*store.Robot, bool) {
	robot, err := h.store.GetRobot(r.Context(), mux.Vars(r)["id"])
	if err == nil && robot.UserID != userID(r) {
		err = store.ErrRobotNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return robot, true
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	run, err := h.store.GetRun(r.Context(), mux.Vars(r)["id"])
	if err == nil && run.UserID != userID(r) {
		err = store.ErrRunNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return run, true
}
