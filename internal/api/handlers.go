package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/browserflow/internal/artifact"
	"github.com/shehryarbajwa/browserflow/internal/runner"
	"github.com/shehryarbajwa/browserflow/internal/session"
	"github.com/shehryarbajwa/browserflow/internal/store"
	"github.com/shehryarbajwa/browserflow/internal/workflow"
	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	sessions  *session.Manager
	store     *store.Store
	artifacts *artifact.Store
	runner    *runner.Runner
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(sessions *session.Manager, st *store.Store, arts *artifact.Store, rn *runner.Runner, logger *zap.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		store:     st,
		artifacts: arts,
		runner:    rn,
		logger:    logger.With(zap.String("component", "api")),
	}
}

// StartRecording handles POST /v1/recordings.
func (h *Handler) StartRecording(w http.ResponseWriter, r *http.Request) {
	var req models.StartSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	s, err := h.sessions.StartRecording(r.Context(), userID(r), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Info())
}

// ListRecordings handles GET /v1/recordings.
func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.ListSessions(userID(r)))
}

// StopRecording handles DELETE /v1/recordings/{id}.
func (h *Handler) StopRecording(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Stop(r.Context(), s.ID()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetWorkflow handles GET /v1/recordings/{id}/workflow.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.Generator().Workflow())
}

// Navigate handles POST /v1/recordings/{id}/navigate.
func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := s.HandleInput(r.Context(), models.InputEvent{Type: models.InputNavigate, URL: req.URL}); err != nil {
		h.fail(w, r, err)
		return
	}
	h.sessions.Touch(s.ID())
	writeJSON(w, http.StatusOK, s.Info())
}

// Screenshot handles GET /v1/recordings/{id}/screenshot.
func (h *Handler) Screenshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	png, err := s.Screenshot(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	_, _ = w.Write(png)
}

// Interpret handles POST /v1/recordings/{id}/interpret. It replays the
// current recording and answers when the replay ends.
func (h *Handler) Interpret(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	res, err := s.InterpretCurrentRecording(r.Context())
	body := map[string]any{"success": err == nil}
	if res != nil {
		body["log"] = res.Log
		body["records"] = res.Records
		body["artifacts"] = len(res.Artifacts)
	}
	var ierr *session.InterpretationError
	if err != nil && !errors.As(err, &ierr) {
		h.fail(w, r, err)
		return
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

// StopInterpret handles DELETE /v1/recordings/{id}/interpret.
func (h *Handler) StopInterpret(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	s.StopInterpretation()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) owned(w http.ResponseWriter, r *http.Request) (*session.RemoteBrowser, bool) {
	s, err := h.sessions.Owned(userID(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return nil, false
	}
	return s, true
}

// fail maps err to a status code and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	} else {
		h.logger.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}
	writeError(w, code, err.Error())
}

func statusFor(err error) int {
	var initErr *session.InitializationError
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrNoRecordingSession),
		errors.Is(err, store.ErrRobotNotFound),
		errors.Is(err, store.ErrRunNotFound),
		errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrRecordingExists),
		errors.Is(err, session.ErrUserCapacity):
		return http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrConcurrencyLimit),
		errors.Is(err, runner.ErrShuttingDown),
		errors.As(err, &initErr):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrNoPage):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownInput),
		errors.Is(err, workflow.ErrRuleIndex),
		errors.Is(err, workflow.ErrStepIndex),
		errors.Is(err, workflow.ErrAnchorBounds),
		errors.Is(err, workflow.ErrMissingParam):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
