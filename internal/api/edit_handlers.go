package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/browserflow/pkg/models"
)

// UpdateStep handles PUT /v1/recordings/{id}/rules/{rule}/steps/{step}.
func (h *Handler) UpdateStep(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	rule, ok := intVar(w, r, "rule")
	if !ok {
		return
	}
	step, ok := intVar(w, r, "step")
	if !ok {
		return
	}
	var body models.Step
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Action == "" {
		writeError(w, http.StatusBadRequest, "step with an action is required")
		return
	}
	if err := s.Generator().UpdateStep(rule, step, body); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Generator().Workflow())
}

// RemoveRule handles DELETE /v1/recordings/{id}/rules/{rule}.
func (h *Handler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	rule, ok := intVar(w, r, "rule")
	if !ok {
		return
	}
	if err := s.Generator().RemoveRule(rule); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Generator().Workflow())
}

// SetAnchor handles PUT /v1/recordings/{id}/anchor. New rules are
// spliced in at the given index until the anchor is cleared.
func (h *Handler) SetAnchor(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req struct {
		Index *int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
		writeError(w, http.StatusBadRequest, "index is required")
		return
	}
	if err := s.Generator().SetInsertionAnchor(*req.Index); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearAnchor handles DELETE /v1/recordings/{id}/anchor.
func (h *Handler) ClearAnchor(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	s.Generator().ClearInsertionAnchor()
	w.WriteHeader(http.StatusNoContent)
}

// ListFields handles GET /v1/recordings/{id}/fields?selector=...
func (h *Handler) ListFields(w http.ResponseWriter, r *http.Request) {
	s, ok := h.owned(w, r)
	if !ok {
		return
	}
	sel := strings.TrimSpace(r.URL.Query().Get("selector"))
	if sel == "" {
		writeError(w, http.StatusBadRequest, "selector is required")
		return
	}
	fields, err := s.ListFields(r.Context(), sel)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if fields == nil {
		fields = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"fields": fields})
}

func intVar(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}
