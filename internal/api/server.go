package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/browserflow/internal/config"
	"github.com/shehryarbajwa/browserflow/internal/metrics"
	"github.com/shehryarbajwa/browserflow/internal/ratelimit"
	"github.com/shehryarbajwa/browserflow/internal/socket"
)

// SetupRoutes configures all HTTP routes.
func (h *Handler) SetupRoutes(cfg config.Config, sockets *socket.Server, limiter *ratelimit.Limiter, m *metrics.Collector) *mux.Router {
	r := mux.NewRouter()
	r.Use(MetricsMiddleware(m, h.logger))
	r.Use(CORSMiddleware(cfg.Server.AllowedOrigins))

	// Preflight requests match here so CORSMiddleware answers them.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(UserMiddleware)

	// Starting browsers is rate limited.
	limited := api.PathPrefix("").Subrouter()
	limited.Use(RateLimitMiddleware(limiter, cfg.RateLimit.RequestsPerHour))
	limited.HandleFunc("/recordings", h.StartRecording).Methods(http.MethodPost)
	limited.HandleFunc("/robots/{id}/runs", h.StartRun).Methods(http.MethodPost)

	api.HandleFunc("/recordings", h.ListRecordings).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}", h.StopRecording).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/workflow", h.GetWorkflow).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}/navigate", h.Navigate).Methods(http.MethodPost)
	api.HandleFunc("/recordings/{id}/screenshot", h.Screenshot).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}/interpret", h.Interpret).Methods(http.MethodPost)
	api.HandleFunc("/recordings/{id}/interpret", h.StopInterpret).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/fields", h.ListFields).Methods(http.MethodGet)
	api.HandleFunc("/recordings/{id}/anchor", h.SetAnchor).Methods(http.MethodPut)
	api.HandleFunc("/recordings/{id}/anchor", h.ClearAnchor).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/rules/{rule}", h.RemoveRule).Methods(http.MethodDelete)
	api.HandleFunc("/recordings/{id}/rules/{rule}/steps/{step}", h.UpdateStep).Methods(http.MethodPut)
	api.HandleFunc("/recordings/{id}/socket", func(w http.ResponseWriter, r *http.Request) {
		sockets.Handle(w, r, userID(r), mux.Vars(r)["id"])
	}).Methods(http.MethodGet)

	api.HandleFunc("/robots", h.SaveRobot).Methods(http.MethodPost)
	api.HandleFunc("/robots", h.ListRobots).Methods(http.MethodGet)
	api.HandleFunc("/robots/{id}", h.GetRobot).Methods(http.MethodGet)
	api.HandleFunc("/robots/{id}", h.DeleteRobot).Methods(http.MethodDelete)
	api.HandleFunc("/robots/{id}/workflow", h.UpdateRobotWorkflow).Methods(http.MethodPut)
	api.HandleFunc("/robots/{id}/params", h.GetRobotParams).Methods(http.MethodGet)
	api.HandleFunc("/robots/{id}/runs", h.ListRuns).Methods(http.MethodGet)

	api.HandleFunc("/runs/{id}", h.GetRun).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}/artifacts", h.GetRunArtifacts).Methods(http.MethodGet)
	api.HandleFunc("/runs/{id}", h.AbortRun).Methods(http.MethodDelete)

	return r
}
