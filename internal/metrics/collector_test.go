package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollectorCounts(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.SessionOpened("recording")
	c.SessionOpened("recording")
	c.SessionClosed("recording")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsLive.WithLabelValues("recording")))

	c.PoolRejected("capacity")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.poolRejections.WithLabelValues("capacity")))

	c.LaunchAttempt(false)
	c.LaunchAttempt(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.launchAttempts.WithLabelValues("failure")))

	c.Step("click", errors.New("boom"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("click", "error")))

	c.RecordHTTPRequest("GET", "/v1/runs/{id}", 404, 10*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequestsTotal.WithLabelValues("GET", "/v1/runs/{id}", "4xx")))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.SessionOpened("run")
		c.Frame("emitted")
		c.Pair("merged")
		c.Watchdog("clear_frames")
		c.RunFinished("success")
	})
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesRegistry(t *testing.T) {
	c := NewCollector("browserflow", zap.NewNop())
	c.Frame("coalesced")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `browserflow_screencast_frames_total{outcome="coalesced"} 1`)
}
