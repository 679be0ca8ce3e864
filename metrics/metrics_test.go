package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector()

	c.RecordDecision("rejected", "no_credentials")
	c.RecordDecision("rejected", "no_credentials")
	c.RecordDecision("authenticated", "api_key")
	assert.InDelta(t, 2, testutil.ToFloat64(c.decisions.WithLabelValues("rejected", "no_credentials")), 0)

	c.RecordRefresh("google", "failure", 30*time.Millisecond)
	assert.InDelta(t, 1, testutil.ToFloat64(c.refreshes.WithLabelValues("google", "failure")), 0)

	c.RecordAPIKey("created")
	c.RecordRateLimited("POST /api/keys")
	c.RecordLogin("github", true)
	assert.InDelta(t, 1, testutil.ToFloat64(c.logins.WithLabelValues("github", "true")), 0)
}

func TestCollector_Nil(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordDecision("a", "b")
		c.RecordRefresh("google", "success", time.Second)
		c.RecordRateLimited("r")
		c.RecordAPIKey("created")
		c.RecordLogin("google", false)
	})

	h := c.Middleware("r")(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	h := c.Middleware("GET /api/me")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/me", nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `authcore_http_requests_total{code="401",route="GET /api/me"} 1`), body)
	assert.Contains(t, body, "go_goroutines")
}
