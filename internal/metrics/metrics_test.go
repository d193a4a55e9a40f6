package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/campaigns/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/campaigns/{id}", "418"))
	req := httptest.NewRequest(http.MethodGet, "/api/campaigns/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/campaigns/{id}", "418"))
	assert.Equal(t, before+1, after)
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(RecipientsTotal.WithLabelValues("gmail", "sent"))
	ObserveRecipient("gmail", "sent")
	assert.Equal(t, before+1, testutil.ToFloat64(RecipientsTotal.WithLabelValues("gmail", "sent")))

	before = testutil.ToFloat64(TrackingEventsTotal.WithLabelValues("OPEN", "recorded"))
	ObserveTrackingEvent("OPEN", "recorded")
	assert.Equal(t, before+1, testutil.ToFloat64(TrackingEventsTotal.WithLabelValues("OPEN", "recorded")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	ObserveRun("process", "SENT")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sendquill_campaign_runs_total"))
}
