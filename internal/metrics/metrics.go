// Package metrics exposes the Prometheus collectors for sending, tracking
// and the HTTP surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RecipientsTotal counts per-recipient delivery outcomes (sent, failed, skipped).
	RecipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendquill_recipients_total",
			Help: "Recipient delivery attempts by outcome",
		},
		[]string{"transport", "outcome"},
	)

	// CampaignRunsTotal counts completed sender runs by derived status.
	CampaignRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendquill_campaign_runs_total",
			Help: "Campaign send runs by resulting campaign status",
		},
		[]string{"kind", "status"},
	)

	// TransportDuration observes latency of a single transport call.
	TransportDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sendquill_transport_duration_seconds",
			Help:    "Mail transport call latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"transport"},
	)

	// TrackingEventsTotal counts OPEN and CLICK hits, including failed writes.
	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sendquill_tracking_events_total",
			Help: "Tracking events received by type and result",
		},
		[]string{"type", "result"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveRecipient records one recipient outcome.
func ObserveRecipient(transport, outcome string) {
	RecipientsTotal.WithLabelValues(transport, outcome).Inc()
}

// ObserveTransport records the latency of one transport call.
func ObserveTransport(transport string, d time.Duration) {
	TransportDuration.WithLabelValues(transport).Observe(d.Seconds())
}

// ObserveRun records the derived status of a finished sender run.
func ObserveRun(kind, status string) {
	CampaignRunsTotal.WithLabelValues(kind, status).Inc()
}

// ObserveTrackingEvent records a tracking hit.
func ObserveTrackingEvent(eventType, result string) {
	TrackingEventsTotal.WithLabelValues(eventType, result).Inc()
}

// Middleware records request counts and latency. The matched chi route
// pattern is used as the label to keep cardinality low.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		labels := prometheus.Labels{
			"method": r.Method,
			"route":  route,
			"status": strconv.Itoa(status),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
