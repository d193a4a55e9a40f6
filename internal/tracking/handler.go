package tracking

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sendquill/sendquill/internal/domain"
	"github.com/sendquill/sendquill/internal/metrics"
	"github.com/sendquill/sendquill/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventRecorder persists engagement events.
type EventRecorder interface {
	RecordEvent(ctx context.Context, evt *domain.Event) error
}

// Handler serves the open pixel and the click redirect.
type Handler struct {
	events  EventRecorder
	timeout time.Duration
	now     func() time.Time
}

// NewHandler creates a tracking handler writing through events.
func NewHandler(events EventRecorder) *Handler {
	return &Handler{events: events, timeout: 5 * time.Second, now: time.Now}
}

// Routes mounts the tracking endpoints. The paths match what the Injector
// writes into outgoing mail.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get(OpenPath, h.HandleOpen)
	r.Get(ClickPath, h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen records an OPEN and always answers with the pixel.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("open tracking panic", "panic", rec)
			h.servePixel(w)
		}
	}()

	rid := strings.TrimSpace(r.URL.Query().Get("rid"))
	if rid == "" {
		metrics.ObserveTrackingEvent(string(domain.EventOpen), "missing_rid")
		h.servePixel(w)
		return
	}

	h.record(r, &domain.Event{
		RecipientID: rid,
		Type:        domain.EventOpen,
	})
	h.servePixel(w)
}

// HandleClick records a CLICK and redirects to the original target.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if !redirectable(target) {
		metrics.ObserveTrackingEvent(string(domain.EventClick), "bad_url")
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if rid := strings.TrimSpace(q.Get("rid")); rid != "" {
		h.record(r, &domain.Event{
			RecipientID: rid,
			Type:        domain.EventClick,
			URL:         target,
		})
	} else {
		metrics.ObserveTrackingEvent(string(domain.EventClick), "missing_rid")
	}

	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// record writes the event and swallows failures; tracking must never block
// the pixel or the redirect.
func (h *Handler) record(r *http.Request, evt *domain.Event) {
	evt.ID = uuid.New().String()
	evt.UserAgent = r.UserAgent()
	evt.IPAddress = realIP(r)
	evt.CreatedAt = h.now().UTC()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.timeout)
	defer cancel()

	if err := h.events.RecordEvent(ctx, evt); err != nil {
		metrics.ObserveTrackingEvent(string(evt.Type), "error")
		logger.Warn("tracking event not recorded",
			"type", evt.Type, "recipient_id", evt.RecipientID, "error", err)
		return
	}
	metrics.ObserveTrackingEvent(string(evt.Type), "recorded")
	logger.Debug("tracking event recorded", "type", evt.Type, "recipient_id", evt.RecipientID)
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

// redirectable accepts only absolute http(s) URLs so the endpoint cannot be
// used to bounce visitors to javascript: or scheme-relative targets. The
// injector uses the same check to decide which links to rewrite.
func redirectable(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
