package tracking

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventPublisher enqueues tracking events. *Publisher is the SQS-backed
// implementation.
type EventPublisher interface {
	Publish(ctx context.Context, evt TrackingEvent)
}

type Handler struct {
	pub EventPublisher

	// viewerBaseURL is where tracked links land, e.g. https://app.example.com.
	// The token is appended so the viewer can keep reporting against it.
	viewerBaseURL string
}

func NewHandler(pub EventPublisher, viewerBaseURL string) *Handler {
	return &Handler{pub: pub, viewerBaseURL: strings.TrimRight(viewerBaseURL, "/")}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/t/open/{token}", h.HandleOpen)
	r.Get("/t/view/{token}", h.HandleView)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen answers the tracking pixel. Always 200 with a GIF; the queue
// consumer decides whether the token was real.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	h.pub.Publish(r.Context(), TrackingEvent{
		EventType: EventOpen,
		Token:     token,
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
		Timestamp: time.Now().UTC(),
	})

	log.Printf("OPEN token=%s...", truncate(token))
	h.servePixel(w)
}

// HandleView records a tracked-link click and forwards the recipient to the
// proposal viewer.
func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	h.pub.Publish(r.Context(), TrackingEvent{
		EventType: EventView,
		Token:     token,
		IPAddress: realIP(r),
		UserAgent: r.UserAgent(),
		Timestamp: time.Now().UTC(),
	})

	log.Printf("VIEW token=%s...", truncate(token))
	http.Redirect(w, r, h.viewerBaseURL+"/p/"+token, http.StatusTemporaryRedirect)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func truncate(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
