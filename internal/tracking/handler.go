package tracking

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/outreach/internal/metrics"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/engagement"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Recorder stores tracking hits.
type Recorder interface {
	RecordOpen(ctx context.Context, hit engagement.Hit) (bool, error)
	RecordClick(ctx context.Context, hit engagement.Hit) (bool, error)
}

// Handler serves the open pixel and click redirect. Neither endpoint ever
// fails towards the recipient because of a recording error.
type Handler struct {
	rec     Recorder
	metrics *metrics.Metrics
}

func NewHandler(rec Recorder, m *metrics.Metrics) *Handler {
	return &Handler{rec: rec, metrics: m}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(OpenPath, h.HandleOpen)
	r.Get(ClickPath, h.HandleClick)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	hit := hitFromRequest(r)
	recorded, err := h.rec.RecordOpen(r.Context(), hit)
	if err != nil {
		logger.Error("record open", "campaign_id", hit.CampaignID, "message_id", hit.MessageID, "error", err)
	}
	h.metrics.TrackingHit("open", recorded)
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	hit := hitFromRequest(r)
	if !redirectable(hit.URL) {
		h.metrics.TrackingHit("click", false)
		http.Error(w, "link not found", http.StatusNotFound)
		return
	}

	recorded, err := h.rec.RecordClick(r.Context(), hit)
	if err != nil {
		logger.Error("record click", "campaign_id", hit.CampaignID, "message_id", hit.MessageID, "error", err)
	}
	h.metrics.TrackingHit("click", recorded)
	http.Redirect(w, r, hit.URL, http.StatusFound)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	_, _ = w.Write(pixelGIF)
}

func hitFromRequest(r *http.Request) engagement.Hit {
	q := r.URL.Query()
	return engagement.Hit{
		CampaignID: q.Get(ParamCampaign),
		MessageID:  q.Get(ParamMessage),
		Token:      q.Get(ParamToken),
		URL:        strings.TrimSpace(q.Get(ParamURL)),
		IP:         realIP(r),
		UserAgent:  r.UserAgent(),
	}
}

// redirectable rejects empty targets and schemes a browser would execute
// instead of navigate to.
func redirectable(target string) bool {
	if target == "" {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "javascript", "data", "vbscript":
		return false
	}
	return true
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
