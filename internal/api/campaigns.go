package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/outreach/internal/domain"
	"github.com/ignite/outreach/internal/pkg/httputil"
	"github.com/ignite/outreach/internal/pkg/logger"
	"github.com/ignite/outreach/internal/service/campaign"
)

// Lifecycle is the campaign operations exposed over HTTP.
type Lifecycle interface {
	Get(ctx context.Context, userID, id string) (*domain.Campaign, error)
	Start(ctx context.Context, userID, id string) (*campaign.StartResult, error)
	Pause(ctx context.Context, userID, id string) (int64, error)
	Resume(ctx context.Context, userID, id string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
}

// CampaignHandler serves the campaign lifecycle endpoints.
type CampaignHandler struct {
	svc Lifecycle
}

func NewCampaignHandler(svc Lifecycle) *CampaignHandler {
	return &CampaignHandler{svc: svc}
}

type transitionResponse struct {
	ID       string                `json:"id"`
	Status   domain.CampaignStatus `json:"status"`
	Messages int64                 `json:"messages"`
}

func (h *CampaignHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.Get(r.Context(), UserIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *CampaignHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, id := UserIDFromContext(r.Context()), chi.URLParam(r, "id")
	res, err := h.svc.Start(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("campaign started", "campaign_id", id, "user_id", userID, "enqueued", res.Enqueued)
	httputil.OK(w, res)
}

func (h *CampaignHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Pause, domain.CampaignPaused)
}

func (h *CampaignHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resume, domain.CampaignActive)
}

func (h *CampaignHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, id := UserIDFromContext(r.Context()), chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), userID, id); err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("campaign deleted", "campaign_id", id, "user_id", userID)
	httputil.NoContent(w)
}

func (h *CampaignHandler) transition(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, userID, id string) (int64, error), to domain.CampaignStatus) {
	userID, id := UserIDFromContext(r.Context()), chi.URLParam(r, "id")
	n, err := op(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logger.Info("campaign status changed", "campaign_id", id, "user_id", userID, "status", string(to), "messages", n)
	httputil.OK(w, transitionResponse{ID: id, Status: to, Messages: n})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		httputil.Error(w, http.StatusNotFound, "not_found", "campaign not found")
	case errors.Is(err, campaign.ErrForbidden):
		httputil.Error(w, http.StatusForbidden, "forbidden", "campaign belongs to another user")
	case errors.Is(err, campaign.ErrInvalidTransition):
		httputil.Error(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, campaign.ErrNoLeads), errors.Is(err, campaign.ErrIncomplete):
		httputil.Error(w, http.StatusUnprocessableEntity, "not_ready", err.Error())
	default:
		httputil.InternalError(w, err)
	}
}
