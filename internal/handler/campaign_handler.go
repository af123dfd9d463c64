package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/astronote/astronote-backend/internal/errors"
	"github.com/astronote/astronote-backend/internal/queue"
	"github.com/astronote/astronote-backend/internal/service"
	"github.com/astronote/astronote-backend/internal/worker"
)

// DispatchService is the slice of the campaign service the HTTP layer needs.
type DispatchService interface {
	EnqueueCampaign(ctx context.Context, campaignID, ownerID int64, idemKey string) (*service.EnqueueResult, error)
	GetCampaignStatus(ctx context.Context, campaignID, ownerID int64) (*service.CampaignStatusView, error)
	PauseCampaign(ctx context.Context, campaignID, ownerID int64) error
	ResumeCampaign(ctx context.Context, campaignID, ownerID int64) error
}

// CampaignHandler exposes the dispatch API. Authentication happens at the
// gateway; the owner arrives pre-verified in the X-Owner-ID header.
type CampaignHandler struct {
	Service    DispatchService
	Supervisor *worker.Supervisor
	Queue      queue.Queue
	Logger     *slog.Logger
}

func (h *CampaignHandler) Routes(r chi.Router) {
	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Post("/enqueue", h.Enqueue)
		r.Get("/status", h.Status)
		r.Post("/pause", h.Pause)
		r.Post("/resume", h.Resume)
	})
	r.Get("/healthz", h.Health)
}

func (h *CampaignHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	campaignID, ownerID, ok := h.identify(w, r)
	if !ok {
		return
	}
	idemKey := r.Header.Get("Idempotency-Key")

	res, err := h.Service.EnqueueCampaign(r.Context(), campaignID, ownerID, idemKey)
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Replayed {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (h *CampaignHandler) Status(w http.ResponseWriter, r *http.Request) {
	campaignID, ownerID, ok := h.identify(w, r)
	if !ok {
		return
	}
	view, err := h.Service.GetCampaignStatus(r.Context(), campaignID, ownerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *CampaignHandler) Pause(w http.ResponseWriter, r *http.Request) {
	campaignID, ownerID, ok := h.identify(w, r)
	if !ok {
		return
	}
	if err := h.Service.PauseCampaign(r.Context(), campaignID, ownerID); err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (h *CampaignHandler) Resume(w http.ResponseWriter, r *http.Request) {
	campaignID, ownerID, ok := h.identify(w, r)
	if !ok {
		return
	}
	if err := h.Service.ResumeCampaign(r.Context(), campaignID, ownerID); err != nil {
		h.writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "scheduled"})
}

func (h *CampaignHandler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "ok",
	}
	if h.Supervisor != nil {
		body["workers"] = map[string]any{
			"running":    h.Supervisor.Running(),
			"holds_lock": h.Supervisor.HoldsLock(),
		}
	}
	if h.Queue != nil {
		if depth, err := h.Queue.Depth(r.Context(), queue.SendQueue); err == nil {
			body["send_queue_depth"] = depth
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (h *CampaignHandler) identify(w http.ResponseWriter, r *http.Request) (campaignID, ownerID int64, ok bool) {
	campaignID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "", "invalid campaign id")
		return 0, 0, false
	}
	ownerID, err = strconv.ParseInt(r.Header.Get("X-Owner-ID"), 10, 64)
	if err != nil || ownerID <= 0 {
		respondError(w, http.StatusUnauthorized, "", "missing or invalid X-Owner-ID")
		return 0, 0, false
	}
	return campaignID, ownerID, true
}

func (h *CampaignHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	switch code {
	case apperrors.CodeNotFound:
		respondError(w, http.StatusNotFound, code, err.Error())
	case apperrors.CodeAlreadySending:
		respondError(w, http.StatusConflict, code, err.Error())
	case apperrors.CodeInvalidStatus, apperrors.CodeNoRecipients:
		respondError(w, http.StatusUnprocessableEntity, code, err.Error())
	case apperrors.CodeInsufficientCredits:
		respondError(w, http.StatusPaymentRequired, code, err.Error())
	default:
		h.Logger.Error("request failed", "err", err)
		respondError(w, http.StatusInternalServerError, "", "internal error")
	}
}

type errorBody struct {
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

func respondError(w http.ResponseWriter, status int, code, msg string) {
	respondJSON(w, status, errorBody{Code: code, Error: msg})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
