package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driphub/driphub/internal/models"
	"github.com/driphub/driphub/internal/scheduler"
	"github.com/driphub/driphub/internal/storage"
)

type CampaignHandler struct {
	store     storage.Storage
	scheduler *scheduler.Scheduler
}

func NewCampaignHandler(store storage.Storage, sched *scheduler.Scheduler) *CampaignHandler {
	return &CampaignHandler{store: store, scheduler: sched}
}

type scheduleCampaignRequest struct {
	SenderID       string   `json:"sender_id"`
	Name           string   `json:"name"`
	Subject        string   `json:"subject"`
	Body           string   `json:"body"`
	Recipients     []string `json:"recipients"`
	StartTime      string   `json:"start_time"`
	DelayBetweenMs int64    `json:"delay_between_ms"`
	HourlyLimit    int      `json:"hourly_limit"`
}

const maxBodySize = 1 << 20 // 1MB

func (h *CampaignHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req scheduleCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Sender must belong to the caller; the core trusts the pair from here on.
	snd, err := h.store.GetSender(r.Context(), req.SenderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sender")
		return
	}
	if snd == nil || snd.AccountID != acc.ID {
		writeError(w, http.StatusBadRequest, "unknown sender")
		return
	}

	startTime := time.Now().UTC()
	if req.StartTime != "" {
		startTime, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start_time must be RFC 3339")
			return
		}
	}

	result, err := h.scheduler.Schedule(r.Context(), scheduler.ScheduleRequest{
		AccountID:    acc.ID,
		SenderID:     req.SenderID,
		CampaignName: req.Name,
		Subject:      req.Subject,
		Body:         req.Body,
		Recipients:   req.Recipients,
		StartTime:    startTime,
		DelayBetween: time.Duration(req.DelayBetweenMs) * time.Millisecond,
		HourlyLimit:  req.HourlyLimit,
	})
	if err != nil {
		if isValidationError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to schedule campaign")
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func isValidationError(err error) bool {
	return errors.Is(err, scheduler.ErrNoRecipients) ||
		errors.Is(err, scheduler.ErrMissingAccount) ||
		errors.Is(err, scheduler.ErrMissingSender) ||
		errors.Is(err, scheduler.ErrMissingName) ||
		errors.Is(err, scheduler.ErrMissingSubject) ||
		errors.Is(err, scheduler.ErrNegativeDelay)
}

func (h *CampaignHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	campaigns, err := h.store.ListCampaigns(r.Context(), acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list campaigns")
		return
	}
	if campaigns == nil {
		campaigns = []models.Campaign{}
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (h *CampaignHandler) getOwnedCampaign(w http.ResponseWriter, r *http.Request) *models.Campaign {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil
	}

	id := chi.URLParam(r, "id")
	c, err := h.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign")
		return nil
	}
	if c == nil || c.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "campaign not found")
		return nil
	}
	return c
}

func (h *CampaignHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.getOwnedCampaign(w, r)
	if c == nil {
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *CampaignHandler) Emails(w http.ResponseWriter, r *http.Request) {
	c := h.getOwnedCampaign(w, r)
	if c == nil {
		return
	}

	emails, err := h.store.ListCampaignEmails(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	if emails == nil {
		emails = []models.Email{}
	}
	writeJSON(w, http.StatusOK, emails)
}

func (h *CampaignHandler) Stats(w http.ResponseWriter, r *http.Request) {
	c := h.getOwnedCampaign(w, r)
	if c == nil {
		return
	}

	stats, err := h.store.CampaignEmailStats(r.Context(), c.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get campaign stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *CampaignHandler) GetEmail(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	email, err := h.store.GetEmail(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get email")
		return
	}
	if email == nil || email.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "email not found")
		return
	}
	writeJSON(w, http.StatusOK, email)
}

func (h *CampaignHandler) Summary(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	summary, err := h.store.AccountSummary(r.Context(), acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
