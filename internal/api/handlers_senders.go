package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driphub/driphub/internal/models"
	"github.com/driphub/driphub/internal/storage"
)

type SenderHandler struct {
	store storage.Storage
}

func NewSenderHandler(store storage.Storage) *SenderHandler {
	return &SenderHandler{store: store}
}

type createSenderRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (h *SenderHandler) Create(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createSenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return
	}

	snd := &models.Sender{
		ID:        models.NewID("snd"),
		AccountID: acc.ID,
		Name:      req.Name,
		Email:     req.Email,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreateSender(r.Context(), snd); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create sender")
		return
	}

	writeJSON(w, http.StatusCreated, snd)
}

func (h *SenderHandler) List(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	senders, err := h.store.ListSenders(r.Context(), acc.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list senders")
		return
	}
	if senders == nil {
		senders = []models.Sender{}
	}
	writeJSON(w, http.StatusOK, senders)
}

func (h *SenderHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	snd, err := h.store.GetSender(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sender")
		return
	}
	if snd == nil || snd.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "sender not found")
		return
	}
	writeJSON(w, http.StatusOK, snd)
}

func (h *SenderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	acc := AccountFromContext(r.Context())
	if acc == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := chi.URLParam(r, "id")
	snd, err := h.store.GetSender(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get sender")
		return
	}
	if snd == nil || snd.AccountID != acc.ID {
		writeError(w, http.StatusNotFound, "sender not found")
		return
	}

	if err := h.store.DeleteSender(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete sender")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
