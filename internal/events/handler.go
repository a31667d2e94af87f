package events

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/models"
)

type CreateEventRequest struct {
	Title                string `json:"title"`
	StartAt              string `json:"start_at"`
	EndAt                string `json:"end_at"`
	WithdrawalPercentage string `json:"withdrawal_percentage"`
}

type EventResponse struct {
	ID                   string `json:"id"`
	CreatorID            string `json:"creator_id"`
	Title                string `json:"title"`
	StartAt              string `json:"start_at"`
	EndAt                string `json:"end_at"`
	WithdrawalPercentage string `json:"withdrawal_percentage"`
	GiftCount            *int   `json:"gift_count,omitempty"`
	TotalAmount          *string `json:"total_amount,omitempty"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	startAt, err1 := time.Parse(time.RFC3339, req.StartAt)
	endAt, err2 := time.Parse(time.RFC3339, req.EndAt)
	if req.Title == "" || err1 != nil || err2 != nil {
		http.Error(w, "missing or invalid required fields", http.StatusBadRequest)
		return
	}
	pct, err := decimal.NewFromString(req.WithdrawalPercentage)
	if err != nil {
		http.Error(w, "invalid withdrawal_percentage", http.StatusBadRequest)
		return
	}
	e, err := h.svc.Create(r.Context(), creatorID, req.Title, startAt, endAt, pct)
	if err != nil {
		if errors.Is(err, ErrInvalidWindow) || errors.Is(err, ErrInvalidPercentage) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.log.Error("create event failed", "error", err)
		http.Error(w, "create event failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, eventToResponse(e, nil))
}

// Get returns the event with its stats recomputed from the gifts table.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	e, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		h.log.Error("get event failed", "error", err)
		http.Error(w, "get event failed", http.StatusInternalServerError)
		return
	}
	stats, err := h.svc.Stats(r.Context(), id)
	if err != nil {
		h.log.Error("event stats failed", "error", err)
		http.Error(w, "event stats failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, eventToResponse(e, stats))
}

func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	creatorID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByCreator(r.Context(), creatorID)
	if err != nil {
		h.log.Error("list events failed", "error", err)
		http.Error(w, "list events failed", http.StatusInternalServerError)
		return
	}
	resp := make([]EventResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, eventToResponse(e, nil))
	}
	writeJSON(w, http.StatusOK, resp)
}

func eventToResponse(e *models.Event, stats *models.EventStats) EventResponse {
	out := EventResponse{
		ID:                   e.ID.String(),
		CreatorID:            e.CreatorID.String(),
		Title:                e.Title,
		StartAt:              e.StartAt.Format(time.RFC3339),
		EndAt:                e.EndAt.Format(time.RFC3339),
		WithdrawalPercentage: e.WithdrawalPercentage.String(),
	}
	if stats != nil {
		out.GiftCount = &stats.GiftCount
		s := stats.TotalAmount.String()
		out.TotalAmount = &s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
