package withdrawals

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/models"
)

type CreateWithdrawalRequest struct {
	EventID string `json:"event_id"`
	Amount  string `json:"amount"`
}

type RejectRequest struct {
	Reason string `json:"reason"`
}

type Handler struct {
	controller *Controller
	workflow   *Workflow
	log        *slog.Logger
}

func NewHandler(controller *Controller, workflow *Workflow, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{controller: controller, workflow: workflow, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req CreateWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	eventID, err := uuid.Parse(req.EventID)
	if err != nil {
		http.Error(w, "invalid event_id", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	created, err := h.controller.CreateRequest(r.Context(), eventID, userID, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid withdrawal id", http.StatusBadRequest)
		return
	}
	req, err := h.controller.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "withdrawal request not found", http.StatusNotFound)
			return
		}
		h.log.Error("get withdrawal failed", "error", err)
		http.Error(w, "get withdrawal failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) ListByEvent(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	list, err := h.controller.ListByEvent(r.Context(), eventID)
	if err != nil {
		h.log.Error("list withdrawals failed", "error", err)
		http.Error(w, "list withdrawals failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.WithdrawalRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	available, err := h.controller.AvailableForEvent(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "event not found", http.StatusNotFound)
			return
		}
		h.log.Error("available withdrawal failed", "error", err)
		http.Error(w, "available withdrawal failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"available": available.String()})
}

func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid withdrawal id", http.StatusBadRequest)
		return
	}
	req, err := h.workflow.Approve(r.Context(), id, reviewer)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	reviewer, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid withdrawal id", http.StatusBadRequest)
		return
	}
	var body RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	req, err := h.workflow.Reject(r.Context(), id, reviewer, body.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrReasonRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, pgx.ErrNoRows):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrNotEventCreator),
		errors.Is(err, ErrKycNotApproved),
		errors.Is(err, ErrEventNotEnded),
		errors.Is(err, ErrGiftsAlreadyAllotted):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ErrAmountExceedsAvailable),
		errors.Is(err, ErrInsufficientLedgerBalance),
		errors.Is(err, ErrAlreadyFinalized):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.log.Error("withdrawal request failed", "error", err)
		http.Error(w, "withdrawal request failed", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
