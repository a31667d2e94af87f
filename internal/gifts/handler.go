package gifts

import (
	"context"
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

type SendGiftRequest struct {
	ReceiverID    *string `json:"receiver_id,omitempty"`
	ReceiverPhone *string `json:"receiver_phone,omitempty"`
	Amount        string  `json:"amount"`
	EventID       *string `json:"event_id,omitempty"`
}

type GiftResponse struct {
	ID            string  `json:"id"`
	SenderID      string  `json:"sender_id"`
	ReceiverID    *string `json:"receiver_id,omitempty"`
	ReceiverPhone *string `json:"receiver_phone,omitempty"`
	EventID       *string `json:"event_id,omitempty"`
	Amount        string  `json:"amount"`
	Status        string  `json:"status"`
	Paid          bool    `json:"paid"`
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

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req SendGiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}
	var receiverID *uuid.UUID
	if req.ReceiverID != nil {
		id, err := uuid.Parse(*req.ReceiverID)
		if err != nil {
			http.Error(w, "invalid receiver_id", http.StatusBadRequest)
			return
		}
		receiverID = &id
	}
	var eventID *uuid.UUID
	if req.EventID != nil {
		id, err := uuid.Parse(*req.EventID)
		if err != nil {
			http.Error(w, "invalid event_id", http.StatusBadRequest)
			return
		}
		eventID = &id
	}
	g, err := h.svc.Send(r.Context(), senderID, receiverID, req.ReceiverPhone, amount, eventID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrNoReceiver):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, ErrEventClosed):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, pgx.ErrNoRows):
			http.Error(w, "event not found", http.StatusNotFound)
		default:
			h.log.Error("send gift failed", "error", err)
			http.Error(w, "send gift failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, giftToResponse(g))
}

// MarkPaid is the payment-gateway completion callback; the gateway boundary
// is trusted per deployment configuration.
func (h *Handler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	giftID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid gift id", http.StatusBadRequest)
		return
	}
	g, err := h.svc.MarkPaid(r.Context(), giftID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "gift not found", http.StatusNotFound)
			return
		}
		h.log.Error("mark paid failed", "gift_id", giftID, "error", err)
		http.Error(w, "mark paid failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, giftToResponse(g))
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	senderID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	giftID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid gift id", http.StatusBadRequest)
		return
	}
	if err := h.svc.Cancel(r.Context(), giftID, senderID); err != nil {
		if errors.Is(err, ErrNotCancellable) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.log.Error("cancel gift failed", "gift_id", giftID, "error", err)
		http.Error(w, "cancel gift failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListReceived(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.ListForReceiver)
}

func (h *Handler) ListSent(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, h.svc.ListForSender)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request, fetch func(ctx context.Context, id uuid.UUID) ([]*models.Gift, error)) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := fetch(r.Context(), userID)
	if err != nil {
		h.log.Error("list gifts failed", "error", err)
		http.Error(w, "list gifts failed", http.StatusInternalServerError)
		return
	}
	resp := make([]GiftResponse, 0, len(list))
	for _, g := range list {
		resp = append(resp, giftToResponse(g))
	}
	writeJSON(w, http.StatusOK, resp)
}

func giftToResponse(g *models.Gift) GiftResponse {
	out := GiftResponse{
		ID:            g.ID.String(),
		SenderID:      g.SenderID.String(),
		ReceiverPhone: g.ReceiverPhone,
		Amount:        g.Amount.String(),
		Status:        g.Status,
		Paid:          g.Paid,
	}
	if g.ReceiverID != nil {
		s := g.ReceiverID.String()
		out.ReceiverID = &s
	}
	if g.EventID != nil {
		s := g.EventID.String()
		out.EventID = &s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
