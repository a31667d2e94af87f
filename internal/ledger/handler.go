package ledger

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/models"
)

type SnapshotResponse struct {
	UserID        string `json:"user_id"`
	Unallotted    string `json:"unallotted"`
	Holding       string `json:"holding"`
	AllottedGold  string `json:"allotted_gold"`
	AllottedStock string `json:"allotted_stock"`
	Total         string `json:"total"`
}

type AllocationResponse struct {
	ID           string  `json:"id"`
	GiftID       *string `json:"gift_id,omitempty"`
	Amount       string  `json:"amount"`
	TargetType   string  `json:"target_type"`
	Units        string  `json:"units"`
	PricePerUnit string  `json:"price_per_unit"`
	CreatedAt    string  `json:"created_at"`
}

type ReceiptResponse struct {
	GiftID           string `json:"gift_id"`
	Amount           string `json:"amount"`
	SenderID         string `json:"sender_id"`
	IsFullyAllocated bool   `json:"is_fully_allocated"`
	ReceivedAt       string `json:"received_at"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Snapshot returns the caller's balances, creating the ledger on first query.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	l, err := h.svc.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.log.Error("ledger snapshot failed", "error", err)
		http.Error(w, "ledger snapshot failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, SnapshotResponse{
		UserID:        l.UserID.String(),
		Unallotted:    l.Unallotted.String(),
		Holding:       l.Holding.String(),
		AllottedGold:  l.AllottedGold.String(),
		AllottedStock: l.AllottedStock.String(),
		Total:         l.Total().String(),
	})
}

func (h *Handler) ListAllocations(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.Allocations(r.Context(), userID)
	if err != nil {
		h.log.Error("list allocations failed", "error", err)
		http.Error(w, "list allocations failed", http.StatusInternalServerError)
		return
	}
	resp := make([]AllocationResponse, 0, len(list))
	for _, e := range list {
		resp = append(resp, allocationToResponse(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListReceipts(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.Receipts(r.Context(), userID)
	if err != nil {
		h.log.Error("list receipts failed", "error", err)
		http.Error(w, "list receipts failed", http.StatusInternalServerError)
		return
	}
	resp := make([]ReceiptResponse, 0, len(list))
	for _, g := range list {
		resp = append(resp, ReceiptResponse{
			GiftID:           g.GiftID.String(),
			Amount:           g.Amount.String(),
			SenderID:         g.SenderID.String(),
			IsFullyAllocated: g.IsFullyAllocated,
			ReceivedAt:       g.ReceivedAt.Format(timeFormat),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

const timeFormat = "2006-01-02T15:04:05Z07:00"

func allocationToResponse(e *models.AllocationEntry) AllocationResponse {
	out := AllocationResponse{
		ID:           e.ID.String(),
		Amount:       e.Amount.String(),
		TargetType:   e.TargetType,
		Units:        e.Units.String(),
		PricePerUnit: e.PricePerUnit.String(),
		CreatedAt:    e.CreatedAt.Format(timeFormat),
	}
	if e.GiftID != nil {
		s := e.GiftID.String()
		out.GiftID = &s
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
