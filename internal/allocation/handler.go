package allocation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/models"
	"github.com/uberoi/giftledger/internal/pricing"
)

type AllocateRequest struct {
	TargetType string   `json:"target_type"`
	Amount     string   `json:"amount"`
	GiftID     *string  `json:"gift_id,omitempty"`
	GiftIDs    []string `json:"gift_ids,omitempty"`
}

type EntryResponse struct {
	ID           string  `json:"id"`
	GiftID       *string `json:"gift_id,omitempty"`
	Amount       string  `json:"amount"`
	TargetType   string  `json:"target_type"`
	Units        string  `json:"units"`
	PricePerUnit string  `json:"price_per_unit"`
}

type LedgerResponse struct {
	Unallotted    string `json:"unallotted"`
	Holding       string `json:"holding"`
	AllottedGold  string `json:"allotted_gold"`
	AllottedStock string `json:"allotted_stock"`
}

type AllocateResponse struct {
	Entries []EntryResponse `json:"entries"`
	Ledger  LedgerResponse  `json:"ledger"`
}

type Handler struct {
	engine *Engine
	log    *slog.Logger
}

func NewHandler(engine *Engine, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{engine: engine, log: log}
}

func (h *Handler) Allocate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		http.Error(w, "invalid amount", http.StatusBadRequest)
		return
	}

	var result *Result
	switch {
	case len(req.GiftIDs) > 0:
		ids := make([]uuid.UUID, 0, len(req.GiftIDs))
		for _, s := range req.GiftIDs {
			id, err := uuid.Parse(s)
			if err != nil {
				http.Error(w, "invalid gift id", http.StatusBadRequest)
				return
			}
			ids = append(ids, id)
		}
		result, err = h.engine.AllocateBulk(r.Context(), userID, req.TargetType, amount, ids)
	case req.GiftID != nil:
		id, perr := uuid.Parse(*req.GiftID)
		if perr != nil {
			http.Error(w, "invalid gift id", http.StatusBadRequest)
			return
		}
		result, err = h.engine.Allocate(r.Context(), userID, req.TargetType, amount, &id)
	default:
		result, err = h.engine.Allocate(r.Context(), userID, req.TargetType, amount, nil)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResponse(result))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidTargetType), errors.Is(err, ErrInvalidAmount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrGiftNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrGiftPaymentPending), errors.Is(err, ErrInsufficientUnallotted):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pricing.ErrPriceUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("allocation failed", "error", err)
		http.Error(w, "allocation failed", http.StatusInternalServerError)
	}
}

func toResponse(res *Result) AllocateResponse {
	out := AllocateResponse{
		Entries: make([]EntryResponse, 0, len(res.Entries)),
		Ledger:  ledgerToResponse(res.Ledger),
	}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, entryToResponse(e))
	}
	return out
}

func entryToResponse(e *models.AllocationEntry) EntryResponse {
	out := EntryResponse{
		ID:           e.ID.String(),
		Amount:       e.Amount.String(),
		TargetType:   e.TargetType,
		Units:        e.Units.String(),
		PricePerUnit: e.PricePerUnit.String(),
	}
	if e.GiftID != nil {
		s := e.GiftID.String()
		out.GiftID = &s
	}
	return out
}

func ledgerToResponse(l *models.Ledger) LedgerResponse {
	return LedgerResponse{
		Unallotted:    l.Unallotted.String(),
		Holding:       l.Holding.String(),
		AllottedGold:  l.AllottedGold.String(),
		AllottedStock: l.AllottedStock.String(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
