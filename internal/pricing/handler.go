package pricing

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/uberoi/giftledger/internal/models"
)

type SetPriceRequest struct {
	Price string `json:"price"`
}

type PriceResponse struct {
	TargetType string `json:"target_type"`
	Price      string `json:"price"`
}

type Handler struct {
	oracle    Oracle
	publisher Publisher
	log       *slog.Logger
}

func NewHandler(oracle Oracle, publisher Publisher, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{oracle: oracle, publisher: publisher, log: log}
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if !models.ValidTarget(target) {
		http.Error(w, "unknown target type", http.StatusBadRequest)
		return
	}
	price, err := h.oracle.CurrentPrice(r.Context(), target)
	if err != nil {
		if errors.Is(err, ErrPriceUnavailable) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		h.log.Error("price lookup failed", "error", err)
		http.Error(w, "price lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PriceResponse{TargetType: target, Price: price.String()})
}

func (h *Handler) Set(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if !models.ValidTarget(target) {
		http.Error(w, "unknown target type", http.StatusBadRequest)
		return
	}
	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		http.Error(w, "price must be a positive decimal", http.StatusBadRequest)
		return
	}
	if err := h.publisher.Publish(r.Context(), target, price); err != nil {
		h.log.Error("price publish failed", "target", target, "error", err)
		http.Error(w, "price publish failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(PriceResponse{TargetType: target, Price: price.String()})
}
