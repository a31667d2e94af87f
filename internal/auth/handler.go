package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/uberoi/giftledger/internal/middleware"
	"github.com/uberoi/giftledger/internal/models"
)

type RegisterRequest struct {
	Phone       string `json:"phone"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type LoginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID                string  `json:"id"`
	Phone             string  `json:"phone"`
	DisplayName       string  `json:"display_name"`
	DefaultTargetType *string `json:"default_target_type,omitempty"`
	ClaimedGifts      int     `json:"claimed_gifts"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// GiftClaimer resolves phone-addressed gifts onto a newly registered user.
type GiftClaimer interface {
	ClaimPending(ctx context.Context, userID uuid.UUID, phone string) ([]*models.Gift, error)
}

type Handler struct {
	svc    Service
	claims GiftClaimer
	log    *slog.Logger
}

func NewHandler(svc Service, claims GiftClaimer, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, claims: claims, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Phone == "" || req.Password == "" || req.DisplayName == "" {
		http.Error(w, "missing required fields", http.StatusBadRequest)
		return
	}
	u, err := h.svc.Register(r.Context(), req.Phone, req.Password, req.DisplayName)
	if err != nil {
		if errors.Is(err, ErrDuplicatePhone) {
			http.Error(w, "phone number already registered", http.StatusConflict)
			return
		}
		h.log.Error("register failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	resp := userToResponse(u)
	if h.claims != nil {
		claimed, err := h.claims.ClaimPending(r.Context(), u.ID, u.Phone)
		if err != nil {
			// Registration already committed; claiming retries on next login path.
			h.log.Error("pending gift claim failed", "user_id", u.ID, "error", err)
		} else {
			resp.ClaimedGifts = len(claimed)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(resp)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Phone == "" || req.Password == "" {
		http.Error(w, "missing phone or password", http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

// SetDefaultTarget stores the caller's preferred auto-allocation asset.
func (h *Handler) SetDefaultTarget(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	var req struct {
		TargetType string `json:"target_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if err := h.svc.SetDefaultTarget(r.Context(), userID, req.TargetType); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func userToResponse(u *User) UserResponse {
	return UserResponse{
		ID:                u.ID.String(),
		Phone:             u.Phone,
		DisplayName:       u.DisplayName,
		DefaultTargetType: u.DefaultTargetType,
	}
}
