package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/middleware"
	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/tier"
)

// AccountService is the part of service.APIKeyService the self-service
// endpoints use.
type AccountService interface {
	Register(ctx context.Context, email string) (*service.CreateAPIKeyResult, error)
	Usage(ctx context.Context, id *service.Identity) (*service.UsageStats, error)
	Account(ctx context.Context, id *service.Identity) (*service.Account, error)
}

// --- Register ---

type RegisterHandler struct {
	svc AccountService
}

func NewRegisterHandler(svc AccountService) *RegisterHandler {
	return &RegisterHandler{svc: svc}
}

type registerRequest struct {
	Email string `json:"email"`
}

type registerResponse struct {
	ID           uuid.UUID `json:"id"`
	APIKey       string    `json:"api_key"`
	Email        string    `json:"email"`
	Tier         tier.Tier `json:"tier"`
	MonthlyLimit int64     `json:"monthly_limit"`
	CreatedAt    string    `json:"created_at"`
	Message      string    `json:"message"`
}

func (h *RegisterHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.svc.Register(r.Context(), req.Email)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusCreated, registerResponse{
		ID:           result.APIKey.ID,
		APIKey:       result.RawKey,
		Email:        result.APIKey.UserEmail,
		Tier:         result.APIKey.Tier,
		MonthlyLimit: result.Quota,
		CreatedAt:    result.APIKey.CreatedAt.Format(time.RFC3339),
		Message:      "Store this key now. It cannot be shown again.",
	})
}

// --- Usage ---

type UsageHandler struct {
	svc AccountService
}

func NewUsageHandler(svc AccountService) *UsageHandler {
	return &UsageHandler{svc: svc}
}

type usageResponse struct {
	Key string `json:"key"`
	*service.UsageStats
}

func (h *UsageHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		RespondError(w, http.StatusUnauthorized, service.CodeMissingKey, "Missing API key")
		return
	}

	stats, err := h.svc.Usage(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, usageResponse{Key: id.KeyPrefix, UsageStats: stats})
}

// --- My Account ---

type AccountHandler struct {
	svc AccountService
}

func NewAccountHandler(svc AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

func (h *AccountHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())
	if id == nil {
		RespondError(w, http.StatusUnauthorized, service.CodeMissingKey, "Missing API key")
		return
	}

	acct, err := h.svc.Account(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	RespondJSON(w, http.StatusOK, acct)
}
