package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/handler"
	"github.com/social-trends-api/internal/httputil"
	"github.com/social-trends-api/internal/middleware"
	"github.com/social-trends-api/internal/model"
	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/tier"
)

// KeyService is the part of service.APIKeyService the admin endpoints use.
type KeyService interface {
	List(ctx context.Context, page, perPage int) ([]*model.APIKey, int, error)
	Get(ctx context.Context, id uuid.UUID) (*model.APIKey, error)
	ListByEmail(ctx context.Context, email string) ([]*model.APIKey, error)
	Provision(ctx context.Context, input service.ProvisionInput) (*service.CreateAPIKeyResult, error)
	SetTier(ctx context.Context, id uuid.UUID, name string) (*model.APIKey, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.APIKey, error)
}

type apiKeyItem struct {
	ID             uuid.UUID          `json:"id"`
	UserID         uuid.UUID          `json:"user_id"`
	Email          string             `json:"email,omitempty"`
	KeyPrefix      string             `json:"key_prefix"`
	Tier           tier.Tier          `json:"tier"`
	MonthlyLimit   int64              `json:"monthly_limit"`
	Source         model.APIKeySource `json:"source"`
	RapidAPIUserID string             `json:"rapidapi_user_id,omitempty"`
	IsActive       bool               `json:"is_active"`
	UsageCount     int64              `json:"usage_count"`
	LastUsedAt     string             `json:"last_used_at,omitempty"`
	CreatedAt      string             `json:"created_at"`
}

// --- List API Keys ---

type ListAPIKeysHandler struct {
	svc    KeyService
	policy *tier.Policy
}

func NewListAPIKeysHandler(svc KeyService, policy *tier.Policy) *ListAPIKeysHandler {
	return &ListAPIKeysHandler{svc: svc, policy: policy}
}

type listAPIKeysResponse struct {
	APIKeys []apiKeyItem `json:"api_keys"`
	Total   int          `json:"total"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
}

func (h *ListAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("per_page"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	keys, total, err := h.svc.List(r.Context(), page, perPage)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, listAPIKeysResponse{
		APIKeys: toAPIKeyItems(keys, h.policy),
		Total:   total,
		Page:    page,
		PerPage: perPage,
	})
}

// --- Get API Key ---

type GetAPIKeyHandler struct {
	svc    KeyService
	policy *tier.Policy
}

func NewGetAPIKeyHandler(svc KeyService, policy *tier.Policy) *GetAPIKeyHandler {
	return &GetAPIKeyHandler{svc: svc, policy: policy}
}

func (h *GetAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	key, err := h.svc.Get(r.Context(), id)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, toAPIKeyItem(key, h.policy))
}

// --- List a user's API keys ---

type ListUserAPIKeysHandler struct {
	svc    KeyService
	policy *tier.Policy
}

func NewListUserAPIKeysHandler(svc KeyService, policy *tier.Policy) *ListUserAPIKeysHandler {
	return &ListUserAPIKeysHandler{svc: svc, policy: policy}
}

type userAPIKeysResponse struct {
	Email   string       `json:"email"`
	APIKeys []apiKeyItem `json:"api_keys"`
}

func (h *ListUserAPIKeysHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	keys, err := h.svc.ListByEmail(r.Context(), email)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	handler.RespondJSON(w, http.StatusOK, userAPIKeysResponse{
		Email:   email,
		APIKeys: toAPIKeyItems(keys, h.policy),
	})
}

// --- Provision API Key ---

type ProvisionAPIKeyHandler struct {
	svc KeyService
}

func NewProvisionAPIKeyHandler(svc KeyService) *ProvisionAPIKeyHandler {
	return &ProvisionAPIKeyHandler{svc: svc}
}

type provisionAPIKeyResponse struct {
	ID           uuid.UUID          `json:"id"`
	APIKey       string             `json:"api_key"`
	Email        string             `json:"email"`
	Tier         tier.Tier          `json:"tier"`
	MonthlyLimit int64              `json:"monthly_limit"`
	Source       model.APIKeySource `json:"source"`
	CreatedAt    string             `json:"created_at"`
}

func (h *ProvisionAPIKeyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var input service.ProvisionInput
	if !handler.DecodeJSON(w, r, &input) {
		return
	}

	result, err := h.svc.Provision(r.Context(), input)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("api_key_id", result.APIKey.ID.String()).
		Str("tier", string(result.APIKey.Tier)).
		Msg("admin provisioned api key")

	handler.RespondJSON(w, http.StatusCreated, provisionAPIKeyResponse{
		ID:           result.APIKey.ID,
		APIKey:       result.RawKey,
		Email:        result.APIKey.UserEmail,
		Tier:         result.APIKey.Tier,
		MonthlyLimit: result.Quota,
		Source:       result.APIKey.Source,
		CreatedAt:    result.APIKey.CreatedAt.Format(time.RFC3339),
	})
}

// --- Change tier ---

type SetTierHandler struct {
	svc    KeyService
	policy *tier.Policy
}

func NewSetTierHandler(svc KeyService, policy *tier.Policy) *SetTierHandler {
	return &SetTierHandler{svc: svc, policy: policy}
}

type setTierRequest struct {
	Tier string `json:"tier"`
}

func (h *SetTierHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	var req setTierRequest
	if !handler.DecodeJSON(w, r, &req) {
		return
	}

	key, err := h.svc.SetTier(r.Context(), id, req.Tier)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("api_key_id", id.String()).
		Str("tier", string(key.Tier)).
		Msg("admin changed api key tier")

	handler.RespondJSON(w, http.StatusOK, toAPIKeyItem(key, h.policy))
}

// --- Deactivate / reactivate ---

type SetActiveHandler struct {
	svc    KeyService
	active bool
}

// NewSetActiveHandler returns a handler that moves a key to the given state.
func NewSetActiveHandler(svc KeyService, active bool) *SetActiveHandler {
	return &SetActiveHandler{svc: svc, active: active}
}

func (h *SetActiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := parseKeyID(w, r)
	if !ok {
		return
	}

	key, err := h.svc.SetActive(r.Context(), id, h.active)
	if err != nil {
		service.RespondError(w, err)
		return
	}

	log.Info().
		Str("admin", middleware.GetAdminEmail(r.Context())).
		Str("api_key_id", id.String()).
		Bool("active", key.IsActive).
		Msg("admin changed api key status")

	handler.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"id":        id,
		"is_active": key.IsActive,
	})
}

// --- Helpers ---

func parseKeyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.RespondError(w, http.StatusBadRequest, "invalid_request", "Invalid API key ID")
		return uuid.Nil, false
	}
	return id, true
}

func toAPIKeyItems(keys []*model.APIKey, policy *tier.Policy) []apiKeyItem {
	items := make([]apiKeyItem, 0, len(keys))
	for _, key := range keys {
		items = append(items, toAPIKeyItem(key, policy))
	}
	return items
}

func toAPIKeyItem(key *model.APIKey, policy *tier.Policy) apiKeyItem {
	item := apiKeyItem{
		ID:             key.ID,
		UserID:         key.UserID,
		Email:          key.UserEmail,
		KeyPrefix:      key.KeyPrefix,
		Tier:           key.Tier,
		MonthlyLimit:   policy.QuotaFor(key.Tier),
		Source:         key.Source,
		RapidAPIUserID: key.RapidAPIUserID,
		IsActive:       key.IsActive,
		UsageCount:     key.UsageCount,
		CreatedAt:      key.CreatedAt.Format(time.RFC3339),
	}
	if key.LastUsedAt != nil {
		item.LastUsedAt = key.LastUsedAt.Format(time.RFC3339)
	}
	return item
}
