package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/social-trends-api/internal/tier"
)

type APIKeySource string

const (
	SourceDirect   APIKeySource = "direct"
	SourceInstant  APIKeySource = "instant"
	SourceRapidAPI APIKeySource = "rapidapi"
	SourceAdmin    APIKeySource = "admin"
)

type APIKey struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"user_id"`
	UserEmail      string       `json:"user_email,omitempty"`
	KeyHash        string       `json:"-"`
	KeyPrefix      string       `json:"key_prefix"`
	Tier           tier.Tier    `json:"tier"`
	Source         APIKeySource `json:"source"`
	RapidAPIUserID string       `json:"rapidapi_user_id,omitempty"`
	IsActive       bool         `json:"is_active"`
	UsageCount     int64        `json:"usage_count"`
	LastUsedAt     *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
