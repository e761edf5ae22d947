package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageEvent is one metered call made with an API key. Events are append-only.
type UsageEvent struct {
	ID        int64     `json:"id"`
	APIKeyID  uuid.UUID `json:"api_key_id"`
	Endpoint  string    `json:"endpoint"`
	CreatedAt time.Time `json:"created_at"`
}

type DailyUsage struct {
	Day   time.Time `json:"day"`
	Calls int64     `json:"calls"`
}
