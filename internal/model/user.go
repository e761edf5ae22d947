package model

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID                 uuid.UUID    `json:"id"`
	Email              string       `json:"email"`
	IsEmailVerified    bool         `json:"is_email_verified"`
	RegistrationSource APIKeySource `json:"registration_source"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}
