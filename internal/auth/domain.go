package auth

import (
	"time"

	"github.com/google/uuid"

	"github.com/vma-portal/portal/internal/shared"
)

// User represents an authenticated user account.
type User struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile binds a user to an organisation and a role.
type Profile struct {
	UserID       uuid.UUID   `json:"user_id"`
	Organisation string      `json:"organisation"`
	Role         shared.Role `json:"role"`
}
