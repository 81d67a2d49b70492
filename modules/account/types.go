package account

import (
	"time"

	"github.com/google/uuid"
)

// Account is a registered user.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountResponse is the client-facing shape of an account. The password
// hash never leaves the package.
type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"createdAt"`
}

// ToResponse maps an account to its client-facing shape.
func (a *Account) ToResponse() AccountResponse {
	return AccountResponse{
		ID:        a.ID.String(),
		Email:     a.Email,
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
}
