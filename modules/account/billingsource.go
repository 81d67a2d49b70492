package account

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/modules/billing"
)

// BillingUserSource adapts the account store to the user lookup interface
// the billing module depends on.
type BillingUserSource struct {
	store Store
}

// NewBillingUserSource wraps an account store.
func NewBillingUserSource(store Store) *BillingUserSource {
	return &BillingUserSource{store: store}
}

func (s *BillingUserSource) FindUser(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	acc, err := s.store.FindAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, billing.ErrUserNotFound
		}
		return nil, err
	}
	return &billing.User{ID: acc.ID, Email: acc.Email}, nil
}

func (s *BillingUserSource) FindUserByEmail(ctx context.Context, email string) (*billing.User, error) {
	acc, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, billing.ErrUserNotFound
		}
		return nil, err
	}
	return &billing.User{ID: acc.ID, Email: acc.Email}, nil
}
