package billing

import (
	"context"

	"github.com/google/uuid"
)

// Store defines subscription persistence. Every write is a unique-key upsert
// or a single-row atomic update so that concurrent reconciliation paths
// (trial creation, webhook, login sync) converge on last-write-wins without
// lost updates.
type Store interface {
	// FindSubscription retrieves the record for a user.
	// Returns ErrSubscriptionNotFound if no record exists.
	FindSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error)

	// CreateSubscription inserts a new record. Returns ErrSubscriptionExists
	// when a record for the user already exists (unique constraint on user id),
	// which callers treat as "created by a concurrent call".
	CreateSubscription(ctx context.Context, rec *SubscriptionRecord) error

	// UpdateSubscription applies a partial update to the user's record in a
	// single atomic statement and returns the updated record. Fields omitted
	// from the update are left untouched.
	UpdateSubscription(ctx context.Context, userID uuid.UUID, status Status, update StatusUpdate) (*SubscriptionRecord, error)

	// FindCustomerLinkByUser returns the user's external customer link.
	// Returns ErrCustomerLinkNotFound if absent.
	FindCustomerLinkByUser(ctx context.Context, userID uuid.UUID) (*ExternalCustomerLink, error)

	// FindCustomerLinkByCustomer resolves a link by the processor's customer id.
	// Returns ErrCustomerLinkNotFound if absent.
	FindCustomerLinkByCustomer(ctx context.Context, customerID string) (*ExternalCustomerLink, error)

	// CreateCustomerLink records the user→customer mapping. Upserts on user id
	// so replayed webhooks and concurrent logins cannot create duplicates.
	CreateCustomerLink(ctx context.Context, link *ExternalCustomerLink) error

	// UpsertExternalSubscription mirrors a processor subscription object,
	// keyed by the processor's subscription id (the idempotency key).
	UpsertExternalSubscription(ctx context.Context, row *ExternalSubscriptionRow) error

	// AppendSubscriptionEvent appends an audit row for a processed event.
	AppendSubscriptionEvent(ctx context.Context, userID uuid.UUID, eventType string, payload []byte) error

	// UpsertPlanDefinitions idempotently seeds the plan catalog, keyed by
	// plan code. Safe to call concurrently and repeatedly.
	UpsertPlanDefinitions(ctx context.Context, plans []PlanDefinition) error
}

// UserSource resolves the minimal user projection the billing core needs.
// The account module provides the implementation.
type UserSource interface {
	// FindUser returns ErrUserNotFound when the id is unknown.
	FindUser(ctx context.Context, id uuid.UUID) (*User, error)
	// FindUserByEmail returns ErrUserNotFound when no user has the email.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}
