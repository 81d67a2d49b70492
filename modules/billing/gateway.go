package billing

import (
	"context"
	"encoding/json"
	"time"
)

// Gateway is the minimal interface to the external payment processor.
// The processor's ledger is the source of truth for paid subscriptions; the
// core only ever queries or listens to it, never recomputes it. All methods
// must honor context cancellation so callers can bound them with timeouts.
type Gateway interface {
	// CreateCustomer registers a billing customer for the given email.
	// Metadata travels to the processor and comes back on webhook objects,
	// which is how events are tied back to a local user.
	CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*ExternalCustomer, error)

	// GetCustomer fetches a customer by the processor's id.
	GetCustomer(ctx context.Context, customerID string) (*ExternalCustomer, error)

	// FindCustomersByEmail lists processor customers matching an email.
	FindCustomersByEmail(ctx context.Context, email string) ([]ExternalCustomer, error)

	// ListSubscriptions returns a customer's subscriptions in all statuses,
	// most recently created first.
	ListSubscriptions(ctx context.Context, customerID string) ([]ExternalSubscription, error)

	// RetrieveSubscription fetches a single subscription by the processor's id.
	RetrieveSubscription(ctx context.Context, subscriptionID string) (*ExternalSubscription, error)

	// CreateCheckoutSession starts a hosted checkout for a paid plan.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)

	// CreatePortalSession returns a pre-authenticated customer portal link.
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error)

	// CancelAtPeriodEnd flags a subscription to lapse at the end of the
	// current billing period and returns the updated subscription object.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ExternalSubscription, error)

	// ParseWebhook verifies the cryptographic signature of an inbound event
	// against the configured secret and decodes it. Verification happens
	// before any parsing of the payload body. Returns ErrWebhookSecretMissing
	// when no secret is configured and ErrWebhookSignature when verification
	// fails.
	ParseWebhook(payload []byte, signature string) (*WebhookEvent, error)
}

// ExternalCustomer is the validated projection of the processor's customer
// object. It is produced at the gateway-adapter boundary so the reconciler
// never touches unchecked SDK fields.
type ExternalCustomer struct {
	ID       string
	Email    string
	Metadata map[string]string
}

// ExternalSubscription is the validated projection of the processor's
// subscription object.
type ExternalSubscription struct {
	ID                 string
	CustomerID         string
	Status             string // processor vocabulary: trialing, active, past_due, ...
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	CreatedAt          time.Time
	Metadata           map[string]string
	Raw                json.RawMessage // full processor payload, kept for audit
}

// CheckoutParams describes a hosted checkout session request.
type CheckoutParams struct {
	CustomerID string
	PlanCode   PlanCode
	SuccessURL string
	CancelURL  string
	Metadata   map[string]string
}

// CheckoutSession is a created hosted checkout session.
type CheckoutSession struct {
	ID  string
	URL string
}

// PortalSession is a created customer portal session.
type PortalSession struct {
	URL string
}

// EventType is the normalized inbound webhook event type.
type EventType string

const (
	EventCheckoutCompleted   EventType = "checkout_completed"
	EventSubscriptionCreated EventType = "subscription_created"
	EventSubscriptionUpdated EventType = "subscription_updated"
	EventSubscriptionDeleted EventType = "subscription_deleted"
	// EventIgnored marks event types the reconciler does not act on.
	EventIgnored EventType = "ignored"
)

// WebhookEvent is a verified, decoded inbound event. Exactly one of
// Subscription or Checkout is set depending on Type.
type WebhookEvent struct {
	Type          EventType
	ProviderEvent string // original processor event name, kept for audit

	Subscription *ExternalSubscription
	Checkout     *CheckoutCompleted
}

// CheckoutCompleted carries the fields of a completed checkout session the
// reconciler needs. The full subscription object is always re-fetched from
// the gateway, never trusted from the event alone.
type CheckoutCompleted struct {
	SessionID      string
	CustomerID     string
	SubscriptionID string
	PaymentStatus  string
	Metadata       map[string]string
}

// Paid reports whether the checkout session's payment actually succeeded.
func (c *CheckoutCompleted) Paid() bool {
	return c.PaymentStatus == "paid" || c.PaymentStatus == "no_payment_required"
}
