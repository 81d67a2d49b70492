package billing

import (
	"time"

	"github.com/google/uuid"
)

// PlanCode is the coarse entitlement tier a user is on.
type PlanCode string

const (
	PlanFree       PlanCode = "FREE"
	PlanTrial      PlanCode = "TRIAL"
	PlanPro        PlanCode = "PRO"
	PlanEnterprise PlanCode = "ENTERPRISE"
)

// Status is the fine-grained billing lifecycle state of a subscription.
// The vocabulary mirrors the payment processor's subscription statuses.
type Status string

const (
	StatusTrialing           Status = "TRIALING"
	StatusActive             Status = "ACTIVE"
	StatusPastDue            Status = "PAST_DUE"
	StatusIncomplete         Status = "INCOMPLETE"
	StatusIncompleteExpired  Status = "INCOMPLETE_EXPIRED"
	StatusCanceled           Status = "CANCELED"
	StatusUnpaid             Status = "UNPAID"
	StatusPaused             Status = "PAUSED"
)

// ProviderName identifies which system owns a subscription record's state.
type ProviderName string

const (
	// ProviderInternal marks records created locally (trial records).
	ProviderInternal ProviderName = "INTERNAL"
	// ProviderStripe marks records driven by the external billing gateway.
	ProviderStripe ProviderName = "STRIPE"
)

// BillingInterval represents the billing frequency for a plan.
type BillingInterval string

const (
	BillingIntervalNone    BillingInterval = "none"
	BillingIntervalMonthly BillingInterval = "monthly"
)

// PlanDefinition is an immutable catalog row. Rows are created and updated
// only by catalog seeding, keyed by Code, and never deleted.
type PlanDefinition struct {
	Code            PlanCode
	Name            string
	PriceCents      int64
	Currency        string
	Interval        BillingInterval
	TrialPeriodDays int
}

// DefaultPlans returns the built-in plan catalog.
func DefaultPlans() []PlanDefinition {
	return []PlanDefinition{
		{Code: PlanFree, Name: "Free", PriceCents: 0, Currency: "USD", Interval: BillingIntervalNone},
		{Code: PlanTrial, Name: "Trial", PriceCents: 0, Currency: "USD", Interval: BillingIntervalNone, TrialPeriodDays: 4},
		{Code: PlanPro, Name: "Pro", PriceCents: 2000, Currency: "USD", Interval: BillingIntervalMonthly},
		{Code: PlanEnterprise, Name: "Enterprise", PriceCents: 9900, Currency: "USD", Interval: BillingIntervalMonthly},
	}
}

// SubscriptionRecord is the one-per-user subscription row. It is created
// lazily on first touch, mutated in place for the life of the user, and
// never deleted. PlanCode and Status are only ever overwritten by the
// reconciliation paths, never by ad hoc route code.
type SubscriptionRecord struct {
	ID                uuid.UUID
	UserID            uuid.UUID // unique, enforces one record per user
	PlanCode          PlanCode
	Status            Status
	Provider          ProviderName
	TrialEndsAt       *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Summary returns the denormalized read-model used for access decisions.
func (r *SubscriptionRecord) Summary() SubscriptionSummary {
	return SubscriptionSummary{
		PlanCode:          r.PlanCode,
		Status:            r.Status,
		Provider:          r.Provider,
		TrialEndsAt:       r.TrialEndsAt,
		CurrentPeriodEnd:  r.CurrentPeriodEnd,
		CancelAtPeriodEnd: r.CancelAtPeriodEnd,
	}
}

// SubscriptionSummary is the read-model consumed by the access gate and by
// route handlers. It carries no identity and is safe to cache.
type SubscriptionSummary struct {
	PlanCode          PlanCode      `json:"plan_code"`
	Status            Status        `json:"status"`
	Provider          ProviderName  `json:"provider"`
	TrialEndsAt       *time.Time    `json:"trial_ends_at"`
	CurrentPeriodEnd  *time.Time    `json:"current_period_end"`
	CancelAtPeriodEnd bool          `json:"cancel_at_period_end"`
}

// StatusUpdate describes a partial update applied by SetSubscriptionStatus.
// Zero-valued fields are left untouched; the *Set flags distinguish
// "set to null" from "leave unchanged" for the nullable timestamps.
type StatusUpdate struct {
	PlanCode PlanCode     // empty = unchanged
	Provider ProviderName // empty = unchanged

	TrialEndsAt    *time.Time
	TrialEndsAtSet bool

	CurrentPeriodEnd    *time.Time
	CurrentPeriodEndSet bool

	CancelAtPeriodEnd *bool // nil = unchanged
}

// ExternalCustomerLink maps a user to the billing processor's customer id.
// At most one per user.
type ExternalCustomerLink struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CustomerID string
	CreatedAt  time.Time
}

// ExternalSubscriptionRow mirrors the processor's subscription object, keyed
// by the processor's subscription id. It exists for idempotent upserts and
// audit, never for live access decisions.
type ExternalSubscriptionRow struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	CustomerID     string
	SubscriptionID string // processor's id, unique
	Status         string
	Raw            []byte
	UpdatedAt      time.Time
}

// User is the minimal projection of an account the billing core needs.
type User struct {
	ID    uuid.UUID
	Email string
}
