package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

// Config holds billing behavior knobs. The effects matter, not the literal
// variable names: trial length, redirect targets, and how long reconciliation
// is allowed to talk to the gateway.
type Config struct {
	TrialHours      int           `env:"BILLING_TRIAL_HOURS" envDefault:"96"`      // 0 disables trial expiry (unlimited trial)
	SuccessURL      string        `env:"BILLING_SUCCESS_URL" envDefault:"/update-plan?checkout=success"`
	CancelURL       string        `env:"BILLING_CANCEL_URL" envDefault:"/update-plan?checkout=cancel"`
	PortalReturnURL string        `env:"BILLING_PORTAL_RETURN_URL" envDefault:"/account"`
	SyncTimeout     time.Duration `env:"BILLING_SYNC_TIMEOUT" envDefault:"10s"` // bounds gateway calls during login reconciliation
	SummaryCacheTTL time.Duration `env:"BILLING_SUMMARY_CACHE_TTL" envDefault:"1m"`
}

// Service owns the subscription state machine: lazy trial creation, the
// summary read-model, and the two reconciliation paths (webhook and login)
// that overwrite local state from the gateway's.
type Service struct {
	store   Store
	users   UserSource
	gateway Gateway
	cache   SummaryCache
	log     *slog.Logger
	cfg     Config

	plansMu     sync.Mutex
	plansSeeded bool
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithSummaryCache enables read-model caching. Without it every summary read
// hits the store, which is correct but slower.
func WithSummaryCache(cache SummaryCache) ServiceOption {
	return func(s *Service) {
		if cache != nil {
			s.cache = cache
		}
	}
}

// NewService creates a billing Service. Panics if required dependencies are
// nil to fail fast during initialization.
func NewService(store Store, users UserSource, gateway Gateway, log *slog.Logger, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("billing: Store is required")
	}
	if users == nil {
		panic("billing: UserSource is required")
	}
	if gateway == nil {
		panic("billing: Gateway is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	s := &Service{
		store:   store,
		users:   users,
		gateway: gateway,
		log:     log,
		cfg:     cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// ensureDefaultPlans seeds the plan catalog before any subscription row is
// written so the foreign key to the catalog is always satisfiable. The seed
// only runs until it first succeeds; the underlying upsert is idempotent so
// concurrent callers racing here are harmless.
func (s *Service) ensureDefaultPlans(ctx context.Context) error {
	s.plansMu.Lock()
	defer s.plansMu.Unlock()

	if s.plansSeeded {
		return nil
	}

	if err := s.store.UpsertPlanDefinitions(ctx, DefaultPlans()); err != nil {
		return fmt.Errorf("seed plan catalog: %w", err)
	}

	s.plansSeeded = true
	return nil
}

// EnsureTrialSubscription returns the user's subscription record, creating
// a TRIAL record on first touch. Two simultaneous calls for a never-before-
// seen user cannot create two records: the insert races on the unique user
// id constraint and the loser re-reads the winner's row.
func (s *Service) EnsureTrialSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	if err := s.ensureDefaultPlans(ctx); err != nil {
		return nil, err
	}

	rec, err := s.store.FindSubscription(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrSubscriptionNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	rec = &SubscriptionRecord{
		ID:        uuid.New(),
		UserID:    userID,
		PlanCode:  PlanTrial,
		Status:    StatusTrialing,
		Provider:  ProviderInternal,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.cfg.TrialHours > 0 {
		trialEnd := now.Add(time.Duration(s.cfg.TrialHours) * time.Hour)
		rec.TrialEndsAt = &trialEnd
	}

	if err := s.store.CreateSubscription(ctx, rec); err != nil {
		if errors.Is(err, ErrSubscriptionExists) {
			// Lost the creation race; the concurrent winner's row is the record.
			return s.store.FindSubscription(ctx, userID)
		}
		return nil, err
	}

	return rec, nil
}

// GetSubscriptionSummary returns the access read-model for a user, creating
// the trial record if this is the first touch.
func (s *Service) GetSubscriptionSummary(ctx context.Context, userID uuid.UUID) (SubscriptionSummary, error) {
	if s.cache != nil {
		if summary, ok := s.cache.Get(ctx, userID); ok {
			return summary, nil
		}
	}

	rec, err := s.EnsureTrialSubscription(ctx, userID)
	if err != nil {
		return SubscriptionSummary{}, err
	}

	summary := rec.Summary()
	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, summary, s.cfg.SummaryCacheTTL); err != nil {
			s.log.DebugContext(ctx, "summary cache set failed", logger.Error(err), logger.UserID(userID))
		}
	}
	return summary, nil
}

// SetSubscriptionStatus applies a targeted update to the user's record,
// lazily creating it first. Fields omitted from the update keep their
// current value; nothing is ever nulled out implicitly.
func (s *Service) SetSubscriptionStatus(ctx context.Context, userID uuid.UUID, status Status, update StatusUpdate) (*SubscriptionRecord, error) {
	if _, err := s.EnsureTrialSubscription(ctx, userID); err != nil {
		return nil, err
	}

	rec, err := s.store.UpdateSubscription(ctx, userID, status, update)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, userID); err != nil {
			s.log.DebugContext(ctx, "summary cache invalidation failed", logger.Error(err), logger.UserID(userID))
		}
	}
	return rec, nil
}

// Checkout starts a hosted checkout session for a paid plan, creating the
// external customer and link on first purchase.
func (s *Service) Checkout(ctx context.Context, userID uuid.UUID, plan PlanCode) (*CheckoutSession, error) {
	if plan != PlanPro && plan != PlanEnterprise {
		return nil, ErrPlanNotPurchasable
	}

	link, err := s.ensureCustomerLink(ctx, userID)
	if err != nil {
		return nil, err
	}

	return s.gateway.CreateCheckoutSession(ctx, CheckoutParams{
		CustomerID: link.CustomerID,
		PlanCode:   plan,
		SuccessURL: s.cfg.SuccessURL,
		CancelURL:  s.cfg.CancelURL,
		Metadata:   map[string]string{"user_id": userID.String()},
	})
}

// PortalSession returns a customer portal link for subscription self-service.
// Users who never checked out have no external customer to manage.
func (s *Service) PortalSession(ctx context.Context, userID uuid.UUID) (*PortalSession, error) {
	link, err := s.store.FindCustomerLinkByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCustomerLinkNotFound) {
			return nil, ErrNoExternalCustomer
		}
		return nil, err
	}

	return s.gateway.CreatePortalSession(ctx, link.CustomerID, s.cfg.PortalReturnURL)
}

// CancelSubscription flags the user's live external subscription to lapse at
// period end and feeds the gateway's updated object back through the same
// upsert path the webhook reconciler uses.
func (s *Service) CancelSubscription(ctx context.Context, userID uuid.UUID) error {
	link, err := s.store.FindCustomerLinkByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCustomerLinkNotFound) {
			return ErrNoExternalCustomer
		}
		return err
	}

	subs, err := s.gateway.ListSubscriptions(ctx, link.CustomerID)
	if err != nil {
		return err
	}

	var target *ExternalSubscription
	for i := range subs {
		if paidSignal(subs[i].Status) {
			target = &subs[i]
			break
		}
	}
	if target == nil {
		return ErrNoExternalSub
	}

	updated, err := s.gateway.CancelAtPeriodEnd(ctx, target.ID)
	if err != nil {
		return err
	}

	return s.applyExternalSubscription(ctx, updated, "subscription.cancel_requested")
}

// ensureCustomerLink returns the user's external customer link, creating the
// processor customer on first use. The user id travels in customer metadata
// so webhook events can be tied back even before any link row exists.
func (s *Service) ensureCustomerLink(ctx context.Context, userID uuid.UUID) (*ExternalCustomerLink, error) {
	link, err := s.store.FindCustomerLinkByUser(ctx, userID)
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, ErrCustomerLinkNotFound) {
		return nil, err
	}

	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	customer, err := s.gateway.CreateCustomer(ctx, user.Email, map[string]string{"user_id": userID.String()})
	if err != nil {
		return nil, err
	}

	link = &ExternalCustomerLink{
		ID:         uuid.New(),
		UserID:     userID,
		CustomerID: customer.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreateCustomerLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// paidSignal reports whether a processor status indicates a live billing
// relationship. Intentionally broader than the allow-set so a user mid
// payment-failure is still linked to their customer record.
func paidSignal(status string) bool {
	switch status {
	case "active", "trialing", "past_due":
		return true
	default:
		return false
	}
}
