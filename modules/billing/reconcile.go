package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

// ProcessWebhookEvent applies an already-verified gateway event to local
// state. The gateway's view always wins: every handled event ends in an
// unconditional overwrite of the local record. Returns nil for event types
// the relay does not care about.
func (s *Service) ProcessWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	switch ev.Type {
	case EventCheckoutCompleted:
		return s.processCheckoutCompleted(ctx, ev)
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		if ev.Subscription == nil {
			return fmt.Errorf("event %s carries no subscription object", ev.ProviderEvent)
		}
		return s.applyExternalSubscription(ctx, ev.Subscription, ev.ProviderEvent)
	default:
		s.log.DebugContext(ctx, "ignoring webhook event", "event_type", ev.ProviderEvent)
		return nil
	}
}

// processCheckoutCompleted promotes a user after a hosted checkout finishes.
// Unpaid sessions (checkout abandoned after the event fired, async payment
// still pending) are skipped: the subsequent subscription events carry the
// truth. The subscription is re-fetched from the gateway rather than trusted
// from the session payload so the write goes through the one shared path.
func (s *Service) processCheckoutCompleted(ctx context.Context, ev *WebhookEvent) error {
	co := ev.Checkout
	if co == nil {
		return fmt.Errorf("event %s carries no checkout session", ev.ProviderEvent)
	}
	if !co.Paid() {
		s.log.InfoContext(ctx, "checkout session completed without payment, skipping",
			"session_id", co.SessionID, "payment_status", co.PaymentStatus)
		return nil
	}
	if co.SubscriptionID == "" {
		// One-time payment sessions have no subscription to reconcile.
		return nil
	}

	sub, err := s.gateway.RetrieveSubscription(ctx, co.SubscriptionID)
	if err != nil {
		return fmt.Errorf("retrieve subscription %s: %w", co.SubscriptionID, err)
	}
	return s.applyExternalSubscription(ctx, sub, ev.ProviderEvent)
}

// applyExternalSubscription is the single write path for processor-owned
// state. It resolves the owning user, translates the processor status into
// the local (status, plan) pair, and overwrites the local record. A user
// that cannot be resolved is a logged no-op, never an error: failing the
// webhook would make the processor retry an event the relay can never apply.
func (s *Service) applyExternalSubscription(ctx context.Context, sub *ExternalSubscription, sourceEvent string) error {
	userID, err := s.resolveSubscriptionUser(ctx, sub)
	if err != nil {
		s.log.WarnContext(ctx, "cannot resolve user for external subscription, skipping",
			"subscription_id", sub.ID, "customer_id", sub.CustomerID,
			"source_event", sourceEvent, logger.Error(err))
		return nil
	}

	status, plan := mapExternalStatus(sub.Status)
	if status == StatusPaused && !knownExternalStatus(sub.Status) {
		s.log.WarnContext(ctx, "unknown external subscription status, treating as paused",
			"subscription_id", sub.ID, "external_status", sub.Status)
	}

	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	update := StatusUpdate{
		PlanCode:            plan,
		Provider:            ProviderStripe,
		CurrentPeriodEnd:    sub.CurrentPeriodEnd,
		CurrentPeriodEndSet: true,
		CancelAtPeriodEnd:   &cancelAtPeriodEnd,
	}
	if sub.TrialEnd != nil {
		update.TrialEndsAt = sub.TrialEnd
		update.TrialEndsAtSet = true
	}

	if _, err := s.EnsureTrialSubscription(ctx, userID); err != nil {
		return fmt.Errorf("ensure subscription record for user %s: %w", userID, err)
	}

	// The mirror row and the status write must both land for the event to
	// count as handled; a failure here surfaces to the webhook handler so
	// the processor redelivers. Only the audit append is best-effort.
	if err := s.store.UpsertExternalSubscription(ctx, &ExternalSubscriptionRow{
		ID:             uuid.New(),
		UserID:         userID,
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		Raw:            sub.Raw,
		UpdatedAt:      time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("record external subscription %s: %w", sub.ID, err)
	}

	if _, err := s.SetSubscriptionStatus(ctx, userID, status, update); err != nil {
		return fmt.Errorf("update subscription for user %s: %w", userID, err)
	}

	if err := s.store.AppendSubscriptionEvent(ctx, userID, sourceEvent, sub.Raw); err != nil {
		s.log.ErrorContext(ctx, "failed to append subscription event",
			logger.UserID(userID), logger.Error(err))
	}

	s.log.InfoContext(ctx, "subscription reconciled from gateway",
		logger.UserID(userID), "external_status", sub.Status,
		"status", status, "plan", plan, "source_event", sourceEvent)
	return nil
}

// resolveSubscriptionUser ties a processor subscription back to a local
// user: the stored customer link first, then the user_id hint in
// subscription metadata, then the customer record fetched from the gateway
// (its metadata, finally its email matched against local users). Any
// resolution that did not come from the link row restores the link so the
// next event takes the fast path.
func (s *Service) resolveSubscriptionUser(ctx context.Context, sub *ExternalSubscription) (uuid.UUID, error) {
	link, err := s.store.FindCustomerLinkByCustomer(ctx, sub.CustomerID)
	if err == nil {
		return link.UserID, nil
	}
	if !errors.Is(err, ErrCustomerLinkNotFound) {
		return uuid.Nil, err
	}

	if raw, ok := sub.Metadata["user_id"]; ok && raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			s.restoreCustomerLink(ctx, id, sub.CustomerID)
			return id, nil
		}
		s.log.WarnContext(ctx, "malformed user_id in subscription metadata",
			"subscription_id", sub.ID, "user_id", raw)
	}

	customer, err := s.gateway.GetCustomer(ctx, sub.CustomerID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("fetch customer %s: %w", sub.CustomerID, err)
	}
	if raw, ok := customer.Metadata["user_id"]; ok && raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, fmt.Errorf("customer %s has malformed user_id metadata: %w", sub.CustomerID, err)
		}
		s.restoreCustomerLink(ctx, id, sub.CustomerID)
		return id, nil
	}

	if customer.Email == "" {
		return uuid.Nil, fmt.Errorf("customer %s has no user_id metadata and no email", sub.CustomerID)
	}
	user, err := s.users.FindUserByEmail(ctx, customer.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return uuid.Nil, fmt.Errorf("customer %s email matches no local user", sub.CustomerID)
		}
		return uuid.Nil, err
	}
	s.restoreCustomerLink(ctx, user.ID, sub.CustomerID)
	return user.ID, nil
}

// restoreCustomerLink repairs a missing link row once a customer has been
// tied back to a user through metadata or an email match. Failures are
// logged only: resolution already succeeded and the next event retries.
func (s *Service) restoreCustomerLink(ctx context.Context, userID uuid.UUID, customerID string) {
	if err := s.store.CreateCustomerLink(ctx, &ExternalCustomerLink{
		ID:         uuid.New(),
		UserID:     userID,
		CustomerID: customerID,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.DebugContext(ctx, "failed to restore customer link",
			logger.UserID(userID), "customer_id", customerID, logger.Error(err))
	}
}

// SyncIfExists reconciles a user's local record against the gateway, used
// at login to repair drift from missed webhooks. It never returns an error
// and never blocks login: all failures are logged and swallowed, and the
// gateway conversation is bounded by the configured sync timeout.
func (s *Service) SyncIfExists(ctx context.Context, userID uuid.UUID) {
	timeout := s.cfg.SyncTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	link, err := s.store.FindCustomerLinkByUser(ctx, userID)
	switch {
	case err == nil:
		s.syncLinkedCustomer(ctx, userID, link.CustomerID)
	case errors.Is(err, ErrCustomerLinkNotFound):
		s.discoverCustomerForSync(ctx, userID)
	default:
		s.log.DebugContext(ctx, "login sync skipped", logger.UserID(userID), logger.Error(err))
	}
}

// syncLinkedCustomer re-applies the newest subscription of an already-linked
// customer. No status filter here: once linked, the gateway's latest word is
// the truth even when it is a blocking state.
func (s *Service) syncLinkedCustomer(ctx context.Context, userID uuid.UUID, customerID string) {
	subs, err := s.gateway.ListSubscriptions(ctx, customerID)
	if err != nil {
		s.log.WarnContext(ctx, "login sync failed to list subscriptions",
			logger.UserID(userID), logger.Error(err))
		return
	}
	latest := newestSubscription(subs, nil)
	if latest == nil {
		return
	}
	if err := s.applyExternalSubscription(ctx, latest, "login.sync"); err != nil {
		s.log.WarnContext(ctx, "login sync failed to apply subscription",
			logger.UserID(userID), logger.Error(err))
	}
}

// discoverCustomerForSync handles a user with no link row (covers links lost
// to partial writes and purchases made out of band). Each gateway customer
// sharing the user's email is checked for a subscription showing a live
// billing relationship; the first such customer is linked and its newest
// qualifying subscription applied. A stray abandoned-checkout customer with
// only dead subscriptions never captures the link.
func (s *Service) discoverCustomerForSync(ctx context.Context, userID uuid.UUID) {
	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		s.log.DebugContext(ctx, "login sync skipped", logger.UserID(userID), logger.Error(err))
		return
	}

	customers, err := s.gateway.FindCustomersByEmail(ctx, user.Email)
	if err != nil {
		s.log.WarnContext(ctx, "login sync failed to search customers",
			logger.UserID(userID), logger.Error(err))
		return
	}

	for i := range customers {
		subs, err := s.gateway.ListSubscriptions(ctx, customers[i].ID)
		if err != nil {
			s.log.WarnContext(ctx, "login sync failed to list subscriptions",
				logger.UserID(userID), "customer_id", customers[i].ID, logger.Error(err))
			return
		}
		latest := newestSubscription(subs, paidSignal)
		if latest == nil {
			continue
		}
		s.restoreCustomerLink(ctx, userID, customers[i].ID)
		if err := s.applyExternalSubscription(ctx, latest, "login.sync"); err != nil {
			s.log.WarnContext(ctx, "login sync failed to apply subscription",
				logger.UserID(userID), logger.Error(err))
		}
		return
	}
}

// newestSubscription returns the most recently created subscription passing
// the filter, or nil when none does. A nil filter accepts every status.
func newestSubscription(subs []ExternalSubscription, filter func(string) bool) *ExternalSubscription {
	var best *ExternalSubscription
	for i := range subs {
		if filter != nil && !filter(subs[i].Status) {
			continue
		}
		if best == nil || subs[i].CreatedAt.After(best.CreatedAt) {
			best = &subs[i]
		}
	}
	return best
}

// mapExternalStatus translates a processor subscription status into the
// local (status, plan) pair. A paid plan label is kept even for blocking
// statuses like past_due: access is decided by status, and the plan label
// tells support and the UI what the user is paying for. Unknown statuses
// map to a blocking paused state so a new processor status can never grant
// access by accident.
func mapExternalStatus(external string) (Status, PlanCode) {
	switch external {
	case "trialing":
		return StatusTrialing, PlanPro
	case "active":
		return StatusActive, PlanPro
	case "past_due":
		return StatusPastDue, PlanPro
	case "canceled":
		return StatusCanceled, PlanTrial
	case "incomplete":
		return StatusIncomplete, PlanPro
	case "incomplete_expired":
		return StatusIncompleteExpired, PlanTrial
	case "unpaid":
		return StatusUnpaid, PlanTrial
	case "paused":
		return StatusPaused, PlanPro
	default:
		return StatusPaused, PlanPro
	}
}

func knownExternalStatus(external string) bool {
	switch external {
	case "trialing", "active", "past_due", "canceled",
		"incomplete", "incomplete_expired", "unpaid", "paused":
		return true
	default:
		return false
	}
}
