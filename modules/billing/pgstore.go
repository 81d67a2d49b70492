package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/chatrelay/pkg/pg"
)

// PgStore implements Store on Postgres via pgx.
type PgStore struct {
	db *pgxpool.Pool
}

// NewPgStore wraps a connected pool.
func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const subscriptionColumns = `id, user_id, plan_code, status, provider,
	trial_ends_at, current_period_end, cancel_at_period_end, created_at, updated_at`

func scanSubscription(row interface{ Scan(...any) error }) (*SubscriptionRecord, error) {
	var rec SubscriptionRecord
	var plan, status, provider string
	err := row.Scan(
		&rec.ID, &rec.UserID, &plan, &status, &provider,
		&rec.TrialEndsAt, &rec.CurrentPeriodEnd, &rec.CancelAtPeriodEnd,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PlanCode = PlanCode(plan)
	rec.Status = Status(status)
	rec.Provider = ProviderName(provider)
	return &rec, nil
}

func (s *PgStore) FindSubscription(ctx context.Context, userID uuid.UUID) (*SubscriptionRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE user_id = $1`, userID)

	rec, err := scanSubscription(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return rec, nil
}

func (s *PgStore) CreateSubscription(ctx context.Context, rec *SubscriptionRecord) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.UserID, string(rec.PlanCode), string(rec.Status), string(rec.Provider),
		rec.TrialEndsAt, rec.CurrentPeriodEnd, rec.CancelAtPeriodEnd,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		if pg.IsDuplicateKeyError(err) {
			return ErrSubscriptionExists
		}
		return fmt.Errorf("create subscription: %w", err)
	}
	return nil
}

// UpdateSubscription builds a single UPDATE touching only the fields the
// caller marked. Unmentioned columns are not in the statement at all, so a
// concurrent writer's values survive untouched.
func (s *PgStore) UpdateSubscription(ctx context.Context, userID uuid.UUID, status Status, update StatusUpdate) (*SubscriptionRecord, error) {
	set := []string{"status = $1", "updated_at = $2"}
	args := []any{string(status), time.Now().UTC()}

	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if update.PlanCode != "" {
		set = append(set, "plan_code = "+next(string(update.PlanCode)))
	}
	if update.Provider != "" {
		set = append(set, "provider = "+next(string(update.Provider)))
	}
	if update.TrialEndsAtSet {
		set = append(set, "trial_ends_at = "+next(update.TrialEndsAt))
	}
	if update.CurrentPeriodEndSet {
		set = append(set, "current_period_end = "+next(update.CurrentPeriodEnd))
	}
	if update.CancelAtPeriodEnd != nil {
		set = append(set, "cancel_at_period_end = "+next(*update.CancelAtPeriodEnd))
	}

	query := `UPDATE subscriptions SET ` + strings.Join(set, ", ") +
		` WHERE user_id = ` + next(userID) +
		` RETURNING ` + subscriptionColumns

	rec, err := scanSubscription(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return rec, nil
}

func (s *PgStore) FindCustomerLinkByUser(ctx context.Context, userID uuid.UUID) (*ExternalCustomerLink, error) {
	return s.findCustomerLink(ctx,
		`SELECT id, user_id, customer_id, created_at FROM billing_customers WHERE user_id = $1`, userID)
}

func (s *PgStore) FindCustomerLinkByCustomer(ctx context.Context, customerID string) (*ExternalCustomerLink, error) {
	return s.findCustomerLink(ctx,
		`SELECT id, user_id, customer_id, created_at FROM billing_customers WHERE customer_id = $1`, customerID)
}

func (s *PgStore) findCustomerLink(ctx context.Context, query string, arg any) (*ExternalCustomerLink, error) {
	var link ExternalCustomerLink
	err := s.db.QueryRow(ctx, query, arg).Scan(&link.ID, &link.UserID, &link.CustomerID, &link.CreatedAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, ErrCustomerLinkNotFound
		}
		return nil, fmt.Errorf("find customer link: %w", err)
	}
	return &link, nil
}

func (s *PgStore) CreateCustomerLink(ctx context.Context, link *ExternalCustomerLink) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO billing_customers (id, user_id, customer_id, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET customer_id = EXCLUDED.customer_id`,
		link.ID, link.UserID, link.CustomerID, link.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create customer link: %w", err)
	}
	return nil
}

func (s *PgStore) UpsertExternalSubscription(ctx context.Context, row *ExternalSubscriptionRow) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO external_subscriptions (id, user_id, customer_id, subscription_id, status, raw, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (subscription_id) DO UPDATE
		 SET status = EXCLUDED.status, raw = EXCLUDED.raw, updated_at = EXCLUDED.updated_at`,
		row.ID, row.UserID, row.CustomerID, row.SubscriptionID, row.Status, row.Raw, row.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert external subscription: %w", err)
	}
	return nil
}

func (s *PgStore) AppendSubscriptionEvent(ctx context.Context, userID uuid.UUID, eventType string, payload []byte) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO subscription_events (user_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		userID, eventType, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append subscription event: %w", err)
	}
	return nil
}

func (s *PgStore) UpsertPlanDefinitions(ctx context.Context, plans []PlanDefinition) error {
	for _, p := range plans {
		_, err := s.db.Exec(ctx,
			`INSERT INTO plan_definitions (code, name, price_cents, currency, billing_interval, trial_period_days)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (code) DO UPDATE
			 SET name = EXCLUDED.name, price_cents = EXCLUDED.price_cents,
			     currency = EXCLUDED.currency, billing_interval = EXCLUDED.billing_interval,
			     trial_period_days = EXCLUDED.trial_period_days`,
			string(p.Code), p.Name, p.PriceCents, p.Currency, string(p.Interval), p.TrialPeriodDays,
		)
		if err != nil {
			return fmt.Errorf("upsert plan %s: %w", p.Code, err)
		}
	}
	return nil
}
