package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeConfig holds the processor credentials and the price catalog
// mapping. Price IDs live in configuration rather than the plan catalog so
// rotated Stripe prices never require a schema change.
type StripeConfig struct {
	SecretKey       string `env:"STRIPE_SECRET_KEY"`
	WebhookSecret   string `env:"STRIPE_WEBHOOK_SECRET"`
	ProPriceID      string `env:"STRIPE_PRICE_PRO"`
	EnterprisePrice string `env:"STRIPE_PRICE_ENTERPRISE"`
}

// StripeGateway implements Gateway on top of the Stripe API. All calls use a
// dedicated client so the global stripe key is never touched.
type StripeGateway struct {
	api *client.API
	cfg StripeConfig
}

// NewStripeGateway creates a Stripe-backed Gateway.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	return &StripeGateway{
		api: client.New(cfg.SecretKey, nil),
		cfg: cfg,
	}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, email string, metadata map[string]string) (*ExternalCustomer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	c, err := g.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create customer: %w", err)
	}
	return customerFromStripe(c), nil
}

func (g *StripeGateway) GetCustomer(ctx context.Context, customerID string) (*ExternalCustomer, error) {
	c, err := g.api.Customers.Get(customerID, &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: get customer %s: %w", customerID, err)
	}
	return customerFromStripe(c), nil
}

func (g *StripeGateway) FindCustomersByEmail(ctx context.Context, email string) ([]ExternalCustomer, error) {
	params := &stripe.CustomerListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Email:      stripe.String(email),
	}

	var out []ExternalCustomer
	iter := g.api.Customers.List(params)
	for iter.Next() {
		out = append(out, *customerFromStripe(iter.Customer()))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: list customers by email: %w", err)
	}
	return out, nil
}

func (g *StripeGateway) ListSubscriptions(ctx context.Context, customerID string) ([]ExternalSubscription, error) {
	params := &stripe.SubscriptionListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Customer:   stripe.String(customerID),
		Status:     stripe.String("all"), // canceled ones matter for downgrade repair
	}

	var out []ExternalSubscription
	iter := g.api.Subscriptions.List(params)
	for iter.Next() {
		sub, err := subscriptionFromStripe(iter.Subscription())
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe: list subscriptions for %s: %w", customerID, err)
	}
	return out, nil
}

func (g *StripeGateway) RetrieveSubscription(ctx context.Context, subscriptionID string) (*ExternalSubscription, error) {
	sub, err := g.api.Subscriptions.Get(subscriptionID, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: get subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub)
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	priceID, err := g.priceForPlan(p.PlanCode)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Customer:   stripe.String(p.CustomerID),
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if len(p.Metadata) > 0 {
		// Metadata rides on the resulting subscription so webhook events
		// can be resolved to a user without a customer lookup.
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.Metadata,
		}
	}

	sess, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *StripeGateway) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSession, error) {
	sess, err := g.api.BillingPortalSessions.New(&stripe.BillingPortalSessionParams{
		Params:    stripe.Params{Context: ctx},
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: create portal session: %w", err)
	}
	return &PortalSession{URL: sess.URL}, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*ExternalSubscription, error) {
	sub, err := g.api.Subscriptions.Update(subscriptionID, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("stripe: cancel subscription %s: %w", subscriptionID, err)
	}
	return subscriptionFromStripe(sub)
}

// ParseWebhook verifies the event signature and translates the Stripe event
// into the processor-neutral form. Verification runs on the raw payload
// bytes, so handlers must pass the body through untouched.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if g.cfg.WebhookSecret == "" {
		return nil, ErrWebhookSecretMissing
	}

	event, err := webhook.ConstructEvent(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWebhookSignature, err)
	}

	switch event.Type {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		co := &CheckoutCompleted{
			SessionID:     sess.ID,
			PaymentStatus: string(sess.PaymentStatus),
			Metadata:      sess.Metadata,
		}
		if sess.Customer != nil {
			co.CustomerID = sess.Customer.ID
		}
		if sess.Subscription != nil {
			co.SubscriptionID = sess.Subscription.ID
		}
		return &WebhookEvent{
			Type:          EventCheckoutCompleted,
			ProviderEvent: string(event.Type),
			Checkout:      co,
		}, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("decode subscription: %w", err)
		}
		ext, err := subscriptionFromStripe(&sub)
		if err != nil {
			return nil, err
		}
		ext.Raw = event.Data.Raw
		return &WebhookEvent{
			Type:          eventTypeFor(string(event.Type)),
			ProviderEvent: string(event.Type),
			Subscription:  ext,
		}, nil

	default:
		return &WebhookEvent{
			Type:          EventIgnored,
			ProviderEvent: string(event.Type),
		}, nil
	}
}

func (g *StripeGateway) priceForPlan(plan PlanCode) (string, error) {
	switch plan {
	case PlanPro:
		if g.cfg.ProPriceID == "" {
			return "", fmt.Errorf("%w: no price configured for %s", ErrPlanNotPurchasable, plan)
		}
		return g.cfg.ProPriceID, nil
	case PlanEnterprise:
		if g.cfg.EnterprisePrice == "" {
			return "", fmt.Errorf("%w: no price configured for %s", ErrPlanNotPurchasable, plan)
		}
		return g.cfg.EnterprisePrice, nil
	default:
		return "", ErrPlanNotPurchasable
	}
}

func eventTypeFor(providerEvent string) EventType {
	switch providerEvent {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	default:
		return EventIgnored
	}
}

func customerFromStripe(c *stripe.Customer) *ExternalCustomer {
	return &ExternalCustomer{
		ID:       c.ID,
		Email:    c.Email,
		Metadata: c.Metadata,
	}
}

func subscriptionFromStripe(sub *stripe.Subscription) (*ExternalSubscription, error) {
	ext := &ExternalSubscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
		Metadata:           sub.Metadata,
		TrialEnd:           unixTime(sub.TrialEnd),
		CurrentPeriodStart: unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(sub.CurrentPeriodEnd),
		CanceledAt:         unixTime(sub.CanceledAt),
		CreatedAt:          time.Unix(sub.Created, 0).UTC(),
	}
	if sub.Customer != nil {
		ext.CustomerID = sub.Customer.ID
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("encode subscription %s: %w", sub.ID, err)
	}
	ext.Raw = raw
	return ext, nil
}

func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
