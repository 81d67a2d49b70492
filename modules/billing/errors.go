package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSubscriptionExists   = errors.New("subscription already exists")
	ErrCustomerLinkNotFound = errors.New("external customer link not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrPlanNotPurchasable   = errors.New("plan cannot be purchased")
	ErrNoExternalCustomer   = errors.New("no external customer for user")
	ErrNoExternalSub        = errors.New("no external subscription for customer")

	// Webhook boundary errors. The router maps ErrWebhookSecretMissing to a
	// 500 (fail closed on misconfiguration) and ErrWebhookSignature to a 400.
	ErrWebhookSecretMissing = errors.New("webhook verification secret is not configured")
	ErrWebhookSignature     = errors.New("webhook signature verification failed")

	ErrGatewayUnavailable = errors.New("billing gateway request failed")
)
