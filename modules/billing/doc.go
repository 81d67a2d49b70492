// Package billing owns plans, subscriptions, and payment processor
// integration for the chat relay.
//
// Every user has exactly one subscription record, created lazily as a trial
// on first touch. The record mirrors processor state; it is never the source
// of truth for money. Two reconciliation paths keep it honest:
//
//   - Webhook events from the processor, verified and applied through a
//     single upsert path where the processor's view always wins.
//   - A login-time sync that repairs drift from missed webhooks. It never
//     fails the login.
//
// Access decisions go through IsSubscriptionActive, a pure function over the
// subscription summary. Anything it cannot positively classify is inactive.
// The RequireActiveSubscription middleware enforces the decision with a 402
// response carrying upgrade metadata.
//
// The Gateway interface abstracts the payment processor; StripeGateway is
// the production implementation on stripe-go. Store abstracts persistence;
// PgStore is the pgx implementation.
package billing
