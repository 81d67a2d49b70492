package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

type summaryCtxKey struct{}

// SummaryFromContext returns the subscription summary attached by
// RequireActiveSubscription, so downstream handlers never re-fetch it.
func SummaryFromContext(ctx context.Context) (SubscriptionSummary, bool) {
	summary, ok := ctx.Value(summaryCtxKey{}).(SubscriptionSummary)
	return summary, ok
}

// SummarySource yields the access read-model for a user. *Service satisfies
// it; tests substitute fakes.
type SummarySource interface {
	GetSubscriptionSummary(ctx context.Context, userID uuid.UUID) (SubscriptionSummary, error)
}

// IdentityFunc extracts the authenticated user from a request. Decoupled
// from the auth layer so the gate works behind any authentication scheme.
type IdentityFunc func(r *http.Request) (uuid.UUID, bool)

// RequireActiveSubscription guards paid functionality. Requests from users
// whose subscription is not active are rejected with 402 and a payload the
// client can render as an upgrade prompt. Any failure to determine the
// state denies access rather than granting it.
func RequireActiveSubscription(summaries SummarySource, identify IdentityFunc, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := identify(r)
			if !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
				return
			}

			summary, err := summaries.GetSubscriptionSummary(r.Context(), userID)
			if err != nil {
				log.ErrorContext(r.Context(), "subscription lookup failed, denying access",
					logger.UserID(userID), logger.Error(err))
				writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
				return
			}

			if !IsSubscriptionActive(summary) {
				writeJSON(w, http.StatusPaymentRequired, map[string]any{
					"error":    "subscription_required",
					"redirect": "/update-plan",
					"metadata": map[string]any{
						"plan":               string(summary.PlanCode),
						"subscriptionStatus": string(summary.Status),
						"trialEndsAt":        formatTime(summary.TrialEndsAt),
					},
				})
				return
			}

			ctx := context.WithValue(r.Context(), summaryCtxKey{}, summary)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
