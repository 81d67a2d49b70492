package billing

import (
	"strings"
	"time"
)

// IsSubscriptionActive reports whether the summary grants access right now.
func IsSubscriptionActive(s SubscriptionSummary) bool {
	return IsSubscriptionActiveAt(s, time.Now().UTC())
}

// IsSubscriptionActiveAt is the pure access decision function. It is
// deterministic and does no I/O; the time parameter makes it testable at
// boundaries.
//
// Paid tiers only trust ACTIVE and TRIALING; every other status, including
// ones this code has never seen, denies access. A trial record is live until
// its trial window closes (a null window means an unlimited trial), unless it
// has been canceled outright. Any other plan, FREE included, never grants
// access.
func IsSubscriptionActiveAt(s SubscriptionSummary, now time.Time) bool {
	switch s.PlanCode {
	case PlanPro, PlanEnterprise:
		return s.Status == StatusActive || s.Status == StatusTrialing
	case PlanTrial:
		if s.Status == StatusCanceled {
			return false
		}
		return s.TrialEndsAt == nil || !s.TrialEndsAt.Before(now)
	default:
		return false
	}
}

// SubscriptionResponse is the client-facing shape of a summary. Route
// handlers depend on these exact field names.
type SubscriptionResponse struct {
	Plan              string  `json:"plan"`
	Status            string  `json:"subscriptionStatus"`
	Provider          string  `json:"provider"`
	TrialEndsAt       *string `json:"trialEndsAt"`
	CurrentPeriodEnd  *string `json:"currentPeriodEnd"`
	CancelAtPeriodEnd bool    `json:"cancelAtPeriodEnd"`
}

// SubscriptionToResponse maps a summary to the client-facing shape:
// lower-cased plan/status strings and ISO8601 timestamps or null.
func SubscriptionToResponse(s SubscriptionSummary) SubscriptionResponse {
	return SubscriptionResponse{
		Plan:              strings.ToLower(string(s.PlanCode)),
		Status:            strings.ToLower(string(s.Status)),
		Provider:          strings.ToLower(string(s.Provider)),
		TrialEndsAt:       formatTime(s.TrialEndsAt),
		CurrentPeriodEnd:  formatTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}
