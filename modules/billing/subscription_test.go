package billing_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/modules/billing"
)

func TestIsSubscriptionActiveAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		summary billing.SubscriptionSummary
		want    bool
	}{
		{
			name:    "pro active",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.StatusActive},
			want:    true,
		},
		{
			name:    "pro trialing",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.StatusTrialing},
			want:    true,
		},
		{
			name:    "enterprise active",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanEnterprise, Status: billing.StatusActive},
			want:    true,
		},
		{
			name:    "pro past due is blocked",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.StatusPastDue},
			want:    false,
		},
		{
			name:    "pro paused is blocked",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.StatusPaused},
			want:    false,
		},
		{
			name:    "pro incomplete is blocked",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.StatusIncomplete},
			want:    false,
		},
		{
			name:    "pro with never seen status is blocked",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanPro, Status: billing.Status("SOMETHING_NEW")},
			want:    false,
		},
		{
			name:    "trial with future window",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanTrial, Status: billing.StatusTrialing, TrialEndsAt: &future},
			want:    true,
		},
		{
			name:    "trial at exact expiry instant still grants access",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanTrial, Status: billing.StatusTrialing, TrialEndsAt: &now},
			want:    true,
		},
		{
			name:    "trial past its window",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanTrial, Status: billing.StatusTrialing, TrialEndsAt: &past},
			want:    false,
		},
		{
			name:    "trial without a window is unlimited",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanTrial, Status: billing.StatusTrialing},
			want:    true,
		},
		{
			name:    "canceled trial is blocked even inside the window",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanTrial, Status: billing.StatusCanceled, TrialEndsAt: &future},
			want:    false,
		},
		{
			name:    "free never grants access",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanFree, Status: billing.StatusActive},
			want:    false,
		},
		{
			name:    "unknown plan never grants access",
			summary: billing.SubscriptionSummary{PlanCode: billing.PlanCode("PLATINUM"), Status: billing.StatusActive},
			want:    false,
		},
		{
			name:    "zero value is blocked",
			summary: billing.SubscriptionSummary{},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, billing.IsSubscriptionActiveAt(tt.summary, now))
		})
	}
}

func TestSubscriptionToResponse(t *testing.T) {
	t.Parallel()

	t.Run("lowercases enums and formats timestamps", func(t *testing.T) {
		t.Parallel()

		trialEnd := time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC)
		resp := billing.SubscriptionToResponse(billing.SubscriptionSummary{
			PlanCode:    billing.PlanPro,
			Status:      billing.StatusPastDue,
			Provider:    billing.ProviderStripe,
			TrialEndsAt: &trialEnd,
		})

		assert.Equal(t, "pro", resp.Plan)
		assert.Equal(t, "past_due", resp.Status)
		assert.Equal(t, "stripe", resp.Provider)
		require.NotNil(t, resp.TrialEndsAt)
		assert.Equal(t, "2026-04-01T09:30:00Z", *resp.TrialEndsAt)
		assert.Nil(t, resp.CurrentPeriodEnd)
	})

	t.Run("null timestamps serialize as JSON null", func(t *testing.T) {
		t.Parallel()

		raw, err := json.Marshal(billing.SubscriptionToResponse(billing.SubscriptionSummary{
			PlanCode: billing.PlanTrial,
			Status:   billing.StatusTrialing,
			Provider: billing.ProviderInternal,
		}))
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, "trial", decoded["plan"])
		assert.Equal(t, "trialing", decoded["subscriptionStatus"])
		assert.Contains(t, decoded, "trialEndsAt")
		assert.Nil(t, decoded["trialEndsAt"])
	})
}
