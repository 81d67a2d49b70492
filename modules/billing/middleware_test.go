package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/modules/billing"
)

type staticSummaries struct {
	summary billing.SubscriptionSummary
	err     error
}

func (s *staticSummaries) GetSubscriptionSummary(context.Context, uuid.UUID) (billing.SubscriptionSummary, error) {
	return s.summary, s.err
}

func identifyAs(userID uuid.UUID) billing.IdentityFunc {
	return func(*http.Request) (uuid.UUID, bool) { return userID, true }
}

func TestRequireActiveSubscription(t *testing.T) {
	t.Parallel()

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("active subscription passes through with summary in context", func(t *testing.T) {
		t.Parallel()

		summaries := &staticSummaries{summary: billing.SubscriptionSummary{
			PlanCode: billing.PlanPro,
			Status:   billing.StatusActive,
		}}

		var seen billing.SubscriptionSummary
		var attached bool
		inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, attached = billing.SummaryFromContext(r.Context())
			w.WriteHeader(http.StatusOK)
		})

		mw := billing.RequireActiveSubscription(summaries, identifyAs(uuid.New()), nil)
		rr := httptest.NewRecorder()
		mw(inner).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/completions", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		require.True(t, attached)
		assert.Equal(t, billing.PlanPro, seen.PlanCode)
	})

	t.Run("inactive subscription gets 402 with upgrade metadata", func(t *testing.T) {
		t.Parallel()

		trialEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		summaries := &staticSummaries{summary: billing.SubscriptionSummary{
			PlanCode:    billing.PlanTrial,
			Status:      billing.StatusTrialing,
			TrialEndsAt: &trialEnd, // long past
		}}

		mw := billing.RequireActiveSubscription(summaries, identifyAs(uuid.New()), nil)
		rr := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/completions", nil))

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)

		var body struct {
			Error    string `json:"error"`
			Redirect string `json:"redirect"`
			Metadata struct {
				Plan        string  `json:"plan"`
				Status      string  `json:"subscriptionStatus"`
				TrialEndsAt *string `json:"trialEndsAt"`
			} `json:"metadata"`
		}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "subscription_required", body.Error)
		assert.Equal(t, "/update-plan", body.Redirect)
		assert.Equal(t, "TRIAL", body.Metadata.Plan)
		assert.Equal(t, "TRIALING", body.Metadata.Status)
		require.NotNil(t, body.Metadata.TrialEndsAt)
		assert.Equal(t, "2026-02-01T00:00:00Z", *body.Metadata.TrialEndsAt)
	})

	t.Run("past due paid plan is blocked", func(t *testing.T) {
		t.Parallel()

		summaries := &staticSummaries{summary: billing.SubscriptionSummary{
			PlanCode: billing.PlanPro,
			Status:   billing.StatusPastDue,
		}}

		mw := billing.RequireActiveSubscription(summaries, identifyAs(uuid.New()), nil)
		rr := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/completions", nil))

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
	})

	t.Run("unauthenticated request gets 401", func(t *testing.T) {
		t.Parallel()

		anonymous := func(*http.Request) (uuid.UUID, bool) { return uuid.Nil, false }
		mw := billing.RequireActiveSubscription(&staticSummaries{}, anonymous, nil)
		rr := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/chat/conversations", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("summary lookup failure denies access", func(t *testing.T) {
		t.Parallel()

		summaries := &staticSummaries{err: billing.ErrSubscriptionNotFound}
		mw := billing.RequireActiveSubscription(summaries, identifyAs(uuid.New()), nil)
		rr := httptest.NewRecorder()
		mw(okHandler).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/chat/completions", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}
