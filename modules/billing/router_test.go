package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/modules/billing"
)

func newBillingRouter(t *testing.T, store billing.Store, users billing.UserSource, gw billing.Gateway, userID uuid.UUID) http.Handler {
	t.Helper()
	svc := newTestService(t, store, users, gw, billing.Config{TrialHours: 96})
	return billing.Router(billing.RouterOptions{
		Service:  svc,
		Gateway:  gw,
		Identify: identifyAs(userID),
	})
}

func TestWebhookEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("valid event is applied and acknowledged", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		gw := &fakeGateway{
			parseWebhook: func(payload []byte, signature string) (*billing.WebhookEvent, error) {
				assert.Equal(t, "sig_valid", signature)
				assert.JSONEq(t, `{"id":"evt_1"}`, string(payload))
				return subscriptionEvent(&billing.ExternalSubscription{
					ID: "sub_1", CustomerID: "cus_1", Status: "active",
					Metadata: map[string]string{"user_id": userID.String()},
				}), nil
			},
		}
		router := newBillingRouter(t, store, nil, gw, userID)

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"id":"evt_1"}`))
		req.Header.Set("Stripe-Signature", "sig_valid")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())

		rec, err := store.FindSubscription(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})

	t.Run("bad signature is rejected with 400 and touches nothing", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		gw := &fakeGateway{
			parseWebhook: func([]byte, string) (*billing.WebhookEvent, error) {
				return nil, billing.ErrWebhookSignature
			},
		}
		router := newBillingRouter(t, store, nil, gw, uuid.New())

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"id":"evt_forged"}`))
		req.Header.Set("Stripe-Signature", "sig_forged")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Empty(t, store.subs, "forged events must never reach the store")
		assert.Empty(t, store.events)
	})

	t.Run("missing secret is a 500 so the processor retries", func(t *testing.T) {
		t.Parallel()

		gw := &fakeGateway{
			parseWebhook: func([]byte, string) (*billing.WebhookEvent, error) {
				return nil, billing.ErrWebhookSecretMissing
			},
		}
		router := newBillingRouter(t, newMemStore(), nil, gw, uuid.New())

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})

	t.Run("ignored event type still acknowledged", func(t *testing.T) {
		t.Parallel()

		gw := &fakeGateway{
			parseWebhook: func([]byte, string) (*billing.WebhookEvent, error) {
				return &billing.WebhookEvent{
					Type:          billing.EventIgnored,
					ProviderEvent: "invoice.created",
				}, nil
			},
		}
		router := newBillingRouter(t, newMemStore(), nil, gw, uuid.New())

		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"received":true}`, rr.Body.String())
	})
}

func TestSubscriptionEndpoint(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	userID := uuid.New()
	router := newBillingRouter(t, store, nil, &fakeGateway{}, userID)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/subscription", nil))

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp billing.SubscriptionResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "trial", resp.Plan)
	assert.Equal(t, "trialing", resp.Status)
	assert.NotNil(t, resp.TrialEndsAt)
}

func TestCheckoutEndpoint(t *testing.T) {
	t.Parallel()

	t.Run("returns the hosted checkout URL", func(t *testing.T) {
		t.Parallel()

		userID := uuid.New()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "buyer@example.com"},
		}}
		gw := &fakeGateway{
			createCustomer: func(email string, metadata map[string]string) (*billing.ExternalCustomer, error) {
				return &billing.ExternalCustomer{ID: "cus_1", Email: email, Metadata: metadata}, nil
			},
			createCheckout: func(p billing.CheckoutParams) (*billing.CheckoutSession, error) {
				return &billing.CheckoutSession{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
			},
		}
		router := newBillingRouter(t, newMemStore(), users, gw, userID)

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"plan":"pro"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"url":"https://pay.example/cs_1"}`, rr.Body.String())
	})

	t.Run("free plan cannot be bought", func(t *testing.T) {
		t.Parallel()

		router := newBillingRouter(t, newMemStore(), nil, &fakeGateway{}, uuid.New())

		req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"plan":"free"}`))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestPortalEndpoint_NoBillingAccount(t *testing.T) {
	t.Parallel()

	router := newBillingRouter(t, newMemStore(), nil, &fakeGateway{}, uuid.New())

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/portal", nil))

	assert.Equal(t, http.StatusConflict, rr.Code)
}
