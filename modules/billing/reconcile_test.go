package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/chatrelay/modules/billing"
)

func subscriptionEvent(sub *billing.ExternalSubscription) *billing.WebhookEvent {
	return &billing.WebhookEvent{
		Type:          billing.EventSubscriptionUpdated,
		ProviderEvent: "customer.subscription.updated",
		Subscription:  sub,
	}
}

func TestProcessWebhookEvent_StatusMapping(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		external   string
		wantStatus billing.Status
		wantPlan   billing.PlanCode
	}{
		{"trialing", billing.StatusTrialing, billing.PlanPro},
		{"active", billing.StatusActive, billing.PlanPro},
		{"past_due", billing.StatusPastDue, billing.PlanPro},
		{"canceled", billing.StatusCanceled, billing.PlanTrial},
		{"incomplete", billing.StatusIncomplete, billing.PlanPro},
		{"incomplete_expired", billing.StatusIncompleteExpired, billing.PlanTrial},
		{"unpaid", billing.StatusUnpaid, billing.PlanTrial},
		{"paused", billing.StatusPaused, billing.PlanPro},
		// Fail closed: an unrecognized status keeps the paid label but
		// must not grant access.
		{"some_future_status", billing.StatusPaused, billing.PlanPro},
	}

	for _, tt := range tests {
		t.Run(tt.external, func(t *testing.T) {
			t.Parallel()

			store := newMemStore()
			userID := uuid.New()
			svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

			err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
				ID:         "sub_1",
				CustomerID: "cus_1",
				Status:     tt.external,
				Metadata:   map[string]string{"user_id": userID.String()},
			}))
			require.NoError(t, err)

			rec, err := store.FindSubscription(ctx, userID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, rec.Status)
			assert.Equal(t, tt.wantPlan, rec.PlanCode)
			assert.Equal(t, billing.ProviderStripe, rec.Provider)
		})
	}
}

func TestProcessWebhookEvent_DowngradeBlocksAccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore()
	userID := uuid.New()
	svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

	require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{"user_id": userID.String()},
	})))

	summary, err := svc.GetSubscriptionSummary(ctx, userID)
	require.NoError(t, err)
	require.True(t, billing.IsSubscriptionActive(summary))

	require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "unpaid",
		Metadata: map[string]string{"user_id": userID.String()},
	})))

	summary, err = svc.GetSubscriptionSummary(ctx, userID)
	require.NoError(t, err)
	assert.False(t, billing.IsSubscriptionActive(summary))
	assert.Equal(t, billing.PlanTrial, summary.PlanCode)
}

func TestProcessWebhookEvent_Idempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore()
	userID := uuid.New()
	svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

	ev := subscriptionEvent(&billing.ExternalSubscription{
		ID: "sub_1", CustomerID: "cus_1", Status: "active",
		Metadata: map[string]string{"user_id": userID.String()},
	})

	require.NoError(t, svc.ProcessWebhookEvent(ctx, ev))
	first, err := store.FindSubscription(ctx, userID)
	require.NoError(t, err)

	// Redelivered event converges on the same state.
	require.NoError(t, svc.ProcessWebhookEvent(ctx, ev))
	second, err := store.FindSubscription(ctx, userID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.PlanCode, second.PlanCode)
	assert.Len(t, store.external, 1, "mirror row upserted, not duplicated")
}

func TestProcessWebhookEvent_WriteFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("mirror write failure surfaces for redelivery", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		store.upsertExternalErr = errors.New("connection reset")
		userID := uuid.New()
		svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

		err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "active",
			Metadata: map[string]string{"user_id": userID.String()},
		}))
		require.Error(t, err, "the handler must answer 5xx so the processor retries")

		// The status write sits behind the mirror write, so a retried
		// event starts from an untouched record.
		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusTrialing, rec.Status)
		assert.Equal(t, billing.PlanTrial, rec.PlanCode)
	})

	t.Run("audit append failure does not fail the event", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		store.appendEventErr = errors.New("connection reset")
		userID := uuid.New()
		svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "active",
			Metadata: map[string]string{"user_id": userID.String()},
		})))

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})
}

func TestProcessWebhookEvent_UserResolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("falls back to stored customer link", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		require.NoError(t, store.CreateCustomerLink(ctx, &billing.ExternalCustomerLink{
			ID: uuid.New(), UserID: userID, CustomerID: "cus_linked",
		}))
		svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_linked", Status: "active",
		})))

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})

	t.Run("falls back to customer metadata at the gateway", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		gw := &fakeGateway{
			getCustomer: func(customerID string) (*billing.ExternalCustomer, error) {
				assert.Equal(t, "cus_meta", customerID)
				return &billing.ExternalCustomer{
					ID:       customerID,
					Metadata: map[string]string{"user_id": userID.String()},
				}, nil
			},
		}
		svc := newTestService(t, store, nil, gw, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_meta", Status: "active",
		})))

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})

	t.Run("falls back to the customer email and restores the link", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "payer@example.com"},
		}}
		// Customer created outside the app: no metadata anywhere, only
		// the email ties it back.
		gw := &fakeGateway{
			getCustomer: func(customerID string) (*billing.ExternalCustomer, error) {
				assert.Equal(t, "cus_plain", customerID)
				return &billing.ExternalCustomer{ID: customerID, Email: "payer@example.com"}, nil
			},
		}
		svc := newTestService(t, store, users, gw, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_plain", Status: "active",
		})))

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)

		link, err := store.FindCustomerLinkByCustomer(ctx, "cus_plain")
		require.NoError(t, err)
		assert.Equal(t, userID, link.UserID)
	})

	t.Run("unresolvable user is a logged no-op, not an error", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		gw := &fakeGateway{
			getCustomer: func(customerID string) (*billing.ExternalCustomer, error) {
				return &billing.ExternalCustomer{ID: customerID}, nil // no metadata, no email
			},
		}
		svc := newTestService(t, store, nil, gw, billing.Config{TrialHours: 96})

		err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_orphan", CustomerID: "cus_orphan", Status: "active",
		}))
		require.NoError(t, err, "processor must not retry an event we can never apply")
		assert.Empty(t, store.subs)
	})

	t.Run("email matching no local user is a logged no-op", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		gw := &fakeGateway{
			getCustomer: func(customerID string) (*billing.ExternalCustomer, error) {
				return &billing.ExternalCustomer{ID: customerID, Email: "stranger@example.com"}, nil
			},
		}
		svc := newTestService(t, store, nil, gw, billing.Config{TrialHours: 96})

		err := svc.ProcessWebhookEvent(ctx, subscriptionEvent(&billing.ExternalSubscription{
			ID: "sub_1", CustomerID: "cus_1", Status: "active",
		}))
		require.NoError(t, err)
		assert.Empty(t, store.subs)
	})
}

func TestProcessWebhookEvent_CheckoutCompleted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("paid session promotes via a fresh gateway fetch", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		gw := &fakeGateway{
			retrieveSubscription: func(subscriptionID string) (*billing.ExternalSubscription, error) {
				assert.Equal(t, "sub_new", subscriptionID)
				return &billing.ExternalSubscription{
					ID: "sub_new", CustomerID: "cus_1", Status: "active",
					Metadata: map[string]string{"user_id": userID.String()},
				}, nil
			},
		}
		svc := newTestService(t, store, nil, gw, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, &billing.WebhookEvent{
			Type:          billing.EventCheckoutCompleted,
			ProviderEvent: "checkout.session.completed",
			Checkout: &billing.CheckoutCompleted{
				SessionID:      "cs_1",
				CustomerID:     "cus_1",
				SubscriptionID: "sub_new",
				PaymentStatus:  "paid",
			},
		}))

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
		assert.Equal(t, billing.PlanPro, rec.PlanCode)
	})

	t.Run("unpaid session is skipped", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		// Gateway has no expectations wired; any call would panic the test.
		svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{TrialHours: 96})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, &billing.WebhookEvent{
			Type:          billing.EventCheckoutCompleted,
			ProviderEvent: "checkout.session.completed",
			Checkout: &billing.CheckoutCompleted{
				SessionID:     "cs_1",
				PaymentStatus: "unpaid",
			},
		}))
		assert.Empty(t, store.subs)
	})

	t.Run("ignored event types are a no-op", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		svc := newTestService(t, store, nil, &fakeGateway{}, billing.Config{})

		require.NoError(t, svc.ProcessWebhookEvent(ctx, &billing.WebhookEvent{
			Type:          billing.EventIgnored,
			ProviderEvent: "invoice.finalized",
		}))
		assert.Empty(t, store.subs)
	})
}

func TestSyncIfExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("repairs drift from a missed webhook", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		now := time.Now().UTC()
		require.NoError(t, store.CreateCustomerLink(ctx, &billing.ExternalCustomerLink{
			ID: uuid.New(), UserID: userID, CustomerID: "cus_1",
		}))
		// Listing order is not creation order; selection goes by the
		// creation timestamp.
		svc := newTestService(t, store, nil, &fakeGateway{
			listSubscriptions: func(string) ([]billing.ExternalSubscription, error) {
				return []billing.ExternalSubscription{
					{ID: "sub_old", CustomerID: "cus_1", Status: "canceled",
						CreatedAt: now.Add(-48 * time.Hour)},
					{ID: "sub_new", CustomerID: "cus_1", Status: "active",
						CreatedAt: now.Add(-time.Hour),
						Metadata:  map[string]string{"user_id": userID.String()}},
				}, nil
			},
		}, billing.Config{TrialHours: 96})

		// Local state is stale: the user still looks like a trial.
		_, err := svc.EnsureTrialSubscription(ctx, userID)
		require.NoError(t, err)

		svc.SyncIfExists(ctx, userID)

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status, "newest subscription wins")
		assert.Equal(t, billing.PlanPro, rec.PlanCode)
	})

	t.Run("restores a lost customer link by email search", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "lost@example.com"},
		}}
		// Two customers share the email: one from an abandoned checkout
		// carrying only a dead subscription, one with the live one. Only
		// the live one may capture the link.
		svc := newTestService(t, store, users, &fakeGateway{
			findCustomersByEmail: func(email string) ([]billing.ExternalCustomer, error) {
				assert.Equal(t, "lost@example.com", email)
				return []billing.ExternalCustomer{
					{ID: "cus_stale"},
					{ID: "cus_mine"},
				}, nil
			},
			listSubscriptions: func(customerID string) ([]billing.ExternalSubscription, error) {
				switch customerID {
				case "cus_stale":
					return []billing.ExternalSubscription{
						{ID: "sub_dead", CustomerID: "cus_stale", Status: "incomplete_expired"},
					}, nil
				case "cus_mine":
					return []billing.ExternalSubscription{
						{ID: "sub_1", CustomerID: "cus_mine", Status: "active",
							Metadata: map[string]string{"user_id": userID.String()}},
					}, nil
				default:
					t.Errorf("unexpected customer %s", customerID)
					return nil, nil
				}
			},
		}, billing.Config{TrialHours: 96})

		svc.SyncIfExists(ctx, userID)

		link, err := store.FindCustomerLinkByUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, "cus_mine", link.CustomerID)

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})

	t.Run("discovery picks the newest live subscription, not the newest row", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		now := time.Now().UTC()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "retry@example.com"},
		}}
		// A failed payment attempt leaves a fresher incomplete
		// subscription next to the running one; it must not win.
		svc := newTestService(t, store, users, &fakeGateway{
			findCustomersByEmail: func(string) ([]billing.ExternalCustomer, error) {
				return []billing.ExternalCustomer{{ID: "cus_1"}}, nil
			},
			listSubscriptions: func(string) ([]billing.ExternalSubscription, error) {
				return []billing.ExternalSubscription{
					{ID: "sub_incomplete", CustomerID: "cus_1", Status: "incomplete",
						CreatedAt: now},
					{ID: "sub_active", CustomerID: "cus_1", Status: "active",
						CreatedAt: now.Add(-24 * time.Hour),
						Metadata:  map[string]string{"user_id": userID.String()}},
				}, nil
			},
		}, billing.Config{TrialHours: 96})

		svc.SyncIfExists(ctx, userID)

		rec, err := store.FindSubscription(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, billing.StatusActive, rec.Status)
	})

	t.Run("dead subscriptions alone never capture the link", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "churned@example.com"},
		}}
		svc := newTestService(t, store, users, &fakeGateway{
			findCustomersByEmail: func(string) ([]billing.ExternalCustomer, error) {
				return []billing.ExternalCustomer{{ID: "cus_1"}}, nil
			},
			listSubscriptions: func(string) ([]billing.ExternalSubscription, error) {
				return []billing.ExternalSubscription{
					{ID: "sub_gone", CustomerID: "cus_1", Status: "canceled"},
				}, nil
			},
		}, billing.Config{})

		svc.SyncIfExists(ctx, userID)

		_, err := store.FindCustomerLinkByUser(ctx, userID)
		assert.ErrorIs(t, err, billing.ErrCustomerLinkNotFound)
		assert.Empty(t, store.subs)
	})

	t.Run("never a customer means nothing to repair", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		users := &fakeUsers{byID: map[uuid.UUID]billing.User{
			userID: {ID: userID, Email: "fresh@example.com"},
		}}
		svc := newTestService(t, store, users, &fakeGateway{
			findCustomersByEmail: func(string) ([]billing.ExternalCustomer, error) {
				return nil, nil
			},
		}, billing.Config{})

		svc.SyncIfExists(ctx, userID)
		assert.Empty(t, store.subs)
	})

	t.Run("gateway outage is swallowed", func(t *testing.T) {
		t.Parallel()

		store := newMemStore()
		userID := uuid.New()
		require.NoError(t, store.CreateCustomerLink(ctx, &billing.ExternalCustomerLink{
			ID: uuid.New(), UserID: userID, CustomerID: "cus_1",
		}))
		svc := newTestService(t, store, nil, &fakeGateway{
			listSubscriptions: func(string) ([]billing.ExternalSubscription, error) {
				return nil, billing.ErrGatewayUnavailable
			},
		}, billing.Config{})

		// Must not panic or alter state.
		svc.SyncIfExists(ctx, userID)
		assert.Empty(t, store.subs)
	})
}

func TestSyncIfExists_BoundedByTimeout(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	userID := uuid.New()
	require.NoError(t, store.CreateCustomerLink(context.Background(), &billing.ExternalCustomerLink{
		ID: uuid.New(), UserID: userID, CustomerID: "cus_1",
	}))

	started := make(chan struct{})
	svc := newTestService(t, store, nil, &fakeGateway{
		listSubscriptions: func(string) ([]billing.ExternalSubscription, error) {
			close(started)
			return nil, context.DeadlineExceeded
		},
	}, billing.Config{SyncTimeout: 50 * time.Millisecond})

	// A caller-canceled context must not abort the sync mid-flight; the
	// sync runs on its own deadline.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.SyncIfExists(ctx, userID)

	select {
	case <-started:
	default:
		t.Fatal("sync never reached the gateway")
	}
}
