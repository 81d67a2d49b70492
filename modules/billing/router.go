package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

// maxWebhookBody bounds webhook payload reads. Stripe events are a few KB;
// anything near this limit is not a legitimate event.
const maxWebhookBody = 1 << 20

// RouterOptions wires the billing HTTP surface. Auth, when set, guards every
// route except the webhook.
type RouterOptions struct {
	Service  *Service
	Gateway  Gateway
	Identify IdentityFunc
	Auth     func(http.Handler) http.Handler
	Log      *slog.Logger
}

// Router exposes the billing endpoints. The webhook route is unauthenticated
// on purpose: the payment processor is the caller, and the signature check
// is its authentication.
func Router(opts RouterOptions) chi.Router {
	h := &handlers{
		svc:      opts.Service,
		gateway:  opts.Gateway,
		identify: opts.Identify,
		log:      opts.Log,
	}
	if h.log == nil {
		h.log = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Get("/subscription", h.subscription)
		r.Post("/checkout", h.checkout)
		r.Post("/portal", h.portal)
		r.Post("/cancel", h.cancel)
	})
	r.Post("/webhook", h.webhook)
	return r
}

type handlers struct {
	svc      *Service
	gateway  Gateway
	identify IdentityFunc
	log      *slog.Logger
}

func (h *handlers) subscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	summary, err := h.svc.GetSubscriptionSummary(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "fetch subscription summary", err)
		return
	}
	writeJSON(w, http.StatusOK, SubscriptionToResponse(summary))
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	var req struct {
		Plan string `json:"plan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	sess, err := h.svc.Checkout(r.Context(), userID, PlanCode(strings.ToUpper(req.Plan)))
	if err != nil {
		switch {
		case errors.Is(err, ErrPlanNotPurchasable):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "plan_not_purchasable"})
		case errors.Is(err, ErrUserNotFound):
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "user_not_found"})
		default:
			h.fail(w, r, "create checkout session", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": sess.URL})
}

func (h *handlers) portal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	sess, err := h.svc.PortalSession(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrNoExternalCustomer) {
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no_billing_account"})
			return
		}
		h.fail(w, r, "create portal session", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": sess.URL})
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identify(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	if err := h.svc.CancelSubscription(r.Context(), userID); err != nil {
		switch {
		case errors.Is(err, ErrNoExternalCustomer), errors.Is(err, ErrNoExternalSub):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "no_active_subscription"})
		default:
			h.fail(w, r, "cancel subscription", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelAtPeriodEnd": true})
}

// webhook receives processor events. The body must reach signature
// verification byte for byte, so it is read raw and never decoded before
// the gateway has verified it.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable_payload"})
		return
	}

	event, err := h.gateway.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, ErrWebhookSecretMissing):
			// Misconfiguration on our side. A 4xx would make the processor
			// drop the event; 500 keeps it retrying until the secret is set.
			h.log.ErrorContext(r.Context(), "webhook secret not configured")
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "webhook_not_configured"})
		case errors.Is(err, ErrWebhookSignature):
			h.log.WarnContext(r.Context(), "webhook signature verification failed", logger.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_signature"})
		default:
			h.log.ErrorContext(r.Context(), "webhook payload rejected", logger.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_payload"})
		}
		return
	}

	if err := h.svc.ProcessWebhookEvent(r.Context(), event); err != nil {
		// Store-level failure; signal the processor to redeliver.
		h.log.ErrorContext(r.Context(), "webhook event processing failed",
			"event_type", event.ProviderEvent, logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "processing_failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.log.ErrorContext(r.Context(), op+" failed", logger.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
