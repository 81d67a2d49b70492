package account

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

// RouterOptions wires the account HTTP surface. Auth is the token
// validation middleware applied to routes that require a session.
type RouterOptions struct {
	Service *Service
	Auth    func(http.Handler) http.Handler
	Log     *slog.Logger
}

// Router exposes registration, login, and the current-account endpoint.
func Router(opts RouterOptions) chi.Router {
	h := &handlers{svc: opts.Service, log: opts.Log}
	if h.log == nil {
		h.log = slog.New(slog.DiscardHandler)
	}

	r := chi.NewRouter()
	r.Post("/register", h.register)
	r.Post("/login", h.login)
	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		r.Get("/me", h.me)
	})
	return r
}

type handlers struct {
	svc *Service
	log *slog.Logger
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token   string          `json:"token"`
	Account AccountResponse `json:"account"`
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	acc, token, err := h.svc.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_email"})
		case errors.Is(err, ErrWeakPassword):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "weak_password"})
		case errors.Is(err, ErrEmailTaken):
			writeJSON(w, http.StatusConflict, map[string]any{"error": "email_taken"})
		default:
			h.log.ErrorContext(r.Context(), "registration failed", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, Account: acc.ToResponse()})
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request"})
		return
	}

	acc, token, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid_credentials"})
			return
		}
		h.log.ErrorContext(r.Context(), "login failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Account: acc.ToResponse()})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	userID, ok := Identity(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	acc, err := h.svc.GetAccount(r.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "account_not_found"})
			return
		}
		h.log.ErrorContext(r.Context(), "account lookup failed", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, acc.ToResponse())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
