package account

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrymomot/chatrelay/pkg/jwt"
	"github.com/dmitrymomot/chatrelay/pkg/logger"
)

const minPasswordLength = 8

// Config holds account service settings.
type Config struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY,required"`
	TokenTTL      time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"24h"`
	BcryptCost    int           `env:"AUTH_BCRYPT_COST" envDefault:"10"`
	Issuer        string        `env:"AUTH_TOKEN_ISSUER" envDefault:"chatrelay"`
}

// BillingSync is the hook the billing module provides to reconcile a user's
// subscription after authentication. It must never fail the login, hence no
// error return.
type BillingSync interface {
	SyncIfExists(ctx context.Context, userID uuid.UUID)
}

// Service implements registration and password authentication with JWT
// session tokens.
type Service struct {
	store   Store
	tokens  *jwt.Service
	billing BillingSync
	log     *slog.Logger
	cfg     Config
}

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithBillingSync attaches the post-login subscription reconciliation hook.
func WithBillingSync(sync BillingSync) ServiceOption {
	return func(s *Service) {
		if sync != nil {
			s.billing = sync
		}
	}
}

// NewService creates an account Service. Panics on nil required dependencies.
func NewService(store Store, tokens *jwt.Service, log *slog.Logger, cfg Config, opts ...ServiceOption) *Service {
	if store == nil {
		panic("account: Store is required")
	}
	if tokens == nil {
		panic("account: jwt.Service is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}

	s := &Service{
		store:  store,
		tokens: tokens,
		log:    log,
		cfg:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and returns it with a fresh session token.
func (s *Service) Register(ctx context.Context, email, password string) (*Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, "", ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return nil, "", err
	}

	now := time.Now().UTC()
	acc := &Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, "", err
	}

	token, err := s.issueToken(acc.ID)
	if err != nil {
		return nil, "", err
	}

	s.log.InfoContext(ctx, "account registered", logger.UserID(acc.ID))
	return acc, token, nil
}

// Login authenticates by email and password and returns the account with a
// fresh session token. After authentication succeeds, the billing state is
// reconciled against the payment gateway; that repair can never fail the
// login itself.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, string, error) {
	acc, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn comparable time so unknown emails are not distinguishable
			// by response latency.
			_ = bcrypt.CompareHashAndPassword(
				[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
				[]byte(password))
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issueToken(acc.ID)
	if err != nil {
		return nil, "", err
	}

	if s.billing != nil {
		s.billing.SyncIfExists(ctx, acc.ID)
	}

	s.log.InfoContext(ctx, "login succeeded", logger.UserID(acc.ID))
	return acc, token, nil
}

// GetAccount fetches an account by id.
func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.store.FindAccountByID(ctx, id)
}

func (s *Service) issueToken(userID uuid.UUID) (string, error) {
	now := time.Now().UTC()
	return s.tokens.Generate(jwt.StandardClaims{
		ID:        uuid.NewString(),
		Subject:   userID.String(),
		Issuer:    s.cfg.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(s.cfg.TokenTTL).Unix(),
	})
}
