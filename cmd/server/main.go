package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/chatrelay/modules/account"
	"github.com/dmitrymomot/chatrelay/modules/billing"
	"github.com/dmitrymomot/chatrelay/modules/chat"
	"github.com/dmitrymomot/chatrelay/pkg/config"
	"github.com/dmitrymomot/chatrelay/pkg/httpserver"
	"github.com/dmitrymomot/chatrelay/pkg/jwt"
	"github.com/dmitrymomot/chatrelay/pkg/logger"
	"github.com/dmitrymomot/chatrelay/pkg/pg"
	"github.com/dmitrymomot/chatrelay/pkg/redis"
	"github.com/dmitrymomot/chatrelay/pkg/requestid"
	"github.com/dmitrymomot/chatrelay/pkg/secrets"
)

type appConfig struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"APP_SERVICE_NAME" envDefault:"chatrelay"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		appCfg     appConfig
		pgCfg      pg.Config
		redisCfg   redis.Config
		httpCfg    httpserver.Config
		accountCfg account.Config
		billingCfg billing.Config
		stripeCfg  billing.StripeConfig
		chatCfg    chat.Config
	)
	config.MustLoad(&appCfg)
	config.MustLoad(&pgCfg)
	config.MustLoad(&redisCfg)
	config.MustLoad(&httpCfg)
	config.MustLoad(&accountCfg)
	config.MustLoad(&billingCfg)
	config.MustLoad(&stripeCfg)
	config.MustLoad(&chatCfg)

	log := logger.New(logger.WithEnvironment(appCfg.Environment, appCfg.ServiceName))

	db, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if err := pg.Migrate(ctx, db, pgCfg, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	tokens, err := jwt.NewFromString(accountCfg.JWTSigningKey)
	if err != nil {
		return fmt.Errorf("init jwt service: %w", err)
	}

	accountStore := account.NewPgStore(db)
	billingStore := billing.NewPgStore(db)
	chatStore := chat.NewPgStore(db)

	gateway := billing.NewStripeGateway(stripeCfg)

	var billingOpts []billing.ServiceOption
	if redisClient, err := redis.Connect(ctx, redisCfg); err != nil {
		// Summary reads fall back to the database when the cache is down.
		log.WarnContext(ctx, "redis unavailable, running without summary cache", logger.Error(err))
	} else {
		defer redisClient.Close()
		billingOpts = append(billingOpts, billing.WithSummaryCache(billing.NewRedisSummaryCache(redisClient)))
	}

	billingSvc := billing.NewService(
		billingStore,
		account.NewBillingUserSource(accountStore),
		gateway,
		log, billingCfg, billingOpts...,
	)
	accountSvc := account.NewService(accountStore, tokens, log, accountCfg,
		account.WithBillingSync(billingSvc))
	keyVault, err := secrets.NewFromString(chatCfg.KeySecret)
	if err != nil {
		return fmt.Errorf("init key vault: %w", err)
	}
	chatSvc := chat.NewService(chatStore, chat.DefaultRegistry(chatCfg.ProviderTimeout), keyVault, log, chatCfg)

	auth := jwt.Middleware(tokens)

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Mount("/account", account.Router(account.RouterOptions{
		Service: accountSvc,
		Auth:    auth,
		Log:     log,
	}))

	r.Mount("/billing", billing.Router(billing.RouterOptions{
		Service:  billingSvc,
		Gateway:  gateway,
		Identify: account.Identity,
		Auth:     auth,
		Log:      log,
	}))

	r.Route("/chat", func(r chi.Router) {
		r.Use(auth)
		r.Mount("/", chat.Router(chat.RouterOptions{
			Service:  chatSvc,
			Identify: account.Identity,
			Gate:     billing.RequireActiveSubscription(billingSvc, account.Identity, log),
			Log:      log,
		}))
	})

	srv := httpserver.NewFromConfig(httpCfg, httpserver.WithLogger(log))

	log.InfoContext(ctx, "starting chatrelay",
		"env", appCfg.Environment, "addr", httpCfg.Addr)
	return srv.Run(ctx, r)
}
