package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trialhub/trialhub-backend/api/routes"
	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/payouts"
	"github.com/trialhub/trialhub-backend/internal/rewards"
	"github.com/trialhub/trialhub-backend/internal/rules"
	"github.com/trialhub/trialhub-backend/internal/sessions"
	"github.com/trialhub/trialhub-backend/internal/ugc"
	stripewebhook "github.com/trialhub/trialhub-backend/internal/webhooks/stripe"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/metrics"
	"github.com/trialhub/trialhub-backend/pkg/migrate"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/redis"
	"github.com/trialhub/trialhub-backend/pkg/stripe"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.Bootstrap("api")

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.FromConfig("api", cfg.App)

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	if err := dbClient.RegisterMetrics(prometheus.DefaultRegisterer, "trialhub"); err != nil {
		logg.Warn(context.Background(), "database pool metrics not registered: "+err.Error())
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe client", err)
		os.Exit(1)
	}

	deps, err := buildDeps(cfg, logg, dbClient, redisClient, stripeClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": stripeClient.Environment(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-sigCtx.Done():
		logg.Info(ctx, "api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}
}

func buildDeps(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, stripeClient *stripe.Client) (routes.Deps, error) {
	gw, err := gateway.NewStripe(gateway.StripeParams{
		Client:  stripeClient,
		Metrics: metrics.NewGatewayMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	businessRules, err := rules.NewStatic(cfg.Rules)
	if err != nil {
		return routes.Deps{}, err
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		return routes.Deps{}, err
	}
	emitter, err := activity.NewEmitter(activity.Params{
		Outbox:            outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	payoutService, err := payouts.NewService(payouts.NewRepository(dbClient.DB()), gw)
	if err != nil {
		return routes.Deps{}, err
	}

	campaignRepo := campaigns.NewRepository(dbClient.DB())
	sessionRepo := sessions.NewRepository(dbClient.DB())

	campaignService, err := campaigns.NewService(campaigns.ServiceParams{
		Repo:              campaignRepo,
		Sessions:          sessionRepo,
		Ledger:            ledgerService,
		Gateway:           gw,
		Rules:             businessRules,
		Activity:          emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	ugcService, err := ugc.NewService(ugc.Params{
		Repo:              ugc.NewRepository(dbClient.DB()),
		Sessions:          sessionRepo,
		Campaigns:         campaignRepo,
		Ledger:            ledgerService,
		Gateway:           gw,
		Payouts:           payoutService,
		Rules:             businessRules,
		Activity:          emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	rewardService, err := rewards.NewService(rewards.Params{
		Sessions:          sessionRepo,
		Campaigns:         campaignRepo,
		Ledger:            ledgerService,
		Gateway:           gw,
		Payouts:           payoutService,
		Rules:             businessRules,
		Activity:          emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Repo:              stripewebhook.NewRepository(dbClient.DB()),
		Campaigns:         campaignService,
		UGC:               ugcService,
		Ledger:            ledgerService,
		Payouts:           payoutService,
		Activity:          emitter,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return routes.Deps{}, err
	}
	guard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, stripewebhook.GuardScope)
	if err != nil {
		return routes.Deps{}, err
	}

	return routes.Deps{
		DB:        dbClient,
		Redis:     redisClient,
		Stripe:    stripeClient,
		Webhooks:  webhookService,
		Guard:     guard,
		Campaigns: campaignService,
		UGC:       ugcService,
		Rewards:   rewardService,
		Ledger:    ledgerService,
		Payouts:   payoutService,
		HTTP:      metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
	}, nil
}
