package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/trialhub/trialhub-backend/api/controllers"
	"github.com/trialhub/trialhub-backend/api/routes"
	"github.com/trialhub/trialhub-backend/internal/activity"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/cron"
	"github.com/trialhub/trialhub-backend/internal/gateway"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/payouts"
	"github.com/trialhub/trialhub-backend/internal/rewards"
	"github.com/trialhub/trialhub-backend/internal/rules"
	"github.com/trialhub/trialhub-backend/internal/sessions"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/db"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/metrics"
	"github.com/trialhub/trialhub-backend/pkg/migrate"
	"github.com/trialhub/trialhub-backend/pkg/outbox"
	"github.com/trialhub/trialhub-backend/pkg/redis"
	"github.com/trialhub/trialhub-backend/pkg/stripe"
)

func main() {
	logg := logger.Bootstrap("cron-worker")

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.FromConfig("cron-worker", cfg.App)

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

	campaignService, rewardService, err := buildServices(context.Background(), cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to build payment services", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	captureJob, err := cron.NewCampaignCaptureJob(cron.CampaignCaptureJobParams{
		Logger:    logg,
		Campaigns: campaignService,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create capture job", err)
		os.Exit(1)
	}

	staleJob, err := cron.NewStaleHoldJob(cron.StaleHoldJobParams{
		Logger:    logg,
		Campaigns: campaignService,
		Age:       cfg.Scheduler.StaleHoldAge,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale hold job", err)
		os.Exit(1)
	}

	rewardJob, err := cron.NewSessionRewardJob(cron.SessionRewardJobParams{
		Logger:    logg,
		Rewards:   rewardService,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create session reward job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		Repository:  outbox.NewRepository(dbClient.DB()),
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Retention:   cfg.Outbox.RetentionWindow,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	for _, entry := range []cron.Entry{
		{Job: captureJob, Every: cfg.Scheduler.CaptureInterval},
		{Job: staleJob, Every: cfg.Scheduler.StaleHoldInterval},
		{Job: rewardJob, Every: cfg.Scheduler.RewardInterval},
		{Job: retentionJob, Every: cron.DefaultInterval},
	} {
		if err := registry.Register(entry.Job, entry.Every); err != nil {
			logg.Error(context.Background(), "failed to register cron job", err)
			os.Exit(1)
		}
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Locks:    cron.RedisLocks(redisClient, cfg.App.Env),
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		ops := routes.NewOpsRouter(cfg, logg, map[string]controllers.Pinger{"db": dbClient, "redis": redisClient})
		if err := routes.ServeOps(ctx, cfg.Service.OpsAddr, ops, logg); err != nil {
			logg.Error(ctx, "ops listener stopped", err)
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildServices(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (campaigns.Service, *rewards.Service, error) {
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, nil, err
	}
	gw, err := gateway.NewStripe(gateway.StripeParams{
		Client:  stripeClient,
		Metrics: metrics.NewGatewayMetrics(prometheus.DefaultRegisterer),
		Logger:  logg,
	})
	if err != nil {
		return nil, nil, err
	}
	businessRules, err := rules.NewStatic(cfg.Rules)
	if err != nil {
		return nil, nil, err
	}
	ledgerService, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		return nil, nil, err
	}
	payoutService, err := payouts.NewService(payouts.NewRepository(dbClient.DB()), gw)
	if err != nil {
		return nil, nil, err
	}
	emitter, err := activity.NewEmitter(activity.Params{
		Outbox:            outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		return nil, nil, err
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
		return nil, nil, err
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
		return nil, nil, err
	}
	return campaignService, rewardService, nil
}
