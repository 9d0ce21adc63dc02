package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trialhub/trialhub-backend/api/controllers"
	campaigncontrollers "github.com/trialhub/trialhub-backend/api/controllers/campaigns"
	ugccontrollers "github.com/trialhub/trialhub-backend/api/controllers/ugc"
	webhookcontrollers "github.com/trialhub/trialhub-backend/api/controllers/webhooks"
	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/internal/campaigns"
	"github.com/trialhub/trialhub-backend/internal/ledger"
	"github.com/trialhub/trialhub-backend/internal/payouts"
	"github.com/trialhub/trialhub-backend/internal/rewards"
	stripewebhook "github.com/trialhub/trialhub-backend/internal/webhooks/stripe"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/enums"
	"github.com/trialhub/trialhub-backend/pkg/logger"
	"github.com/trialhub/trialhub-backend/pkg/redis"
	"github.com/trialhub/trialhub-backend/pkg/stripe"
)

// Deps is everything the HTTP surface is wired to.
type Deps struct {
	DB       controllers.Pinger
	Redis    *redis.Client
	Stripe   *stripe.Client
	Webhooks *stripewebhook.Service
	Guard    *stripewebhook.IdempotencyGuard

	Campaigns campaigns.Service
	UGC       ugccontrollers.Service
	Rewards   *rewards.Service
	Ledger    ledger.Service
	Payouts   *payouts.Service

	HTTP middleware.RequestObserver
}

// NewRouter builds the chi tree. Groups are used instead of sub-routers so that middleware sees the
// full route pattern when it runs.
func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTP),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	readiness := map[string]controllers.Pinger{"db": deps.DB}
	if deps.Redis != nil {
		readiness["redis"] = deps.Redis
	}
	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, readiness))
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/webhooks/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, deps.Stripe, deps.Guard, logg))

	var limiter middleware.RateLimiter
	if deps.Redis != nil {
		limiter = deps.Redis
	}
	var idemStore redis.IdempotencyStore
	if deps.Redis != nil {
		idemStore = deps.Redis
	}
	paymentLimit := middleware.PaymentRateLimit(limiter, cfg.RateLimit, logg)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(idemStore, cfg.Eventing.HTTPIdempotencyTTL, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller))

			r.Post("/api/v1/campaigns", campaigncontrollers.Create(deps.Campaigns, logg))
			r.Get("/api/v1/campaigns/{campaignId}", campaigncontrollers.Get(deps.Campaigns, logg))
			r.Post("/api/v1/campaigns/{campaignId}/activate", campaigncontrollers.Activate(deps.Campaigns, logg))
			r.Get("/api/v1/campaigns/{campaignId}/cancellation-preview", campaigncontrollers.CancellationPreview(deps.Campaigns, logg))
			r.With(paymentLimit).Post("/api/v1/campaigns/{campaignId}/payment", campaigncontrollers.InitiatePayment(deps.Campaigns, logg))
			r.With(paymentLimit).Post("/api/v1/campaigns/{campaignId}/cancel", campaigncontrollers.Cancel(deps.Campaigns, logg))

			r.With(paymentLimit).Post("/api/v1/ugc", ugccontrollers.Request(deps.UGC, logg))
			r.With(paymentLimit).Post("/api/v1/ugc/{ugcId}/validate", ugccontrollers.Validate(deps.UGC, logg))
			r.Post("/api/v1/ugc/{ugcId}/reject", ugccontrollers.Reject(deps.UGC, logg))
			r.Post("/api/v1/ugc/{ugcId}/cancel", ugccontrollers.Cancel(deps.UGC, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleTester))

			r.Post("/api/v1/ugc/{ugcId}/submit", ugccontrollers.Submit(deps.UGC, logg))
			r.Post("/api/v1/ugc/{ugcId}/decline", ugccontrollers.Decline(deps.UGC, logg))
			r.Post("/api/v1/payouts/account", controllers.LinkPayoutAccount(deps.Payouts, logg))
			r.Get("/api/v1/payouts/account", controllers.PayoutAccountStatus(deps.Payouts, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller, enums.ActorRoleTester))

			r.Post("/api/v1/ugc/{ugcId}/dispute", ugccontrollers.Dispute(deps.UGC, logg))
			r.Get("/api/v1/wallets/me", controllers.MyWallet(deps.Ledger, logg))
			r.Get("/api/v1/wallets/me/transactions", controllers.MyTransactions(deps.Ledger, logg))
		})

		r.Get("/api/v1/ugc/{ugcId}", ugccontrollers.Get(deps.UGC, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleAdmin))

			r.Get("/api/v1/admin/wallet", controllers.PlatformWallet(deps.Ledger, logg))
			r.Post("/api/v1/admin/ugc/{ugcId}/resolve", ugccontrollers.Resolve(deps.UGC, logg))
			r.Post("/api/v1/admin/sessions/{sessionId}/reward", controllers.ProcessSessionReward(deps.Rewards, logg))
		})
	})

	return r
}
