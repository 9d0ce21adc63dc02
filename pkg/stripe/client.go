// Package stripe configures the process-wide Stripe backend and verifies
// signed webhook deliveries.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

type Environment string

const (
	EnvTest Environment = "test"
	EnvLive Environment = "live"
)

const (
	defaultCurrency         = "eur"
	defaultRequestTimeout   = 30 * time.Second
	defaultWebhookTolerance = 5 * time.Minute
)

var errNotInitialized = errors.New("stripe client not initialized")

// Client carries the settlement currency and webhook secret. API calls go
// through the stripe-go package backends, which NewClient configures.
type Client struct {
	env       Environment
	currency  string
	secret    string
	tolerance time.Duration
}

// settings is StripeConfig after validation.
type settings struct {
	env       Environment
	apiKey    string
	secret    string
	currency  string
	retries   int64
	timeout   time.Duration
	tolerance time.Duration
}

func parseSettings(cfg config.StripeConfig) (settings, error) {
	s := settings{
		env:       Environment(cfg.Environment()),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		secret:    strings.TrimSpace(cfg.Secret),
		currency:  strings.ToLower(strings.TrimSpace(cfg.Currency)),
		retries:   int64(max(cfg.MaxNetworkRetries, 0)),
		timeout:   cfg.RequestTimeout,
		tolerance: cfg.WebhookTolerance,
	}
	if s.env != EnvTest && s.env != EnvLive {
		return settings{}, fmt.Errorf("stripe environment must be %q or %q, got %q", EnvTest, EnvLive, cfg.Env)
	}
	if s.apiKey == "" {
		return settings{}, errors.New("stripe api key is required")
	}
	if s.secret == "" {
		return settings{}, errors.New("stripe webhook secret is required")
	}
	if !keyMatchesEnv(s.env, s.apiKey) {
		return settings{}, fmt.Errorf("stripe %s environment requires an sk_%s or rk_%s key", s.env, s.env, s.env)
	}
	if s.currency == "" {
		s.currency = defaultCurrency
	}
	if len(s.currency) != 3 {
		return settings{}, fmt.Errorf("stripe currency %q must be an ISO 4217 code", cfg.Currency)
	}
	if s.timeout <= 0 {
		s.timeout = defaultRequestTimeout
	}
	if s.tolerance <= 0 {
		s.tolerance = defaultWebhookTolerance
	}
	return s, nil
}

func keyMatchesEnv(env Environment, key string) bool {
	return strings.HasPrefix(key, "sk_"+string(env)) || strings.HasPrefix(key, "rk_"+string(env))
}

// NewClient validates cfg and installs the API key and HTTP backend used by
// every stripe-go resource call in the process.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	s, err := parseSettings(cfg)
	if err != nil {
		return nil, err
	}

	stripe.Key = s.apiKey
	stripe.SetAppInfo(&stripe.AppInfo{Name: "trialhub-backend"})
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: s.timeout},
		MaxNetworkRetries: stripe.Int64(s.retries),
		LeveledLogger:     leveledLogger{ctx: ctx, logg: logg},
	}))

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"stripe_env":      string(s.env),
			"currency":        s.currency,
			"network_retries": s.retries,
		}), "stripe client initialized")
	}
	return &Client{env: s.env, currency: s.currency, secret: s.secret, tolerance: s.tolerance}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return string(c.env)
}

// Currency is the lowercase settlement currency.
func (c *Client) Currency() string {
	if c == nil {
		return ""
	}
	return c.currency
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.secret
}

// VerifyEvent checks the Stripe-Signature header against the payload and
// decodes the event. Events pinned to another API version are accepted since
// handlers read only the fields they need.
func (c *Client) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if c == nil {
		return stripe.Event{}, errNotInitialized
	}
	return webhook.ConstructEventWithOptions(payload, signature, c.secret, webhook.ConstructEventOptions{
		Tolerance:                c.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
}

// leveledLogger routes stripe-go request logs into the service logger.
// Per-request info lines are demoted to debug.
type leveledLogger struct {
	ctx  context.Context
	logg *logger.Logger
}

func (l leveledLogger) Debugf(format string, v ...any) { l.write(l.logg.Debug, format, v) }

func (l leveledLogger) Infof(format string, v ...any) { l.write(l.logg.Debug, format, v) }

func (l leveledLogger) Warnf(format string, v ...any) { l.write(l.logg.Warn, format, v) }

func (l leveledLogger) Errorf(format string, v ...any) { l.write(l.logg.Warn, format, v) }

func (l leveledLogger) write(fn func(context.Context, string), format string, v []any) {
	if l.logg == nil {
		return
	}
	fn(l.logg.WithField(l.ctx, "component", "stripe-go"), fmt.Sprintf(format, v...))
}
