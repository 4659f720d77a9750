package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"decodr/internal/account"
	"decodr/internal/api/handlers"
	"decodr/internal/auth"
	"decodr/internal/billing"
	"decodr/internal/config"
	"decodr/internal/core"
	"decodr/internal/db"
	"decodr/internal/external"
	"decodr/internal/metering"
	"decodr/internal/metrics"
	"decodr/internal/ratelimit"
)

const userAgent = "decodr-api/1.0"

// collector is what every metrics backend provides.
type collector interface {
	core.MetricsCollector
	metering.DecisionRecorder
	billing.TransitionRecorder
}

// app is the wired server plus the hook that publishes buffered metrics.
type app struct {
	srv   *core.Server
	flush func(ctx context.Context)
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to entitlement store: %w", err)
	}
	srv.Closers = append(srv.Closers, func() error { pool.Close(); return nil })
	srv.HealthProbes = append(srv.HealthProbes, db.NewHealthProbe(pool))

	if cfg.RunMigrations {
		if err := db.RunMigrations(pool); err != nil {
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	profiles := db.NewProfileRepository(pool)

	mc, metricsHandler, flush, err := newCollector(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = mc
	srv.MetricsHandler = metricsHandler

	supabase := external.NewSupabaseClient(
		external.NewBaseClient(&http.Client{Timeout: 10 * time.Second}, "supabase", external.DefaultRetryPolicy(), userAgent),
		cfg.Identity.SupabaseURL,
		cfg.Identity.AnonKey,
		cfg.Identity.ServiceRoleKey,
		logger,
	)
	resolver, err := auth.NewResolver(ctx, cfg.Identity, supabase, logger)
	if err != nil {
		return nil, fmt.Errorf("configuring token verification: %w", err)
	}
	srv.Authenticator = resolver

	engine := metering.NewEngine(profiles, cfg.Metering.FreeTrialGrant, logger,
		metering.WithResolver(resolver),
		metering.WithRecorder(mc),
	)

	openai := external.NewOpenAIClient(
		external.NewBaseClient(&http.Client{Timeout: cfg.LLM.Timeout}, "openai", external.DefaultRetryPolicy(), userAgent),
		cfg.LLM.APIKey,
		cfg.LLM.BaseURL,
		cfg.LLM.Model,
		logger,
	)

	stripe := external.NewStripeClient(&http.Client{Timeout: 20 * time.Second}, external.StripeClientConfig{
		SecretKey: cfg.Billing.StripeSecretKey,
		BaseURL:   cfg.Billing.StripeBaseURL,
		Logger:    logger,
	})
	billingSvc := billing.NewService(billing.ServiceConfig{
		Store:     profiles,
		Payments:  stripe,
		PriceID:   cfg.Billing.StripePriceID,
		AppOrigin: cfg.Server.AppOrigin,
		Recorder:  mc,
		Logger:    logger,
	})
	accounts := account.NewService(profiles, billingSvc, supabase, logger)

	wireRateLimit(ctx, srv, cfg, logger)

	set := handlers.Set{
		Analyze: handlers.NewAnalyzeHandler(engine, openai, srv.Validator, logger),
		Chat: handlers.NewChatHandler(openai,
			external.ChatSystemPrompt(cfg.Metering.AnonTrialCap, cfg.Metering.FreeTrialGrant),
			srv.Validator, logger),
		Profile: handlers.NewProfileHandler(engine),
		Billing: handlers.NewBillingHandler(engine, billingSvc, logger),
		Account: handlers.NewAccountHandler(accounts, logger),
		Webhook: handlers.NewStripeWebhookHandler(external.StripeVerifier{}, billingSvc, cfg.Billing.StripeWebhookSecret, logger),
	}
	srv.APIRouteRegistrars = append(srv.APIRouteRegistrars, set.Registrar(srv))
	srv.MountRoutes()

	return &app{srv: srv, flush: flush}, nil
}

// wireRateLimit installs the Redis limiter when REDIS_URL is set and
// reachable, the in-process limiter otherwise. An unreachable Redis at boot
// is not fatal.
func wireRateLimit(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) {
	if !cfg.RateLimit.Enabled {
		return
	}
	local := ratelimit.NewLocalStore(ctx)
	if !cfg.RateLimit.RedisURL.IsSet() {
		srv.RateLimitStore = local
		return
	}

	rdb, err := ratelimit.NewRedisClient(ctx, cfg.RateLimit.RedisURL.Unmask())
	if err != nil {
		logger.Warn("redis unavailable, using in-process rate limiting", "error", err)
		srv.RateLimitStore = local
		return
	}
	srv.RateLimitStore = ratelimit.NewRedisStore(rdb, local, logger)
	srv.HealthProbes = append(srv.HealthProbes, ratelimit.NewHealthProbe(rdb))
	srv.Closers = append(srv.Closers, rdb.Close)
}

// newCollector builds the configured metrics backend. It returns the
// /metrics handler (Prometheus only) and a flush hook (CloudWatch only; a
// no-op otherwise).
func newCollector(ctx context.Context, cfg *config.Config, logger *slog.Logger) (collector, http.Handler, func(context.Context), error) {
	noFlush := func(context.Context) {}

	switch cfg.Observability.MetricsBackend {
	case "prometheus":
		p := metrics.NewPrometheus(strings.ToLower(cfg.Observability.MetricNamespace))
		return p, p.Handler(), noFlush, nil

	case "cloudwatch":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading AWS config for CloudWatch: %w", err)
		}
		client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		cw := metrics.NewCloudWatch(client, cfg.Observability.MetricNamespace, logger)
		go cw.Run(ctx)
		return cw, nil, cw.Flush, nil

	default:
		return metrics.Nop{}, nil, noFlush, nil
	}
}
