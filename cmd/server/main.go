package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/social-trends-api/internal/config"
	"github.com/social-trends-api/internal/handler"
	"github.com/social-trends-api/internal/handler/admin"
	"github.com/social-trends-api/internal/logging"
	"github.com/social-trends-api/internal/middleware"
	"github.com/social-trends-api/internal/quota"
	"github.com/social-trends-api/internal/service"
	"github.com/social-trends-api/internal/store"
	"github.com/social-trends-api/internal/tier"
	"github.com/social-trends-api/internal/trends"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			if !cfg.AcceptTestKeys {
				return err
			}
			log.Warn().Err(err).Msg("migrations skipped, database unreachable; serving demo keys only until it recovers")
		}
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	policy, err := cfg.TierPolicy()
	if err != nil {
		return err
	}
	demoKeys, err := cfg.DemoIdentities()
	if err != nil {
		return err
	}

	pg := store.NewPostgres(pool, cfg.DBQueryTimeout)
	guarded := store.NewGuarded(pg, cfg.BreakerSettings())

	optional := map[string]handler.Pinger{}
	enforcer, closeEnforcer, err := newEnforcer(cfg, guarded, optional)
	if err != nil {
		return err
	}
	defer closeEnforcer()

	authenticator := service.NewAuthenticator(guarded, enforcer, policy, service.NewDemoKeys(cfg.AcceptTestKeys, demoKeys))
	keySvc := service.NewAPIKeyService(pg, policy)

	var adminAuth *middleware.AdminAuth
	if cfg.AdminEnabled() {
		adminAuth, err = middleware.NewAdminAuth(ctx, cfg.GoogleClientID, middleware.AdminPolicy{
			Domain: cfg.GoogleAllowedDomain,
			Emails: cfg.GoogleAllowedEmails,
		})
		if err != nil {
			return err
		}
	}

	router := newRouter(cfg, routerDeps{
		policy:        policy,
		authenticator: authenticator,
		keySvc:        keySvc,
		trends:        trends.New(),
		db:            pg,
		breaker:       guarded,
		optional:      optional,
		adminAuth:     adminAuth,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("quota_enforcement", cfg.QuotaEnforcement).
			Bool("admin", adminAuth != nil).
			Bool("demo_keys", cfg.AcceptTestKeys).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info().Msg("server stopped")
	return nil
}

func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = cfg.DBMinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		// The pool connects lazily, so with demo keys enabled the process can
		// start degraded and pick the database up once it is reachable.
		if cfg.AcceptTestKeys {
			log.Warn().Err(err).Msg("database unreachable at startup, continuing with demo key fallback")
			return pool, nil
		}
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// newEnforcer builds the quota enforcer for the configured mode. Redis is
// registered as an optional health dependency.
func newEnforcer(cfg *config.Config, ledger store.AtomicUsageLedger, optional map[string]handler.Pinger) (quota.Enforcer, func(), error) {
	switch quota.Mode(cfg.QuotaEnforcement) {
	case quota.ModeAtomic:
		return quota.NewAtomicEnforcer(ledger), func() {}, nil
	case quota.ModeRedis:
		e, err := quota.NewRedisEnforcer(cfg.RedisURL, ledger)
		if err != nil {
			return nil, nil, err
		}
		optional["redis"] = e
		return e, func() {
			if err := e.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close redis client")
			}
		}, nil
	default:
		return quota.NewLedgerEnforcer(ledger), func() {}, nil
	}
}

type routerDeps struct {
	policy        *tier.Policy
	authenticator *service.Authenticator
	keySvc        *service.APIKeyService
	trends        handler.TrendSource
	db            handler.Database
	breaker       handler.BreakerStater
	optional      map[string]handler.Pinger
	adminAuth     *middleware.AdminAuth
}

func newRouter(cfg *config.Config, d routerDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", middleware.APIKeyHeader},
			ExposedHeaders: []string{"X-Quota-Limit", "X-Quota-Used", "X-Quota-Remaining", "Retry-After", middleware.ResponseTimeHeader},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.RequireJSON)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	authLimiter := middleware.NewAuthAttemptLimiter(cfg.AuthMaxFailures, cfg.AuthFailureWindow, cfg.AuthBlockDuration)

	r.Method(http.MethodGet, "/", handler.NewInfoHandler(d.policy))
	r.Method(http.MethodGet, "/health", handler.NewHealthHandler())
	r.Method(http.MethodGet, "/health/detailed", handler.NewDetailedHealthHandler(d.db, d.breaker, d.optional))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.With(httprate.LimitByIP(cfg.RegistrationRateLimit, time.Hour)).
			Method(http.MethodPost, "/register", handler.NewRegisterHandler(d.keySvc))

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyIdentify(d.authenticator, authLimiter))
			r.Method(http.MethodGet, "/usage", handler.NewUsageHandler(d.keySvc))
			r.Method(http.MethodGet, "/my-account", handler.NewAccountHandler(d.keySvc))
		})
	})

	th := handler.NewTrendsHandler(d.trends)
	r.Route("/v1/trends", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(d.authenticator, authLimiter))
		r.With(middleware.RequireTier(tier.Free)).Get("/global", th.Global)
		r.With(middleware.RequireTier(tier.Developer)).Get("/platform", th.Platform)
		r.With(middleware.RequireTier(tier.Business)).Get("/country", th.Country)
		r.With(middleware.RequireTier(tier.Developer)).Get("/analysis/keyword", th.Keyword)
		r.With(middleware.RequireTier(tier.Developer)).Get("/hashtags/related", th.RelatedHashtags)
	})

	if d.adminAuth != nil {
		adminLimiter := middleware.NewAuthAttemptLimiter(cfg.AuthMaxFailures, cfg.AuthFailureWindow, cfg.AuthBlockDuration)
		r.Route("/admin", func(r chi.Router) {
			r.Use(d.adminAuth.Middleware(adminLimiter))
			r.Method(http.MethodGet, "/api-keys", admin.NewListAPIKeysHandler(d.keySvc, d.policy))
			r.Method(http.MethodPost, "/api-keys", admin.NewProvisionAPIKeyHandler(d.keySvc))
			r.Method(http.MethodGet, "/api-keys/{id}", admin.NewGetAPIKeyHandler(d.keySvc, d.policy))
			r.Method(http.MethodPatch, "/api-keys/{id}/tier", admin.NewSetTierHandler(d.keySvc, d.policy))
			r.Method(http.MethodPost, "/api-keys/{id}/deactivate", admin.NewSetActiveHandler(d.keySvc, false))
			r.Method(http.MethodPost, "/api-keys/{id}/activate", admin.NewSetActiveHandler(d.keySvc, true))
			r.Method(http.MethodGet, "/users/{email}/api-keys", admin.NewListUserAPIKeysHandler(d.keySvc, d.policy))
		})
	}

	return r
}
