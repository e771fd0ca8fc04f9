package app

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/user-search/internal/authn"
	"github.com/xenking/user-search/internal/domain/auth"
	"github.com/xenking/user-search/internal/domain/identity"
	"github.com/xenking/user-search/internal/domain/search"
	"github.com/xenking/user-search/internal/handler"
	"github.com/xenking/user-search/internal/realmexport"
	"github.com/xenking/user-search/internal/storage/memory"
	"github.com/xenking/user-search/internal/storage/postgres"
	"github.com/xenking/user-search/pkg/health"
	"github.com/xenking/user-search/pkg/httpmiddleware"
)

// store is an identity store with a connectivity check for readiness.
type store interface {
	identity.Store
	health.Pinger
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("store", cfg.Store.Driver),
		zap.String("auth", cfg.Auth.Mode),
	)

	st, closeStore, err := openStore(ctx, lg, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	authenticator, err := newAuthenticator(ctx, cfg.Auth)
	if err != nil {
		return errors.Wrap(err, "create authenticator")
	}

	svc, err := search.NewService(authenticator, st, nil,
		search.WithTracerProvider(m.TracerProvider()),
		search.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create search service")
	}

	healthSvc := health.New()
	healthSvc.Add(health.Check{
		Name:    "store",
		Probe:   health.Readiness,
		Timeout: 5 * time.Second,
		Func:    health.PingCheck(st),
	})
	healthSvc.Add(health.Check{
		Name:  "goroutines",
		Probe: health.Liveness,
		Func:  health.GoroutineCountCheck(10000),
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	handler.New(svc, handler.Config{ProviderID: cfg.ProviderID}).Mount(router)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Authorization"},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:     cfg.RateLimit.Max,
				Window:  cfg.RateLimit.Window,
				Clients: cfg.RateLimit.Clients,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.Instrument("user-search", m),
			httpmiddleware.LogRequests(),
			httpmiddleware.Labeler(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// openStore connects the configured identity store. The postgres pool is
// read-only and the schema is expected to exist.
func openStore(ctx context.Context, lg *zap.Logger, cfg StoreConfig) (store, func(), error) {
	switch cfg.Driver {
	case DriverMemory:
		realms, err := realmexport.Load(ctx, cfg.SeedFiles)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load seed files")
		}
		for _, r := range realms {
			lg.Info("Loaded realm",
				zap.String("realm", r.Name),
				zap.Int("users", len(r.Users)),
				zap.Int("groups", len(r.Groups)),
			)
		}
		return memory.New(realms...), func() {}, nil
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, true)
		if err != nil {
			return nil, nil, errors.Wrap(err, "create db pool")
		}
		return postgres.NewUserStore(pool), pool.Close, nil
	}
}

func newAuthenticator(ctx context.Context, cfg AuthConfig) (auth.Authenticator, error) {
	if cfg.Mode == AuthStatic {
		sc := authn.StaticKeyConfig{
			IssuerURL:  cfg.IssuerURL,
			Audience:   cfg.Audience,
			HMACSecret: []byte(cfg.HMACSecret),
			Leeway:     cfg.Leeway,
		}
		if cfg.PublicKeyFile != "" {
			data, err := os.ReadFile(cfg.PublicKeyFile)
			if err != nil {
				return nil, errors.Wrap(err, "read public key")
			}
			key, err := authn.ParseRSAPublicKey(data)
			if err != nil {
				return nil, err
			}
			sc.PublicKey = key
		}
		return authn.NewStaticKey(sc)
	}
	return authn.NewOIDC(ctx, authn.OIDCConfig{
		IssuerURL: cfg.IssuerURL,
		Audience:  cfg.Audience,
		CacheSize: cfg.VerifierCacheSize,
	})
}
