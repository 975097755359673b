package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/tillpoint/internal/cache"
	"github.com/xenking/tillpoint/internal/domain/catalog"
	"github.com/xenking/tillpoint/internal/domain/sale"
	"github.com/xenking/tillpoint/internal/domain/till"
	"github.com/xenking/tillpoint/internal/handler"
	"github.com/xenking/tillpoint/internal/repository"
	"github.com/xenking/tillpoint/pkg/health"
	"github.com/xenking/tillpoint/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	waitCtx, cancelWait := context.WithTimeout(ctx, 30*time.Second)
	defer cancelWait()
	if err := repository.WaitReady(waitCtx, pool); err != nil {
		return errors.Wrap(err, "wait for database")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Product cache: Redis when configured, no-op otherwise.
	var productCache catalog.Cache = cache.Noop{}
	var redisCache *cache.ProductCache
	if cfg.Redis.Addr != "" {
		redisCache = cache.NewProductCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer func() { _ = redisCache.Close() }()
		if err := redisCache.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		productCache = redisCache
		lg.Info("Product cache enabled", zap.String("redis", cfg.Redis.Addr))
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	if redisCache != nil {
		healthSvc.AddReadinessCheck("redis", 5*time.Second, health.PingCheck(redisCache))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(200*time.Millisecond))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(pool)
	tillRepo := repository.NewTillRepository(pool)
	saleRepo := repository.NewSaleRepository(pool)

	// Domain services.
	catalogSvc := catalog.NewService(catalogRepo, productCache)
	tillSvc := till.NewService(tillRepo)
	saleSvc := sale.NewService(tillSvc, saleRepo)

	// HTTP routes: health probes stay outside the middleware chain, the API
	// sits inside it so the instrumentation can read chi's matched pattern.
	h := handler.NewHandler(catalogSvc, tillSvc, saleSvc)
	find := httpmiddleware.ChiRouteFinder()

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Group(func(r chi.Router) {
		r.Use(
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("tillpoint-api", m),
			httpmiddleware.LogRequests(find),
			httpmiddleware.Labeler(find),
		)
		r.Route("/api/v1", h.Routes)
	})

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           router,
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
