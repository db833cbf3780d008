package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/booking"
	"github.com/alex-user-go/slotfinder/internal/config"
	"github.com/alex-user-go/slotfinder/internal/handler"
	"github.com/alex-user-go/slotfinder/internal/middleware"
	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/providers"
	"github.com/alex-user-go/slotfinder/internal/providers/mock"
	"github.com/alex-user-go/slotfinder/internal/search"
	"github.com/alex-user-go/slotfinder/internal/search/cache"
	"github.com/alex-user-go/slotfinder/internal/search/ratelimit"
)

const (
	defaultProviderTimeout = 2 * time.Second
	shutdownTimeout        = 10 * time.Second
	redisPingTimeout       = 2 * time.Second
)

// App is the wired HTTP service.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	metrics    *obs.Metrics
	aggregator *search.Aggregator
	router     *gin.Engine
	closers    []func()
}

// New wires every component described by cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	a.metrics = obs.NewMetrics(logger)

	providersList, err := BuildProviders(cfg.Providers, logger)
	if err != nil {
		return nil, err
	}

	a.aggregator = search.NewAggregator(providersList, cfg.Search.Timeout, a.metrics, logger)

	store, err := a.buildStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	searchCache := cache.New(store, cfg.Cache.TTL, logger)

	limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	a.closers = append(a.closers, limiter.Close)

	h := handler.New(a.aggregator, searchCache, booking.NewService(logger), a.metrics, logger)

	a.router = a.buildRouter(h, limiter)

	logger.Info("application wired",
		zap.Int("providers", len(providersList)),
		zap.String("cache", cfg.Cache.Backend),
		zap.Duration("search_timeout", cfg.Search.Timeout),
	)

	return a, nil
}

// BuildProviders turns provider configuration into connectors.
func BuildProviders(cfgs []config.ProviderConfig, logger *zap.Logger) ([]providers.Provider, error) {
	list := make([]providers.Provider, 0, len(cfgs))
	for _, pc := range cfgs {
		switch pc.Kind {
		case config.ProviderMock:
			opts := []mock.Option{mock.WithLogger(logger)}
			if pc.Seed != 0 {
				opts = append(opts, mock.WithSeed(pc.Seed))
			}
			p, err := mock.New(pc.Name, opts...)
			if err != nil {
				return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
			}
			list = append(list, p)
		case config.ProviderHTTP:
			timeout := pc.Timeout
			if timeout <= 0 {
				timeout = defaultProviderTimeout
			}
			list = append(list, providers.NewHTTPProvider(pc.Name, pc.URL, timeout))
		default:
			return nil, fmt.Errorf("provider %q: unknown kind %q", pc.Name, pc.Kind)
		}
	}
	return list, nil
}

func (a *App) buildStore() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case config.CacheNone:
		return cache.NopStore{}, nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		a.closers = append(a.closers, func() { _ = client.Close() })

		store := cache.NewRedisStore(client)
		ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		return store, nil
	default:
		store := cache.NewMemoryStore(a.cfg.Cache.TTL)
		a.closers = append(a.closers, store.Close)
		return store, nil
	}
}

func (a *App) buildRouter(h *handler.Handler, limiter *ratelimit.Limiter) *gin.Engine {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.Logging(a.logger))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", middleware.HeaderRequestID},
		ExposeHeaders:   []string{"Content-Length", middleware.HeaderRequestID},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", gin.WrapF(obs.HealthHandler(a.logger)))
	r.GET("/metrics", gin.WrapH(a.metrics.MetricsHandler()))

	h.Register(r.Group("/", middleware.RateLimit(limiter, a.metrics, a.logger)))

	return r
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.router
}

// Aggregator exposes the search pipeline for in-process callers.
func (a *App) Aggregator() *search.Aggregator {
	return a.aggregator
}

// Close releases background resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.cfg.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
		ErrorLog:     zap.NewStdLog(a.logger),
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			a.logger.Error("server error", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	a.logger.Info("server stopped")
	return nil
}
