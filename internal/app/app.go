package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"cardauth/internal/auth"
	"cardauth/internal/config"
	"cardauth/internal/entitlement"
	apierrors "cardauth/internal/errors"
	"cardauth/internal/fingerprint"
	"cardauth/internal/infrastructure"
	customMiddleware "cardauth/internal/middleware"
	handlers "cardauth/internal/transport/http"
	"cardauth/internal/verify"
	ws "cardauth/internal/websocket"
)

// Version is set at compile time via -ldflags
var Version = "dev"

// Application is the top-level container for the auth daemon
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Controller    *auth.Controller
	Fingerprint   *fingerprint.Provider
	Hub           *ws.Hub
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
}

// NewApplication loads configuration and wires every component together
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(logger)

	otelCfg := infrastructure.DefaultOTelConfig()
	otelCfg.ServiceVersion = Version
	providers, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := app.initializeServices(); err != nil {
		return nil, err
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the auth pipeline: fingerprint, cache,
// verifier, controller, push hub.
func (a *Application) initializeServices() error {
	// One trace ID across the whole startup sequence ties the boot log
	// lines together.
	ctx := infrastructure.EnsureTraceID(context.Background())

	a.Fingerprint = fingerprint.NewProvider(nil, a.Logger)
	machineCode := a.Fingerprint.MachineCode(ctx)

	// The cache signing key is derived from the machine code, so a
	// cache file copied to another machine fails verification there.
	signingKey, err := entitlement.DeriveCacheKey(machineCode)
	if err != nil {
		return fmt.Errorf("failed to derive cache key: %w", err)
	}

	store, err := entitlement.NewFileStore(a.Config.Cache.Path)
	if err != nil {
		return fmt.Errorf("failed to open entitlement store: %w", err)
	}
	cache := entitlement.NewCache(store, a.Config.Cache.StorageKey, signingKey, a.Logger)

	verifier := verify.NewClient(a.Config.Verifier, a.Logger)

	a.Hub = ws.NewHub(a.Logger)

	metrics, err := auth.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Warn("auth metrics unavailable", slog.String("error", err.Error()))
	}

	notifier := auth.MultiNotifier{
		auth.NewSlogNotifier(a.Logger),
		ws.NewNotifier(a.Hub),
	}

	a.Controller = auth.NewController(verifier, a.Fingerprint, cache, notifier, a.Logger,
		auth.WithRateLimit(a.Config.RateLimit),
		auth.WithMetrics(metrics),
	)

	// Push every state transition to connected UIs
	a.Controller.OnChange(func(status auth.Status) {
		a.Hub.Broadcast(ws.TypeAuthStatus, status)
	})

	if err := a.Controller.Restore(ctx); err != nil {
		// A broken cache never blocks startup; the user just logs in again
		a.Logger.Warn("session restore failed, starting logged out",
			slog.String("error", err.Error()))
	}

	return nil
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// WebSocket route stays outside the group: the wrapped response
	// writer breaks connection hijacking
	upgrader := ws.NewUpgrader(a.Hub, a.Config.WebSocket, a.Logger)
	r.Handle("/ws", upgrader)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.RateLimit.RPS,
				a.Config.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))

			authHandler := handlers.NewAuthHandler(a.Controller)
			r.Mount("/auth", authHandler.Routes())

			r.Get("/health", a.handleHealth)
			r.Get("/version", a.handleVersion)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			render.Render(w, r, apierrors.ErrNotFound)
		})
	})

	// Prometheus metrics outside the middleware group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

func (a *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]any{
		"status":    "ok",
		"loggedIn":  a.Controller.IsLoggedIn(),
		"timestamp": time.Now(),
	})
}

func (a *Application) handleVersion(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"version":     Version,
		"machineCode": a.Fingerprint.MachineCode(r.Context()),
	})
}

// Start starts the hub and the HTTP server
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "starting auth daemon",
		slog.String("version", Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("verifier_url", a.Config.Verifier.URL),
		slog.String("fingerprint_source", a.Fingerprint.Source().String()))

	a.Hub.Start()

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "auth daemon started",
		slog.String("address", fmt.Sprintf("http://127.0.0.1:%d", a.Config.Server.Port)))
	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Hub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down observability",
				slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogger(); err != nil {
		return err
	}

	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
