package api

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	swagger "github.com/go-swagno/swagno-fiber/swagger"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/docs"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/handler"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/api/middleware"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/service"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/streamtoken"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/usage"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/webhook"
	"github.com/saturnino-fabrica-de-software/rekko-liveness/internal/ws"
)

type Dependencies struct {
	DB             handler.Pinger
	TenantRepo     middleware.TenantRepository
	APIKeyRepo     middleware.APIKeyRepository
	LastUsedWorker *middleware.LastUsedWorker
	Liveness       *service.LivenessService
	Janitor        *service.Janitor
	Hub            *ws.Hub
	Webhooks       *webhook.Service
	WebhookWorker  *webhook.Worker
	StreamTokens   *streamtoken.Issuer
	Stream         ws.StreamConfig
	Usage          *usage.Service
	UsageRecorder  *usage.Recorder
	UsageWorker    *usage.Worker
	Version        string
}

type Router struct {
	app         *fiber.App
	logger      *slog.Logger
	deps        *Dependencies
	rateLimiter *middleware.RateLimiter
	cancel      context.CancelFunc
}

func NewRouter(logger *slog.Logger, deps *Dependencies) *Router {
	app := fiber.New(fiber.Config{
		ErrorHandler: middleware.ErrorHandler(logger),
		AppName:      "Rekko Liveness API",
		BodyLimit:    6 * 1024 * 1024,
	})

	return &Router{
		app:    app,
		logger: logger,
		deps:   deps,
	}
}

func (r *Router) Setup() {
	// Global middlewares
	r.app.Use(requestid.New())
	r.app.Use(middleware.Recover(r.logger))
	r.app.Use(middleware.Logger(r.logger, "/health", "/ready"))
	r.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Swagger documentation (no auth required)
	sw := docs.NewSwagger()
	swagger.SwaggerHandler(r.app, sw.MustToJson())

	// Prometheus scrape endpoint (no auth required)
	r.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check endpoints (no auth required)
	var db handler.Pinger
	version := ""
	if r.deps != nil {
		db = r.deps.DB
		version = r.deps.Version
	}
	healthHandler := handler.NewHealthHandler(db, version, r.logger)
	r.app.Get("/health", healthHandler.Health)
	r.app.Get("/ready", healthHandler.Ready)

	// Only configure authenticated routes if dependencies were provided
	if r.deps == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.startWorkers(ctx)

	authDeps := middleware.AuthDependencies{
		TenantRepo: r.deps.TenantRepo,
		APIKeyRepo: r.deps.APIKeyRepo,
		Logger:     r.logger,
	}
	if r.deps.LastUsedWorker != nil {
		authDeps.LastUsedWorker = r.deps.LastUsedWorker
	}
	auth := middleware.Auth(authDeps)

	// The session stream also accepts the token handed out with the session,
	// so it is registered before the API key group
	var tokens middleware.StreamTokenValidator
	if r.deps.StreamTokens != nil {
		tokens = r.deps.StreamTokens
	}
	r.app.Get("/v1/liveness/sessions/:id/stream",
		ws.UpgradeMiddleware(),
		middleware.StreamAuth(tokens, r.deps.TenantRepo, auth),
		ws.StreamHandler(r.deps.Liveness, r.deps.Stream, r.logger),
	)

	// API v1 group with authentication
	v1 := r.app.Group("/v1", auth)

	// Rate limiting (per tenant) - must come after auth to have tenant context
	r.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	v1.Use(r.rateLimiter.Handler())

	// Tenant event stream
	v1.Get("/ws", ws.UpgradeMiddleware(), ws.Handler(r.deps.Hub))

	var issuer handler.StreamTokenIssuer
	if r.deps.StreamTokens != nil {
		issuer = r.deps.StreamTokens
	}
	livenessHandler := handler.NewLivenessHandler(r.deps.Liveness, issuer, r.logger)

	sessions := v1.Group("/liveness/sessions")
	sessions.Post("/", livenessHandler.StartSession)
	sessions.Get("/:id", livenessHandler.GetSession)
	sessions.Delete("/:id", livenessHandler.EndSession)
	sessions.Post("/:id/observations", livenessHandler.SubmitObservations)
	sessions.Post("/:id/frames", livenessHandler.SubmitFrame)
	sessions.Post("/:id/reset", livenessHandler.ResetSession)
	sessions.Post("/:id/capture", livenessHandler.StoreCapture)

	// Publishable keys drive the challenge; reading selfies back and managing
	// the account need a secret key
	secretOnly := middleware.RequireSecretKey()
	sessions.Get("/:id/capture", secretOnly, livenessHandler.GetCapture)
	sessions.Get("/:id/capture/image", secretOnly, livenessHandler.GetCaptureImage)

	if r.deps.Webhooks != nil {
		webhooksHandler := handler.NewWebhooksHandler(r.deps.Webhooks, r.logger)
		v1.Get("/webhooks", secretOnly, webhooksHandler.List)
		v1.Post("/webhooks", secretOnly, webhooksHandler.Create)
		v1.Delete("/webhooks/:id", secretOnly, webhooksHandler.Delete)
	}

	if r.deps.Usage != nil {
		usageHandler := handler.NewUsageHandler(r.deps.Usage, r.logger)
		v1.Get("/usage", secretOnly, usageHandler.Current)
		v1.Get("/usage/:period", secretOnly, usageHandler.ForPeriod)
	}
}

func (r *Router) startWorkers(ctx context.Context) {
	if r.deps.Hub != nil {
		go r.deps.Hub.Run(ctx)
	}
	if r.deps.WebhookWorker != nil {
		go r.deps.WebhookWorker.Run(ctx)
	}
	if r.deps.Janitor != nil {
		go r.deps.Janitor.Run(ctx)
	}
	if r.deps.UsageWorker != nil {
		go r.deps.UsageWorker.Run(ctx)
	}
	if r.deps.LastUsedWorker != nil {
		r.deps.LastUsedWorker.Start()
	}
	if r.deps.UsageRecorder != nil {
		r.deps.UsageRecorder.Start()
	}
}

func (r *Router) App() *fiber.App {
	return r.app
}

func (r *Router) Listen(addr string) error {
	return r.app.Listen(addr)
}

func (r *Router) Shutdown() error {
	// Stop hub, webhook worker, janitor and quota checks
	if r.cancel != nil {
		r.cancel()
	}

	// Flush pending last-used updates and usage counters
	if r.deps != nil && r.deps.LastUsedWorker != nil {
		r.deps.LastUsedWorker.Stop()
	}
	if r.deps != nil && r.deps.UsageRecorder != nil {
		r.deps.UsageRecorder.Stop()
	}

	// Stop rate limiter cleanup goroutine
	if r.rateLimiter != nil {
		r.rateLimiter.Stop()
	}

	return r.app.Shutdown()
}
