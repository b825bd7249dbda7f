package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"market-signal-engine/config"
	"market-signal-engine/internal/ai/providers"
	"market-signal-engine/internal/ai/rotation"
	"market-signal-engine/internal/ai/signal"
	"market-signal-engine/internal/auth"
	"market-signal-engine/internal/database"
	"market-signal-engine/internal/events"
	"market-signal-engine/internal/logging"
	"market-signal-engine/internal/metrics"
	"market-signal-engine/internal/scanner"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Scanner is the market scan driver the API triggers
type Scanner interface {
	Run(ctx context.Context) (*scanner.Summary, error)
	AnalyzeSymbol(ctx context.Context, symbol, exchangeName, notes string) (*signal.MarketSignal, *rotation.Outcome, error)
	LastSummary() *scanner.Summary
	SetExchangeConnected(ctx context.Context, name string, connected bool) ([]string, error)
}

// ProviderRegistry is the provider administration surface
type ProviderRegistry interface {
	Specs() []providers.Spec
	List(ctx context.Context) ([]providers.Status, error)
	Capacity(ctx context.Context) (*providers.Capacity, error)
	Get(ctx context.Context, name string) (*providers.Choice, error)
	ValidateCredential(ctx context.Context, name string) (bool, error)
	SetEnabled(ctx context.Context, name string, enabled bool) (*providers.Record, error)
	ResetDailyLimits(ctx context.Context) (int, error)
	RecordSuccess(ctx context.Context, name string, latency time.Duration) error
	RecordFailure(ctx context.Context, name string, cause error, rateLimited bool) (time.Duration, error)
}

// CacheHealth reports the shared cache state
type CacheHealth interface {
	IsHealthy() bool
}

// HealthChecker probes an external dependency
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Deps are the services the server routes to
type Deps struct {
	Store    database.Store
	Scanner  Scanner
	Registry ProviderRegistry
	Invoker  rotation.Invoker
	Cache    CacheHealth   // nil when redis is disabled
	Vault    HealthChecker // nil when vault is disabled
	EventBus *events.EventBus
	Metrics  *metrics.Recorder
	Auth     *auth.Service
}

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	deps       Deps
	config     config.ServerConfig
	hub        *WSHub
	actions    map[Action]actionHandler
	logger     *logging.Logger
	startedAt  time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Auth == nil {
		deps.Auth = auth.NewService(config.AuthConfig{})
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware())
	router.Use(deps.Metrics.GinMiddleware())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", logging.TraceHeader}
	corsConfig.ExposeHeaders = []string{"Content-Length", logging.TraceHeader}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:    router,
		deps:      deps,
		config:    cfg,
		hub:       NewWSHub(),
		logger:    logging.WithComponent("api"),
		startedAt: time.Now(),
	}
	s.actions = s.actionTable()
	s.hub.Subscribe(deps.EventBus)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/api/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	s.router.GET("/ws/signals", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(rateLimitMiddleware(s.config.RequestsPerSecond, s.config.RequestBurst))
	api.Use(auth.OptionalMiddleware(s.deps.Auth))
	{
		api.POST("/auth/login", auth.NewHandlers(s.deps.Auth).Login)
		api.POST("/ai-analysis", s.handleAIAnalysis)
		api.GET("/signals", s.handleGetSignals)
		api.GET("/scan/last", s.handleLastScan)
	}
}

// Router exposes the engine for tests and embedding
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Hub returns the websocket hub
func (s *Server) Hub() *WSHub {
	return s.hub
}

// Start runs the websocket hub and serves HTTP until Shutdown
func (s *Server) Start() error {
	go s.hub.Run()
	s.logger.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Stop()
	return s.httpServer.Shutdown(ctx)
}

// rateLimitMiddleware throttles the API with a shared token bucket
func rateLimitMiddleware(rps, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = rps
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "too many requests",
			})
			return
		}
		c.Next()
	}
}

// handleHealth reports database, cache and vault status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Database health check failed")
		dbStatus = "unhealthy"
	}

	cacheStatus := "disabled"
	if s.deps.Cache != nil {
		cacheStatus = "healthy"
		if !s.deps.Cache.IsHealthy() {
			cacheStatus = "degraded"
		}
	}

	vaultStatus := "disabled"
	if s.deps.Vault != nil {
		vaultStatus = "healthy"
		if err := s.deps.Vault.Health(ctx); err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Vault health check failed")
			vaultStatus = "unhealthy"
		}
	}

	body := gin.H{
		"status":            "healthy",
		"database":          dbStatus,
		"cache":             cacheStatus,
		"vault":             vaultStatus,
		"websocket_clients": s.hub.GetClientCount(),
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
	}
	if dbStatus != "healthy" {
		body["status"] = "unhealthy"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// handleGetSignals lists persisted signals
// GET /api/signals?exchange=&sentiment=&limit=
func (s *Server) handleGetSignals(c *gin.Context) {
	var params SignalQuery
	if errs := bindAndValidate(c.Request.Context(), c.ShouldBindQuery, &params); errs != nil {
		validationResponse(c, errs)
		return
	}
	data, err := s.listSignals(c, &params)
	if err != nil {
		s.failure(c, err)
		return
	}
	successResponse(c, data)
}

// handleLastScan returns the most recent scan summary
func (s *Server) handleLastScan(c *gin.Context) {
	summary := s.deps.Scanner.LastSummary()
	if summary == nil {
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", "no scan has run yet")
		return
	}
	successResponse(c, summary)
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	body := gin.H{
		"success": false,
		"error":   code,
		"message": message,
	}
	if traceID := logging.TraceIDFromContext(c.Request.Context()); traceID != "" {
		body["trace_id"] = traceID
	}
	c.JSON(statusCode, body)
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// unavailableResponse reports exhausted provider capacity. It is not an error.
func unavailableResponse(c *gin.Context, nextAvailableAt *time.Time, extra gin.H) {
	body := gin.H{
		"success":           false,
		"unavailable":       true,
		"next_available_at": nextAvailableAt,
		"message":           "all inference providers are at capacity",
	}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}
