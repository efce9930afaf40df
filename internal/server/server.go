// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/securewatch/securewatch/internal/alerts"
	"github.com/securewatch/securewatch/internal/circuitbreaker"
	"github.com/securewatch/securewatch/internal/config"
	"github.com/securewatch/securewatch/internal/decision"
	"github.com/securewatch/securewatch/internal/health"
	"github.com/securewatch/securewatch/internal/idgen"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/logging"
	"github.com/securewatch/securewatch/internal/metrics"
	"github.com/securewatch/securewatch/internal/notify"
	"github.com/securewatch/securewatch/internal/ratelimit"
	"github.com/securewatch/securewatch/internal/realtime"
	"github.com/securewatch/securewatch/internal/report"
	"github.com/securewatch/securewatch/internal/risk"
	"github.com/securewatch/securewatch/internal/security"
	"github.com/securewatch/securewatch/internal/signals"
	"github.com/securewatch/securewatch/internal/validation"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	db            *sql.DB // nil without DATABASE_URL
	policies      *risk.PolicyStore
	policyWatcher *risk.PolicyWatcher
	provider      signals.Provider // raw provider, before Guard
	ledger        *incidents.Ledger
	realtimeHub   *realtime.Hub
	queue         *alerts.Queue
	breaker       *circuitbreaker.Breaker
	decisions     *decision.Service
	health        *health.Registry
	rateLimiter   *ratelimit.Limiter
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	drainDelay    time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithProvider replaces the configured signal provider (for testing)
func WithProvider(p signals.Provider) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithDrainDelay sets how long Shutdown waits before closing the listener.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	// Network scores: Postgres if DATABASE_URL is set, else the CSV file, else empty.
	var networkScores signals.NetworkScoreStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		pg := signals.NewPostgresStore(db)
		networkScores = pg
		s.health.Register("database", health.Ping("database", pg.Ping))
		s.logger.Info("using PostgreSQL network scores", "url", maskDSN(cfg.DatabaseURL))
	} else if cfg.NetworkScoresFile != "" {
		mem, err := signals.LoadNetworkScoresFile(cfg.NetworkScoresFile)
		if err != nil {
			return nil, err
		}
		networkScores = mem
		s.logger.Info("loaded network scores", "file", cfg.NetworkScoresFile, "identities", mem.Len())
	}

	// Fusion policy
	policy := risk.DefaultPolicy()
	if cfg.PolicyFile != "" {
		p, err := risk.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return nil, err
		}
		policy = p
		s.logger.Info("loaded fusion policy", "file", cfg.PolicyFile)
	}
	s.policies = risk.NewPolicyStore(policy)
	if cfg.PolicyFile != "" {
		s.policyWatcher = risk.NewPolicyWatcher(cfg.PolicyFile, s.policies, s.logger, func(err error) {
			metrics.PolicyReloadsTotal.WithLabelValues(metrics.ReloadResult(err)).Inc()
		})
	}

	// Signal provider
	if s.provider == nil {
		if cfg.SignalProviderURL != "" {
			s.provider = signals.NewHTTPProvider(cfg.SignalProviderURL, s.logger)
			s.logger.Info("using remote signal provider", "url", cfg.SignalProviderURL)
		} else {
			s.provider = signals.NewLocalProvider(networkScores)
			s.logger.Info("using local signal heuristics")
		}
	}
	guarded := signals.Guard(s.provider, cfg.SignalTimeout)
	if hp, ok := s.provider.(*signals.HTTPProvider); ok {
		s.health.Register("signals", func(context.Context) health.Status {
			state := hp.BreakerState()
			return health.Status{Name: "signals", Healthy: state != "open", Detail: "circuit " + state}
		})
	}

	// Alerting
	s.realtimeHub = realtime.NewHub(s.logger, realtime.WithAllowedOrigins(cfg.AllowedOrigins))
	s.queue = alerts.NewQueue(cfg.NotifyWorkers, cfg.NotifyQueueSize, alerts.DefaultJobTimeout, s.logger)
	s.breaker = circuitbreaker.New(5, 30*time.Second)

	var mailer notify.Mailer = notify.NewLogNotifier(s.logger)
	if cfg.SMTPEnabled() {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, s.breaker)
		s.logger.Info("email alerts enabled", "host", cfg.SMTPHost)
	}

	dispatcherOpts := []alerts.Option{
		alerts.WithThreshold(cfg.NotifyThreshold),
		alerts.WithSafeLoginEmail(cfg.NotifySafeLogins),
	}
	if cfg.AlertWebhookURL != "" {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(context.Background(), cfg.AlertWebhookURL); err != nil {
				return nil, fmt.Errorf("ALERT_WEBHOOK_URL: %w", err)
			}
		}
		dispatcherOpts = append(dispatcherOpts, alerts.WithWebhook(
			notify.NewWebhookSender(cfg.AlertWebhookURL, cfg.AlertWebhookSecret, s.breaker),
		))
		s.logger.Info("webhook alerts enabled")
	}
	dispatcher := alerts.NewDispatcher(s.realtimeHub, s.queue, mailer, s.logger, dispatcherOpts...)

	// Decisions
	s.ledger = incidents.NewLedger(cfg.LedgerCapacity)
	s.decisions = decision.NewService(guarded, risk.NewEngine(s.policies), s.ledger, dispatcher, s.logger)

	s.health.Register("ledger", func(context.Context) health.Status {
		return health.Status{
			Name:    "ledger",
			Healthy: true,
			Detail:  fmt.Sprintf("%d/%d records", s.ledger.Len(), s.ledger.Capacity()),
		}
	})
	s.health.Register("notifications", func(context.Context) health.Status {
		st := health.Status{Name: "notifications", Healthy: true}
		if open := s.breaker.OpenKeys(); len(open) > 0 {
			st.Detail = fmt.Sprintf("%d destination(s) paused", len(open))
		}
		return st
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         max(s.cfg.RateLimitRPM/6, 10),
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = idgen.Request()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", dashboardHandler)

	s.router.GET("/ws/alerts", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})

	handler := decision.NewHandler(s.decisions, report.NewPDFRenderer(), s.cfg.AdminSecret)
	handler.RegisterRoutes(s.router.Group("/security"))
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    []health.Status   `json:"checks"`
	Ledger    map[string]int    `json:"ledger"`
	Queue     map[string]int64  `json:"notification_queue"`
	Policy    map[string]string `json:"policy,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status, httpStatus := "healthy", http.StatusOK
	if !healthy {
		status, httpStatus = "degraded", http.StatusServiceUnavailable
	}

	resp := HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Ledger:    s.decisions.LedgerStats(),
		Queue:     s.queue.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.cfg.PolicyFile != "" {
		resp.Policy = map[string]string{"file": s.cfg.PolicyFile}
	}
	c.JSON(httpStatus, resp)
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers (hub loop, notification workers,
// policy watcher, database stats) without opening a listener.
func (s *Server) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.realtimeHub.Run(runCtx)
	s.queue.Start(runCtx)

	if s.policyWatcher != nil {
		go func() {
			if err := s.policyWatcher.Run(runCtx); err != nil {
				s.logger.Error("policy watcher stopped", "error", err)
			}
		}()
	}
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}
	s.ready.Store(true)
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "version", Version)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var shutdownErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Pending notifications get the remaining shutdown budget.
	if err := s.queue.Close(ctx); err != nil {
		s.logger.Warn("notification queue did not drain", "error", err, "stats", s.queue.Stats())
	}

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.rateLimiter.Stop()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Policies returns the live fusion policy store.
func (s *Server) Policies() *risk.PolicyStore {
	return s.policies
}
