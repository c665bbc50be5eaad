// ABOUTME: Gateway orchestrator that owns the HTTP server and its collaborators
// ABOUTME: Wires webhook, admin API, health and metrics routes and manages the lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/auth"
	"github.com/facmartoni/jarvisp-prod/internal/config"
	"github.com/facmartoni/jarvisp-prod/internal/conversation"
	"github.com/facmartoni/jarvisp-prod/internal/dedupe"
	"github.com/facmartoni/jarvisp-prod/internal/integration/ispcube"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
	"github.com/facmartoni/jarvisp-prod/internal/reply"
)

// Gateway serves the channel webhook and the admin API.
type Gateway struct {
	config     *config.Config
	store      Store
	dedupe     dedupe.Deduper
	pipeline   *Pipeline
	ledger     *conversation.Ledger
	lifecycle  *conversation.Lifecycle
	ispcube    *ispcube.Pool
	metrics    *metrics.Metrics
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Gateway with production collaborators built from cfg.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	deps, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	gw, err := NewWithDependencies(cfg, deps, logger)
	if err != nil {
		_ = deps.Dedupe.Close()
		_ = deps.Store.Close()
		return nil, err
	}
	return gw, nil
}

// NewWithDependencies creates a Gateway from already built collaborators.
// The Gateway takes ownership of the store and the deduper.
func NewWithDependencies(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Generator == nil || deps.Sender == nil {
		return nil, errors.New("gateway: store, generator and sender are required")
	}
	if deps.Dedupe == nil {
		deps.Dedupe = dedupe.NewMemory(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)
	}

	orchestrator := reply.NewOrchestrator(deps.Store, deps.Generator, cfg.Generation.HistoryLimit, deps.Metrics, logger)

	gw := &Gateway{
		config: cfg,
		store:  deps.Store,
		dedupe: deps.Dedupe,
		pipeline: NewPipeline(PipelineConfig{
			Store:           deps.Store,
			Dedupe:          deps.Dedupe,
			Orchestrator:    orchestrator,
			Sender:          deps.Sender,
			EventTimeout:    cfg.Pipeline.EventTimeout,
			ActivateOnReply: cfg.Pipeline.ActivateOnReply,
			Metrics:         deps.Metrics,
			Logger:          logger,
		}),
		ledger:    conversation.NewLedger(deps.Store, logger),
		lifecycle: conversation.NewLifecycle(deps.Store, logger),
		ispcube:   deps.ISPCube,
		metrics:   deps.Metrics,
		logger:    logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)

	// Channel webhook - authenticated by verify token and payload signature
	mux.HandleFunc("GET /webhooks/whatsapp", gw.handleWebhookVerify)
	mux.HandleFunc("POST /webhooks/whatsapp", gw.handleWebhookEvent)
	if cfg.WhatsApp.AppSecret == "" {
		gw.logger.Warn("webhook signature check disabled - no whatsapp.app_secret configured")
	}

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		mux.Handle("GET "+cfg.Metrics.Path, deps.Metrics.Handler())
		gw.logger.Info("metrics endpoint enabled", "path", cfg.Metrics.Path)
	}

	if err := gw.registerHTTPAPIRoutes(mux, cfg); err != nil {
		return nil, err
	}

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	return gw, nil
}

// registerHTTPAPIRoutes registers API routes on the mux with or without auth middleware.
func (g *Gateway) registerHTTPAPIRoutes(mux *http.ServeMux, cfg *config.Config) error {
	routes := map[string]http.HandlerFunc{
		"GET /api/conversations/{id}/messages":      g.handleConversationMessages,
		"POST /api/conversations/{id}/status":       g.handleConversationStatus,
		"GET /api/companies/{id}/ispcube/customers": g.handleISPCubeCustomers,
	}

	if cfg.Auth.JWTSecret == "" {
		for pattern, h := range routes {
			mux.HandleFunc(pattern, h)
		}
		g.logger.Warn("HTTP auth disabled - no jwt_secret configured")
		return nil
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating HTTP JWT verifier: %w", err)
	}
	authMiddleware := auth.HTTPAuthMiddleware(verifier, g.logger)
	for pattern, h := range routes {
		mux.Handle(pattern, authMiddleware(h))
	}
	g.logger.Info("HTTP auth middleware enabled")
	return nil
}

// Handler returns the HTTP handler serving all gateway routes.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server and releases the store and deduper.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	errs = appendCloseError(errs, "dedupe close", g.dedupe.Close())
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
