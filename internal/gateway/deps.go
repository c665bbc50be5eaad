// ABOUTME: Builds the gateway's collaborators from configuration
// ABOUTME: Selects the store dialect, dedupe backend and generation provider

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/facmartoni/jarvisp-prod/internal/config"
	"github.com/facmartoni/jarvisp-prod/internal/dedupe"
	"github.com/facmartoni/jarvisp-prod/internal/generation"
	"github.com/facmartoni/jarvisp-prod/internal/integration/ispcube"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
	"github.com/facmartoni/jarvisp-prod/internal/store"
	"github.com/facmartoni/jarvisp-prod/internal/whatsapp"
)

// Dependencies are the collaborators a Gateway is assembled from.
// Tests build them directly; New builds them from config.
type Dependencies struct {
	Store     Store
	Dedupe    dedupe.Deduper
	Generator generation.Generator
	Sender    whatsapp.Sender
	ISPCube   *ispcube.Pool
	Metrics   *metrics.Metrics
}

// OpenStore opens the configured store. JARVISP_DB_PATH overrides the sqlite path.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	var (
		s   *store.SQLStore
		err error
	)
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		s, err = store.NewPostgresStore(ctx, cfg.Database.DSN)
	default:
		dbPath := cfg.Database.Path
		if envPath := os.Getenv("JARVISP_DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		s, err = store.NewSQLiteStore(dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

func initDedupe(ctx context.Context, cfg *config.Config) (dedupe.Deduper, error) {
	if cfg.Dedupe.Backend == config.DedupeRedis {
		d, err := dedupe.NewRedis(ctx, cfg.Dedupe.RedisAddr, cfg.Dedupe.RedisPrefix, cfg.Dedupe.TTL)
		if err != nil {
			return nil, fmt.Errorf("initializing dedupe: %w", err)
		}
		return d, nil
	}
	return dedupe.NewMemory(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize), nil
}

// NewGenerator builds the configured generation backend.
func NewGenerator(cfg config.GenerationConfig, m *metrics.Metrics, logger *slog.Logger) (generation.Generator, error) {
	httpClient := &http.Client{}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err := generation.NewOpenAIClient(generation.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    cfg.Timeout,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderGemini:
		gc := generation.GeminiConfig{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Model:         cfg.Model,
			Timeout:       cfg.Timeout,
			TokenValidity: cfg.TokenValidity,
			HTTPClient:    httpClient,
			Metrics:       m,
			Logger:        logger,
		}
		if cfg.OAuth.ClientID != "" {
			gc.OAuth = &generation.OAuthConfig{
				TokenURL:     cfg.OAuth.TokenURL,
				ClientID:     cfg.OAuth.ClientID,
				ClientSecret: cfg.OAuth.ClientSecret,
				Scopes:       cfg.OAuth.Scopes,
			}
		}
		c, err := generation.NewGeminiClient(gc)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}

// buildDependencies assembles production collaborators. On error, anything
// already opened is closed.
func buildDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Dependencies, error) {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	s, err := OpenStore(ctx, cfg)
	if err != nil {
		return Dependencies{}, err
	}

	d, err := initDedupe(ctx, cfg)
	if err != nil {
		_ = s.Close()
		return Dependencies{}, err
	}

	gen, err := NewGenerator(cfg.Generation, m, logger)
	if err != nil {
		_ = d.Close()
		_ = s.Close()
		return Dependencies{}, fmt.Errorf("initializing generator: %w", err)
	}

	return Dependencies{
		Store:     s,
		Dedupe:    d,
		Generator: gen,
		Sender:    whatsapp.NewCloudSender(cfg.WhatsApp.APIURL, cfg.WhatsApp.AccessToken, cfg.WhatsApp.SendTimeout, logger),
		ISPCube:   ispcube.NewPool(s, cfg.ISPCube.Timeout, m, logger),
		Metrics:   m,
	}, nil
}
