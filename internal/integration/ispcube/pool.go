// ABOUTME: Per-credential ISPCube client pool backed by stored integration credentials
// ABOUTME: Seeds token caches from storage and writes refreshed tokens back

package ispcube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/integration"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
	"github.com/facmartoni/jarvisp-prod/internal/store"
)

var (
	// ErrNoCredential is returned when a company has no active ISPCube credential.
	ErrNoCredential = errors.New("no active ispcube integration")

	// ErrAmbiguousCredential is returned when a company has several active
	// credentials and no subdomain was given.
	ErrAmbiguousCredential = errors.New("multiple ispcube integrations, specify subdomain")
)

// CredentialStore is the subset of the store the pool needs.
type CredentialStore interface {
	ListActiveCredentials(ctx context.Context, companyID, kind string) ([]*store.IntegrationCredential, error)
	SaveCredentialToken(ctx context.Context, id, token string, expiresAt time.Time) error
}

// Pool hands out one Client per credential so every caller shares that
// credential's token cache. A client is rebuilt when the stored login
// material of its credential changes.
type Pool struct {
	store      CredentialStore
	httpClient *http.Client
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time

	mu      sync.Mutex
	clients map[string]*Client
}

func credentialConfig(cred *store.IntegrationCredential) Config {
	return Config{
		Subdomain: cred.Subdomain,
		BaseURL:   cred.BaseURL,
		Username:  cred.Username,
		Password:  cred.Password,
		APIKey:    cred.APIKey,
		ClientID:  cred.ClientID,
	}
}

// NewPool creates a Pool.
func NewPool(s CredentialStore, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Pool{
		store:      s,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
		clock:      time.Now,
		clients:    make(map[string]*Client),
	}
}

// ForCompany returns the client for the company's active ISPCube credential.
// When the company has several, subdomain selects one.
func (p *Pool) ForCompany(ctx context.Context, companyID, subdomain string) (*Client, error) {
	creds, err := p.store.ListActiveCredentials(ctx, companyID, store.CredentialKindISPCube)
	if err != nil {
		return nil, fmt.Errorf("listing ispcube credentials: %w", err)
	}

	if subdomain != "" {
		filtered := creds[:0:0]
		for _, c := range creds {
			if c.Subdomain == subdomain {
				filtered = append(filtered, c)
			}
		}
		creds = filtered
	}

	switch {
	case len(creds) == 0:
		return nil, fmt.Errorf("%w for company %s", ErrNoCredential, companyID)
	case len(creds) > 1:
		return nil, fmt.Errorf("%w (company %s has %d)", ErrAmbiguousCredential, companyID, len(creds))
	}
	return p.clientFor(creds[0]), nil
}

func (p *Pool) clientFor(cred *store.IntegrationCredential) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg := credentialConfig(cred)
	seed := cred.APIToken != "" && cred.TokenExpiresAt != nil
	if c, ok := p.clients[cred.ID]; ok {
		if c.cfg == cfg.normalized() {
			return c
		}
		// the stored token was issued for the old login material
		p.logger.Info("ispcube credential changed, rebuilding client", "credential_id", cred.ID)
		seed = false
	}

	credID := cred.ID
	cache := integration.NewTokenCache(p.clock, func(ctx context.Context, tok integration.Token) error {
		if err := p.store.SaveCredentialToken(ctx, credID, tok.Value, tok.ExpiresAt); err != nil {
			p.logger.Warn("failed to persist ispcube token", "credential_id", credID, "error", err)
			return err
		}
		return nil
	})
	if seed {
		cache.Set(integration.Token{Value: cred.APIToken, ExpiresAt: *cred.TokenExpiresAt})
	}

	c := New(cfg, Options{
		HTTPClient: p.httpClient,
		Timeout:    p.timeout,
		Clock:      p.clock,
		Cache:      cache,
		Metrics:    p.metrics,
		Logger:     p.logger,
	})
	p.clients[cred.ID] = c
	return c
}
