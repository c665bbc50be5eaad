// ABOUTME: ISPCube business-system client built on the shared integration session
// ABOUTME: Handles Sanctum login, ISPCube auth headers and the customers list endpoint

package ispcube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/integration"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
)

const (
	// Name labels this integration in errors, logs and metrics.
	Name = "ispcube"

	// TokenValidity is how long an ISPCube token is trusted after login.
	TokenValidity = 24 * time.Hour

	DefaultTimeout  = 30 * time.Second
	DefaultPageSize = 25
	MaxPageSize     = 100

	loginPath     = "/api/sanctum/token"
	customersPath = "/api/customers/customers_list"
)

// Config holds the per-ISP credentials issued by ISPCube staff.
type Config struct {
	Subdomain string
	BaseURL   string
	Username  string
	Password  string
	APIKey    string
	// ClientID is the ISP's company id on the ISPCube side.
	ClientID string
}

func (cfg Config) normalized() Config {
	if cfg.BaseURL == "" && cfg.Subdomain != "" {
		cfg.BaseURL = "https://" + cfg.Subdomain + ".ispcube.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg
}

// Options tunes the HTTP behavior of a Client.
type Options struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	Clock      func() time.Time
	Cache      *integration.TokenCache
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Client talks to one ISPCube tenant.
type Client struct {
	*integration.Session

	cfg     Config
	http    *http.Client
	timeout time.Duration
	clock   func() time.Time
	logger  *slog.Logger
}

// New creates a Client. An empty BaseURL defaults to https://{subdomain}.ispcube.com.
func New(cfg Config, opts Options) *Client {
	cfg = cfg.normalized()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	c := &Client{
		cfg:     cfg,
		http:    httpClient,
		timeout: timeout,
		clock:   clock,
		logger:  logger.With("component", "ispcube", "subdomain", cfg.Subdomain),
	}
	cache := opts.Cache
	if cache == nil {
		cache = integration.NewTokenCache(clock, nil)
	}
	c.Session = integration.NewSession(integration.SessionConfig{
		Name:          Name,
		BaseURL:       cfg.BaseURL,
		HTTPClient:    httpClient,
		Timeout:       timeout,
		Authenticator: c,
		Decorator:     c.decorate,
		Cache:         cache,
		Metrics:       opts.Metrics,
		Logger:        logger,
	})
	return c
}

// Subdomain returns the tenant subdomain.
func (c *Client) Subdomain() string { return c.cfg.Subdomain }

func (c *Client) setBaseHeaders(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("api-key", c.cfg.APIKey)
	h.Set("client-id", c.cfg.ClientID)
	h.Set("login-type", "api")
}

func (c *Client) decorate(req *http.Request, token string) {
	c.setBaseHeaders(req.Header)
	req.Header.Set("username", c.cfg.Username)
	req.Header.Set("Authorization", "Bearer "+token)
}

// Login exchanges username and password for a Sanctum token.
func (c *Client) Login(ctx context.Context) (integration.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return integration.Token{}, fmt.Errorf("encoding login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return integration.Token{}, fmt.Errorf("building login request: %w", err)
	}
	c.setBaseHeaders(req.Header)

	c.logger.Info("authenticating with ISPCube")
	resp, err := c.http.Do(req)
	if err != nil {
		return integration.Token{}, &integration.NetworkError{Client: Name, Op: "login", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, integration.MaxTokenLength*4))
	if err != nil {
		return integration.Token{}, &integration.NetworkError{Client: Name, Op: "reading login response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return integration.Token{}, &integration.AuthenticationError{Client: Name, Reason: "check credentials and API key"}
	case resp.StatusCode != http.StatusOK:
		return integration.Token{}, &integration.APIError{Client: Name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	token, err := integration.ParseToken(Name, body)
	if err != nil {
		return integration.Token{}, err
	}
	return integration.Token{Value: token, ExpiresAt: c.clock().Add(TokenValidity)}, nil
}

// TestConnection reports whether a fresh login succeeds.
func (c *Client) TestConnection(ctx context.Context) bool {
	if err := c.Authenticate(ctx); err != nil {
		c.logger.Error("connection test failed", "error", err)
		return false
	}
	return true
}

// CustomerQuery filters a customers list request.
type CustomerQuery struct {
	DocNumber string
	Limit     int
	Offset    int
	Deleted   bool
	Temporary bool
}

// Customer is an ISPCube customer record. Fields not modeled here are kept in Raw.
type Customer struct {
	ID        flexString      `json:"id"`
	Name      string          `json:"name"`
	DocNumber flexString      `json:"doc_number"`
	Email     string          `json:"email"`
	Phone     string          `json:"phone"`
	Status    string          `json:"status"`
	Raw       json.RawMessage `json:"-"`
}

// ListCustomers fetches one page of customers. Limit defaults to 25 and is
// capped at 100.
func (c *Client) ListCustomers(ctx context.Context, q CustomerQuery) ([]Customer, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	params := map[string][]string{
		"limit":  {strconv.Itoa(limit)},
		"offset": {strconv.Itoa(offset)},
	}
	if q.DocNumber != "" {
		params["doc_number"] = []string{q.DocNumber}
	}
	if q.Deleted {
		params["deleted"] = []string{"true"}
	}
	if q.Temporary {
		params["temporary"] = []string{"true"}
	}

	resp, err := c.Call(ctx, &integration.Request{Method: http.MethodGet, Path: customersPath, Query: params})
	if err != nil {
		return nil, err
	}

	var raws []json.RawMessage
	if err := resp.DecodeJSON(&raws); err != nil {
		return nil, fmt.Errorf("ispcube customers: %w", err)
	}
	customers := make([]Customer, 0, len(raws))
	for _, raw := range raws {
		var cust Customer
		if err := json.Unmarshal(raw, &cust); err != nil {
			return nil, fmt.Errorf("ispcube customers: decoding customer: %w", err)
		}
		cust.Raw = raw
		customers = append(customers, cust)
	}

	c.logger.Info("retrieved customers", "count", len(customers))
	return customers, nil
}

// flexString accepts either a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string { return string(f) }
