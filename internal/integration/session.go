// ABOUTME: Shared authenticated HTTP session for external integrations
// ABOUTME: Variants plug in a login step and per-request header decoration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/facmartoni/jarvisp-prod/internal/metrics"
)

// maxResponseBytes bounds how much of an upstream body is read.
const maxResponseBytes = 8 << 20

// Client is the capability every authenticated external integration offers.
type Client interface {
	Authenticate(ctx context.Context) error
	IsAuthenticated() bool
	EnsureAuthenticated(ctx context.Context) error
	Call(ctx context.Context, req *Request) (*Response, error)
}

// Authenticator performs a variant's login step.
type Authenticator interface {
	Login(ctx context.Context) (Token, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context) (Token, error)

func (f AuthenticatorFunc) Login(ctx context.Context) (Token, error) { return f(ctx) }

// Decorator sets variant-specific headers on an outgoing request.
type Decorator func(req *http.Request, token string)

// Request describes one authenticated call. Body, when non-nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   any
}

// Response is a successful upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// SessionConfig configures a Session.
type SessionConfig struct {
	// Name identifies the integration in errors, logs and metrics.
	Name          string
	BaseURL       string
	HTTPClient    *http.Client
	Timeout       time.Duration
	Authenticator Authenticator
	Decorator     Decorator
	// Cache may be shared between sessions for the same credential.
	// A fresh cache is created when nil.
	Cache   *TokenCache
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session implements Client on top of an Authenticator and Decorator.
type Session struct {
	name     string
	baseURL  string
	client   *http.Client
	timeout  time.Duration
	auth     Authenticator
	decorate Decorator
	cache    *TokenCache
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var _ Client = (*Session)(nil)

// NewSession creates a Session.
func NewSession(cfg SessionConfig) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewTokenCache(nil, nil)
	}
	if cfg.Timeout > 0 {
		cache.SetLoginTimeout(cfg.Timeout)
	}
	decorate := cfg.Decorator
	if decorate == nil {
		decorate = BearerDecorator
	}
	return &Session{
		name:     cfg.Name,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		client:   client,
		timeout:  cfg.Timeout,
		auth:     cfg.Authenticator,
		decorate: decorate,
		cache:    cache,
		metrics:  cfg.Metrics,
		logger:   logger.With("component", "integration", "client", cfg.Name),
	}
}

// BearerDecorator sets Authorization: Bearer <token>.
func BearerDecorator(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// Name returns the integration name.
func (s *Session) Name() string { return s.name }

// Cache returns the session's token cache.
func (s *Session) Cache() *TokenCache { return s.cache }

// Authenticate logs in unconditionally and caches the resulting token.
func (s *Session) Authenticate(ctx context.Context) error {
	_, err := s.login(ctx)
	return err
}

func (s *Session) login(ctx context.Context) (Token, error) {
	tok, err := s.cache.Refresh(ctx, s.auth.Login)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			err = &NetworkError{Client: s.name, Op: "login", Err: err}
		}
		s.metrics.IntegrationAuth(s.name, metrics.ResultError)
		s.logger.Warn("authentication failed", "error", err)
		return Token{}, err
	}
	s.metrics.IntegrationAuth(s.name, metrics.ResultOK)
	s.logger.Info("authenticated", "expires_at", tok.ExpiresAt)
	return tok, nil
}

// IsAuthenticated reports whether a valid token is cached.
func (s *Session) IsAuthenticated() bool {
	return s.cache.Valid()
}

// EnsureAuthenticated logs in only when no valid token is cached.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	_, err := s.token(ctx)
	return err
}

// token returns the cached token, logging in when there is none. The token
// returned by a login is used directly, so a concurrent Invalidate cannot
// leave the caller with an empty value.
func (s *Session) token(ctx context.Context) (Token, error) {
	if tok, ok := s.cache.Get(); ok {
		return tok, nil
	}
	tok, err := s.login(ctx)
	if err != nil {
		return Token{}, err
	}
	if tok.Value == "" {
		return Token{}, &AuthenticationError{Client: s.name, Reason: "login returned an empty token"}
	}
	return tok, nil
}

// Call performs an authenticated request. The session timeout covers both the
// login, when one is needed, and the request. A 401 invalidates the cached
// token and returns *TokenExpiredError; the call is not retried.
func (s *Session) Call(ctx context.Context, r *Request) (*Response, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tok, err := s.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := s.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	s.decorate(req, tok.Value)

	resp, err := s.client.Do(req)
	if err != nil {
		s.metrics.IntegrationRequest(s.name, metrics.ResultError)
		return nil, &NetworkError{Client: s.name, Op: r.Method + " " + r.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		s.metrics.IntegrationRequest(s.name, metrics.ResultError)
		return nil, &NetworkError{Client: s.name, Op: "reading response", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		s.cache.Invalidate()
		s.metrics.IntegrationRequest(s.name, "unauthorized")
		s.logger.Warn("token rejected, cache invalidated", "path", r.Path)
		return nil, &TokenExpiredError{Client: s.name}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		s.metrics.IntegrationRequest(s.name, metrics.ResultError)
		return nil, &APIError{Client: s.name, StatusCode: resp.StatusCode, Body: string(body)}
	}

	s.metrics.IntegrationRequest(s.name, metrics.ResultOK)
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (s *Session) newRequest(ctx context.Context, r *Request) (*http.Request, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	target := s.baseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
