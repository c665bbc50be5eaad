// ABOUTME: Gemini generateContent client on top of the shared integration session
// ABOUTME: Authenticates with an API key or OAuth2 client credentials

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/facmartoni/jarvisp-prod/internal/integration"
	"github.com/facmartoni/jarvisp-prod/internal/metrics"
)

const (
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-2.0-flash-lite"

	// defaultKeyValidity is how long an API key is treated as a fresh token
	// before it is re-read from configuration.
	defaultKeyValidity = time.Hour
)

// OAuthConfig configures the OAuth2 client-credentials grant.
type OAuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// GeminiConfig configures a GeminiClient. Exactly one of APIKey or OAuth is used;
// OAuth wins when both are set.
type GeminiConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	Timeout       time.Duration
	TokenValidity time.Duration
	OAuth         *OAuthConfig
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// GeminiClient generates replies with the Gemini REST API.
type GeminiClient struct {
	session *integration.Session
	model   string
	logger  *slog.Logger
}

var _ Generator = (*GeminiClient)(nil)

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.OAuth == nil && cfg.APIKey == "" {
		return nil, errors.New("gemini: api_key or oauth is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TokenValidity <= 0 {
		cfg.TokenValidity = defaultKeyValidity
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	var (
		auth     integration.Authenticator
		decorate integration.Decorator
	)
	if cfg.OAuth != nil {
		auth = oauthAuthenticator(cfg.OAuth, httpClient, cfg.Timeout, cfg.TokenValidity)
		decorate = integration.BearerDecorator
	} else {
		key, validity := cfg.APIKey, cfg.TokenValidity
		auth = integration.AuthenticatorFunc(func(ctx context.Context) (integration.Token, error) {
			return integration.Token{Value: key, ExpiresAt: time.Now().Add(validity)}, nil
		})
		decorate = func(req *http.Request, token string) {
			req.Header.Set("x-goog-api-key", token)
		}
	}

	return &GeminiClient{
		session: integration.NewSession(integration.SessionConfig{
			Name:          ProviderGemini,
			BaseURL:       cfg.BaseURL,
			HTTPClient:    httpClient,
			Timeout:       cfg.Timeout,
			Authenticator: auth,
			Decorator:     decorate,
			Metrics:       cfg.Metrics,
			Logger:        logger,
		}),
		model:  cfg.Model,
		logger: logger.With("component", "gemini"),
	}, nil
}

// oauthAuthenticator fetches client-credentials tokens. Each token request is
// bounded by timeout whatever the caller's deadline.
func oauthAuthenticator(cfg *OAuthConfig, httpClient *http.Client, timeout, fallbackValidity time.Duration) integration.Authenticator {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return integration.AuthenticatorFunc(func(ctx context.Context) (integration.Token, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		tok, err := cc.Token(ctx)
		if err != nil {
			return integration.Token{}, &integration.AuthenticationError{Client: ProviderGemini, Reason: "oauth token request failed", Err: err}
		}
		if tok.AccessToken == "" {
			return integration.Token{}, &integration.AuthenticationError{Client: ProviderGemini, Reason: "oauth response has no access token"}
		}
		expiry := tok.Expiry
		if expiry.IsZero() {
			expiry = time.Now().Add(fallbackValidity)
		}
		return integration.Token{Value: tok.AccessToken, ExpiresAt: expiry}, nil
	})
}

// Provider returns "gemini".
func (c *GeminiClient) Provider() string { return ProviderGemini }

// Client exposes the underlying authenticated session.
func (c *GeminiClient) Client() integration.Client { return c.session }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Generate calls models/{model}:generateContent. A rejected token triggers one
// re-authentication and retry.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Result, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body := geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			MaxOutputTokens: req.MaxOutputTokens,
			Temperature:     req.Temperature,
		},
	}
	for _, turn := range req.Transcript {
		body.Contents = append(body.Contents, geminiContent{
			Role:  string(turn.Role),
			Parts: []geminiPart{{Text: turn.Text}},
		})
	}
	if req.SystemInstruction != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemInstruction}}}
	}

	call := &integration.Request{
		Method: http.MethodPost,
		Path:   "/v1beta/models/" + url.PathEscape(model) + ":generateContent",
		Body:   body,
	}
	resp, err := integration.CallWithReauth(ctx, c.session, func(ctx context.Context) (*integration.Response, error) {
		return c.session.Call(ctx, call)
	})
	if err != nil {
		return nil, wrap(ProviderGemini, describeGoogleError(err))
	}

	var out geminiResponse
	if err := resp.DecodeJSON(&out); err != nil {
		return nil, wrap(ProviderGemini, err)
	}
	if len(out.Candidates) == 0 {
		return nil, wrap(ProviderGemini, ErrEmptyResponse)
	}

	var text strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, wrap(ProviderGemini, fmt.Errorf("%w (finish reason %q)", ErrEmptyResponse, out.Candidates[0].FinishReason))
	}

	c.logger.Debug("generated reply", "model", model, "tokens", out.UsageMetadata.TotalTokenCount)
	return &Result{Text: text.String(), TokensUsed: out.UsageMetadata.TotalTokenCount}, nil
}

// describeGoogleError adds the status and message of a Google error body to an APIError.
func describeGoogleError(err error) error {
	var apiErr *integration.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(apiErr.Body), &body) != nil || body.Error.Message == "" {
		return err
	}
	return fmt.Errorf("%s: %s: %w", body.Error.Status, body.Error.Message, err)
}
