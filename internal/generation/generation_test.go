// ABOUTME: Tests for the Gemini and OpenAI generators
// ABOUTME: Drives both against httptest fakes of their REST APIs

package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facmartoni/jarvisp-prod/internal/integration"
)

var testRequest = Request{
	Transcript: []Turn{
		{Role: RoleUser, Text: "hola"},
		{Role: RoleModel, Text: "¡Hola! ¿En qué te ayudo?"},
		{Role: RoleUser, Text: "no tengo internet"},
	},
	SystemInstruction: "Sos el asistente de Fibra Norte.",
	MaxOutputTokens:   500,
	Temperature:       0.7,
}

func TestGemini_GenerateWithAPIKey(t *testing.T) {
	var got geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-2.0-flash-lite:generateContent", r.URL.Path)
		assert.Equal(t, "k-123", r.Header.Get("x-goog-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{
			"candidates":[{"content":{"role":"model","parts":[{"text":"Revisá "},{"text":"el router."}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":40,"candidatesTokenCount":8,"totalTokenCount":48}
		}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(GeminiConfig{BaseURL: srv.URL, APIKey: "k-123"})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Revisá el router.", res.Text)
	assert.Equal(t, 48, res.TokensUsed)

	require.Len(t, got.Contents, 3)
	assert.Equal(t, "user", got.Contents[0].Role)
	assert.Equal(t, "model", got.Contents[1].Role)
	assert.Equal(t, "no tengo internet", got.Contents[2].Parts[0].Text)
	require.NotNil(t, got.SystemInstruction)
	assert.Equal(t, "Sos el asistente de Fibra Norte.", got.SystemInstruction.Parts[0].Text)
	assert.Equal(t, 500, got.GenerationConfig.MaxOutputTokens)
	assert.InDelta(t, 0.7, got.GenerationConfig.Temperature, 1e-9)
}

func TestGemini_ModelOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-1.5-pro:generateContent", r.URL.Path)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient(GeminiConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	req := testRequest
	req.Model = "gemini-1.5-pro"
	res, err := c.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
}

func TestGemini_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "google error body",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			check: func(t *testing.T, err error) {
				var apiErr *integration.APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
				assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
			},
		},
		{
			name:   "no candidates",
			status: http.StatusOK,
			body:   `{"candidates":[]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyResponse)
			},
		},
		{
			name:   "blank text",
			status: http.StatusOK,
			body:   `{"candidates":[{"content":{"parts":[{"text":"  "}]},"finishReason":"SAFETY"}]}`,
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrEmptyResponse)
				assert.Contains(t, err.Error(), "SAFETY")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewGeminiClient(GeminiConfig{BaseURL: srv.URL, APIKey: "k"})
			require.NoError(t, err)

			_, err = c.Generate(context.Background(), testRequest)
			var genErr *GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, ProviderGemini, genErr.Provider)
			tt.check(t, err)
		})
	}
}

func TestGemini_OAuthClientCredentials(t *testing.T) {
	var tokenRequests atomic.Int32
	var rejectFirst atomic.Bool
	rejectFirst.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		n := tokenRequests.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-" + string(rune('0'+n)),
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("POST /v1beta/models/{model}", func(w http.ResponseWriter, r *http.Request) {
		if rejectFirst.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer access-2", r.Header.Get("Authorization"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"listo"}]}}],"usageMetadata":{"totalTokenCount":9}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := NewGeminiClient(GeminiConfig{
		BaseURL: srv.URL,
		OAuth: &OAuthConfig{
			TokenURL:     srv.URL + "/token",
			ClientID:     "svc",
			ClientSecret: "shh",
			Scopes:       []string{"https://www.googleapis.com/auth/generative-language"},
		},
	})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "listo", res.Text)
	assert.Equal(t, 9, res.TokensUsed)
	assert.Equal(t, int32(2), tokenRequests.Load(), "a rejected token is replaced once")
}

func TestGemini_HungTokenEndpointHonorsTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	c, err := NewGeminiClient(GeminiConfig{
		BaseURL: srv.URL,
		Timeout: 100 * time.Millisecond,
		OAuth:   &OAuthConfig{TokenURL: srv.URL + "/token", ClientID: "svc", ClientSecret: "shh"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err = c.Generate(ctx, testRequest)
	elapsed := time.Since(start)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Less(t, elapsed, 2*time.Second, "token fetch must stop at the configured timeout")
	assert.NoError(t, ctx.Err(), "the caller's deadline must still be live")
}

func TestNewGeminiClient_RequiresCredentials(t *testing.T) {
	_, err := NewGeminiClient(GeminiConfig{})
	assert.Error(t, err)
}

func TestOpenAI_Generate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Reiniciá el módem."},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":30,"completion_tokens":6,"total_tokens":36}
		}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test"})
	require.NoError(t, err)

	res, err := c.Generate(context.Background(), testRequest)
	require.NoError(t, err)
	assert.Equal(t, "Reiniciá el módem.", res.Text)
	assert.Equal(t, 36, res.TokensUsed)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 4)
	roles := make([]string, 0, len(msgs))
	for _, m := range msgs {
		roles = append(roles, m.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"system", "user", "assistant", "user"}, roles)
}

func TestOpenAI_ErrorIsWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL + "/", APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), testRequest)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ProviderOpenAI, genErr.Provider)
}

func TestWrap_DoesNotDoubleWrap(t *testing.T) {
	inner := &GenerationError{Provider: ProviderGemini, Err: errors.New("x")}
	assert.Same(t, inner, wrap(ProviderOpenAI, inner))
	assert.Nil(t, wrap(ProviderOpenAI, nil))
}
