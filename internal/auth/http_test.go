// ABOUTME: Tests for the HTTP JWT authentication middleware
// ABOUTME: Checks 401 responses, failure log reasons and the propagated subject

package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// httpTestLogHandler records log records for assertions.
type httpTestLogHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *httpTestLogHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *httpTestLogHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}

func (h *httpTestLogHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *httpTestLogHandler) WithGroup(string) slog.Handler      { return h }

func (h *httpTestLogHandler) hasRecordWithReason(msg, reason string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message != msg {
			continue
		}
		found := false
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "reason" && a.Value.String() == reason {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func newProtectedHandler(t *testing.T) (http.Handler, *JWTVerifier, *httpTestLogHandler) {
	t.Helper()
	v := newTestVerifier(t)
	logs := &httpTestLogHandler{}

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := FromContext(r.Context())
		if ac == nil {
			http.Error(w, "no auth context", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(ac.Subject))
	})
	return HTTPAuthMiddleware(v, slog.New(logs))(inner), v, logs
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	h, v, _ := newProtectedHandler(t)
	token, err := v.Generate("operador", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operador", rec.Body.String())
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	h, v, logs := newProtectedHandler(t)
	expired, err := v.Generate("operador", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantReason string
		wantBody   string
	}{
		{name: "missing header", header: "", wantReason: "token_extraction_failed", wantBody: "missing authorization header"},
		{name: "basic scheme", header: "Basic Zm9vOmJhcg==", wantReason: "token_extraction_failed", wantBody: "invalid authorization header format"},
		{name: "empty bearer", header: "Bearer   ", wantReason: "token_extraction_failed", wantBody: "empty token"},
		{name: "garbage token", header: "Bearer nope", wantReason: "invalid_token", wantBody: "invalid token"},
		{name: "expired token", header: "Bearer " + expired, wantReason: "token_expired", wantBody: "token expired"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/conversations/1", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantBody)
			assert.True(t, logs.hasRecordWithReason("http auth failure", tt.wantReason))
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	token, msg := extractBearerToken("Bearer abc")
	assert.Equal(t, "abc", token)
	assert.Empty(t, msg)

	_, msg = extractBearerToken("bearer abc")
	assert.NotEmpty(t, msg)
}

func TestFromContext_Unauthenticated(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithAuth(context.Background(), &AuthContext{Subject: "ops"})
	require.NotNil(t, FromContext(ctx))
	assert.Equal(t, "ops", FromContext(ctx).Subject)
}
