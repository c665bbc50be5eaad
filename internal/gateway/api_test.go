// ABOUTME: Tests for the admin HTTP API
// ABOUTME: Covers ledger windows, status transitions, JWT protection and ISPCube customer lookups

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facmartoni/jarvisp-prod/internal/auth"
	"github.com/facmartoni/jarvisp-prod/internal/config"
	"github.com/facmartoni/jarvisp-prod/internal/integration/ispcube"
	"github.com/facmartoni/jarvisp-prod/internal/store"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func (e *testEnv) get(t *testing.T, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postStatus(t *testing.T, conversationID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/"+conversationID+"/status", strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.gw.Handler().ServeHTTP(rec, req)
	return rec
}

func seedConversation(t *testing.T, env *testEnv, messages ...string) *store.Conversation {
	t.Helper()
	for i, text := range messages {
		body := textPayload(testChannelID, testSender, "wamid.seed"+string(rune('A'+i)), text)
		require.Equal(t, http.StatusOK, env.postWebhook(t, body, true).Code)
	}
	return env.activeConversation(t)
}

func TestAPI_ConversationMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := seedConversation(t, env, "uno", "dos")

	rec := env.get(t, "/api/conversations/"+conv.ID+"/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, conv.ID, resp.ConversationID)
	assert.Equal(t, 4, resp.TotalMessages)
	assert.Equal(t, "+"+testSender, resp.Customer.Phone)
	assert.Equal(t, "Juana", resp.Customer.Name)
	require.Len(t, resp.Messages, 4)
	assert.Equal(t, "uno", resp.Messages[0].Content)
	assert.Equal(t, 1, resp.Messages[0].Seq)
	assert.Equal(t, "assistant", resp.Messages[3].Role)

	rec = env.get(t, "/api/conversations/"+conv.ID+"/messages?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)
	assert.Equal(t, 4, resp.Messages[0].Seq)
}

func TestAPI_ConversationMessagesErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := seedConversation(t, env, "hola")

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/conversations/does-not-exist/messages", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/conversations/"+conv.ID+"/messages?limit=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/conversations/"+conv.ID+"/messages?limit=abc", "").Code)
}

func TestAPI_ConversationStatus(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := seedConversation(t, env, "hola")

	rec := env.postStatus(t, conv.ID, `{"status":"bot_active"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "bot_active", resp.Status)
	assert.True(t, resp.IsActive)

	rec = env.postStatus(t, conv.ID, `{"status":"archived"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, http.StatusBadRequest, env.postStatus(t, conv.ID, `{"status":"sleeping"}`).Code)
	assert.Equal(t, http.StatusBadRequest, env.postStatus(t, conv.ID, `not json`).Code)
	assert.Equal(t, http.StatusNotFound, env.postStatus(t, "missing", `{"status":"bot_active"}`).Code)
}

func TestAPI_ClosingConversationStartsNewOne(t *testing.T) {
	env := newTestEnv(t, nil)
	conv := seedConversation(t, env, "hola")

	for _, status := range []string{"bot_active", "escalated", "transferred", "agent_active", "resolved", "closed"} {
		require.Equal(t, http.StatusOK, env.postStatus(t, conv.ID, `{"status":"`+status+`"}`).Code, status)
	}

	next := env.activeConversation(t)
	assert.NotEqual(t, conv.ID, next.ID)
	assert.Equal(t, store.StatusNew, next.Status)
}

func TestAPI_RequiresJWTWhenConfigured(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.Auth.JWTSecret = testJWTSecret })
	conv := seedConversation(t, env, "hola")
	path := "/api/conversations/" + conv.ID + "/messages"

	rec := env.get(t, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	verifier, err := auth.NewJWTVerifier([]byte(testJWTSecret))
	require.NoError(t, err)
	token, err := verifier.Generate("operador", time.Hour)
	require.NoError(t, err)

	rec = env.get(t, path, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	// health and webhook stay public
	assert.Equal(t, http.StatusOK, env.get(t, "/health", "").Code)
}

// fakeISPCube serves the token and customers endpoints. The first customers
// call after a login can be made to fail with 401.
type fakeISPCube struct {
	mu          sync.Mutex
	logins      int
	expireNext  bool
	lastAuth    string
	lastDocNum  string
	customerErr int
}

func (f *fakeISPCube) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sanctum/token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		n := f.logins
		f.mu.Unlock()
		w.Write([]byte(`{"token":"tok-` + string(rune('0'+n)) + `"}`))
	})
	mux.HandleFunc("GET /api/customers/customers_list", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuth = r.Header.Get("Authorization")
		f.lastDocNum = r.URL.Query().Get("doc_number")
		expire := f.expireNext
		f.expireNext = false
		status := f.customerErr
		f.mu.Unlock()

		if expire {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(`[{"id": 77, "name": "Juana Pérez", "doc_number": "30111222", "email": "juana@example.com", "plan": "100MB"}]`))
	})
	return mux
}

func newISPCubeEnv(t *testing.T) (*testEnv, *fakeISPCube) {
	t.Helper()
	env := newTestEnv(t, nil)
	fake := &fakeISPCube{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	require.NoError(t, env.store.CreateIntegrationCredential(context.Background(), &store.IntegrationCredential{
		CompanyID: env.company.ID,
		Kind:      store.CredentialKindISPCube,
		Subdomain: "fibranorte",
		BaseURL:   srv.URL,
		Username:  "api-user",
		Password:  "secret",
		APIKey:    "key",
		ClientID:  "12",
		IsActive:  true,
	}))
	env.gw.ispcube = ispcube.NewPool(env.store, time.Second, nil, testLogger())
	return env, fake
}

func TestAPI_ISPCubeCustomers(t *testing.T) {
	env, fake := newISPCubeEnv(t)

	rec := env.get(t, "/api/companies/"+env.company.ID+"/ispcube/customers?doc_number=30111222", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp CustomersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Customers, 1)
	assert.Equal(t, "77", resp.Customers[0].ID)
	assert.Equal(t, "Juana Pérez", resp.Customers[0].Name)
	assert.Equal(t, "30111222", resp.Customers[0].DocNumber)
	assert.Contains(t, string(resp.Customers[0].Raw), `"plan"`)

	assert.Equal(t, "Bearer tok-1", fake.lastAuth)
	assert.Equal(t, "30111222", fake.lastDocNum)

	creds, err := env.store.ListActiveCredentials(context.Background(), env.company.ID, store.CredentialKindISPCube)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", creds[0].APIToken, "fresh token is persisted")
}

func TestAPI_ISPCubeCustomersReauthenticatesOnce(t *testing.T) {
	env, fake := newISPCubeEnv(t)
	path := "/api/companies/" + env.company.ID + "/ispcube/customers"

	require.Equal(t, http.StatusOK, env.get(t, path, "").Code)

	fake.mu.Lock()
	fake.expireNext = true
	fake.mu.Unlock()

	rec := env.get(t, path, "")
	require.Equal(t, http.StatusOK, rec.Code)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.logins)
	assert.Equal(t, "Bearer tok-2", fake.lastAuth)
}

func TestAPI_ISPCubeCustomersErrors(t *testing.T) {
	env, fake := newISPCubeEnv(t)

	rec := env.get(t, "/api/companies/other-company/ispcube/customers", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/companies/"+env.company.ID+"/ispcube/customers?subdomain=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.get(t, "/api/companies/"+env.company.ID+"/ispcube/customers?offset=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fake.mu.Lock()
	fake.customerErr = http.StatusInternalServerError
	fake.mu.Unlock()
	rec = env.get(t, "/api/companies/"+env.company.ID+"/ispcube/customers", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPI_ISPCubeNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get(t, "/api/companies/"+env.company.ID+"/ispcube/customers", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
