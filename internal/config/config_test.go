// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, env overrides, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
whatsapp:
  access_token: "EAAG-test"
  verify_token: "verify-me"
generation:
  api_key: "gemini-key"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_FullYAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "127.0.0.1:9090"
  write_timeout: "50s"
database:
  driver: postgres
  dsn: "postgres://jarvisp@localhost/jarvisp"
logging:
  level: debug
  format: json
metrics:
  enabled: true
  path: /internal/metrics
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
whatsapp:
  api_url: "https://graph.example.com/v21.0"
  access_token: "EAAG-test"
  verify_token: "verify-me"
  app_secret: "app-secret"
  send_timeout: "5s"
generation:
  provider: gemini
  model: gemini-2.0-flash
  timeout: "15s"
  token_validity: "30m"
  history_limit: 12
  oauth:
    token_url: "https://oauth2.example.com/token"
    client_id: "client"
    client_secret: "secret"
    scopes: ["https://www.googleapis.com/auth/generative-language"]
ispcube:
  timeout: "20s"
dedupe:
  backend: redis
  ttl: "12h"
  max_size: 500
  redis_addr: "localhost:6379"
  redis_prefix: "test:"
pipeline:
  event_timeout: "40s"
  activate_on_reply: true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 50*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://jarvisp@localhost/jarvisp", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/internal/metrics", cfg.Metrics.Path)
	assert.Equal(t, "app-secret", cfg.WhatsApp.AppSecret)
	assert.Equal(t, 5*time.Second, cfg.WhatsApp.SendTimeout)
	assert.Equal(t, "gemini-2.0-flash", cfg.Generation.Model)
	assert.Equal(t, 15*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 30*time.Minute, cfg.Generation.TokenValidity)
	assert.Equal(t, 12, cfg.Generation.HistoryLimit)
	assert.Equal(t, []string{"https://www.googleapis.com/auth/generative-language"}, cfg.Generation.OAuth.Scopes)
	assert.Equal(t, 20*time.Second, cfg.ISPCube.Timeout)
	assert.Equal(t, DedupeRedis, cfg.Dedupe.Backend)
	assert.Equal(t, 12*time.Hour, cfg.Dedupe.TTL)
	assert.Equal(t, 500, cfg.Dedupe.MaxSize)
	assert.Equal(t, 40*time.Second, cfg.Pipeline.EventTimeout)
	assert.True(t, cfg.Pipeline.ActivateOnReply)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gateway.yaml", minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, DefaultWriteTimeout, cfg.Server.WriteTimeout)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, DefaultDatabasePath, cfg.Database.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, DefaultWhatsAppAPIURL, cfg.WhatsApp.APIURL)
	assert.Equal(t, DefaultSendTimeout, cfg.WhatsApp.SendTimeout)
	assert.Equal(t, ProviderGemini, cfg.Generation.Provider)
	assert.Equal(t, DefaultGenTimeout, cfg.Generation.Timeout)
	assert.Equal(t, DefaultHistoryLimit, cfg.Generation.HistoryLimit)
	assert.Equal(t, DefaultISPCubeTimeout, cfg.ISPCube.Timeout)
	assert.Equal(t, DedupeMemory, cfg.Dedupe.Backend)
	assert.Equal(t, DefaultDedupeTTL, cfg.Dedupe.TTL)
	assert.Equal(t, DefaultEventTimeout, cfg.Pipeline.EventTimeout)
	assert.False(t, cfg.Pipeline.ActivateOnReply)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[database]
path = "/var/lib/jarvisp/jarvisp.db"

[whatsapp]
access_token = "EAAG-test"
verify_token = "verify-me"
send_timeout = "8s"

[generation]
provider = "openai"
api_key = "sk-test"
base_url = "http://localhost:11434/v1/"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/jarvisp/jarvisp.db", cfg.Database.Path)
	assert.Equal(t, 8*time.Second, cfg.WhatsApp.SendTimeout)
	assert.Equal(t, ProviderOpenAI, cfg.Generation.Provider)
	assert.Equal(t, "http://localhost:11434/v1/", cfg.Generation.BaseURL)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_WA_TOKEN", "from-env")
	t.Setenv("TEST_GEN_KEY", "key-from-env")

	cfg, err := Load(writeConfig(t, "gateway.yaml", `
whatsapp:
  access_token: "${TEST_WA_TOKEN}"
  verify_token: "verify-me"
  app_secret: "${TEST_UNSET_SECRET}"
generation:
  api_key: "${TEST_GEN_KEY}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.WhatsApp.AccessToken)
	assert.Equal(t, "key-from-env", cfg.Generation.APIKey)
	assert.Empty(t, cfg.WhatsApp.AppSecret)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("JARVISP_HTTP_ADDR", ":7070")
	t.Setenv("JARVISP_DEDUPE_BACKEND", "redis")
	t.Setenv("JARVISP_REDIS_ADDR", "redis:6379")
	t.Setenv("WHATSAPP_APP_SECRET", "override")

	cfg, err := Load(writeConfig(t, "gateway.yaml", minimalYAML+`
server:
  http_addr: ":8080"
`))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.HTTPAddr)
	assert.Equal(t, DedupeRedis, cfg.Dedupe.Backend)
	assert.Equal(t, "redis:6379", cfg.Dedupe.RedisAddr)
	assert.Equal(t, "override", cfg.WhatsApp.AppSecret)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "server: [",
			wantErr: "parsing config file",
		},
		{
			name:    "bad duration",
			content: minimalYAML + "pipeline:\n  event_timeout: soon\n",
			wantErr: "pipeline.event_timeout",
		},
		{
			name:    "negative duration",
			content: minimalYAML + "dedupe:\n  ttl: -1h\n",
			wantErr: "dedupe.ttl must be positive",
		},
		{
			name:    "missing verify token",
			content: "whatsapp:\n  access_token: x\ngeneration:\n  api_key: k\n",
			wantErr: "whatsapp.verify_token is required",
		},
		{
			name:    "missing generation credentials",
			content: "whatsapp:\n  access_token: x\n  verify_token: v\n",
			wantErr: "generation.api_key or generation.oauth.client_id",
		},
		{
			name:    "oauth without token url",
			content: "whatsapp:\n  access_token: x\n  verify_token: v\ngeneration:\n  oauth:\n    client_id: c\n",
			wantErr: "generation.oauth.token_url",
		},
		{
			name:    "unknown provider",
			content: minimalYAML + "  provider: claude\n",
			wantErr: "generation.provider",
		},
		{
			name:    "postgres without dsn",
			content: minimalYAML + "database:\n  driver: postgres\n",
			wantErr: "database.dsn is required",
		},
		{
			name:    "unknown driver",
			content: minimalYAML + "database:\n  driver: mysql\n",
			wantErr: "database.driver",
		},
		{
			name:    "redis without addr",
			content: minimalYAML + "dedupe:\n  backend: redis\n",
			wantErr: "dedupe.redis_addr is required",
		},
		{
			name:    "short jwt secret",
			content: minimalYAML + "auth:\n  jwt_secret: short\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "send timeout past event deadline",
			content: minimalYAML + "pipeline:\n  event_timeout: 5s\n",
			wantErr: "whatsapp.send_timeout",
		},
		{
			name:    "generation plus send past event deadline",
			content: minimalYAML + "pipeline:\n  event_timeout: 25s\n",
			wantErr: "generation.timeout + whatsapp.send_timeout",
		},
		{
			name:    "write timeout shorter than event deadline",
			content: minimalYAML + "server:\n  write_timeout: 30s\n",
			wantErr: "server.write_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "gateway.yaml", tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_A", "alpha")
	assert.Equal(t, "x-alpha-", expandEnvVars("x-${TEST_A}-${TEST_NOT_SET_ANYWHERE}"))
	assert.Equal(t, "$TEST_A", expandEnvVars("$TEST_A"))
}
