// ABOUTME: Tests for CLI helpers of the jarvisp binary
// ABOUTME: Covers the command tree, config path resolution, env files and the color log handler

package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(context.Background())
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "health", "token", "ispcube-check"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	err := executeRoot(t, "bogus")
	assert.ErrorContains(t, err, "unknown command")
}

func TestTokenCmd_Flags(t *testing.T) {
	cmd := newTokenCmd()
	ttl := cmd.Flags().Lookup("ttl")
	require.NotNil(t, ttl)
	assert.Equal(t, (24 * time.Hour).String(), ttl.DefValue)

	err := executeRoot(t, "token")
	assert.ErrorContains(t, err, `required flag(s) "subject" not set`)

	err = executeRoot(t, "token", "--subject", "   ")
	assert.ErrorContains(t, err, "must not be blank")

	err = executeRoot(t, "token", "--subject", "ops", "--ttl=-1h")
	assert.ErrorContains(t, err, "positive duration")

	err = executeRoot(t, "token", "--subject", "ops", "--ttl", "soon")
	assert.ErrorContains(t, err, "invalid argument")
}

func TestISPCubeCheckCmd_RequiresCompany(t *testing.T) {
	err := executeRoot(t, "ispcube-check")
	assert.ErrorContains(t, err, `required flag(s) "company" not set`)

	err = executeRoot(t, "ispcube-check", "--company", " ")
	assert.ErrorContains(t, err, "must not be blank")
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("JARVISP_CONFIG", "/etc/jarvisp/gateway.toml")
	assert.Equal(t, "/etc/jarvisp/gateway.toml", getConfigPath())

	t.Setenv("JARVISP_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, filepath.Join("/tmp/xdg", "jarvisp", "gateway.yaml"), getConfigPath())
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("JARVISP_TEST_FROM_DOTENV=loaded\n"), 0644))
	t.Setenv("JARVISP_TEST_FROM_DOTENV", "")
	require.NoError(t, os.Unsetenv("JARVISP_TEST_FROM_DOTENV"))

	n, err := loadEnv([]string{envPath, filepath.Join(dir, ".env.missing")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "loaded", os.Getenv("JARVISP_TEST_FROM_DOTENV"))

	n, err = loadEnv([]string{filepath.Join(dir, "nothing")})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "pipeline").WithGroup("event").Info("event processed", "tokens", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF event processed")
	assert.Contains(t, out, "component=pipeline")
	assert.Contains(t, out, "event.tokens=42")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestCheckHealth(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health/ready" && !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	}))
	defer srv.Close()

	client := &http.Client{Timeout: time.Second}
	require.NoError(t, checkHealth(context.Background(), client, srv.URL))

	ready.Store(false)
	err := checkHealth(context.Background(), client, srv.URL)
	assert.ErrorContains(t, err, "/health/ready returned status 503")
}

func TestCheckHealth_Timeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	start := time.Now()
	err := checkHealth(context.Background(), &http.Client{Timeout: 100 * time.Millisecond}, srv.URL)
	assert.ErrorContains(t, err, "health check failed")
	assert.Less(t, time.Since(start), time.Second)
}
