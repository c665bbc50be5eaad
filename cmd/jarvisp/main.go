// ABOUTME: Entry point for the jarvisp WhatsApp gateway
// ABOUTME: Dispatches serve, health, token and ispcube-check subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/facmartoni/jarvisp-prod/internal/auth"
	"github.com/facmartoni/jarvisp-prod/internal/config"
	"github.com/facmartoni/jarvisp-prod/internal/gateway"
	"github.com/facmartoni/jarvisp-prod/internal/integration/ispcube"
)

// version is set at build time.
var version = "dev"

const banner = `
     _                  _
    (_) __ _ _ ____   _(_)___ _ __
    | |/ _' | '__\ \ / / / __| '_ \
    | | (_| | |   \ V /| \__ \ |_) |
   _/ |\__,_|_|    \_/ |_|___/ .__/
  |__/                       |_|
`

// envFiles are loaded, when present, before the config is read.
var envFiles = []string{".env", ".env.local"}

// getConfigPath returns the path to the gateway config file.
// Priority: JARVISP_CONFIG env var > XDG_CONFIG_HOME/jarvisp/gateway.yaml > ~/.config/jarvisp/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("JARVISP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "jarvisp", "gateway.yaml")
}

// loadEnv loads the env files that exist. Variables already set win.
func loadEnv(files []string) (int, error) {
	existing := make([]string, 0, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

func loadConfig() (*config.Config, string, error) {
	if _, err := loadEnv(envFiles); err != nil {
		return nil, "", fmt.Errorf("loading env files: %w", err)
	}
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jarvisp",
		Short:         "WhatsApp gateway for ISP customer support",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newISPCubeCheckCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHealth(cmd.Context())
		},
	}
}

func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runToken(subject, ttl)
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject (required)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token validity")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newISPCubeCheckCmd() *cobra.Command {
	var companyID string
	var subdomain string

	cmd := &cobra.Command{
		Use:   "ispcube-check",
		Short: "Test a company's ISPCube credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runISPCubeCheck(cmd.Context(), companyID, subdomain)
		},
	}
	cmd.Flags().StringVar(&companyID, "company", "", "company id (required)")
	cmd.Flags().StringVar(&subdomain, "subdomain", "", "ISPCube subdomain, when the company has several")
	_ = cmd.MarkFlagRequired("company")
	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:       %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Driver)
	green.Print("    ▶ ")
	fmt.Printf("Generation: ")
	cyan.Print(cfg.Generation.Provider)
	if cfg.Generation.Model != "" {
		gray.Printf(" (%s)", cfg.Generation.Model)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Dedupe:     %s\n", cfg.Dedupe.Backend)
	if cfg.Auth.JWTSecret == "" {
		yellow.Println("    ! admin API is unauthenticated (no auth.jwt_secret)")
	}
	fmt.Println()

	logger.Info("starting jarvisp",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Driver,
		"provider", cfg.Generation.Provider,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// healthTimeout bounds each request of the health command.
const healthTimeout = 5 * time.Second

// checkHealth requires 200 from both the liveness and readiness endpoints.
func checkHealth(ctx context.Context, client *http.Client, baseURL string) error {
	for _, path := range []string{"/health", "/health/ready"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned status %d", path, resp.StatusCode)
		}
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, "0.0.0.0:") {
		addr = "127.0.0.1:" + strings.TrimPrefix(addr, "0.0.0.0:")
	}

	client := &http.Client{Timeout: healthTimeout}
	if err := checkHealth(ctx, client, "http://"+addr); err != nil {
		return err
	}

	fmt.Println("healthy")
	return nil
}

func runToken(subject string, ttl time.Duration) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return errors.New("--subject must not be blank")
	}
	if ttl <= 0 {
		return fmt.Errorf("--ttl must be a positive duration, got %s", ttl)
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "token for %s, valid for %s:\n", subject, ttl)
	fmt.Println(token)
	return nil
}

func runISPCubeCheck(ctx context.Context, companyID, subdomain string) error {
	if strings.TrimSpace(companyID) == "" {
		return errors.New("--company must not be blank")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	s, err := gateway.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	pool := ispcube.NewPool(s, cfg.ISPCube.Timeout, nil, logger)
	client, err := pool.ForCompany(ctx, companyID, subdomain)
	if err != nil {
		return err
	}

	if !client.TestConnection(ctx) {
		color.New(color.FgRed).Printf("✗ ispcube %s: authentication failed\n", client.Subdomain())
		return errors.New("ispcube connection test failed")
	}
	color.New(color.FgGreen).Printf("✓ ispcube %s: authenticated\n", client.Subdomain())
	return nil
}
