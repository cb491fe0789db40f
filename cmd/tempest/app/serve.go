package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/tempest-mcp/tempest/pkg/auth"
	"github.com/tempest-mcp/tempest/pkg/config"
	"github.com/tempest-mcp/tempest/pkg/logger"
	"github.com/tempest-mcp/tempest/pkg/oauth"
	"github.com/tempest-mcp/tempest/pkg/weather"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "tempest-weather"

	// shutdownTimeout is how long in-flight requests get to drain.
	shutdownTimeout = 10 * time.Second
)

var (
	serveConfigFile string
	serveHost       string
	servePort       int
	serveAuthMode   string
	serveIssuer     string
	serveJWKSURL    string
	serveAudience   string
)

// newServeCommand creates the 'serve' subcommand.
func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the weather MCP server",
		Long: `Start the HTTP server hosting the OAuth endpoints, the health check,
and the protected /mcp tool-invocation endpoint.

With --auth-mode=oauth (the default), the built-in authorization server
issues opaque tokens and the MCP endpoint validates them by lookup. With
--auth-mode=jwks, the MCP endpoint validates externally issued JWTs
against the configured JWKS URL instead.`,
		RunE: serveCmdFunc,
	}

	cmd.Flags().StringVar(&serveConfigFile, "config", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on")
	cmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on")
	cmd.Flags().StringVar(&serveAuthMode, "auth-mode", "", "Authentication mode: oauth or jwks")
	cmd.Flags().StringVar(&serveIssuer, "issuer", "", "Issuer identifier (defaults to the server's own URL)")
	cmd.Flags().StringVar(&serveJWKSURL, "jwks-url", "", "JWKS URL for jwks mode")
	cmd.Flags().StringVar(&serveAudience, "audience", "", "Expected token audience for jwks mode")

	return cmd
}

// loadSettings loads the config file and applies any flag overrides.
// Validation runs after the overrides, so a mode switched on the command
// line is still checked for its required settings.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.LoadUnvalidated(serveConfigFile)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("host") {
		settings.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		settings.Port = servePort
	}
	if cmd.Flags().Changed("auth-mode") {
		settings.AuthMode = serveAuthMode
	}
	if cmd.Flags().Changed("issuer") {
		settings.Issuer = serveIssuer
	}
	if cmd.Flags().Changed("jwks-url") {
		settings.JWKSURL = serveJWKSURL
	}
	if cmd.Flags().Changed("audience") {
		settings.Audience = serveAudience
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// serveCmdFunc is the main function for the serve command.
func serveCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	settings, err := loadSettings(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	issuer := settings.Issuer
	if issuer == "" {
		issuer = settings.BaseURL()
	}

	// Create the MCP server and register the weather tools
	weatherClient := weather.NewClient(settings.OpenWeatherAPIKey)
	mcpServer := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(false),
		server.WithLogging(),
	)
	toolHandler := weather.NewToolHandler(weatherClient, serverName, version)
	toolHandler.RegisterTools(mcpServer)

	streamableServer := server.NewStreamableHTTPServer(
		mcpServer,
		server.WithEndpointPath("/mcp"),
	)

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	switch settings.AuthMode {
	case config.AuthModeOAuth:
		store := oauth.NewMemoryStore()
		defer store.Close()

		authServer, err := oauth.NewServer(oauth.Config{
			Issuer: issuer,
			Client: oauth.ClientConfig{
				ID:           settings.ClientID,
				Secret:       settings.ClientSecret,
				RedirectURIs: settings.RedirectURIs,
			},
			Subject: "demo-user",
			Scopes:  []string{"weather:read", "weather:forecast", "weather:alerts"},
		}, store)
		if err != nil {
			return fmt.Errorf("failed to create authorization server: %w", err)
		}

		authServer.RegisterRoutes(r)
		r.Handle("/mcp", authServer.Middleware()(streamableServer))

	case config.AuthModeJWKS:
		validator, err := auth.NewValidator(ctx, auth.ValidatorConfig{
			Issuer:   issuer,
			Audience: settings.Audience,
			JWKSURL:  settings.JWKSURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create token validator: %w", err)
		}

		r.Handle("/mcp", validator.Middleware()(streamableServer))

	default:
		return fmt.Errorf("unknown auth mode %q", settings.AuthMode)
	}

	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second, // Prevent Slowloris attacks
	}

	go func() {
		logger.Infof("Starting tempest MCP server on http://%s/mcp (auth mode: %s)", addr, settings.AuthMode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
			cancel()
		}
	}()

	select {
	case <-sigChan:
		logger.Info("Shutting down tempest server...")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	return httpServer.Shutdown(shutdownCtx)
}

// handleHealth is the unauthenticated health check endpoint.
func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q}`, serverName)
}
