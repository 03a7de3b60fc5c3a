// ABOUTME: Gateway orchestrator that wires the CRM forwarder, tool dispatcher and HTTP surface
// ABOUTME: Manages listener setup (TCP or tailnet), graceful shutdown and the outbound connection pool

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/ambivo-corp/ambivo-gpt/internal/auth"
	"github.com/ambivo-corp/ambivo-gpt/internal/config"
	"github.com/ambivo-corp/ambivo-gpt/internal/crm"
	"github.com/ambivo-corp/ambivo-gpt/internal/mcp"
	"github.com/ambivo-corp/ambivo-gpt/internal/query"
	"github.com/ambivo-corp/ambivo-gpt/internal/schema"
	"github.com/ambivo-corp/ambivo-gpt/internal/tools"
)

// ServerName identifies the gateway in listings and the MCP handshake.
const ServerName = "ambivo-gpt"

// ServerType is reported by /health.
const ServerType = "gpt_actions_gateway"

// Capabilities advertised by GET /tools and server_info.
var Capabilities = []string{"natural_language_queries", "crm_data_access"}

// Gateway owns the HTTP server and everything behind it.
type Gateway struct {
	config     *config.Config
	version    string
	startedAt  time.Time
	logger     *slog.Logger
	crm        *crm.Client
	dispatcher *tools.Dispatcher
	docs       *schema.Set
	mcpServer  *mcp.Server
	handler    http.Handler

	httpServer  *http.Server
	tsnetServer *tsnet.Server
}

// New builds a gateway from cfg. Nothing is listening until Run.
func New(cfg *config.Config, logger *slog.Logger, version string) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	client, err := crm.NewClient(crm.Config{
		BaseURL:         cfg.CRM.BaseURL,
		Timeout:         cfg.CRM.Timeout,
		MaxRetries:      cfg.CRM.MaxRetries,
		RetryBackoff:    cfg.CRM.RetryBackoff,
		RetryBackoffMax: cfg.CRM.RetryBackoffMax,
		UserAgent:       ServerName + "/" + version,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating CRM client: %w", err)
	}

	startedAt := time.Now()
	dispatcher := tools.NewDispatcher(tools.Options{
		Forwarder: client,
		Resolver:  auth.NewResolver(cfg.CRM.AuthToken),
		Validator: query.Validator{
			MinLength: cfg.Query.MinLength,
			MaxLength: cfg.Query.MaxLength,
		},
		Info: tools.Info{
			Name:         ServerName,
			Version:      version,
			Capabilities: Capabilities,
			CRMEndpoint:  client.Endpoint(),
			StartedAt:    startedAt,
		},
		Logger: logger,
	})

	docs, err := schema.Build(context.Background(), schema.Options{
		PublicURL:    cfg.Server.PublicURL,
		Version:      version,
		ContactEmail: cfg.Plugin.ContactEmail,
		LogoURL:      cfg.Plugin.LogoURL,
		LegalInfoURL: cfg.Plugin.LegalInfoURL,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("building API documents: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{
		Dispatcher: dispatcher,
		Logger:     logger.With("component", "mcp"),
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		version:    version,
		startedAt:  startedAt,
		logger:     logger,
		crm:        client,
		dispatcher: dispatcher,
		docs:       docs,
		mcpServer:  mcpServer,
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)
	gw.handler = chain(mux,
		recoverPanics(logger),
		withRequestID,
		logRequests(logger.With("component", "http")),
		allowCORS,
		limitBody(maxBodyBytes),
	)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.CRM.AuthToken == "" {
		logger.Info("no default CRM credential configured; callers must supply their own")
	}

	return gw, nil
}

// Handler returns the full HTTP handler including middleware.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// setupTCPListener creates the standard TCP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway",
		"http_addr", g.config.Server.HTTPAddr,
		"crm_endpoint", g.crm.Endpoint(),
	)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr,
			)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// Run starts serving and blocks until ctx is canceled or the server fails.
// Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		g.crm.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.shutdownTimeout())
	defer cancel()
	return g.Shutdown(ctx)
}

// shutdownTimeout leaves room for one in-flight CRM attempt to finish.
func (g *Gateway) shutdownTimeout() time.Duration {
	timeout := 5 * time.Second
	if t := g.config.CRM.Timeout + time.Second; t > timeout {
		timeout = t
	}
	return timeout
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "ambivo-gpt", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and listens on :443 (Funnel or
// tailnet TLS) or plain :80.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}

	g.logTailscaleStatus(tsCfg.Hostname, status)
	g.checkPublicURL(status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// checkPublicURL warns when the advertised public URL does not point at this
// node. The OpenAPI document would then send actions clients elsewhere.
func (g *Gateway) checkPublicURL(status *ipnstate.Status) {
	if status.Self == nil || status.Self.DNSName == "" {
		return
	}
	dnsName := strings.TrimSuffix(status.Self.DNSName, ".")
	if !strings.Contains(g.config.Server.PublicURL, dnsName) {
		g.logger.Warn("server.public_url does not match the tailnet DNS name",
			"public_url", g.config.Server.PublicURL,
			"tailnet_url", "https://"+dnsName,
		)
	}
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops accepting requests, waits for in-flight ones until ctx
// expires, then releases the tailnet node and the CRM connection pool.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.crm.Close()

	return errors.Join(errs...)
}
