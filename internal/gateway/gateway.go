// ABOUTME: Gateway orchestrator that wires discovery, the dispatch table, the loop and HTTP
// ABOUTME: Manages the run ledger, replay cache, MCP surface and listener lifecycle

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/xiaolintangyuan/tool-foundry/internal/builtins"
	"github.com/xiaolintangyuan/tool-foundry/internal/catalog"
	"github.com/xiaolintangyuan/tool-foundry/internal/config"
	"github.com/xiaolintangyuan/tool-foundry/internal/conversation"
	"github.com/xiaolintangyuan/tool-foundry/internal/llm"
	"github.com/xiaolintangyuan/tool-foundry/internal/mcp"
	"github.com/xiaolintangyuan/tool-foundry/internal/replay"
	"github.com/xiaolintangyuan/tool-foundry/internal/store"
	"github.com/xiaolintangyuan/tool-foundry/internal/tools"
)

// Gateway serves the tool-calling loop over HTTP.
type Gateway struct {
	config      *config.Config
	store       store.Store // nil when the ledger is disabled
	registry    *tools.Registry
	router      *tools.Router
	manifest    tools.Manifest
	loop        *conversation.Loop
	replay      *replay.Cache // nil when idempotency_ttl is 0
	mcpServer   *mcp.Server
	markdown    goldmark.Markdown
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger
}

type options struct {
	model   conversation.ModelClient
	modules []tools.Module
	version string
}

// Option customizes New.
type Option func(*options)

// WithModelClient replaces the chat-completions client built from config.
func WithModelClient(c conversation.ModelClient) Option {
	return func(o *options) { o.model = c }
}

// WithModules skips discovery and registers exactly these modules.
func WithModules(modules []tools.Module) Option {
	return func(o *options) { o.modules = modules }
}

// WithVersion sets the version reported to MCP clients.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// initStore opens the run ledger, or returns nil when database.path is empty.
func initStore(cfg *config.Config) (store.Store, error) {
	if cfg.Database.Path == "" {
		return nil, nil
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// newModelClient builds the chat-completions client from config.
func newModelClient(cfg config.ModelConfig) *llm.Client {
	c := llm.NewClient(cfg.BaseURL, cfg.Timeout)
	c.SetBearerToken(cfg.APIKey)
	if cfg.Referer != "" {
		c.SetHeader("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		c.SetHeader("X-Title", cfg.Title)
	}
	return c
}

// loadManifest reads the manifest artifact when present and otherwise
// builds one from the discovered modules.
func loadManifest(path string, modules []tools.Module, registry *tools.Registry, allowOverride bool, logger *slog.Logger) (tools.Manifest, error) {
	manifest, err := tools.ReadManifest(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		manifest, err = tools.BuildManifest(modules, tools.WithOverride(allowOverride))
		if err != nil {
			return nil, fmt.Errorf("building manifest: %w", err)
		}
		logger.Info("no manifest artifact, built from discovery", "path", path, "tool_count", len(manifest))
		return manifest, nil
	case err != nil:
		return nil, fmt.Errorf("loading manifest: %w", err)
	}

	if missing := registry.Missing(manifest); len(missing) > 0 {
		logger.Warn("manifest lists tools with no callable; calls to them will fail",
			"path", path,
			"tools", missing,
		)
	}

	listed := make(map[string]bool, len(manifest))
	for _, name := range manifest.Names() {
		listed[name] = true
	}
	var unlisted []string
	for _, name := range registry.Names() {
		if !listed[name] {
			unlisted = append(unlisted, name)
		}
	}
	if len(unlisted) > 0 {
		logger.Warn("registered tools absent from manifest; the model will not see them",
			"path", path,
			"tools", unlisted,
		)
	}

	logger.Info("manifest loaded", "path", path, "tool_count", len(manifest))
	return manifest, nil
}

// New creates a Gateway: it opens the ledger, runs discovery, seals the
// dispatch table and registers every HTTP route. ctx bounds discovery only.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := options{version: "dev"}
	for _, opt := range opts {
		opt(&o)
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}
	gw := &Gateway{
		config:   cfg,
		store:    s,
		markdown: goldmark.New(),
		logger:   logger.With("component", "gateway"),
	}

	if err := gw.buildTools(ctx, o.modules); err != nil {
		gw.closeStore()
		return nil, err
	}

	model := o.model
	if model == nil {
		model = newModelClient(cfg.Model)
	}

	var ledger store.RunStore
	if s != nil {
		ledger = s
	}
	gw.loop = conversation.New(conversation.Config{
		Model:      cfg.Model.ID,
		Client:     model,
		Dispatcher: gw.router,
		Manifest:   gw.manifest,
		Limits: conversation.Limits{
			MaxTurns:     cfg.Loop.MaxTurns,
			MaxToolCalls: cfg.Loop.MaxToolCalls,
			Deadline:     cfg.Loop.Deadline,
		},
		Ledger: ledger,
		Logger: logger,
	})

	if cfg.Server.IdempotencyTTL > 0 {
		gw.replay = replay.New(cfg.Server.IdempotencyTTL, replay.DefaultMaxSize)
	}

	gw.mcpServer, err = mcp.NewServer(mcp.Config{
		Registry: gw.registry,
		Router:   gw.router,
		Manifest: gw.manifest,
		Logger:   logger,
		Version:  o.version,
	})
	if err != nil {
		gw.closeStore()
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	mux := http.NewServeMux()
	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	limits := gw.loop.Limits()
	gw.logger.Info("gateway ready",
		"model", cfg.Model.ID,
		"tools", gw.registry.Len(),
		"max_turns", limits.MaxTurns,
		"max_tool_calls", limits.MaxToolCalls,
		"deadline", limits.Deadline,
		"ledger", s != nil,
	)
	return gw, nil
}

// buildTools discovers modules, fills and seals the registry and resolves
// the manifest.
func (g *Gateway) buildTools(ctx context.Context, modules []tools.Module) error {
	if modules == nil {
		var deps builtins.Deps
		if g.store != nil {
			deps.Notes = g.store
		}
		discovered, err := catalog.Discover(ctx, g.config, g.logger, deps)
		if err != nil {
			return err
		}
		modules = discovered
	}

	g.registry = tools.NewRegistry(tools.RegistryConfig{
		Logger:        g.logger.With("component", "registry"),
		AllowOverride: g.config.Tools.AllowOverride,
	})
	if err := catalog.Populate(g.registry, modules); err != nil {
		return fmt.Errorf("building dispatch table: %w", err)
	}
	g.registry.Seal()

	manifest, err := loadManifest(g.config.Tools.ManifestPath, modules, g.registry, g.config.Tools.AllowOverride, g.logger)
	if err != nil {
		return err
	}
	g.manifest = manifest

	g.router = tools.NewRouter(tools.RouterConfig{
		Registry: g.registry,
		Logger:   g.logger.With("component", "router"),
		Timeout:  g.config.Loop.ToolTimeout,
	})
	return nil
}

// registerRoutes mounts every endpoint on mux.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	mux.HandleFunc("POST /invoke", g.handleInvoke)
	mux.HandleFunc("POST /invoke/", g.handleInvoke)

	mux.HandleFunc("GET /api/tools", g.handleListTools)
	mux.HandleFunc("GET /api/runs", g.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", g.handleGetRun)
	mux.HandleFunc("GET /api/stats/usage", g.handleUsageStats)

	if dir := g.config.Artifacts.Dir; dir != "" {
		prefix := g.config.Artifacts.Prefix
		mux.Handle(prefix, http.StripPrefix(strings.TrimSuffix(prefix, "/"), http.FileServer(http.Dir(dir))))
		g.logger.Info("serving artifacts", "dir", dir, "prefix", prefix)
	}

	g.mcpServer.RegisterRoutes(mux)
}

// Handler returns the HTTP handler with every route mounted.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// Manifest returns the manifest the model is offered.
func (g *Gateway) Manifest() tools.Manifest {
	return g.manifest
}

// setupTCPListener creates the plain HTTP listener.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates a listener based on configuration (Tailscale or TCP).
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

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
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

// gracefulShutdown performs shutdown with a fresh context and timeout,
// since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
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
	return filepath.Join(homeDir, ".local", "share", "tool-foundry", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
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
		dnsName = strings.TrimSuffix(status.Self.DNSName, ".")
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener picks public Funnel, HTTPS with a provided
// certificate, HTTPS with Tailscale certs, or plain HTTP on :80.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("loading tailscale TLS certificate: %w", err)
		}
		ln, err := g.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		g.logger.Info("enabling HTTPS with provided certificate on :443", "cert_file", tsCfg.CertFile)
		return tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}), nil
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

func (g *Gateway) closeStore() {
	if g.store != nil {
		_ = g.store.Close()
	}
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	if g.replay != nil {
		g.replay.Close()
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the dispatch table is sealed and non-empty.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	n := g.registry.Len()
	if !g.registry.Sealed() || n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools)", n)
}
