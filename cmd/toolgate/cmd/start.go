package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/adapter/inbound/admin"
	"github.com/toolgate/toolgate/internal/adapter/inbound/http"
	auditfile "github.com/toolgate/toolgate/internal/adapter/outbound/audit"
	"github.com/toolgate/toolgate/internal/adapter/outbound/backend"
	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
	"github.com/toolgate/toolgate/internal/adapter/outbound/sqldb"
	"github.com/toolgate/toolgate/internal/config"
	"github.com/toolgate/toolgate/internal/domain/audit"
	"github.com/toolgate/toolgate/internal/domain/auth"
	"github.com/toolgate/toolgate/internal/domain/job"
	"github.com/toolgate/toolgate/internal/domain/policy"
	"github.com/toolgate/toolgate/internal/domain/ratelimit"
	"github.com/toolgate/toolgate/internal/domain/tool"
	"github.com/toolgate/toolgate/internal/observability"
	"github.com/toolgate/toolgate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start the toolgate gateway server.

The gateway serves MCP over HTTP and Server-Sent Events on scoped
endpoints (/{scope}/sse), a REST invocation surface under /mcp, and the
admin audit query API under /admin.

Storage is selected by DATABASE_URL: a postgres:// or sqlite:// URL uses
SQL stores, an empty URL runs on in-memory stores with a JSONL audit
trail on disk.

Examples:
  # Start with config file settings
  toolgate start

  # Start in development mode with generated secrets
  toolgate start --dev

  # Start with a specific config file
  toolgate --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (generated secrets, debug logging)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode from CLI flag
	if devMode {
		cfg.DevMode = true
	}

	// Apply dev defaults (fills secrets if empty in dev mode)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout stays clean for exported spans).
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.App.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.App.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "toolgate stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolgate stopped")
	return nil
}

// run wires the stores, services, and HTTP transport together and blocks
// until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode is enabled; generated secrets are not suitable for production")
	}

	// Optional span export. The shutdown flushes buffered spans after the
	// server drains.
	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "toolgate",
		ServiceVersion: Version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("tracing shutdown", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "exporter", "stdout")
	}

	// Storage: SQL stores when a database URL is configured, otherwise
	// in-memory stores with a JSONL audit trail on disk.
	var (
		toolStore  tool.ToolStore
		jobStore   job.JobStore
		auditStore audit.AuditStore
		auditQuery audit.AuditQueryStore
	)
	storage := "memory"
	if cfg.Database.URL != "" {
		driverName, _, err := sqldb.ParseDatabaseURL(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("parse database url: %w", err)
		}

		db, err := sqldb.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer func() { _ = db.Close() }()

		if err := sqldb.Bootstrap(ctx, db); err != nil {
			return fmt.Errorf("bootstrap database: %w", err)
		}

		toolStore = sqldb.NewToolStore(db)
		jobStore = sqldb.NewJobStore(db)
		sqlAudit := sqldb.NewAuditStore(db)
		auditStore = sqlAudit
		auditQuery = sqlAudit
		storage = driverName
		logger.Info("database connected", "driver", driverName)
	} else {
		toolStore = memory.NewToolStore()
		jobStore = memory.NewJobStore()

		fileStore, err := auditfile.NewFileAuditStore(auditfile.AuditFileConfig{
			Dir:           cfg.Audit.FileDir,
			RetentionDays: cfg.Audit.RetentionDays,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
			CacheSize:     cfg.Audit.CacheSize,
		}, logger)
		if err != nil {
			return fmt.Errorf("open audit trail: %w", err)
		}
		auditStore = fileStore
		auditQuery = fileStore
		logger.Info("running on in-memory stores", "audit_dir", cfg.Audit.FileDir)
	}
	defer func() { _ = auditStore.Close() }()

	// Policy engine: deny-by-default role grants from YAML.
	engine := policy.NewEngine(cfg.Policy.Path, logger)
	if err := engine.Load(); err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	roleCount := len(engine.Ruleset().Roles)
	logger.Info("policy loaded", "path", cfg.Policy.Path, "roles", roleCount)

	// Registry: sync the YAML catalog, serve snapshots from cache.
	cacheTTL, err := time.ParseDuration(cfg.Registry.CacheTTL)
	if err != nil {
		cacheTTL = 5 * time.Minute
		logger.Warn("invalid registry.cache_ttl, using default",
			"value", cfg.Registry.CacheTTL, "default", "5m")
	}
	registry := service.NewRegistryService(toolStore, logger, service.WithCacheTTL(cacheTTL))
	if err := registry.SyncFromCatalog(ctx, cfg.Registry.CatalogPath); err != nil {
		return fmt.Errorf("sync tool catalog: %w", err)
	}
	activeTools, err := registry.AllActiveTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	toolCount := len(activeTools)
	logger.Info("tool catalog synced", "path", cfg.Registry.CatalogPath, "tools", toolCount)

	// Audit pipeline: buffered channel, batched writes.
	flushInterval, err := time.ParseDuration(cfg.Audit.FlushInterval)
	if err != nil {
		flushInterval = time.Second
		logger.Warn("invalid audit.flush_interval, using default",
			"value", cfg.Audit.FlushInterval, "default", "1s")
	}
	sendTimeout, err := time.ParseDuration(cfg.Audit.SendTimeout)
	if err != nil {
		sendTimeout = 100 * time.Millisecond
		logger.Warn("invalid audit.send_timeout, using default",
			"value", cfg.Audit.SendTimeout, "default", "100ms")
	}
	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(flushInterval),
		service.WithSendTimeout(sendTimeout),
		service.WithWarningThreshold(cfg.Audit.WarningThreshold),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// Rate limiter with background sweeper for idle buckets.
	cleanupInterval, err := time.ParseDuration(cfg.RateLimit.CleanupInterval)
	if err != nil {
		cleanupInterval = 5 * time.Minute
		logger.Warn("invalid rate_limit.cleanup_interval, using default",
			"value", cfg.RateLimit.CleanupInterval, "default", "5m")
	}
	maxIdle, err := time.ParseDuration(cfg.RateLimit.MaxIdle)
	if err != nil {
		maxIdle = 10 * time.Minute
		logger.Warn("invalid rate_limit.max_idle, using default",
			"value", cfg.RateLimit.MaxIdle, "default", "10m")
	}
	limiter := memory.NewRateLimiterWithConfig(cleanupInterval, maxIdle)
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	// Backend forwarder with the shared gateway secret.
	backendTimeout, err := time.ParseDuration(cfg.Gateway.BackendTimeout)
	if err != nil {
		backendTimeout = 30 * time.Second
		logger.Warn("invalid gateway.backend_timeout, using default",
			"value", cfg.Gateway.BackendTimeout, "default", "30s")
	}
	caller := backend.NewHTTPCaller(cfg.Gateway.SharedSecret,
		backend.WithTimeout(backendTimeout),
		backend.WithLogger(logger),
	)

	gateway := service.NewGatewayService(registry, caller, auditService, logger,
		service.WithMaxPayloadBytes(cfg.Gateway.MaxPayloadBytes),
	)

	jobs := service.NewJobService(jobStore, gateway, logger)
	jobs.Start(ctx)
	defer jobs.Stop()

	validator := auth.NewValidator(cfg.JWT)

	// Admin audit query API mounts beside the scoped endpoints.
	adminHandler := admin.NewHandler(auditQuery, logger)

	server := http.NewServer(http.Services{
		Invoker:   gateway,
		Registry:  registry,
		Jobs:      jobs,
		Audit:     auditService,
		Limiter:   limiter,
		Validator: validator,
		Policy:    engine,
	},
		http.WithAddr(cfg.App.HTTPAddr),
		http.WithBaseURL(cfg.App.BaseURL),
		http.WithAppInfo(cfg.App.Name, Version),
		http.WithLogger(logger),
		http.WithFilesDir(cfg.App.FilesDir),
		http.WithRateLimits(
			ratelimit.Config{
				RequestsPerMinute: cfg.RateLimit.UserRequestsPerMinute,
				BurstSize:         cfg.RateLimit.UserBurstSize,
			},
			ratelimit.Config{
				RequestsPerMinute: cfg.RateLimit.ToolRequestsPerMinute,
				BurstSize:         cfg.RateLimit.ToolBurstSize,
			},
		),
		http.WithMaxPayloadBytes(cfg.Gateway.MaxPayloadBytes),
		http.WithExtraRoutes(adminHandler),
	)

	logger.Info("toolgate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.App.HTTPAddr,
		"storage", storage,
		"tools", toolCount,
		"roles", roleCount,
	)

	printBanner(Version, cfg.App.HTTPAddr, cfg.DevMode, toolCount, roleCount, storage)

	return server.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// endpoint URLs, mode, and resource counts.
func printBanner(version, httpAddr string, devMode bool, toolCount, roleCount int, storage string) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	base := "http://localhost" + httpAddr
	if !strings.HasPrefix(httpAddr, ":") {
		base = "http://" + httpAddr
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (generated secrets)" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%sToolgate %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s/{scope}/sse\n", "Streams:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s/mcp\n", "REST:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s/health\n", "Health:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d active\n", "Tools:", toolCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d roles\n", "Policy:", roleCount)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Storage:", storage)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the toolgate PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".toolgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "toolgate-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
