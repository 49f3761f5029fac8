package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ekaya-inc/ekaya-gateway/pkg/audit"
	"github.com/ekaya-inc/ekaya-gateway/pkg/auth"
	"github.com/ekaya-inc/ekaya-gateway/pkg/cache"
	"github.com/ekaya-inc/ekaya-gateway/pkg/config"
	"github.com/ekaya-inc/ekaya-gateway/pkg/database"
	"github.com/ekaya-inc/ekaya-gateway/pkg/dataset"
	"github.com/ekaya-inc/ekaya-gateway/pkg/gate"
	"github.com/ekaya-inc/ekaya-gateway/pkg/guard"
	"github.com/ekaya-inc/ekaya-gateway/pkg/handlers"
	"github.com/ekaya-inc/ekaya-gateway/pkg/logging"
	"github.com/ekaya-inc/ekaya-gateway/pkg/mcp"
	"github.com/ekaya-inc/ekaya-gateway/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-gateway/pkg/metrics"
	"github.com/ekaya-inc/ekaya-gateway/pkg/middleware"
	"github.com/ekaya-inc/ekaya-gateway/pkg/pivot"
	"github.com/ekaya-inc/ekaya-gateway/pkg/workbench"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gateway stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("gate", cfg.Gate.Enabled))

	// Metrics
	var m *metrics.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(registry)
		if cfg.Observability.SQLInstrument {
			mp, err := metrics.NewMeterProvider(registry, cfg.Version)
			if err != nil {
				return fmt.Errorf("failed to create meter provider: %w", err)
			}
			defer func() { _ = mp.Shutdown(context.Background()) }()
		}
	}

	// Database
	db, err := database.NewConnection(ctx, &database.Config{
		URL:             cfg.Database.URL(),
		MaxConnections:  cfg.Database.MaxConnections,
		MinConnections:  cfg.Database.MaxIdleConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	sqlDB, closeSQL, err := db.OpenSQL(cfg.Observability.SQLInstrument, logger)
	if err != nil {
		return fmt.Errorf("failed to open database/sql handle: %w", err)
	}
	defer closeSQL()

	if cfg.Database.RunMigrations {
		if err := database.RunMigrations(sqlDB, logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Catalog
	var catalog *dataset.Catalog
	if cfg.Catalog.Path != "" {
		catalog, err = dataset.LoadCatalog(cfg.Catalog.Path)
	} else {
		catalog, err = dataset.DefaultCatalog()
	}
	if err != nil {
		return fmt.Errorf("failed to load dataset catalog: %w", err)
	}
	logger.Info("Dataset catalog loaded", zap.Strings("datasets", catalog.IDs()))

	// Guardrails
	guardCfg := cfg.Guardrails.ToGuard()
	executor := guard.NewExecutor(sqlDB, guardCfg, logger)

	var counters guard.CounterStore
	if redisClient != nil {
		counters = guard.NewRedisStore(redisClient)
	}
	limiter := guard.NewLimiter(guardCfg, counters, m, logger)

	var pivotCache cache.Store
	if cfg.Cache.Enabled {
		if redisClient != nil {
			pivotCache = cache.NewRedisStore(redisClient, cfg.Cache.TTL)
		} else {
			pivotCache = cache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		}
	}

	var readiness *gate.Gate
	var readyChecker workbench.ReadinessChecker
	var healthChecker handlers.ReadinessChecker
	if cfg.Gate.Enabled {
		var outcomes gate.OutcomeCache
		if redisClient != nil {
			outcomes = gate.NewRedisCache(redisClient)
		}
		readiness = gate.New(sqlDB, executor, catalog, outcomes, cfg.Gate.ToGate(), m, logger)
		readyChecker, healthChecker = readiness, readiness
	}

	queryAuditor := audit.NewQueryAuditor(logger, []byte(cfg.AuditSecret))
	securityAuditor := audit.NewSecurityAuditor(logger)

	pivotRunner := pivot.NewRunner(catalog, executor, limiter, pivotCache, cfg.Cache.TTL,
		pivot.NewSQLLoader(sqlDB), queryAuditor, m, logger)
	workbenchService := workbench.NewService(catalog, executor, limiter, readyChecker,
		queryAuditor, securityAuditor, m, logger)

	// Auth
	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
		Audience:           cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize JWKS client: %w", err)
	}
	defer jwksClient.Close()
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, logger), logger)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, sqlDB, healthChecker, catalog.IDs(), logger).RegisterRoutes(mux)
	handlers.NewSQLHandler(workbenchService, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewPivotHandler(pivotRunner, logger).RegisterRoutes(mux, authMiddleware)
	handlers.NewDatasetsHandler(catalog, pivotCache, logger).RegisterRoutes(mux, authMiddleware)

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	// MCP
	toolCalls := mcp.NewToolCallLogger(logger, m)
	mcpServer := mcp.NewServer("ekaya-bi-gateway", cfg.Version, logger, server.WithHooks(toolCalls.Hooks()))
	tools.RegisterBITools(mcpServer.MCP(), &tools.BIToolDeps{
		Workbench: workbenchService,
		Pivot:     pivotRunner,
		Catalog:   catalog,
		Logger:    logger,
	})
	var readyFunc tools.ReadyFunc
	if readiness != nil {
		readyFunc = func(ctx context.Context) error {
			return readiness.AssertReady(ctx, guard.Session{IsGlobalAdmin: true}, catalog.IDs())
		}
	}
	tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, readyFunc)

	mcpHandler := authMiddleware.RequireAuthHandler(
		middleware.MCPRequestLogger(logger)(mcpServer.NewStreamableHTTPServer()))
	mux.Handle("/mcp", mcpHandler)

	handler := middleware.RequestID(middleware.RequestLogger(logger)(mux))

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Guarded statements are bounded by statement_timeout; leave room for encoding.
		WriteTimeout: guardCfg.StatementTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting BI gateway",
			zap.String("addr", srv.Addr),
			zap.Bool("tls", cfg.TLSCertPath != ""),
			zap.String("version", cfg.Version))

		var err error
		if cfg.TLSCertPath != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", zap.Duration("timeout", cfg.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}
