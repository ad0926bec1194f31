package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"sqlagent-backend/internal/agent"
	"sqlagent-backend/internal/auth"
	"sqlagent-backend/internal/config"
	"sqlagent-backend/internal/db"
	"sqlagent-backend/internal/llm"
	"sqlagent-backend/internal/logger"
	mcpserver "sqlagent-backend/internal/mcp/server"
	"sqlagent-backend/internal/metrics"
	"sqlagent-backend/internal/tools"
	"sqlagent-backend/internal/websocket"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

// Answerer runs the natural-language query pipeline.
type Answerer interface {
	Run(ctx context.Context, question string) (*agent.Result, error)
}

type App struct {
	log    *slog.Logger
	Config *config.Config

	Auth     *auth.Store
	Source   db.Source
	Answerer Answerer
	Tools    *tools.Registry

	MCP       http.Handler
	WebSocket *websocket.Handler

	Router *gin.Engine
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envFileFlag := flag.String("env-file", ".env", "path to a .env file loaded before reading the environment")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	datasourceFlag := flag.String("datasource", "", "datasource name from DATASOURCES_FILE (overrides DATASOURCE)")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("sqlagent %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	if *datasourceFlag != "" {
		if err := os.Setenv("DATASOURCE", *datasourceFlag); err != nil {
			return fmt.Errorf("failed to set datasource: %w", err)
		}
	}
	cfg, err := config.Load(*envFileFlag)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if *addrFlag != "" {
		cfg.HTTPAddr = *addrFlag
	}
	cfg.Verbose = cfg.Verbose || *verboseFlag

	log := logger.New(cfg.Verbose)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	datasource, err := db.Connect(ctx, cfg.Datasource)
	if err != nil {
		return fmt.Errorf("failed to connect to datasource: %w", err)
	}
	defer datasource.Close()
	cfg.Datasource.DatabaseType = datasource.Type()
	log.Info("server: datasource connected", "name", cfg.DatasourceName, "type", datasource.Type().DisplayName())

	gateway, err := db.NewGateway(datasource, db.GatewayConfig{Logger: log, ReadOnly: cfg.ReadOnly})
	if err != nil {
		return fmt.Errorf("failed to create datasource gateway: %w", err)
	}
	var source db.Source = gateway
	if cfg.SchemaCacheTTL > 0 {
		cached := db.NewCachedGateway(gateway, cfg.SchemaCacheTTL)
		defer cached.Close()
		source = cached
	}

	generator, err := llm.NewGenerator(llm.GeneratorConfig{
		Logger:      log,
		Client:      newLLMClient(cfg.LLM),
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxTries:    cfg.LLM.MaxTries,
	})
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	sqlAgent, err := agent.New(agent.Config{
		Logger:        log,
		Database:      source,
		LLM:           generator,
		Dialect:       datasource.Type().DisplayName(),
		MaxAttempts:   cfg.Agent.MaxAttempts,
		StepTimeout:   cfg.Agent.StepTimeout,
		SampleRows:    cfg.Agent.SampleRows,
		ResultSizeCap: cfg.Agent.ResultSizeCap,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	appDB, err := db.Connect(ctx, db.ConnectionConfig{ConnectionString: cfg.AppDatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to app database: %w", err)
	}
	defer appDB.Close()

	store, err := auth.NewStore(ctx, auth.Config{Logger: log, DB: appDB, SessionTTL: cfg.Auth.SessionTTL})
	if err != nil {
		return fmt.Errorf("failed to create auth store: %w", err)
	}
	defer store.Close()
	if cfg.Auth.AdminPassword != "" {
		if err := store.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("failed to seed admin user: %w", err)
		}
	}
	if cfg.Auth.Disabled {
		log.Warn("server: authentication explicitly disabled")
	}

	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	app, err := newApp(log, cfg, store, source, sqlAgent, hub)
	if err != nil {
		return err
	}
	app.InitRouter()

	go purgeSessions(ctx, log, store, time.Hour)

	return app.serve(ctx)
}

func newLLMClient(cfg config.LLMConfig) llm.LLMClient {
	if cfg.Provider == "anthropic" {
		return llm.NewAnthropicClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
	}
	return llm.NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model)
}

// newApp wires the tool registry, MCP endpoint and websocket handler
// around an answerer and its datasource.
func newApp(log *slog.Logger, cfg *config.Config, store *auth.Store, source db.Source, answerer Answerer, hub *websocket.Hub) (*App, error) {
	registry := tools.NewRegistry(log)
	if err := tools.RegisterSQLTools(registry, source, answerer, cfg.Agent.SampleRows); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	mcpCfg := mcpserver.Config{
		Logger:        log,
		Registry:      registry,
		Version:       version,
		Dialect:       cfg.Datasource.DatabaseType.DisplayName(),
		AllowedTokens: cfg.Auth.AllowedTokens,
		AuthDisabled:  cfg.Auth.Disabled,
	}
	wsCfg := websocket.HandlerConfig{Logger: log, Hub: hub, Runner: answerer}
	if !cfg.Auth.Disabled {
		mcpCfg.Sessions = store
		wsCfg.Sessions = store
	}

	mcp, err := mcpserver.New(mcpCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp server: %w", err)
	}
	ws, err := websocket.NewHandler(wsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket handler: %w", err)
	}

	return &App{
		log:       log,
		Config:    cfg,
		Auth:      store,
		Source:    source,
		Answerer:  answerer,
		Tools:     registry,
		MCP:       mcp.Handler(),
		WebSocket: ws,
	}, nil
}

func (app *App) InitRouter() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	app.Router = gin.New()
	app.Router.Use(gin.Recovery())
	app.Router.Use(app.metricsMiddleware())

	// CORS configuration
	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "Mcp-Session-Id", "Mcp-Protocol-Version"}
	app.Router.Use(cors.New(corsCfg))

	app.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Router.Any("/mcp", gin.WrapH(app.MCP))
	app.Router.GET("/ws/query", app.WebSocket.HandleWebSocket)

	api := app.Router.Group("/api")
	{
		api.GET("/health", app.healthHandler)

		auth := api.Group("/auth")
		{
			auth.POST("/register", app.registerHandler)
			auth.POST("/login", app.loginHandler)
			auth.POST("/logout", app.logoutHandler)
			auth.GET("/profile", app.authMiddleware(), app.profileHandler)
		}

		api.POST("/query", app.authMiddleware(), app.queryHandler)
		api.GET("/tables", app.authMiddleware(), app.tablesHandler)
		api.GET("/tables/:name", app.authMiddleware(), app.tableHandler)
		api.POST("/sql", app.authMiddleware(), app.adminMiddleware(), app.sqlHandler)
		api.GET("/tools", app.authMiddleware(), app.listToolsHandler)
		api.POST("/tools/:name", app.authMiddleware(), app.toolHandler)
	}
}

func (app *App) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              app.Config.HTTPAddr,
		Handler:           app.Router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()
	app.log.Info("server: http listening", "addr", app.Config.HTTPAddr, "version", version)

	select {
	case <-ctx.Done():
		app.log.Info("server: stopping", "reason", ctx.Err())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		app.log.Info("server: shutdown complete")
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func purgeSessions(ctx context.Context, log *slog.Logger, store *auth.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.PurgeExpired(ctx)
			if err != nil {
				log.Error("server: failed to purge sessions", "error", err)
				continue
			}
			if n > 0 {
				log.Debug("server: purged expired sessions", "count", n)
			}
		}
	}
}
