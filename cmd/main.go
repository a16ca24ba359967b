package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-gateway/core"
	"chat-gateway/core/adapter"
	"chat-gateway/core/config"
	"chat-gateway/core/pow"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {
	// .env 不存在时忽略
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser := core.NewLogger(cfg.Logging)
	// 关闭 Gin Debug 模式输出
	gin.SetMode(gin.ReleaseMode)

	db, err := core.OpenDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	log.Info("Database initialized successfully")

	a, err := newApp(context.Background(), cfg, db, log)
	if err != nil {
		log.Fatal("Failed to build gateway: ", err)
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newEngine(a),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	go func() {
		log.Infof("Starting chat gateway on %s (providers: %v)", server.Addr, a.dispatcher.Registry().Names())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := shutdown(ctx, server, a, db, logCloser); err != nil {
		log.Errorf("Shutdown finished with errors: %v", err)
		os.Exit(1)
	}
	log.Info("Server exited")
}

// shutdown 依次关闭 HTTP 服务、使用统计、数据库与日志文件，汇总所有错误
func shutdown(ctx context.Context, server *http.Server, a *app, db *gorm.DB, logCloser io.Closer) error {
	var result *multierror.Error
	if err := server.Shutdown(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("http server: %w", err))
	}
	if err := a.usage.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("usage recorder: %w", err))
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("database: %w", err))
		}
	}
	if err := logCloser.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("log file: %w", err))
	}
	return result.ErrorOrNil()
}

// app 网关运行时依赖
type app struct {
	cfg        *config.Config
	logger     *logrus.Logger
	store      *core.GormAccountStore
	health     *core.AccountHealth
	dispatcher *core.Dispatcher
	proxy      *core.ChatProxy
	catalog    *core.ModelCatalog
	usage      *core.UsageRecorder
	started    time.Time
}

func newApp(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (*app, error) {
	secrets, err := core.NewSecretProvider(cfg.Security.CredentialKey)
	if err != nil {
		return nil, err
	}
	if cfg.Security.CredentialKey == "" {
		log.Warn("No credential key configured, account credentials are stored in plaintext")
	}

	client, err := core.NewUpstreamClient(cfg.Upstream)
	if err != nil {
		return nil, err
	}

	store := core.NewGormAccountStore(db, secrets, log)
	health := core.NewAccountHealth()
	router, err := core.NewAccountRouter(ctx, store, health, log, cfg.Routing.Strategy)
	if err != nil {
		return nil, err
	}

	// 判定函数不随网关发布，未注入时 DeepSeek 使用 answer=0 的解
	solver := pow.NewSolver(nil, cfg.PoW.Budget, log)
	registry := buildRegistry(adapter.Options{Client: client, Logger: log}, solver)

	enablement := core.NewProviderEnablement(registry.Names(), cfg.Providers.Disabled,
		cfg.Providers.EnablementURL, cfg.Providers.EnablementTTL, client, log)
	catalog := core.NewModelCatalog(cfg.Providers.ModelsURL, cfg.Providers.ModelsTTL, client, log)
	usage := core.NewUsageRecorder(store, log)
	orchestrator := adapter.NewOrchestrator(log, cfg.Upstream.StopTimeout).WithIdleTimeout(cfg.Upstream.IdleTimeout)
	dispatcher := core.NewDispatcher(registry, router, enablement, orchestrator, health, usage, log)

	return &app{
		cfg:        cfg,
		logger:     log,
		store:      store,
		health:     health,
		dispatcher: dispatcher,
		proxy:      core.NewChatProxy(dispatcher, log),
		catalog:    catalog,
		usage:      usage,
		started:    time.Now(),
	}, nil
}

// buildRegistry 注册全部 provider
func buildRegistry(opts adapter.Options, solver adapter.PoWSolver) *adapter.Registry {
	return adapter.NewRegistry(
		adapter.NewClaude(opts),
		adapter.NewDeepSeek(opts, solver),
		adapter.NewQwen(opts),
		adapter.NewMistral(opts),
		adapter.NewHuggingChat(opts),
		adapter.NewLMArena(opts),
		adapter.NewPerplexity(opts),
		adapter.NewGemini(opts),
		adapter.NewAntigravity(opts),
		adapter.NewGroq(opts),
		adapter.NewStepFun(opts),
		adapter.NewCohere(opts),
		adapter.NewKimi(opts),
	)
}

// newEngine 路由注册
func newEngine(a *app) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.RecoveryWithWriter(a.logger.Writer()))
	engine.Use(corsMiddleware())

	engine.GET("/", handleRoot(a))
	engine.GET("/health", handleHealth(a))

	limiter := NewIPRateLimiter(a.cfg.Server.RateLimit.RPS, a.cfg.Server.RateLimit.Burst)

	// 业务接口：限流 + 错误请求日志
	v1 := engine.Group("/v1")
	v1.Use(requestLoggerMiddleware(a.logger))
	{
		v1.POST("/chat/completions", rateLimitMiddleware(limiter, a.logger), a.proxy.HandleChatCompletions)
		v1.GET("/chat/ws", rateLimitMiddleware(limiter, a.logger), handleChatWebSocket(a))

		v1.GET("/models", handleListModels(a))
		v1.POST("/models/refresh", handleRefreshModels(a))

		v1.GET("/providers", handleListProviders(a))
		v1.GET("/providers/:provider/models", handleProviderModels(a))
		v1.GET("/providers/:provider/conversations", handleListConversations(a))
		v1.GET("/providers/:provider/conversations/:id", handleConversationDetail(a))
		v1.DELETE("/providers/:provider/conversations/:id", handleDeleteConversation(a))
		v1.POST("/providers/:provider/conversations/:id/stop", handleStopResponse(a))

		// 直接按账号 id 访问
		v1.POST("/accounts/:id/messages", rateLimitMiddleware(limiter, a.logger), a.proxy.HandleAccountMessages)
		v1.GET("/accounts/:id/conversations", handleAccountConversations(a))
		v1.GET("/accounts/:id/conversations/:cid", handleAccountConversationDetail(a))
	}

	// 管理接口：需要 admin token
	mgmt := engine.Group("/v1/management")
	mgmt.Use(adminAuthMiddleware(a.cfg.Server.AdminToken))
	{
		mgmt.GET("/accounts", handleListAccounts(a))
		mgmt.POST("/accounts", handleCreateAccount(a))
		mgmt.POST("/accounts/import", handleImportAccounts(a))
		mgmt.DELETE("/accounts/:id", handleDeleteAccount(a))
		mgmt.GET("/stats", handleStats(a))
	}

	return engine
}
