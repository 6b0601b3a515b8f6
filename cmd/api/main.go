package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/devmuse/automaton/cmd/mainconfig"
	"github.com/devmuse/automaton/internal/api/router"
	"github.com/devmuse/automaton/internal/coalesce"
	appconfig "github.com/devmuse/automaton/internal/config"
	"github.com/devmuse/automaton/internal/conversation"
	"github.com/devmuse/automaton/internal/dispatch"
	"github.com/devmuse/automaton/internal/engine"
	"github.com/devmuse/automaton/internal/http/handlers"
	"github.com/devmuse/automaton/internal/notify"
	"github.com/devmuse/automaton/internal/observability/metrics"
	"github.com/devmuse/automaton/internal/responder"
	"github.com/devmuse/automaton/internal/send"
	"github.com/devmuse/automaton/internal/window"
	"github.com/devmuse/automaton/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting automaton API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	registry := prometheus.NewRegistry()
	engineMetrics := metrics.NewEngineMetrics(registry)

	// Redis backs the coalescing windows and the chat transcripts.
	var (
		windowStore window.Store
		transcripts *conversation.TranscriptStore
	)
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient := redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(rootCtx).Err(); err != nil {
			logger.Error("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		windowStore = window.NewRedisStore(redisClient)
		transcripts = conversation.NewTranscriptStore(redisClient, cfg.TranscriptTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory window store")
		windowStore = window.NewMemoryStore()
	}

	// Conversation records live in Postgres when available.
	var records conversation.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(rootCtx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		records = conversation.NewPostgresStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory conversation store")
		records = conversation.NewMemoryStore()
	}

	awsCfg, err := mainconfig.LoadAWSConfig(rootCtx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Dispatch token idempotency store.
	var tokens dispatch.TokenStore
	switch cfg.TokenStore {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Warn("TOKEN_STORE=postgres but DATABASE_URL not set, using in-memory token store")
			tokens = dispatch.NewMemoryTokenStore()
			break
		}
		pool, err := pgxpool.New(rootCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create pgx pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		tokens = dispatch.NewPostgresTokenStore(pool)
	case "dynamodb":
		tokens = dispatch.NewDynamoTokenStore(dynamodb.NewFromConfig(awsCfg), cfg.DispatchTokensTable)
	default:
		tokens = dispatch.NewMemoryTokenStore()
	}

	// Outbound queue and delivery worker.
	var queue send.Queue
	if cfg.UseMemoryQueue || cfg.OutboundQueueURL == "" {
		logger.Warn("using in-memory outbound queue")
		queue = send.NewMemoryQueue(64)
	} else {
		queue = send.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.OutboundQueueURL)
	}

	provider, err := send.NewProvider(cfg.WhatsAppProvider, cfg.WhatsAppBaseURL, cfg.WhatsAppAPIKey, logger)
	if err != nil {
		logger.Error("failed to create WhatsApp provider", "error", err)
		os.Exit(1)
	}

	worker := send.NewWorker(queue, provider, logger, send.WithWorkerCount(cfg.SendWorkerCount))
	worker.Start(rootCtx)

	// AI responder.
	var aiClient responder.Client
	switch cfg.AIProvider {
	case "bedrock":
		bedrock, err := responder.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID)
		if err != nil {
			logger.Error("failed to create Bedrock client", "error", err)
			os.Exit(1)
		}
		aiClient = bedrock
	default:
		gemini, err := responder.NewGeminiClient(rootCtx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			logger.Error("failed to create Gemini client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = gemini.Close() }()
		aiClient = gemini
	}
	aiClient = responder.NewFallback(aiClient, cfg.FallbackReply, logger)

	// Operator notifications.
	var emailSender notify.EmailSender
	switch {
	case cfg.SendGridAPIKey != "":
		emailSender = notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	case cfg.SESFromEmail != "":
		emailSender = notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	default:
		emailSender = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(emailSender, cfg.OperatorEmail, logger)

	// Core engine: dispatcher, coalescer, janitor.
	dispatcher := dispatch.New(records, transcripts, tokens, aiClient, queue, logger,
		dispatch.WithNotifier(notifier),
		dispatch.WithMetrics(engineMetrics),
		dispatch.WithResetAck(cfg.ResetAckMessage),
		dispatch.WithFollowUpPhrase(cfg.FollowUpPhrase),
	)
	coalescer := coalesce.New(windowStore, cfg.QuietWindow, func(ctx context.Context, win *window.Window) {
		_, _ = dispatcher.HandleSettled(ctx, win)
	}, logger, coalesce.WithMetrics(engineMetrics))

	janitor := coalesce.NewJanitor(windowStore, coalescer, cfg.WindowAbandonAfter, cfg.JanitorInterval, logger,
		coalesce.WithJanitorMetrics(engineMetrics))
	go janitor.Run(rootCtx)

	eng := engine.New(coalescer, dispatcher, cfg.ControlNumber, logger, engine.WithMetrics(engineMetrics))

	// Setup router
	routerCfg := &router.Config{
		Logger:             logger,
		WebhookHandler:     handlers.NewWhatsAppWebhookHandler(eng, logger),
		AdminConversations: handlers.NewAdminConversationsHandler(records, transcripts, logger),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		MetricsHandler:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Settle every open window before the delivery worker drains.
	eng.Flush(shutdownCtx)
	cancel()
	worker.Wait()

	logger.Info("server stopped")
}
