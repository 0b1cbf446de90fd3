package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/vitalishealth/bookingai/cmd/mainconfig"
	"github.com/vitalishealth/bookingai/internal/archive"
	"github.com/vitalishealth/bookingai/internal/booking"
	"github.com/vitalishealth/bookingai/internal/chatplatform"
	appconfig "github.com/vitalishealth/bookingai/internal/config"
	"github.com/vitalishealth/bookingai/internal/conversation"
	"github.com/vitalishealth/bookingai/internal/crm/ghlclient"
	"github.com/vitalishealth/bookingai/internal/crmauth"
	"github.com/vitalishealth/bookingai/internal/dedup"
	"github.com/vitalishealth/bookingai/internal/directory"
	"github.com/vitalishealth/bookingai/internal/httpapi"
	"github.com/vitalishealth/bookingai/internal/notify"
	"github.com/vitalishealth/bookingai/internal/observability/metrics"
	"github.com/vitalishealth/bookingai/internal/payments"
	"github.com/vitalishealth/bookingai/internal/ratewindow"
	"github.com/vitalishealth/bookingai/internal/reminders"
	"github.com/vitalishealth/bookingai/internal/slots"
	"github.com/vitalishealth/bookingai/internal/tenancy"
	"github.com/vitalishealth/bookingai/internal/webchat"
	"github.com/vitalishealth/bookingai/migrations"
	"github.com/vitalishealth/bookingai/pkg/logging"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking platform API server", "env", cfg.Env, "port", cfg.Port)

	if issue := cfg.MustValidate(); issue != nil {
		logger.Error("configuration problem at startup", "error", issue)
	}

	appCtx, stop := context.WithCancel(context.Background())
	defer stop()

	dbPool := connectPostgresPool(appCtx, cfg.DatabaseURL, logger)
	if dbPool != nil {
		defer dbPool.Close()
	}
	sqlDB := connectSQLDB(dbPool, logger)
	if sqlDB != nil {
		defer sqlDB.Close()
		runAutoMigrate(sqlDB, logger)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(appCtx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	// Tenant directory and subscription gate.
	accounts := tenancy.NewRepository(sqlDB)
	gate := tenancy.NewGate(cfg.SubscriptionEnforcementEnabled, logger)
	paymentsAdapter := tenancy.NewPaymentsAdapter(accounts)

	// CRM OAuth and calendar/contact client.
	crmAuth := crmauth.New(crmauth.Config{
		ClientID:     cfg.CRMClientID,
		ClientSecret: cfg.CRMClientSecret,
		RedirectURI:  cfg.CallbackURI,
		APIBaseURL:   cfg.CRMAPIBaseURL,
	}, dbPool, logger)
	crmClient := ghlclient.New(cfg.CRMAPIBaseURL, crmAuth, logger)

	// Chat platform transport and free/busy resolver.
	chatClient := chatplatform.New(cfg.ChatPlatformBaseURL, cfg.ChatPlatformBearer, logger)
	resolver := slots.New(crmClient, cfg.Timezone, logger)

	// Observability counters shared across the pipelines below.
	appMetrics := metrics.New(nil)

	// Booking pipeline.
	bookingStore := booking.NewStore(sqlDB)
	bookingPipeline := booking.NewPipeline(bookingStore, accounts, crmClient, resolver, logger).WithMetrics(appMetrics)

	// Payments. The invoice notifier is optional — falls back to a stub
	// that just logs when no SendGrid key is configured.
	var emailSender notify.EmailSender
	if sender := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sender != nil {
		emailSender = sender
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	invoiceNotifier := notify.NewInvoiceNotifier(emailSender, logger)

	paymentsRepo := payments.NewRepository(sqlDB)
	paymentsSvc := payments.NewService(
		cfg.PaymentsSecretKey,
		cfg.PaymentsWebhookSecret,
		cfg.SubscriptionWebhookSecret,
		paymentsRepo,
		paymentsAdapter,
		bookingPipeline,
		logger,
	).WithInvoiceNotifier(invoiceNotifier)
	paymentsAdminHandler := payments.NewAdminHandler(paymentsSvc, logger)

	// Per-tenant webhook rate window, shared across API instances via Redis.
	// Optional — Allow fails open if the client can't reach Redis.
	redisOpts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()
	rateWindow := ratewindow.New(redisClient, logger)

	// Message-extraction LLM.
	bedrockClient := bedrockruntime.NewFromConfig(awsCfg)
	llmClient := conversation.NewBedrockLLMClient(bedrockClient)
	extractor := conversation.NewLLMExtractor(llmClient, cfg.LLMModel)

	conversationStore := conversation.NewStore(
		sqlDB,
		time.Duration(cfg.ConversationTTLHours)*time.Hour,
		cfg.MaxConversationMessages,
	)

	// Conversation-history cold storage. Disabled (Enabled() returns false)
	// unless S3_ARCHIVE_BUCKET is set, in which case CleanupExpired purges
	// are preceded by a compliance snapshot.
	archiveStore := archive.NewStore(s3.NewFromConfig(awsCfg), cfg.S3ArchiveBucket, logger)

	engine := conversation.NewEngine(
		conversationStore,
		crmClient,
		resolver,
		extractor,
		bookingPipeline,
		paymentsSvc,
		chatClient,
		logger,
	)

	// Provider directory (public clinic/practitioner search surface).
	directoryRepo := directory.NewRepository(sqlDB)
	directoryHandler := directory.NewHandler(directoryRepo, logger)
	webchatHandler := webchat.NewHandler(directoryRepo, accounts, engine, nil, logger)

	// Reminder reply routing. The daily send batch itself runs from the
	// standalone cmd/reminder-job CLI, not in this process.
	remindersStore := reminders.NewStore(sqlDB)
	reminderRouter := reminders.NewRouter(remindersStore, bookingPipeline, chatClient, logger)

	// Inbound-message dedup, when enabled.
	var dedupStore *dedup.Store
	if cfg.EnableMessageDeduplication {
		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		dedupStore = dedup.New(dynamoClient, cfg.DynamoDedupTable, logger).
			WithTTL(time.Duration(cfg.MessageDeduplicationTTLHours) * time.Hour)
	}

	routerCfg := &httpapi.Config{
		Logger: logger,

		Accounts: accounts,
		Gate:     gate,
		Engine:   engine,
		Chat:     chatClient,
		Dedup:      dedupStore,
		Metrics:    appMetrics,
		RateWindow: rateWindow,

		ChatPlatformVerifyToken: cfg.WebhookVerifyToken,

		Payments:      paymentsSvc.WebhookHandler(),
		PaymentsAdmin: paymentsAdminHandler,

		Reminders: reminderRouter,

		Directory: directoryHandler,
		Webchat:   webchatHandler,

		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		WebhookRatePerSec:  float64(cfg.RateLimitPerMinute) / 60,
		WebhookBurst:       cfg.RateLimitPerMinute,
	}
	r := httpapi.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go runConversationPurgeLoop(appCtx, conversationStore, archiveStore, logger)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	stop()
	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// runConversationPurgeLoop archives (when archiveStore is enabled) and then
// deletes every conversation past its expiry, once daily. The day-of
// reminder batch is deliberately not scheduled here: it runs from the
// standalone cmd/reminder-job CLI instead, invoked by a cron scheduler,
// so there is exactly one process sending reminders rather than a
// cron-triggered run racing an always-on goroutine.
func runConversationPurgeLoop(ctx context.Context, store *conversation.Store, archiveStore *archive.Store, logger *logging.Logger) {
	for {
		timer := time.NewTimer(24 * time.Hour)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		expired, err := store.ListExpired(ctx)
		if err != nil {
			logger.Error("conversation: failed to list expired conversations", "error", err)
			continue
		}

		for _, c := range expired {
			if archiveStore.Enabled() {
				messages, err := store.Messages(ctx, c.Key)
				if err != nil {
					logger.Error("conversation: failed to load messages for archival", "conversation_key", c.Key, "error", err)
					continue
				}
				record := buildArchiveRecord(c, messages)
				if err := archiveStore.PutConversation(ctx, record); err != nil {
					logger.Error("conversation: failed to archive before purge", "conversation_key", c.Key, "error", err)
					continue
				}
			}
		}

		deleted, err := store.CleanupExpired(ctx)
		if err != nil {
			logger.Error("conversation: cleanup expired failed", "error", err)
			continue
		}
		logger.Info("conversation: purged expired conversations", "count", deleted, "archived", archiveStore.Enabled())
	}
}

func buildArchiveRecord(c *conversation.Conversation, messages []conversation.Message) *archive.ConversationRecord {
	archiveMessages := make([]archive.Message, len(messages))
	for i, m := range messages {
		archiveMessages[i] = archive.Message{Role: m.Role, Content: archive.ScrubPII(m.Content), Timestamp: m.CreatedAt}
	}
	var duration int
	if len(messages) >= 2 {
		duration = int(messages[len(messages)-1].CreatedAt.Sub(messages[0].CreatedAt).Seconds())
	}
	return &archive.ConversationRecord{
		Version:         "1.0",
		ConversationID:  c.Key,
		TenantID:        c.TenantID,
		PhoneHash:       archive.HashPhone(c.Phone),
		ArchivedAt:      time.Now().UTC(),
		DurationSeconds: duration,
		MessageCount:    len(messages),
		Status:          c.Status,
		Messages:        archiveMessages,
	}
}

func connectPostgresPool(ctx context.Context, dbURL string, logger *logging.Logger) *pgxpool.Pool {
	if dbURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to postgres")
	return pool
}

func runAutoMigrate(db *sql.DB, logger *logging.Logger) {
	srcDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		logger.Error("auto-migrate: failed to open migrations source", "error", err)
		return
	}
	dbDriver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		logger.Error("auto-migrate: failed to create db driver", "error", err)
		return
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		logger.Error("auto-migrate: failed to create migrator", "error", err)
		return
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("auto-migrate: migration failed", "error", err)
		return
	}
	logger.Info("auto-migrate: database migrations applied")
}

func connectSQLDB(pool *pgxpool.Pool, logger *logging.Logger) *sql.DB {
	if pool == nil {
		return nil
	}
	db := stdlib.OpenDBFromPool(pool)
	if err := db.Ping(); err != nil {
		logger.Error("failed to open database/sql handle over pgx pool", "error", err)
		os.Exit(1)
	}
	return db
}
