package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mediremind/mediremind/internal/config"
	"github.com/mediremind/mediremind/internal/domain/account"
	"github.com/mediremind/mediremind/internal/domain/medication"
	"github.com/mediremind/mediremind/internal/domain/medlog"
	"github.com/mediremind/mediremind/internal/domain/reminder"
	"github.com/mediremind/mediremind/internal/platform/auth"
	"github.com/mediremind/mediremind/internal/platform/clock"
	"github.com/mediremind/mediremind/internal/platform/db"
	"github.com/mediremind/mediremind/internal/platform/middleware"
	"github.com/mediremind/mediremind/internal/platform/notification"
	"github.com/mediremind/mediremind/internal/platform/seed"
)

// defaultDevAccountID is the account every request acts as under the dev
// auth middleware when DEV_ACCOUNT_ID is not set. The seed migration
// creates it.
const defaultDevAccountID = "00000000-0000-0000-0000-000000000001"

// directoryAdapter exposes the account service to the notifier through its
// view types, avoiding a dependency from the notification package on the
// account domain.
type directoryAdapter struct {
	accounts *account.Service
}

func (a *directoryAdapter) Contact(ctx context.Context, accountID uuid.UUID) (*notification.Contact, error) {
	c, err := a.accounts.Contact(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &notification.Contact{Name: c.Name, Mobile: c.Mobile, Active: c.Active}, nil
}

func (a *directoryAdapter) Subscriptions(ctx context.Context, accountID uuid.UUID) ([]notification.Subscription, error) {
	subs, err := a.accounts.Subscriptions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return subscriptionViews(subs), nil
}

func (a *directoryAdapter) RemoveEndpoint(ctx context.Context, endpoint string) error {
	return a.accounts.RemoveEndpoint(ctx, endpoint)
}

// notifierAdapter hands due reminders from the dispatcher to the
// notification manager.
type notifierAdapter struct {
	manager *notification.Manager
}

func (a *notifierAdapter) SendReminder(ctx context.Context, due *reminder.Due) bool {
	return a.manager.SendReminder(ctx, dueNotification(due))
}

// intakeLogAdapter records reminder status transitions in the adherence
// history. It runs inside the caller's transaction, so the log entry
// commits together with the status flip.
type intakeLogAdapter struct {
	logs *medlog.Service
}

func (a *intakeLogAdapter) LogIntake(ctx context.Context, entry reminder.IntakeEntry) error {
	in := medlog.CreateInput{
		MedicationID: entry.MedicationID,
		Action:       medlog.Action(entry.Action),
		Source:       medlog.SourceReminder,
		TakenAt:      &entry.At,
		Notes:        entry.Notes,
	}
	if entry.ReminderID != uuid.Nil {
		id := entry.ReminderID
		in.ReminderID = &id
	}
	_, err := a.logs.Log(ctx, entry.AccountID, in)
	return err
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "mediremind-server",
		Short: "Medication reminder API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(dispatchCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(vapidKeygenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server with the background dispatcher and generator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one reminder generation pass over all active medications",
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(cfg, pool, logger)
			if days > 0 {
				app.generator.DaysAhead = days
			}
			created, err := app.generator.RunOnce(ctx)
			if err != nil {
				return fmt.Errorf("generation pass failed: %w", err)
			}
			fmt.Printf("Created %d reminder(s).\n", created)
			return nil
		},
	}
	cmd.Flags().Int("days", 0, "Days ahead to generate (defaults to GENERATION_DAYS_AHEAD)")
	return cmd
}

func dispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatcher pass over due reminders",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(cfg, pool, logger)
			stats := app.dispatcher.RunOnce(ctx)
			fmt.Printf("Swept %d, claimed %d, sent %d, released %d.\n",
				stats.Swept, stats.Claimed, stats.Sent, stats.Released)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Populate a development database with demo accounts, medications and history",
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts, _ := cmd.Flags().GetInt("accounts")
			meds, _ := cmd.Flags().GetInt("medications")
			days, _ := cmd.Flags().GetInt("history-days")
			seedVal, _ := cmd.Flags().GetInt64("seed")

			logger := newLogger()
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			app := buildApp(cfg, pool, logger)

			seedCfg := seed.DefaultConfig()
			if accounts > 0 {
				seedCfg.Accounts = accounts
			}
			if meds > 0 {
				seedCfg.MedicationsPerAccount = meds
			}
			if days > 0 {
				seedCfg.HistoryDays = days
			}
			seedCfg.Seed = seedVal

			result, err := seed.New(seedCfg, pool, app.medications, app.logs, logger).Run(ctx)
			if err != nil {
				return fmt.Errorf("seeding failed: %w", err)
			}
			fmt.Printf("Seeded %d account(s), %d medication(s), %d reminder(s), %d log entries in %s.\n",
				result.Accounts, result.Medications, result.Reminders, result.Logs,
				result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().Int("accounts", 0, "Demo accounts to create (default 3)")
	cmd.Flags().Int("medications", 0, "Medications per account (default 4)")
	cmd.Flags().Int("history-days", 0, "Days of adherence history to backfill (default 14)")
	cmd.Flags().Int64("seed", 0, "Random seed for reproducible demo data (0 picks one)")
	return cmd
}

func vapidKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vapid-keygen",
		Short: "Generate a VAPID key pair for web push configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			private, public, err := notification.GenerateVAPIDKeys()
			if err != nil {
				return fmt.Errorf("key generation failed: %w", err)
			}
			fmt.Printf("VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", public, private)
			return nil
		},
	}
}

// app bundles the wired services and engines shared by the serve command
// and the one-shot passes.
type app struct {
	accounts    *account.Service
	medications *medication.Service
	logs        *medlog.Service
	reminders   *reminder.Service
	dispatcher  *reminder.Dispatcher
	generator   *reminder.Generator
}

func buildApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) *app {
	clk := clock.System{}
	txRunner := db.NewTxRunner(pool)

	acctRepo := account.NewRepoPG(pool)
	medRepo := medication.NewRepoPG(pool)
	remRepo := reminder.NewRepoPG(pool)
	logRepo := medlog.NewRepoPG(pool)

	accounts := account.NewService(acctRepo, logger)
	logs := medlog.NewService(logRepo, medRepo, clk, logger)
	reminders := reminder.NewService(remRepo, medRepo, &intakeLogAdapter{logs: logs}, txRunner, clk, logger)
	medications := medication.NewService(medRepo, reminders, logs, txRunner, logger)

	templates := notification.NewTemplateEngine()
	if cfg.NotifyTemplatesFile != "" {
		if err := templates.LoadOverrides(cfg.NotifyTemplatesFile); err != nil {
			logger.Warn().Err(err).
				Str("path", cfg.NotifyTemplatesFile).
				Msg("loading template overrides failed, using built-ins")
		}
	}

	notifier := notification.NewManager(
		&directoryAdapter{accounts: accounts},
		buildPushSender(cfg, logger),
		buildSMSSender(cfg, logger),
		templates,
		cfg.ContactCacheTTL,
		logger,
	)
	accounts.OnSubscriptionChange(notifier.InvalidateAccount)

	dispatcher := reminder.NewDispatcher(remRepo, &notifierAdapter{manager: notifier}, clk, logger)
	dispatcher.Interval = cfg.DispatchInterval
	dispatcher.GracePeriod = cfg.DispatchGracePeriod
	dispatcher.BatchSize = cfg.DispatchBatchSize
	dispatcher.Concurrency = cfg.DispatchConcurrency

	generator := reminder.NewGenerator(reminders, logger)
	generator.Interval = cfg.GenerationInterval
	generator.DaysAhead = cfg.GenerationDaysAhead

	return &app{
		accounts:    accounts,
		medications: medications,
		logs:        logs,
		reminders:   reminders,
		dispatcher:  dispatcher,
		generator:   generator,
	}
}

func runServer() error {
	logger := newLogger()

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	app := buildApp(cfg, pool, logger)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit("1M"))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.RequestTimeout(30 * time.Second))

	// Health checks
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Cron endpoints authenticate with the shared secret header, so they
	// mount outside the bearer middleware.
	cronHandler := reminder.NewCronHandler(app.dispatcher, app.generator, cfg.CronSecret)
	cronHandler.RegisterRoutes(apiV1)

	// Account-scoped API
	authed := apiV1.Group("")
	if cfg.IsDev() {
		devAccount, err := resolveDevAccount(os.Getenv("DEV_ACCOUNT_ID"))
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid DEV_ACCOUNT_ID")
		}
		logger.Warn().
			Str("account_id", devAccount.String()).
			Msg("dev auth active; every request acts as this account")
		authed.Use(auth.DevMiddleware(devAccount))
	} else {
		authed.Use(auth.Middleware([]byte(cfg.JWTSecret)))
	}

	account.NewHandler(app.accounts, cfg.VAPIDPublicKey).RegisterRoutes(authed)
	medication.NewHandler(app.medications).RegisterRoutes(authed)
	medlog.NewHandler(app.logs).RegisterRoutes(authed)
	reminder.NewHandler(app.reminders).RegisterRoutes(authed)

	// Background engines
	engineCtx, engineCancel := context.WithCancel(ctx)
	defer engineCancel()
	go app.dispatcher.Start(engineCtx)
	go app.generator.Start(engineCtx)
	logger.Info().
		Dur("dispatch_interval", app.dispatcher.Interval).
		Dur("generation_interval", app.generator.Interval).
		Int("days_ahead", app.generator.DaysAhead).
		Msg("background engines started")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	engineCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// buildPushSender returns the web push sender, or a sender that fails every
// delivery when no VAPID identity is configured so the manager falls
// through to SMS.
func buildPushSender(cfg *config.Config, logger zerolog.Logger) notification.PushSender {
	if cfg.VAPIDPublicKey == "" {
		logger.Warn().Msg("VAPID keys not configured; web push disabled")
		return disabledPushSender{}
	}
	return notification.NewWebPushSender(notification.WebPushConfig{
		Subscriber:      cfg.VAPIDSubject,
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
	}, logger)
}

// buildSMSSender returns the SMS gateway sender, or a sender that fails
// every delivery when the gateway credentials are not configured.
func buildSMSSender(cfg *config.Config, logger zerolog.Logger) notification.SMSSender {
	if cfg.SMSUsername == "" || cfg.SMSAPIKey == "" {
		logger.Warn().Msg("SMS gateway not configured; sms fallback disabled")
		return disabledSMSSender{}
	}
	return notification.NewGatewaySMSSender(notification.SMSConfig{
		BaseURL:  cfg.SMSGatewayURL,
		Username: cfg.SMSUsername,
		APIKey:   cfg.SMSAPIKey,
		SenderID: cfg.SMSSenderID,
		// The gateway routes sandbox traffic by this reserved username.
		Sandbox:       strings.EqualFold(cfg.SMSUsername, "sandbox"),
		RatePerSecond: cfg.SMSRateLimitRPS,
	}, logger)
}

type disabledPushSender struct{}

func (disabledPushSender) SendPush(context.Context, notification.Subscription, notification.PushPayload) error {
	return errors.New("web push not configured")
}

type disabledSMSSender struct{}

func (disabledSMSSender) SendSMS(context.Context, string, string) error {
	return errors.New("sms gateway not configured")
}

// dueNotification converts the dispatcher's view of a due reminder into
// the notifier's.
func dueNotification(due *reminder.Due) notification.Reminder {
	return notification.Reminder{
		ID:             due.ID,
		AccountID:      due.AccountID,
		MedicationName: due.MedicationName,
		Dosage:         due.MedicationDosage,
		ScheduledTime:  due.ScheduledTime,
	}
}

// subscriptionViews converts stored push subscriptions into the notifier's
// view type.
func subscriptionViews(subs []*account.PushSubscription) []notification.Subscription {
	out := make([]notification.Subscription, 0, len(subs))
	for _, s := range subs {
		out = append(out, notification.Subscription{
			Endpoint: s.Endpoint,
			P256dh:   s.P256dh,
			Auth:     s.Auth,
		})
	}
	return out
}

// resolveDevAccount returns the account the dev auth middleware uses.
// DEV_ACCOUNT_ID overrides the seeded default so a database with real
// accounts can be exercised directly.
func resolveDevAccount(envValue string) (uuid.UUID, error) {
	if envValue == "" {
		return uuid.MustParse(defaultDevAccountID), nil
	}
	id, err := uuid.Parse(envValue)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid DEV_ACCOUNT_ID %q: %w", envValue, err)
	}
	return id, nil
}
