package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/joshuahuffman02/Keepr-sub004/internal/gateway/stripegw"
	"github.com/joshuahuffman02/Keepr-sub004/internal/httpserver"
	"github.com/joshuahuffman02/Keepr-sub004/internal/notify"
	"github.com/joshuahuffman02/Keepr-sub004/internal/oplog"
	"github.com/joshuahuffman02/Keepr-sub004/internal/store/gormstore"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/booking"
	"github.com/joshuahuffman02/Keepr-sub004/pkg/ledger"
)

const (
	flagDatabaseURL   = "database-url"
	flagListenAddr    = "listen-addr"
	flagStripeAPIKey  = "stripe-api-key"
	flagWebhookSecret = "webhook-secret"
	flagNightlyRate   = "nightly-rate-cents"
	flagMoneyKeyTTL   = "money-key-retention"
	flagReadKeyTTL    = "read-key-retention"

	configKeyDatabaseURL   = "database_url"
	configKeyListenAddr    = "listen_addr"
	configKeyStripeAPIKey  = "stripe_api_key"
	configKeyWebhookSecret = "webhook_secret"
	configKeyNightlyRate   = "nightly_rate_cents"
	configKeyMoneyKeyTTL   = "money_key_retention"
	configKeyReadKeyTTL    = "read_key_retention"

	defaultDatabaseURL = "sqlite:///tmp/bookingd.db"
	defaultListenAddr  = ":8080"
	defaultNightlyRate = int64(10000)
)

type runtimeConfig struct {
	DatabaseURL       string
	ListenAddr        string
	StripeAPIKey      string
	WebhookSecret     string
	NightlyRateCents  int64
	MoneyKeyRetention time.Duration
	ReadKeyRetention  time.Duration
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Reservation and ledger HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL or sqlite connection string")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStripeAPIKey, "", "Stripe secret API key")
	cmd.Flags().String(flagWebhookSecret, "", "Stripe webhook signing secret")
	cmd.Flags().Int64(flagNightlyRate, defaultNightlyRate, "Flat nightly rate in cents")
	cmd.Flags().Duration(flagMoneyKeyTTL, 0, "Retention for money-movement idempotency keys (0 keeps the default)")
	cmd.Flags().Duration(flagReadKeyTTL, 0, "Retention for read-only idempotency keys (0 keeps the default)")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:   "DATABASE_URL",
		configKeyListenAddr:    "LISTEN_ADDR",
		configKeyStripeAPIKey:  "STRIPE_API_KEY",
		configKeyWebhookSecret: "STRIPE_WEBHOOK_SECRET",
		configKeyNightlyRate:   "NIGHTLY_RATE_CENTS",
		configKeyMoneyKeyTTL:   "MONEY_KEY_RETENTION",
		configKeyReadKeyTTL:    "READ_KEY_RETENTION",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:   flagDatabaseURL,
		configKeyListenAddr:    flagListenAddr,
		configKeyStripeAPIKey:  flagStripeAPIKey,
		configKeyWebhookSecret: flagWebhookSecret,
		configKeyNightlyRate:   flagNightlyRate,
		configKeyMoneyKeyTTL:   flagMoneyKeyTTL,
		configKeyReadKeyTTL:    flagReadKeyTTL,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.StripeAPIKey = viper.GetString(configKeyStripeAPIKey)
	cfg.WebhookSecret = viper.GetString(configKeyWebhookSecret)
	cfg.NightlyRateCents = viper.GetInt64(configKeyNightlyRate)
	if cfg.NightlyRateCents <= 0 {
		cfg.NightlyRateCents = defaultNightlyRate
	}
	cfg.MoneyKeyRetention = viper.GetDuration(configKeyMoneyKeyTTL)
	cfg.ReadKeyRetention = viper.GetDuration(configKeyReadKeyTTL)
	if cfg.StripeAPIKey == "" {
		return fmt.Errorf("stripe api key is required")
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer cleanup()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }

	postings, err := ledger.NewService(
		gormstore.NewLedgerStore(gormDB),
		clock,
		ledger.WithOperationLogger(oplog.NewLedgerLogger(logger)),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	gateway, err := stripegw.NewGateway(cfg.StripeAPIKey)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	dispatcher := notify.NewDispatcher(logger, 0)
	defer dispatcher.Close()

	bookingOptions := []booking.ServiceOption{
		booking.WithOperationLogger(oplog.NewBookingLogger(logger)),
		booking.WithEventPublisher(dispatcher),
	}
	if cfg.MoneyKeyRetention > 0 || cfg.ReadKeyRetention > 0 {
		bookingOptions = append(bookingOptions, booking.WithIdempotencyRetention(cfg.MoneyKeyRetention, cfg.ReadKeyRetention))
	}
	bookings, err := booking.NewService(
		gormstore.NewBookingStore(gormDB),
		postings,
		gateway,
		booking.FlatNightlyRate(cfg.NightlyRateCents),
		clock,
		bookingOptions...,
	)
	if err != nil {
		return fmt.Errorf("booking service init: %w", err)
	}

	server, err := httpserver.NewServer(logger, bookings, postings, httpserver.Config{
		ListenAddr:           cfg.ListenAddr,
		WebhookSigningSecret: cfg.WebhookSecret,
	})
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormCfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormCfg)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "bookingd.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
