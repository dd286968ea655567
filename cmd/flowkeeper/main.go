package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/flowkeeper/flowkeeper/internal/bot"
	"github.com/flowkeeper/flowkeeper/internal/flow"
	"github.com/flowkeeper/flowkeeper/internal/lockfile"
	"github.com/flowkeeper/flowkeeper/internal/messaging"
	"github.com/flowkeeper/flowkeeper/internal/store"
	"github.com/flowkeeper/flowkeeper/internal/telegram"
	"github.com/flowkeeper/flowkeeper/internal/util"
)

const (
	// DefaultStateDir is the default directory for Flowkeeper state data.
	DefaultStateDir = "/var/lib/flowkeeper"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "flowkeeper.db"
)

func main() {
	debug := util.BoolEnv("FLOWKEEPER_DEBUG", false)
	initializeLogger(debug)

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// One bot per state directory; a second instance would double-deliver.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	if err := run(flags, debug); err != nil {
		slog.Error("Flowkeeper failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("Flowkeeper exited successfully")
}

func run(flags Flags, debug bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := telegram.NewClient(buildTelegramOptions(flags, debug)...)
	if err != nil {
		return err
	}

	svc := messaging.NewTelegramService(client, buildMessagingOptions(flags)...)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	renderer := flow.NewRenderer(st, st, st, svc, buildRendererOptions(flags)...)
	triggers := flow.NewTriggers(renderer)
	runner := flow.NewRunner(renderer)
	router := bot.NewBot(st, svc, renderer, triggers, buildBotOptions(flags)...)

	slog.Info("Bootstrapping Flowkeeper", "stateDir", *flags.stateDir, "dsnType", store.DetectDSNType(*flags.dbDSN), "bot", client.Username())

	done := make(chan struct{})
	go func() {
		defer close(done)
		runner.Run(ctx)
	}()
	router.Run(ctx)
	<-done
	return nil
}

// Config holds environment configuration.
type Config struct {
	BotToken       string
	DatabaseURL    string
	StateDir       string
	MediaDir       string
	MediaBaseURL   string
	SupportContact string
	WebsiteURL     string
	FinalFlow      string
}

// Flags holds command line flag values.
type Flags struct {
	botToken       *string
	stateDir       *string
	dbDSN          *string
	mediaDir       *string
	mediaBaseURL   *string
	supportContact *string
	websiteURL     *string
	finalFlow      *string
	qrOutput       *string
	showQR         *bool
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		BotToken:       os.Getenv("BOT_TOKEN"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("FLOWKEEPER_STATE_DIR"),
		MediaDir:       os.Getenv("MEDIA_DIR"),
		MediaBaseURL:   os.Getenv("CRM_BASE_URL"),
		SupportContact: os.Getenv("SUPPORT_CONTACT"),
		WebsiteURL:     os.Getenv("WEBSITE_URL"),
		FinalFlow:      os.Getenv("FINAL_FLOW"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FLOWKEEPER_STATE_DIR set, using default", "stateDir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"BOT_TOKEN_SET", config.BotToken != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FLOWKEEPER_STATE_DIR", config.StateDir,
		"MEDIA_DIR", config.MediaDir,
		"CRM_BASE_URL_SET", config.MediaBaseURL != "",
		"FINAL_FLOW", config.FinalFlow)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		botToken:       flag.String("bot-token", config.BotToken, "Telegram bot token (overrides $BOT_TOKEN)"),
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for Flowkeeper data (overrides $FLOWKEEPER_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		mediaDir:       flag.String("media-dir", config.MediaDir, "directory console uploads are read from (overrides $MEDIA_DIR)"),
		mediaBaseURL:   flag.String("media-base-url", config.MediaBaseURL, "public base URL for console media (overrides $CRM_BASE_URL)"),
		supportContact: flag.String("support-contact", config.SupportContact, "support handle shown to users (overrides $SUPPORT_CONTACT)"),
		websiteURL:     flag.String("website-url", config.WebsiteURL, "website linked from the menu (overrides $WEBSITE_URL)"),
		finalFlow:      flag.String("final-flow", config.FinalFlow, "flow whose completion unlocks the lessons menu (overrides $FINAL_FLOW)"),
		qrOutput:       flag.String("qr-output", "", "path to write the bot deep-link QR code"),
		showQR:         flag.Bool("show-qr", false, "print the bot deep-link QR code on startup"),
	}

	flag.Parse()

	if *flags.botToken == "" {
		slog.Error("Bot token not set; provide $BOT_TOKEN or -bot-token")
		os.Exit(1)
	}

	// A moved state directory drags the default SQLite path along with it.
	if *flags.stateDir != config.StateDir && *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated db-dsn for moved state directory", "dsn", *flags.dbDSN)
	}
	if *flags.mediaDir == "" {
		*flags.mediaDir = filepath.Join(*flags.stateDir, "media")
	}

	return flags
}

// ensureDirectoriesExist creates directories for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) != "postgres" {
		dbDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return err
		}
	}
	return os.MkdirAll(*flags.stateDir, 0o755)
}

func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN", "dsnType", "postgres")
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	slog.Debug("Detected SQLite DSN", "dsnType", "sqlite", "path", *flags.dbDSN)
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}

func buildTelegramOptions(flags Flags, debug bool) []telegram.Option {
	opts := []telegram.Option{telegram.WithToken(*flags.botToken)}
	if debug {
		opts = append(opts, telegram.WithDebug())
	}
	if *flags.qrOutput != "" {
		opts = append(opts, telegram.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.showQR {
		opts = append(opts, telegram.WithStartupQR())
	}
	return opts
}

func buildMessagingOptions(flags Flags) []messaging.ServiceOption {
	var opts []messaging.ServiceOption
	if *flags.mediaDir != "" {
		opts = append(opts, messaging.WithMediaDir(*flags.mediaDir))
	}
	if *flags.mediaBaseURL != "" {
		opts = append(opts, messaging.WithMediaBaseURL(*flags.mediaBaseURL))
	}
	return opts
}

func buildRendererOptions(flags Flags) []flow.RendererOption {
	var opts []flow.RendererOption
	if *flags.finalFlow != "" {
		opts = append(opts, flow.WithCourseCompleteFlow(*flags.finalFlow))
	}
	return opts
}

func buildBotOptions(flags Flags) []bot.Option {
	var opts []bot.Option
	if *flags.supportContact != "" {
		opts = append(opts, bot.WithSupportContact(*flags.supportContact))
	}
	if *flags.websiteURL != "" {
		opts = append(opts, bot.WithWebsiteURL(*flags.websiteURL))
	}
	return opts
}
