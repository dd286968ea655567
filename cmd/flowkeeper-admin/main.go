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

	"github.com/flowkeeper/flowkeeper/internal/admin"
	"github.com/flowkeeper/flowkeeper/internal/store"
	"github.com/flowkeeper/flowkeeper/internal/util"
)

const (
	// DefaultStateDir is the default directory for Flowkeeper state data.
	DefaultStateDir = "/var/lib/flowkeeper"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "flowkeeper.db"
)

// The console shares the bot's database but takes no state-directory lock:
// both processes are meant to run side by side.
func main() {
	initializeLogger(util.BoolEnv("FLOWKEEPER_DEBUG", false))

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("Console failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Console exited successfully")
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.NewStore(buildStoreOptions(flags)...)
	if err != nil {
		return err
	}
	defer st.Close()

	srv, err := admin.NewServer(st,
		admin.WithAddr(*flags.addr),
		admin.WithMediaDir(*flags.mediaDir),
	)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL string
	StateDir    string
	MediaDir    string
	Addr        string
}

// Flags holds command line flag values.
type Flags struct {
	addr     *string
	stateDir *string
	dbDSN    *string
	mediaDir *string
}

func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    util.StringEnv("FLOWKEEPER_STATE_DIR", DefaultStateDir),
		MediaDir:    os.Getenv("MEDIA_DIR"),
		Addr:        util.StringEnv("ADMIN_ADDR", admin.DefaultAddr),
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	return config
}

func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		addr:     flag.String("addr", config.Addr, "console listen address (overrides $ADMIN_ADDR)"),
		stateDir: flag.String("state-dir", config.StateDir, "state directory for Flowkeeper data (overrides $FLOWKEEPER_STATE_DIR)"),
		dbDSN:    flag.String("db-dsn", config.DatabaseURL, "database DSN, SQLite path or postgres:// URL (overrides $DATABASE_URL)"),
		mediaDir: flag.String("media-dir", config.MediaDir, "directory uploads are written to (overrides $MEDIA_DIR)"),
	}

	flag.Parse()

	if *flags.stateDir != config.StateDir && *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
	}
	if *flags.mediaDir == "" {
		*flags.mediaDir = filepath.Join(*flags.stateDir, "media")
	}

	return flags
}

func buildStoreOptions(flags Flags) []store.Option {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return []store.Option{store.WithPostgresDSN(*flags.dbDSN)}
	}
	return []store.Option{store.WithSQLiteDSN(*flags.dbDSN)}
}
