// Package store provides storage backends for Flowkeeper.
//
// It implements SQLite and PostgreSQL stores behind shared repository
// interfaces for flows, durable jobs, and user records.
package store

import (
	"strings"

	"github.com/flowkeeper/flowkeeper/internal/models"
)

// FlowRepo is the authoring-side repository: flows, blocks, modes, triggers,
// and post-flow actions. The engine reads it; only the console mutates it.
type FlowRepo interface {
	ListFlows() ([]models.Flow, error)
	CreateFlow(name string) error
	DeleteFlow(name string) error
	MoveFlow(name string, direction string) error

	ListBlocks(flow string) ([]models.Block, error)
	ListActiveBlocks(flow string) ([]models.Block, error)
	GetBlock(id int64) (*models.Block, error)
	CreateBlock(b models.Block) (int64, error)
	UpdateBlock(b models.Block) error
	DeleteBlock(id int64) error
	SwapBlockPositions(idA, idB int64) error
	NextBlockPosition(flow string) (int, error)

	GetFlowModes() (map[string]models.FlowMode, error)
	SetFlowMode(flow string, mode models.FlowMode) error

	ListTriggers() ([]models.FlowTrigger, error)
	SetTrigger(t models.FlowTrigger) error
	DeleteTrigger(flow string) error

	// ListActions returns post-flow actions; an empty afterFlow returns all.
	ListActions(afterFlow string) ([]models.FlowAction, error)
	GetAction(id int64) (*models.FlowAction, error)
	CreateAction(a models.FlowAction) (int64, error)
	UpdateAction(a models.FlowAction) error
	DeleteAction(id int64) error
}

// JobRepo is the durable job queue. Jobs are idempotent per (user, key):
// re-enqueuing overwrites run_at and clears done instead of duplicating.
// Timestamps are unix seconds.
type JobRepo interface {
	UpsertJob(userID int64, key string, runAt int64) error

	// FetchDueJobs returns up to limit jobs with run_at <= now and done unset,
	// ordered by run_at ascending.
	FetchDueJobs(now int64, limit int) ([]models.Job, error)

	// MarkJobDone marks a job consumed. Safe to call twice.
	MarkJobDone(id int64) error

	// MarkJobDoneByUserAndKey pre-empts a pending job by its logical key,
	// used when a gate press makes its reminder moot.
	MarkJobDoneByUserAndKey(userID int64, key string) error

	CountPendingJobs() (int64, error)
}

// UserRepo holds analytics counters, per-user durable state, and
// gate-press records.
type UserRepo interface {
	IncStart(userID int64, username string) error
	IncMessage(userID int64, username string) error
	ListUsers(limit int) ([]models.BotUser, error)
	ListUserIDs() ([]int64, error)
	GetStats() (models.UserStats, error)

	GetUserState(userID int64) (map[string]string, error)
	SetUserStateValue(userID int64, key, value string) error

	// MarkGatePressed records an acknowledgment. Re-pressing is a no-op; the
	// record is never deleted.
	MarkGatePressed(userID, blockID int64) error
	IsGatePressed(userID, blockID int64) (bool, error)
}

// Store is the full persistence surface shared by the bot and the console.
type Store interface {
	FlowRepo
	JobRepo
	UserRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore opens the backend matching the DSN type.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(cfg.DSN))
	}
	return NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
}
