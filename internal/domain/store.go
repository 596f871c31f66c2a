package domain

import (
	"context"
	"time"
)

// Store is the persistence collaborator for transactions and alerts.
// The pipeline holds records only transiently; the store owns them.
// Single-record writes are atomic; the pipeline never assumes
// cross-record transactions.
type Store interface {
	// Transaction operations. PutTransaction upserts on ID so that
	// re-ingesting a file after a crash is idempotent.
	PutTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// GetAccountHistory returns transactions involving the account
	// (either side) with date >= since, newest first.
	GetAccountHistory(ctx context.Context, accountID string, since time.Time) ([]*Transaction, error)

	// ListTransactions streams all stored transactions ordered by
	// date then ID; used by the CSV export.
	ListTransactions(ctx context.Context) ([]*Transaction, error)

	// DeleteAllTransactions is the administrative bulk reset.
	DeleteAllTransactions(ctx context.Context) error

	// Alert operations.
	PutAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	FindOpenAlert(ctx context.Context, accountID string, typ AlertType) (*Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus, updatedAt time.Time) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)

	// Custom detector rule configuration.
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoreConfig holds configuration for store initialization.
type StoreConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// OpTimeout bounds every store call made by the pipeline; a
	// timeout surfaces as a per-record failure, never a batch failure.
	OpTimeout time.Duration

	// Retry policy applied by the orchestrator around store writes.
	MaxRetries   int
	RetryBackoff time.Duration
}
