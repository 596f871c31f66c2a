// Package store provides SQL-backed persistence for transactions and
// alerts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.StoreConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// PutTransaction upserts a transaction keyed on ID, making re-ingestion
// of a file after a partial failure idempotent.
func (s *SQLStore) PutTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}

	flags, _ := json.Marshal(tx.Flags)

	query := `
		INSERT INTO transactions (
			id, date, from_account, to_account, amount,
			description, risk_score, flags, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			from_account = excluded.from_account,
			to_account = excluded.to_account,
			amount = excluded.amount,
			description = excluded.description,
			risk_score = excluded.risk_score,
			flags = excluded.flags,
			status = excluded.status
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		tx.ID, tx.Date, tx.FromAccount, tx.ToAccount, tx.Amount.String(),
		tx.Description, tx.RiskScore, string(flags), string(tx.Status), tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLStore) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, date, from_account, to_account, amount,
			   description, risk_score, flags, status, created_at
		FROM transactions
		WHERE id = ?
	`
	row := s.db.QueryRowContext(ctx, s.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// GetAccountHistory returns transactions involving the account on
// either side with date >= since, newest first.
func (s *SQLStore) GetAccountHistory(ctx context.Context, accountID string, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, date, from_account, to_account, amount,
			   description, risk_score, flags, status, created_at
		FROM transactions
		WHERE (from_account = ? OR to_account = ?)
		  AND date >= ?
		ORDER BY date DESC, id
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), accountID, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListTransactions returns every stored transaction ordered by date
// then ID; used by the CSV export.
func (s *SQLStore) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	query := `
		SELECT id, date, from_account, to_account, amount,
			   description, risk_score, flags, status, created_at
		FROM transactions
		ORDER BY date, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// DeleteAllTransactions is the administrative bulk reset.
func (s *SQLStore) DeleteAllTransactions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM transactions`)
	return err
}

// PutAlert upserts an alert keyed on ID.
func (s *SQLStore) PutAlert(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == "" {
		return fmt.Errorf("alert id is required")
	}

	txRefs, _ := json.Marshal(alert.TxRefs)
	var amount sql.NullString
	if alert.Amount != nil {
		amount = sql.NullString{String: alert.Amount.String(), Valid: true}
	}

	query := `
		INSERT INTO alerts (
			id, type, severity, title, description, account_id,
			amount, peak_score, tx_refs, created_at, updated_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			title = excluded.title,
			description = excluded.description,
			amount = excluded.amount,
			peak_score = excluded.peak_score,
			tx_refs = excluded.tx_refs,
			updated_at = excluded.updated_at,
			status = excluded.status
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		alert.ID, string(alert.Type), string(alert.Severity), alert.Title,
		alert.Description, alert.AccountID, amount, alert.PeakScore,
		string(txRefs), alert.CreatedAt, alert.UpdatedAt, string(alert.Status),
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (s *SQLStore) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := selectAlerts + ` WHERE id = ?`
	row := s.db.QueryRowContext(ctx, s.rebind(query), alertID)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return alert, err
}

// FindOpenAlert returns the open (active or investigating) alert for
// the (account, type) pair, or ErrNotFound.
func (s *SQLStore) FindOpenAlert(ctx context.Context, accountID string, typ domain.AlertType) (*domain.Alert, error) {
	query := selectAlerts + `
		WHERE account_id = ? AND type = ? AND status IN ('active', 'investigating')
		ORDER BY created_at
		LIMIT 1
	`
	row := s.db.QueryRowContext(ctx, s.rebind(query), accountID, string(typ))
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return alert, err
}

// UpdateAlertStatus writes the new status for an alert.
// Transition legality is the lifecycle manager's concern.
func (s *SQLStore) UpdateAlertStatus(ctx context.Context, alertID string, status domain.AlertStatus, updatedAt time.Time) error {
	query := `UPDATE alerts SET status = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, s.rebind(query), string(status), updatedAt, alertID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *SQLStore) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := selectAlerts
	var conds []string
	var args []any

	if filter.AccountID != "" {
		conds = append(conds, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Severity != "" {
		conds = append(conds, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.OpenOnly {
		conds = append(conds, "status IN ('active', 'investigating')")
	}

	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	// Newest first; id breaks created_at ties in the same direction so
	// same-timestamp alerts also list latest-created first.
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// SaveRuleConfig upserts a custom detector rule.
func (s *SQLStore) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("rule id is required")
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, expression, flag, score, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			flag = excluded.flag,
			score = excluded.score,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression,
		rule.Flag, rule.Score, enabled, now, now,
	)
	return err
}

// ListRuleConfigs returns all enabled custom detector rules.
func (s *SQLStore) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, flag, score, enabled, created_at, updated_at
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int
		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression,
			&cfg.Flag, &cfg.Score, &enabled, &cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}
	return configs, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

const selectAlerts = `
	SELECT id, type, severity, title, description, account_id,
		   amount, peak_score, tx_refs, created_at, updated_at, status
	FROM alerts`

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var amount, flags, status string

	if err := row.Scan(
		&tx.ID, &tx.Date, &tx.FromAccount, &tx.ToAccount, &amount,
		&tx.Description, &tx.RiskScore, &flags, &status, &tx.CreatedAt,
	); err != nil {
		return nil, err
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", tx.ID, err)
	}
	tx.Amount = dec
	tx.Status = domain.TxStatus(status)
	tx.Date = tx.Date.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(flags), &tx.Flags); err != nil {
		return nil, fmt.Errorf("corrupt flags for transaction %s: %w", tx.ID, err)
	}
	return &tx, nil
}

func scanTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var txs []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanAlert(row scanner) (*domain.Alert, error) {
	var alert domain.Alert
	var typ, severity, status, txRefs string
	var amount sql.NullString

	if err := row.Scan(
		&alert.ID, &typ, &severity, &alert.Title, &alert.Description,
		&alert.AccountID, &amount, &alert.PeakScore, &txRefs,
		&alert.CreatedAt, &alert.UpdatedAt, &status,
	); err != nil {
		return nil, err
	}

	alert.Type = domain.AlertType(typ)
	alert.Severity = domain.Severity(severity)
	alert.Status = domain.AlertStatus(status)
	alert.CreatedAt = alert.CreatedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()

	if amount.Valid {
		dec, err := decimal.NewFromString(amount.String)
		if err != nil {
			return nil, fmt.Errorf("corrupt amount for alert %s: %w", alert.ID, err)
		}
		alert.Amount = &dec
	}
	if err := json.Unmarshal([]byte(txRefs), &alert.TxRefs); err != nil {
		return nil, fmt.Errorf("corrupt tx refs for alert %s: %w", alert.ID, err)
	}
	return &alert, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
