// Package normalize maps heterogeneous parsed records onto the canonical
// transaction schema.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/parser"
)

// Field aliasing is an explicit table, not an ad hoc fallback chain.
// Matching is case-insensitive; unknown columns are ignored so a
// previously exported file (with risk_score/status/flags appended)
// re-imports cleanly.
var defaultAliases = map[string][]string{
	"id":           {"id", "transaction_id", "transactionid", "tx_id", "txn_id"},
	"date":         {"date", "transaction_date", "transactiondate", "value_date"},
	"from_account": {"from_account", "fromaccount", "from", "sender", "sender_account", "debtor_account"},
	"to_account":   {"to_account", "toaccount", "to", "recipient", "recipient_account", "creditor_account"},
	"amount":       {"amount", "value", "amt"},
	"description":  {"description", "desc", "memo", "narrative"},
}

// Accepted calendar-date layouts, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	time.RFC3339,
}

// Normalizer validates raw records for one batch. It is not safe for
// concurrent use: batch-local ID uniqueness relies on records arriving
// in file order.
type Normalizer struct {
	aliases map[string]string // lowercased alias -> canonical field
	now     func() time.Time
	seen    map[string]struct{}
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithClock fixes the ingestion clock, used by generated IDs and
// CreatedAt. Tests rely on this for determinism.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithAliases adds extra alias -> canonical field mappings on top of the
// default table.
func WithAliases(table map[string][]string) Option {
	return func(n *Normalizer) {
		for canonical, names := range table {
			for _, name := range names {
				n.aliases[strings.ToLower(name)] = canonical
			}
		}
	}
}

// New creates a Normalizer for a single batch.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		aliases: make(map[string]string),
		now:     time.Now,
		seen:    make(map[string]struct{}),
	}
	for canonical, names := range defaultAliases {
		for _, name := range names {
			n.aliases[strings.ToLower(name)] = canonical
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize validates one record into a Transaction or returns a
// *domain.ValidationError naming the offending field. Failed records are
// dropped by the caller; they never abort the file.
func (n *Normalizer) Normalize(rec parser.Record) (*domain.Transaction, error) {
	fields := n.canonicalize(rec)

	date, err := n.parseDate(fields["date"])
	if err != nil {
		return nil, err
	}

	from := strings.TrimSpace(fields["from_account"])
	if from == "" {
		return nil, &domain.ValidationError{Field: "from_account", Reason: "required"}
	}
	to := strings.TrimSpace(fields["to_account"])
	if to == "" {
		return nil, &domain.ValidationError{Field: "to_account", Reason: "required"}
	}

	amount, err := n.parseAmount(fields["amount"])
	if err != nil {
		return nil, err
	}

	now := n.now().UTC()
	tx := &domain.Transaction{
		ID:          n.assignID(fields["id"], now),
		Date:        date,
		FromAccount: from,
		ToAccount:   to,
		Amount:      amount,
		Description: fields["description"],
		Status:      domain.TxStatusNormal,
		CreatedAt:   now,
	}
	return tx, nil
}

// canonicalize folds record keys through the alias table, dropping
// unknown columns.
func (n *Normalizer) canonicalize(rec parser.Record) map[string]string {
	out := make(map[string]string, len(defaultAliases))
	for key, val := range rec {
		canonical, ok := n.aliases[strings.ToLower(strings.TrimSpace(key))]
		if !ok {
			continue
		}
		// First non-empty value wins when two aliases collide.
		if existing := out[canonical]; existing == "" {
			out[canonical] = val
		}
	}
	return out
}

func (n *Normalizer) parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, &domain.ValidationError{Field: "date", Reason: "required"}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, &domain.ValidationError{Field: "date", Reason: fmt.Sprintf("unparseable date %q", raw)}
}

func (n *Normalizer) parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: "required"}
	}
	cleaned := strings.ReplaceAll(strings.TrimPrefix(raw, "$"), ",", "")
	amount, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: fmt.Sprintf("not a number: %q", raw)}
	}
	if amount.IsNegative() {
		return decimal.Zero, &domain.ValidationError{Field: "amount", Reason: "must be non-negative"}
	}
	return amount, nil
}

// assignID keeps a caller-supplied ID when it is unique within the batch;
// otherwise it derives <original-or-random>-<ingestion-timestamp>.
func (n *Normalizer) assignID(original string, now time.Time) string {
	base := strings.TrimSpace(original)
	generated := base == ""
	if generated {
		base = uuid.NewString()[:8]
	}

	id := base
	if _, dup := n.seen[id]; generated || dup {
		id = fmt.Sprintf("%s-%d", base, now.Unix())
	}
	for {
		if _, dup := n.seen[id]; !dup {
			break
		}
		id = fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
	}

	n.seen[id] = struct{}{}
	return id
}
