// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxStatus classifies a transaction by its risk score.
type TxStatus string

const (
	TxStatusNormal     TxStatus = "normal"
	TxStatusSuspicious TxStatus = "suspicious"
	TxStatusFlagged    TxStatus = "flagged"
)

// Transaction is a normalized, scored transaction record.
// Once persisted it is immutable; only an explicit re-analysis request
// re-runs scoring.
type Transaction struct {
	ID string `json:"id"`

	// Calendar date of the transaction, no time component.
	// Stored as midnight UTC.
	Date time.Time `json:"date"`

	FromAccount string `json:"fromAccount"`
	ToAccount   string `json:"toAccount"`

	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`

	// Scoring output. RiskScore is in [0, 10]; Flags preserves
	// detection order.
	RiskScore float64  `json:"riskScore"`
	Flags     []string `json:"flags"`
	Status    TxStatus `json:"status"`

	CreatedAt time.Time `json:"createdAt"`
}

// SeverityThresholds hold the score cut-offs shared by transaction status
// and alert severity.
type SeverityThresholds struct {
	// High (score >= High) maps to flagged / high.
	High float64 `json:"high"`
	// Medium (High > score >= Medium) maps to suspicious / medium.
	Medium float64 `json:"medium"`
}

// DefaultSeverityThresholds returns the standard 7/4 cut-offs.
func DefaultSeverityThresholds() SeverityThresholds {
	return SeverityThresholds{High: 7.0, Medium: 4.0}
}

// StatusForScore maps a risk score to a transaction status. This is the
// single place the score bands live; alert severity reuses the same
// thresholds via SeverityForScore.
func StatusForScore(score float64, t SeverityThresholds) TxStatus {
	switch {
	case score >= t.High:
		return TxStatusFlagged
	case score >= t.Medium:
		return TxStatusSuspicious
	default:
		return TxStatusNormal
	}
}

// HasFlag reports whether a detector flag is present on the transaction.
func (t *Transaction) HasFlag(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// InvolvedAccounts returns the accounts touched by the transaction,
// sender first.
func (t *Transaction) InvolvedAccounts() []string {
	if t.FromAccount == t.ToAccount {
		return []string{t.FromAccount}
	}
	return []string{t.FromAccount, t.ToAccount}
}
