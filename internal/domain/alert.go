package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType identifies the pattern family that raised an alert.
type AlertType string

const (
	AlertTypePattern   AlertType = "pattern"
	AlertTypeAmount    AlertType = "amount"
	AlertTypeFrequency AlertType = "frequency"
	AlertTypeRecipient AlertType = "recipient"
)

// Severity is the alert-level criticality derived from the contributing
// transactions' peak risk score.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// AlertStatus is the investigation workflow state of an alert.
type AlertStatus string

const (
	AlertStatusActive        AlertStatus = "active"
	AlertStatusInvestigating AlertStatus = "investigating"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusDismissed     AlertStatus = "dismissed"
)

// IsOpen reports whether the status still accepts new triggering evidence.
func (s AlertStatus) IsOpen() bool {
	return s == AlertStatusActive || s == AlertStatusInvestigating
}

// IsTerminal reports whether the status permits no further transitions.
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed
}

// Alert is a reviewable finding promoted from high-risk transactions.
// At most one open alert exists per (account, type) pair; repeated
// detector hits merge into the existing alert instead of duplicating it.
// Alerts are never deleted, only transitioned to a terminal status.
type Alert struct {
	ID          string    `json:"id"`
	Type        AlertType `json:"type"`
	Severity    Severity  `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	AccountID   string    `json:"accountId"`

	// Representative amount from the most significant contributing
	// transaction, if applicable.
	Amount *decimal.Decimal `json:"amount,omitempty"`

	// PeakScore is the highest risk score among contributing
	// transactions; severity is derived from it.
	PeakScore float64 `json:"peakScore"`

	// TxRefs lists contributing transaction IDs in merge order.
	TxRefs []string `json:"txRefs"`

	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Status    AlertStatus `json:"status"`
}

// SeverityForScore maps a peak risk score to an alert severity using the
// same thresholds as StatusForScore: high is the flagged-equivalent band.
func SeverityForScore(score float64, t SeverityThresholds) Severity {
	switch {
	case score >= t.High:
		return SeverityHigh
	case score >= t.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// AlertFilter narrows ListAlerts results. Zero values match everything.
type AlertFilter struct {
	AccountID string
	Type      AlertType
	Severity  Severity
	Status    AlertStatus
	OpenOnly  bool
}

// Matches reports whether an alert satisfies the filter.
func (f AlertFilter) Matches(a *Alert) bool {
	if f.AccountID != "" && a.AccountID != f.AccountID {
		return false
	}
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.OpenOnly && !a.Status.IsOpen() {
		return false
	}
	return true
}

// AlertSummary holds aggregate counts over stored alerts.
type AlertSummary struct {
	Total      int                 `json:"total"`
	ByStatus   map[AlertStatus]int `json:"byStatus"`
	BySeverity map[Severity]int    `json:"bySeverity"`
	ByType     map[AlertType]int   `json:"byType"`
}
