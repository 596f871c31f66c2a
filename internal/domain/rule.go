package domain

import "time"

// RuleConfig defines an operator-supplied custom detector. The expression
// is CEL over the transaction and its history aggregates; when it yields
// true (or a positive number) the rule's flag is appended and Score
// contributes to the weighted sum like a builtin detector.
type RuleConfig struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Expression is the CEL source, e.g.
	// `amount > 25000.0 && window_count >= 3`.
	Expression string `json:"expression"`

	// Flag is the detector name recorded on matching transactions.
	Flag string `json:"flag"`

	// Score is the base contribution to the risk score, 0-10.
	Score float64 `json:"score"`

	Enabled bool `json:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}
