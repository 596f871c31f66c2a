package detect

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Detector flag names. Flag order on a transaction is detection order.
const (
	FlagRecipientPattern   = "recipient_pattern"
	FlagThresholdAvoidance = "pattern_threshold_avoidance"
	FlagLargeAmount        = "large_amount"
	FlagHighFrequency      = "high_frequency"
	FlagHighRiskKeywords   = "high_risk_keywords"
	FlagScoringIncomplete  = "scoring_incomplete"
)

// stddev is meaningless on a couple of samples; below this floor the
// large-amount detector only applies the absolute ceiling.
const minStddevSamples = 5

// Detector evaluates one suspicious pattern against a transaction and
// its history. Implementations must be pure: same inputs, same verdict.
type Detector interface {
	// Flag is the name recorded on transactions when the detector fires.
	Flag() string

	// NeedsHistory reports whether the detector is skipped when the
	// account history could not be loaded.
	NeedsHistory() bool

	// Evaluate returns whether the detector fired and its base score
	// contribution.
	Evaluate(tx *domain.Transaction, hist *History) (bool, float64)
}

// recipientDetector fires when the recipient account has accumulated
// RecipientCountThreshold or more inbound transactions (this one
// included) within the rolling window.
type recipientDetector struct {
	cfg domain.DetectorConfig
}

func (d *recipientDetector) Flag() string       { return FlagRecipientPattern }
func (d *recipientDetector) NeedsHistory() bool { return true }

func (d *recipientDetector) Evaluate(tx *domain.Transaction, hist *History) (bool, float64) {
	prior := countWhere(hist.To, tx.Date, d.cfg.RecipientWindow, func(h *domain.Transaction) bool {
		return h.ToAccount == tx.ToAccount && h.ID != tx.ID
	})
	return prior+1 >= d.cfg.RecipientCountThreshold, d.cfg.Scores.Recipient
}

// thresholdAvoidanceDetector fires when amounts cluster just below the
// reporting ceiling in rapid succession: the current transaction and at
// least ThresholdAvoidanceCount-1 recent sends from the same account all
// sit within the configured margin below the ceiling.
type thresholdAvoidanceDetector struct {
	cfg domain.DetectorConfig
}

func (d *thresholdAvoidanceDetector) Flag() string       { return FlagThresholdAvoidance }
func (d *thresholdAvoidanceDetector) NeedsHistory() bool { return true }

func (d *thresholdAvoidanceDetector) Evaluate(tx *domain.Transaction, hist *History) (bool, float64) {
	if !d.inBand(tx.Amount.InexactFloat64()) {
		return false, d.cfg.Scores.ThresholdAvoidance
	}
	prior := countWhere(hist.From, tx.Date, d.cfg.RecipientWindow, func(h *domain.Transaction) bool {
		return h.FromAccount == tx.FromAccount && h.ID != tx.ID && d.inBand(h.Amount.InexactFloat64())
	})
	return prior+1 >= d.cfg.ThresholdAvoidanceCount, d.cfg.Scores.ThresholdAvoidance
}

// inBand reports whether an amount sits within the margin just below the
// ceiling: ceiling*(1-margin) <= amount < ceiling.
func (d *thresholdAvoidanceDetector) inBand(amount float64) bool {
	ceiling := d.cfg.LargeAmountCeiling
	return amount < ceiling && amount >= ceiling*(1-d.cfg.ThresholdAvoidanceMargin)
}

// largeAmountDetector fires on amounts above the absolute ceiling, or
// above the account's historical mean by the configured number of
// standard deviations.
type largeAmountDetector struct {
	cfg domain.DetectorConfig
}

func (d *largeAmountDetector) Flag() string { return FlagLargeAmount }

// The absolute ceiling applies even without history.
func (d *largeAmountDetector) NeedsHistory() bool { return false }

func (d *largeAmountDetector) Evaluate(tx *domain.Transaction, hist *History) (bool, float64) {
	amount := tx.Amount.InexactFloat64()
	if amount >= d.cfg.LargeAmountCeiling {
		return true, d.cfg.Scores.LargeAmount
	}
	if hist == nil || hist.Incomplete {
		return false, d.cfg.Scores.LargeAmount
	}
	mean, stddev, n := sentStats(hist.From, tx.FromAccount)
	if n < minStddevSamples || stddev == 0 {
		return false, d.cfg.Scores.LargeAmount
	}
	return amount > mean+d.cfg.LargeAmountStddevMultiplier*stddev, d.cfg.Scores.LargeAmount
}

// frequencyDetector fires when the sender's transaction count in the
// current window exceeds its trailing per-window baseline by the
// configured multiplier.
type frequencyDetector struct {
	cfg domain.DetectorConfig
}

func (d *frequencyDetector) Flag() string       { return FlagHighFrequency }
func (d *frequencyDetector) NeedsHistory() bool { return true }

func (d *frequencyDetector) Evaluate(tx *domain.Transaction, hist *History) (bool, float64) {
	window := d.cfg.FrequencyWindow
	current := 1 + countWhere(hist.From, tx.Date, window, func(h *domain.Transaction) bool {
		return h.FromAccount == tx.FromAccount && h.ID != tx.ID
	})

	// Trailing baseline: average sends per window over the rest of
	// the history span. No baseline means no spike to measure.
	trailingStart := tx.Date.Add(-d.cfg.HistoryWindow)
	trailingEnd := tx.Date.Add(-window)
	span := trailingEnd.Sub(trailingStart)
	if span <= 0 {
		return false, d.cfg.Scores.Frequency
	}
	trailing := 0
	for _, h := range hist.From {
		if h.FromAccount == tx.FromAccount && !h.Date.Before(trailingStart) && h.Date.Before(trailingEnd) {
			trailing++
		}
	}
	if trailing == 0 {
		return false, d.cfg.Scores.Frequency
	}

	baseline := float64(trailing) / (float64(span) / float64(window))
	return float64(current) > baseline*d.cfg.FrequencyMultiplier, d.cfg.Scores.Frequency
}

// keywordDetector fires on configured risky terms in the description.
type keywordDetector struct {
	cfg domain.DetectorConfig
}

func (d *keywordDetector) Flag() string       { return FlagHighRiskKeywords }
func (d *keywordDetector) NeedsHistory() bool { return false }

func (d *keywordDetector) Evaluate(tx *domain.Transaction, _ *History) (bool, float64) {
	desc := strings.ToLower(tx.Description)
	for _, kw := range d.cfg.HighRiskKeywords {
		if kw != "" && strings.Contains(desc, strings.ToLower(kw)) {
			return true, d.cfg.Scores.Keywords
		}
	}
	return false, d.cfg.Scores.Keywords
}
