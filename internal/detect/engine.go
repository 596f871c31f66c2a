package detect

import (
	"github.com/opensource-finance/harrier/internal/domain"
)

// Result is the scoring output for one transaction.
type Result struct {
	Score float64
	Flags []string
}

// Engine runs the builtin detectors plus any loaded custom rules.
//
// Aggregation rule (fixed and documented): the risk score is the sum of
// the base scores of every detector that fired, clamped to [0, 10].
// Scoring is pure given (transaction, history, config); there is no
// randomness and no wall-clock dependence - windows are anchored on the
// transaction's own date.
type Engine struct {
	cfg       domain.DetectorConfig
	detectors []Detector
	rules     *RuleSet
}

// NewEngine creates a scoring engine. rules may be nil when no custom
// rules are configured.
func NewEngine(cfg domain.DetectorConfig, rules *RuleSet) *Engine {
	return &Engine{
		cfg: cfg,
		detectors: []Detector{
			&recipientDetector{cfg: cfg},
			&thresholdAvoidanceDetector{cfg: cfg},
			&largeAmountDetector{cfg: cfg},
			&frequencyDetector{cfg: cfg},
			&keywordDetector{cfg: cfg},
		},
		rules: rules,
	}
}

// Score evaluates every detector in fixed order and aggregates the base
// scores of those that fired. A nil or incomplete history skips the
// history-dependent detectors and appends the scoring_incomplete flag.
func (e *Engine) Score(tx *domain.Transaction, hist *History) Result {
	incomplete := hist == nil || hist.Incomplete
	if hist == nil {
		hist = &History{Incomplete: true}
	}

	var res Result
	for _, d := range e.detectors {
		if incomplete && d.NeedsHistory() {
			continue
		}
		if fired, score := d.Evaluate(tx, hist); fired {
			res.Score += score
			res.Flags = append(res.Flags, d.Flag())
		}
	}

	if e.rules != nil {
		for _, hit := range e.rules.Evaluate(tx, hist) {
			res.Score += hit.Score
			res.Flags = append(res.Flags, hit.Flag)
		}
	}

	if incomplete {
		res.Flags = append(res.Flags, FlagScoringIncomplete)
	}

	if res.Score > 10 {
		res.Score = 10
	}
	return res
}

// Annotate scores the transaction in place, deriving status from the
// shared severity thresholds.
func (e *Engine) Annotate(tx *domain.Transaction, hist *History) {
	res := e.Score(tx, hist)
	tx.RiskScore = res.Score
	tx.Flags = res.Flags
	tx.Status = domain.StatusForScore(res.Score, e.cfg.Severity)
}

// TypeForFlags derives the alert type from the highest-priority flag
// present. Priority is fixed: recipient > pattern > amount > frequency.
// The second return is false when no flag maps to an alertable type.
func TypeForFlags(flags []string) (domain.AlertType, bool) {
	has := make(map[string]bool, len(flags))
	for _, f := range flags {
		has[f] = true
	}

	switch {
	case has[FlagRecipientPattern]:
		return domain.AlertTypeRecipient, true
	case has[FlagThresholdAvoidance], has[FlagHighRiskKeywords]:
		return domain.AlertTypePattern, true
	case has[FlagLargeAmount]:
		return domain.AlertTypeAmount, true
	case has[FlagHighFrequency]:
		return domain.AlertTypeFrequency, true
	}

	// Custom rule flags alert as generic pattern findings.
	for _, f := range flags {
		if f != FlagScoringIncomplete {
			return domain.AlertTypePattern, true
		}
	}
	return "", false
}
