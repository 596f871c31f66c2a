package detect

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// RuleSet holds operator-defined custom detectors as compiled CEL
// programs. Expressions see the transaction's fields plus history
// aggregates and must yield a bool (fired or not).
type RuleSet struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.RuleConfig
	program cel.Program
}

// RuleHit is a custom rule that fired for a transaction.
type RuleHit struct {
	Flag  string
	Score float64
}

// NewRuleSet creates an empty rule set with the CEL environment the
// expressions are compiled against.
func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("description", cel.StringType),
		cel.Variable("from_account", cel.StringType),
		cel.Variable("to_account", cel.StringType),
		cel.Variable("date", cel.StringType),
		// History aggregates over the sender/recipient windows.
		cel.Variable("sent_count", cel.IntType),
		cel.Variable("received_count", cel.IntType),
		cel.Variable("sent_mean", cel.DoubleType),
		cel.Variable("sent_stddev", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &RuleSet{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// Validate compiles a rule without loading it.
func (rs *RuleSet) Validate(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, err := rs.compile(cfg)
	return err
}

// Load compiles and loads a rule into the set.
func (rs *RuleSet) Load(cfg *domain.RuleConfig) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	compiled, err := rs.compile(cfg)
	if err != nil {
		return err
	}
	rs.compiled[cfg.ID] = compiled
	return nil
}

// Reload replaces all loaded rules, enabling hot reload from the store.
func (rs *RuleSet) Reload(configs []*domain.RuleConfig) error {
	next := make(map[string]*compiledRule, len(configs))

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := rs.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}
	rs.compiled = next
	return nil
}

// Count returns the number of loaded rules.
func (rs *RuleSet) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.compiled)
}

// Loaded returns the currently loaded rule configurations.
func (rs *RuleSet) Loaded() []*domain.RuleConfig {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(rs.compiled))
	for _, c := range rs.compiled {
		rules = append(rules, c.config)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Evaluate runs every loaded rule against the transaction. Rules are
// evaluated in ID order so flag order stays deterministic. An expression
// error counts as not fired.
func (rs *RuleSet) Evaluate(tx *domain.Transaction, hist *History) []RuleHit {
	rs.mu.RLock()
	rules := make([]*compiledRule, 0, len(rs.compiled))
	for _, c := range rs.compiled {
		rules = append(rules, c)
	}
	rs.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].config.ID < rules[j].config.ID })

	activation := rs.activation(tx, hist)

	var hits []RuleHit
	for _, rule := range rules {
		out, _, err := rule.program.Eval(activation)
		if err != nil {
			continue
		}
		if fired(out) {
			hits = append(hits, RuleHit{Flag: rule.config.Flag, Score: rule.config.Score})
		}
	}
	return hits
}

func (rs *RuleSet) activation(tx *domain.Transaction, hist *History) map[string]any {
	sent := 0
	received := 0
	var mean, stddev float64
	if hist != nil && !hist.Incomplete {
		for _, h := range hist.From {
			if h.FromAccount == tx.FromAccount && h.ID != tx.ID {
				sent++
			}
		}
		for _, h := range hist.To {
			if h.ToAccount == tx.ToAccount && h.ID != tx.ID {
				received++
			}
		}
		mean, stddev, _ = sentStats(hist.From, tx.FromAccount)
	}

	return map[string]any{
		"amount":         tx.Amount.InexactFloat64(),
		"description":    tx.Description,
		"from_account":   tx.FromAccount,
		"to_account":     tx.ToAccount,
		"date":           tx.Date.Format("2006-01-02"),
		"sent_count":     int64(sent),
		"received_count": int64(received),
		"sent_mean":      mean,
		"sent_stddev":    stddev,
	}
}

func fired(val ref.Val) bool {
	switch v := val.(type) {
	case types.Bool:
		return bool(v)
	case types.Double:
		return float64(v) > 0
	case types.Int:
		return int64(v) > 0
	default:
		return false
	}
}

func (rs *RuleSet) compile(cfg *domain.RuleConfig) (*compiledRule, error) {
	if cfg.Flag == "" {
		return nil, fmt.Errorf("rule %s: flag is required", cfg.ID)
	}
	if cfg.Score < 0 || cfg.Score > 10 {
		return nil, fmt.Errorf("rule %s: score must be in [0, 10]", cfg.ID)
	}

	ast, issues := rs.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("rule %s: expression must return bool, int, or double, got %s", cfg.ID, outputType)
	}

	program, err := rs.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}
