// Package detect implements the deterministic, rule-based risk scoring
// engine. Detectors evaluate one suspicious pattern each against a
// transaction and its account's recent history; their base scores are
// summed and clamped to [0, 10].
package detect

import (
	"context"
	"math"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// History is the scoring context for one transaction: the rolling windows
// of recent transactions for both involved accounts. Scoring only reads
// it, never mutates it.
type History struct {
	// From holds recent transactions involving the sender account.
	From []*domain.Transaction

	// To holds recent transactions involving the recipient account.
	To []*domain.Transaction

	// Incomplete is set when a window could not be loaded; contextual
	// detectors are skipped and the scoring_incomplete flag is raised.
	Incomplete bool
}

// countWhere counts history entries within [until-window, until] that
// satisfy the predicate. Transactions carry calendar dates only, so a
// 48h window spans the two days preceding the reference date.
func countWhere(txs []*domain.Transaction, until time.Time, window time.Duration, match func(*domain.Transaction) bool) int {
	cutoff := until.Add(-window)
	n := 0
	for _, tx := range txs {
		if tx.Date.Before(cutoff) || tx.Date.After(until) {
			continue
		}
		if match == nil || match(tx) {
			n++
		}
	}
	return n
}

// sentStats returns mean and population standard deviation of the
// amounts the account sent, and the sample count.
func sentStats(txs []*domain.Transaction, account string) (mean, stddev float64, n int) {
	var sum float64
	for _, tx := range txs {
		if tx.FromAccount != account {
			continue
		}
		sum += tx.Amount.InexactFloat64()
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mean = sum / float64(n)

	var sq float64
	for _, tx := range txs {
		if tx.FromAccount != account {
			continue
		}
		d := tx.Amount.InexactFloat64() - mean
		sq += d * d
	}
	stddev = math.Sqrt(sq / float64(n))
	return mean, stddev, n
}

// HistoryService is the scoring engine's read path into persisted
// history, with a cache in front of the store.
type HistoryService struct {
	store  domain.Store
	cache  domain.Cache
	window time.Duration
	ttl    time.Duration
}

// NewHistoryService creates a history loader bounded by the configured
// rolling window. cache may be nil.
func NewHistoryService(store domain.Store, cache domain.Cache, window, cacheTTL time.Duration) *HistoryService {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &HistoryService{store: store, cache: cache, window: window, ttl: cacheTTL}
}

// Load assembles the scoring context for a transaction. A load failure
// is non-fatal: the returned History is marked Incomplete and the error
// is a *domain.ScoringError for the caller to report.
func (s *HistoryService) Load(ctx context.Context, tx *domain.Transaction) (*History, error) {
	hist := &History{}
	since := tx.Date.Add(-s.window)

	var firstErr error
	load := func(account string) []*domain.Transaction {
		txs, err := s.loadAccount(ctx, account, since)
		if err != nil {
			hist.Incomplete = true
			if firstErr == nil {
				firstErr = &domain.ScoringError{Detector: "history", Err: err}
			}
			return nil
		}
		return txs
	}

	hist.From = load(tx.FromAccount)
	if tx.ToAccount == tx.FromAccount {
		hist.To = hist.From
	} else {
		hist.To = load(tx.ToAccount)
	}
	return hist, firstErr
}

// Invalidate drops cached windows after the accounts gain transactions.
func (s *HistoryService) Invalidate(ctx context.Context, accounts ...string) {
	if s.cache == nil {
		return
	}
	for _, account := range accounts {
		_ = s.cache.InvalidateHistory(ctx, account)
	}
}

func (s *HistoryService) loadAccount(ctx context.Context, account string, since time.Time) ([]*domain.Transaction, error) {
	if s.cache != nil {
		if cached, ok, err := s.cache.GetHistory(ctx, account); err == nil && ok {
			return filterSince(cached, since), nil
		}
	}

	txs, err := s.store.GetAccountHistory(ctx, account, since)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		_ = s.cache.SetHistory(ctx, account, txs, s.ttl)
	}
	return txs, nil
}

func filterSince(txs []*domain.Transaction, since time.Time) []*domain.Transaction {
	out := txs[:0:0]
	for _, tx := range txs {
		if !tx.Date.Before(since) {
			out = append(out, tx)
		}
	}
	return out
}
