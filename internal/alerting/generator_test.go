package alerting

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/detect"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/store"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-alerting-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	s, err := store.New(domain.StoreConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func scoredTx(id string, score float64, flags ...string) *domain.Transaction {
	return &domain.Transaction{
		ID:          id,
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		FromAccount: "acc-from",
		ToAccount:   "acc-to",
		Amount:      decimal.RequireFromString("9600"),
		Description: "wire transfer",
		RiskScore:   score,
		Flags:       flags,
		Status:      domain.TxStatusSuspicious,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestGeneratorCreatesAlert(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})
	ctx := context.Background()

	tx := scoredTx("tx-001", 4.5, detect.FlagLargeAmount)

	outcome, alert, err := gen.Process(ctx, tx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %d, want OutcomeCreated", outcome)
	}
	if alert.Type != domain.AlertTypeAmount {
		t.Errorf("type = %s, want amount", alert.Type)
	}
	if alert.AccountID != "acc-from" {
		t.Errorf("account = %s, want acc-from (sender)", alert.AccountID)
	}
	if alert.Severity != domain.SeverityMedium {
		t.Errorf("severity = %s, want medium", alert.Severity)
	}
	if alert.Status != domain.AlertStatusActive {
		t.Errorf("status = %s, want active", alert.Status)
	}
	if len(alert.TxRefs) != 1 || alert.TxRefs[0] != "tx-001" {
		t.Errorf("tx refs = %v", alert.TxRefs)
	}

	// Persisted and findable as the open alert
	found, err := s.FindOpenAlert(ctx, "acc-from", domain.AlertTypeAmount)
	if err != nil {
		t.Fatalf("FindOpenAlert failed: %v", err)
	}
	if found.ID != alert.ID {
		t.Errorf("persisted alert id = %s, want %s", found.ID, alert.ID)
	}
}

func TestGeneratorSkipsCleanTransaction(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.DefaultSeverityThresholds())

	outcome, alert, err := gen.Process(context.Background(), scoredTx("tx-clean", 0))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeNone || alert != nil {
		t.Errorf("expected no alert for clean transaction, got %d %v", outcome, alert)
	}
}

func TestGeneratorSkipsIncompleteOnly(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})

	tx := scoredTx("tx-inc", 0, detect.FlagScoringIncomplete)
	outcome, alert, err := gen.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeNone || alert != nil {
		t.Errorf("scoring_incomplete alone should not alert, got %d %v", outcome, alert)
	}
}

func TestGeneratorMergesIntoOpenAlert(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})
	ctx := context.Background()

	_, first, err := gen.Process(ctx, scoredTx("tx-001", 4.5, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	// Same account/type: merge, severity escalates with higher score
	outcome, merged, err := gen.Process(ctx, scoredTx("tx-002", 8.0, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeMerged {
		t.Fatalf("outcome = %d, want OutcomeMerged", outcome)
	}
	if merged.ID != first.ID {
		t.Errorf("merged into alert %s, want %s", merged.ID, first.ID)
	}
	if len(merged.TxRefs) != 2 {
		t.Errorf("tx refs = %v, want 2 entries", merged.TxRefs)
	}
	if merged.Severity != domain.SeverityHigh || merged.PeakScore != 8.0 {
		t.Errorf("severity = %s peak = %v, want high / 8.0", merged.Severity, merged.PeakScore)
	}

	// A lower score never de-escalates
	_, again, err := gen.Process(ctx, scoredTx("tx-003", 4.1, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if again.Severity != domain.SeverityHigh || again.PeakScore != 8.0 {
		t.Errorf("severity de-escalated: %s / %v", again.Severity, again.PeakScore)
	}
}

func TestGeneratorSeparateTypesSeparateAlerts(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})
	ctx := context.Background()

	_, a1, err := gen.Process(ctx, scoredTx("tx-001", 4.5, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	_, a2, err := gen.Process(ctx, scoredTx("tx-002", 4.5, detect.FlagHighFrequency))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if a1.ID == a2.ID {
		t.Error("different alert types merged into one alert")
	}
}

func TestGeneratorRecipientAlertAttachesToReceiver(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})

	tx := scoredTx("tx-001", 4.0, detect.FlagRecipientPattern)
	_, alert, err := gen.Process(context.Background(), tx)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if alert.Type != domain.AlertTypeRecipient {
		t.Errorf("type = %s, want recipient", alert.Type)
	}
	if alert.AccountID != "acc-to" {
		t.Errorf("account = %s, want acc-to (receiver)", alert.AccountID)
	}
}

func TestGeneratorNoMergeIntoClosedAlert(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})
	ctx := context.Background()

	_, first, err := gen.Process(ctx, scoredTx("tx-001", 4.5, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := s.UpdateAlertStatus(ctx, first.ID, domain.AlertStatusDismissed, time.Now().UTC()); err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}

	outcome, second, err := gen.Process(ctx, scoredTx("tx-002", 4.5, detect.FlagLargeAmount))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if outcome != OutcomeCreated {
		t.Fatalf("outcome = %d, want OutcomeCreated after dismissal", outcome)
	}
	if second.ID == first.ID {
		t.Error("merged into a dismissed alert")
	}
}

func TestGeneratorConcurrentSameKey(t *testing.T) {
	s := newTestStore(t)
	gen := NewGenerator(s, nil, domain.SeverityThresholds{High: 7, Medium: 4})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx := scoredTx("tx-"+string(rune('a'+i)), 4.5, detect.FlagLargeAmount)
			if _, _, err := gen.Process(ctx, tx); err != nil {
				t.Errorf("Process failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	alerts, err := s.ListAlerts(ctx, domain.AlertFilter{AccountID: "acc-from", OpenOnly: true})
	if err != nil {
		t.Fatalf("ListAlerts failed: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("got %d open alerts, want 1", len(alerts))
	}
	if len(alerts[0].TxRefs) != n {
		t.Errorf("tx refs = %d, want %d", len(alerts[0].TxRefs), n)
	}
}
