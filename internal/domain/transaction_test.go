package domain

import "testing"

func TestStatusForScore(t *testing.T) {
	thresholds := DefaultSeverityThresholds()

	tests := []struct {
		name  string
		score float64
		want  TxStatus
	}{
		{"Zero", 0.0, TxStatusNormal},
		{"JustBelowMedium", 3.9, TxStatusNormal},
		{"MediumBoundary", 4.0, TxStatusSuspicious},
		{"JustBelowHigh", 6.9, TxStatusSuspicious},
		{"HighBoundary", 7.0, TxStatusFlagged},
		{"Max", 10.0, TxStatusFlagged},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusForScore(tt.score, thresholds); got != tt.want {
				t.Errorf("StatusForScore(%.1f) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}
}

func TestSeverityForScore(t *testing.T) {
	thresholds := DefaultSeverityThresholds()

	tests := []struct {
		name  string
		score float64
		want  Severity
	}{
		{"Low", 2.5, SeverityLow},
		{"MediumBoundary", 4.0, SeverityMedium},
		{"HighBoundary", 7.0, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SeverityForScore(tt.score, thresholds); got != tt.want {
				t.Errorf("SeverityForScore(%.1f) = %s, want %s", tt.score, got, tt.want)
			}
		})
	}
}

func TestAlertStatusPredicates(t *testing.T) {
	tests := []struct {
		status   AlertStatus
		open     bool
		terminal bool
	}{
		{AlertStatusActive, true, false},
		{AlertStatusInvestigating, true, false},
		{AlertStatusResolved, false, true},
		{AlertStatusDismissed, false, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsOpen(); got != tt.open {
			t.Errorf("%s.IsOpen() = %v, want %v", tt.status, got, tt.open)
		}
		if got := tt.status.IsTerminal(); got != tt.terminal {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
		}
	}
}

func TestAlertFilterMatches(t *testing.T) {
	alert := &Alert{
		ID:        "al-001",
		Type:      AlertTypeAmount,
		Severity:  SeverityHigh,
		AccountID: "acc-001",
		Status:    AlertStatusActive,
	}

	tests := []struct {
		name   string
		filter AlertFilter
		want   bool
	}{
		{"Empty", AlertFilter{}, true},
		{"AccountMatch", AlertFilter{AccountID: "acc-001"}, true},
		{"AccountMiss", AlertFilter{AccountID: "acc-002"}, false},
		{"TypeMatch", AlertFilter{Type: AlertTypeAmount}, true},
		{"TypeMiss", AlertFilter{Type: AlertTypeFrequency}, false},
		{"SeverityMiss", AlertFilter{Severity: SeverityLow}, false},
		{"StatusMatch", AlertFilter{Status: AlertStatusActive}, true},
		{"OpenOnlyHit", AlertFilter{OpenOnly: true}, true},
		{"Combined", AlertFilter{AccountID: "acc-001", Type: AlertTypeAmount, OpenOnly: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(alert); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("OpenOnlyMiss", func(t *testing.T) {
		closed := *alert
		closed.Status = AlertStatusDismissed
		if (AlertFilter{OpenOnly: true}).Matches(&closed) {
			t.Error("OpenOnly filter matched a dismissed alert")
		}
	})
}

func TestTransactionHelpers(t *testing.T) {
	tx := &Transaction{
		FromAccount: "acc-a",
		ToAccount:   "acc-b",
		Flags:       []string{"large_amount"},
	}

	if !tx.HasFlag("large_amount") {
		t.Error("HasFlag missed an existing flag")
	}
	if tx.HasFlag("high_frequency") {
		t.Error("HasFlag reported an absent flag")
	}

	accounts := tx.InvolvedAccounts()
	if len(accounts) != 2 || accounts[0] != "acc-a" || accounts[1] != "acc-b" {
		t.Errorf("InvolvedAccounts() = %v, want [acc-a acc-b]", accounts)
	}

	tx.ToAccount = "acc-a"
	if got := tx.InvolvedAccounts(); len(got) != 1 {
		t.Errorf("InvolvedAccounts() for self-transfer = %v, want one entry", got)
	}
}
