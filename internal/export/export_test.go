package export

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/normalize"
	"github.com/opensource-finance/harrier/internal/parser"
	"github.com/opensource-finance/harrier/internal/store"
)

func newTestStore(t *testing.T) domain.Store {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "harrier-export-*.db")
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

func seedTx(t *testing.T, s domain.Store, id, amount string, flags []string) {
	t.Helper()
	tx := &domain.Transaction{
		ID:          id,
		Date:        time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		FromAccount: "acc-001",
		ToAccount:   "acc-002",
		Amount:      decimal.RequireFromString(amount),
		Description: "wire transfer",
		RiskScore:   3.5,
		Flags:       flags,
		Status:      domain.TxStatusNormal,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.PutTransaction(context.Background(), tx); err != nil {
		t.Fatalf("PutTransaction failed: %v", err)
	}
}

func TestWriteAll(t *testing.T) {
	s := newTestStore(t)
	seedTx(t, s, "tx-001", "1250.50", []string{"large_amount", "high_frequency"})
	seedTx(t, s, "tx-002", "300", nil)

	var buf bytes.Buffer
	n, err := NewWriter(s).WriteAll(context.Background(), &buf)
	if err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows", len(lines))
	}
	if lines[0] != strings.Join(Columns, ",") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "large_amount; high_frequency") {
		t.Errorf("flags not joined with semicolon: %q", lines[1])
	}
	if !strings.Contains(lines[1], "2025-06-01") {
		t.Errorf("date not formatted: %q", lines[1])
	}
}

func TestWriteAllEmptyStore(t *testing.T) {
	s := newTestStore(t)

	var buf bytes.Buffer
	n, err := NewWriter(s).WriteAll(context.Background(), &buf)
	if err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if n != 0 {
		t.Errorf("rows = %d, want 0", n)
	}
	if strings.TrimSpace(buf.String()) != strings.Join(Columns, ",") {
		t.Errorf("empty export should be header only, got %q", buf.String())
	}
}

// Exported files must survive re-ingestion with ids and amounts intact.
func TestExportRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedTx(t, s, "tx-001", "1250.50", []string{"large_amount"})
	seedTx(t, s, "tx-002", "99999.99", nil)

	var buf bytes.Buffer
	if _, err := NewWriter(s).WriteAll(context.Background(), &buf); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}

	scanner, err := parser.Parse(parser.FormatCSV, &buf)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	norm := normalize.New()

	var got []*domain.Transaction
	for {
		rec, _, err := scanner.Scan()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		tx, err := norm.Normalize(rec)
		if err != nil {
			t.Fatalf("Normalize failed: %v", err)
		}
		got = append(got, tx)
	}

	if len(got) != 2 {
		t.Fatalf("round-trip yielded %d transactions, want 2", len(got))
	}
	if got[0].ID != "tx-001" || got[1].ID != "tx-002" {
		t.Errorf("ids = %s, %s", got[0].ID, got[1].ID)
	}
	if !got[0].Amount.Equal(decimal.RequireFromString("1250.50")) {
		t.Errorf("amount = %s, want 1250.50", got[0].Amount)
	}
	if !got[1].Amount.Equal(decimal.RequireFromString("99999.99")) {
		t.Errorf("amount = %s, want 99999.99", got[1].Amount)
	}
}
