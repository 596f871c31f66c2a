// Package export renders stored transactions as CSV for download.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Columns is the fixed export header. The order matches what the
// ingestion normalizer accepts, so an export re-imports cleanly.
var Columns = []string{
	"id", "date", "from_account", "to_account",
	"amount", "description", "risk_score", "status", "flags",
}

// Writer streams transactions as CSV rows.
type Writer struct {
	store domain.Store
}

func NewWriter(store domain.Store) *Writer {
	return &Writer{store: store}
}

// WriteAll writes the header and one row per stored transaction,
// ordered by date then ID. Returns the number of rows written.
func (w *Writer) WriteAll(ctx context.Context, out io.Writer) (int, error) {
	txs, err := w.store.ListTransactions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list transactions: %w", err)
	}

	cw := csv.NewWriter(out)
	if err := cw.Write(Columns); err != nil {
		return 0, err
	}

	for i, tx := range txs {
		if err := cw.Write(row(tx)); err != nil {
			return i, err
		}
	}

	cw.Flush()
	return len(txs), cw.Error()
}

func row(tx *domain.Transaction) []string {
	return []string{
		tx.ID,
		tx.Date.Format("2006-01-02"),
		tx.FromAccount,
		tx.ToAccount,
		tx.Amount.String(),
		tx.Description,
		strconv.FormatFloat(tx.RiskScore, 'f', -1, 64),
		string(tx.Status),
		strings.Join(tx.Flags, "; "),
	}
}
