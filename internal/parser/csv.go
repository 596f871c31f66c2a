package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// newCSVScanner scans header-first CSV. Rows whose cells are all empty
// are skipped; a row with the wrong column count is a per-row error, not
// fatal to the batch.
func newCSVScanner(r io.Reader) *Scanner {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // length checked per row below
	cr.TrimLeadingSpace = true

	var header []string
	row := 0 // 1-based data row index, header excluded

	return &Scanner{next: func() (Record, int, error) {
		for {
			fields, err := cr.Read()
			if errors.Is(err, io.EOF) {
				if header == nil {
					return nil, 0, &domain.ParseError{Reason: "empty file, missing header row", Fatal: true}
				}
				return nil, 0, io.EOF
			}
			if err != nil {
				if header == nil {
					return nil, 0, &domain.ParseError{Reason: fmt.Sprintf("unreadable header: %v", err), Fatal: true}
				}
				row++
				return nil, row, &domain.ParseError{Index: row, Reason: err.Error()}
			}

			if header == nil {
				header = make([]string, len(fields))
				for i, h := range fields {
					header[i] = strings.TrimSpace(h)
				}
				continue
			}

			row++
			if len(fields) != len(header) {
				return nil, row, &domain.ParseError{
					Index:  row,
					Reason: fmt.Sprintf("expected %d columns, got %d", len(header), len(fields)),
				}
			}

			rec := make(Record, len(header))
			for i, h := range header {
				rec[h] = strings.TrimSpace(fields[i])
			}
			if rec.Empty() {
				continue
			}
			return rec, row, nil
		}
	}}
}
