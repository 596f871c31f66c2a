package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/xuri/excelize/v2"
)

// newXLSXScanner scans the first sheet of a workbook; the first row is
// the header, matching the CSV contract.
func newXLSXScanner(r io.Reader) (*Scanner, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.ParseError{Reason: fmt.Sprintf("unreadable workbook: %v", err), Fatal: true}
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, &domain.ParseError{Reason: "workbook has no sheets", Fatal: true}
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, &domain.ParseError{Reason: fmt.Sprintf("unreadable sheet %q: %v", sheets[0], err), Fatal: true}
	}

	var header []string
	idx := 0

	return &Scanner{next: func() (Record, int, error) {
		for {
			if !rows.Next() {
				rows.Close()
				f.Close()
				if header == nil {
					return nil, 0, &domain.ParseError{Reason: "empty sheet, missing header row", Fatal: true}
				}
				return nil, 0, io.EOF
			}

			cells, err := rows.Columns()
			if err != nil {
				if header == nil {
					return nil, 0, &domain.ParseError{Reason: fmt.Sprintf("unreadable header: %v", err), Fatal: true}
				}
				idx++
				return nil, idx, &domain.ParseError{Index: idx, Reason: err.Error()}
			}

			if header == nil {
				header = make([]string, len(cells))
				for i, h := range cells {
					header[i] = strings.TrimSpace(h)
				}
				continue
			}

			idx++
			rec := make(Record, len(header))
			for i, h := range header {
				if i < len(cells) {
					rec[h] = strings.TrimSpace(cells[i])
				} else {
					// Trailing empty cells are omitted by the
					// reader; treat them as blank values.
					rec[h] = ""
				}
			}
			if rec.Empty() {
				continue
			}
			return rec, idx, nil
		}
	}}, nil
}
