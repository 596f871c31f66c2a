// Package parser converts raw uploaded bytes into loosely-typed records.
// It never inspects semantic field meaning; that is the normalizer's job.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Format is the declared wire format of an uploaded file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// Record is one raw parsed row: header/key to string value.
type Record map[string]string

// Empty reports whether every value in the record is blank.
func (r Record) Empty() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Scanner yields records lazily with their 1-based source index.
type Scanner struct {
	next func() (Record, int, error)
}

// Scan returns the next record. It returns io.EOF when the input is
// exhausted. A *domain.ParseError with Fatal unset is a per-record
// failure; callers should report it and keep scanning.
func (s *Scanner) Scan() (Record, int, error) {
	return s.next()
}

// DetectFormat resolves the declared format from a filename extension,
// falling back to the content type.
func DetectFormat(filename, contentType string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	case ".xlsx", ".xls":
		return FormatXLSX, nil
	}

	switch {
	case strings.Contains(contentType, "csv"):
		return FormatCSV, nil
	case strings.Contains(contentType, "json"):
		return FormatJSON, nil
	case strings.Contains(contentType, "spreadsheet"), strings.Contains(contentType, "excel"):
		return FormatXLSX, nil
	}

	return "", &domain.ParseError{
		Reason: fmt.Sprintf("unsupported format for %q (content type %q)", filename, contentType),
		Fatal:  true,
	}
}

// Parse returns a scanner over the input in the declared format.
// A fatal *domain.ParseError means the file is unreadable as a whole.
func Parse(format Format, r io.Reader) (*Scanner, error) {
	switch format {
	case FormatCSV:
		return newCSVScanner(r), nil
	case FormatJSON:
		return newJSONScanner(r)
	case FormatXLSX:
		return newXLSXScanner(r)
	default:
		return nil, &domain.ParseError{
			Reason: fmt.Sprintf("unknown format %q", format),
			Fatal:  true,
		}
	}
}
