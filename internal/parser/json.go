package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/opensource-finance/harrier/internal/domain"
)

// newJSONScanner streams a top-level JSON array of objects. A non-array
// top level is a fatal ParseError; a non-object element is a per-element
// error.
func newJSONScanner(r io.Reader) (*Scanner, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, &domain.ParseError{Reason: fmt.Sprintf("invalid JSON: %v", err), Fatal: true}
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, &domain.ParseError{Reason: "top-level value must be an array of objects", Fatal: true}
	}

	idx := 0
	return &Scanner{next: func() (Record, int, error) {
		if !dec.More() {
			return nil, 0, io.EOF
		}
		idx++

		var raw map[string]any
		if err := dec.Decode(&raw); err != nil {
			// A type mismatch consumes the offending value and leaves
			// the stream positioned at the next element, so it is a
			// per-element error. Anything else (syntax, truncation)
			// leaves the stream unusable.
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				return nil, idx, &domain.ParseError{
					Index:  idx,
					Reason: fmt.Sprintf("element is not an object: %v", err),
				}
			}
			return nil, idx, &domain.ParseError{
				Index:  idx,
				Reason: fmt.Sprintf("invalid JSON: %v", err),
				Fatal:  true,
			}
		}

		rec := make(Record, len(raw))
		for k, v := range raw {
			rec[k] = stringify(v)
		}
		return rec, idx, nil
	}}, nil
}

// stringify flattens a decoded JSON value to the string form the
// normalizer expects.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		if val {
			return "true"
		}
		return "false"
	default:
		b, _ := json.Marshal(val)
		return string(b)
	}
}
