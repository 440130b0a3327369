package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	maxListItems   = 10
	maxStringChars = 300
)

// TruncateJSON shortens a JSON document for display: lists keep their
// first ten items and strings their first 300 characters, each followed by
// a note of how much was cut. Input that is not JSON is truncated as text.
func TruncateJSON(s string) string {
	var v any
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		return truncateString(s)
	}

	switch v.(type) {
	case map[string]any, []any:
	default:
		return truncateString(s)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(truncateValue(v)); err != nil {
		return truncateString(s)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}

func truncateValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, x := range vv {
			out[k] = truncateValue(x)
		}
		return out
	case []any:
		n := len(vv)
		keep := vv
		if n > maxListItems {
			keep = vv[:maxListItems]
		}
		out := make([]any, 0, len(keep)+1)
		for _, x := range keep {
			out = append(out, truncateValue(x))
		}
		if n > maxListItems {
			out = append(out, fmt.Sprintf("... (%d more items)", n-maxListItems))
		}
		return out
	case string:
		return truncateString(vv)
	}
	return v
}

func truncateString(s string) string {
	n := utf8.RuneCountInString(s)
	if n <= maxStringChars {
		return s
	}
	r := []rune(s)
	return string(r[:maxStringChars]) + fmt.Sprintf("... (%d more characters)", n-maxStringChars)
}
