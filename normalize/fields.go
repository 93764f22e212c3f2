// Package normalize maps loosely-typed upstream PMS records onto the
// canonical data model. Field names drift between endpoints and over time
// (camelCase, snake_case, renames), so every canonical attribute is resolved
// through an ordered candidate-key list: first non-null wins. The lists are
// plain data; supporting a new alias is a one-line addition.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"staysync/pms"
)

func pick(r pms.Record, keys ...string) (any, bool) {
	for _, key := range keys {
		if v, ok := r[key]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// str resolves a string attribute, coercing numeric values (the upstream
// returns phone numbers and some ids as JSON numbers).
func str(r pms.Record, keys ...string) string {
	v, ok := pick(r, keys...)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}

// num resolves a numeric attribute. Numeric-looking strings are parsed;
// anything unparseable yields nil rather than an error.
func num(r pms.Record, keys ...string) *float64 {
	v, ok := pick(r, keys...)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case float64:
		return &val
	case string:
		cleaned := strings.TrimSpace(val)
		if cleaned == "" {
			return nil
		}
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return nil
		}
		return &f
	}
	return nil
}

func intval(r pms.Record, keys ...string) int {
	if f := num(r, keys...); f != nil {
		return int(*f)
	}
	return 0
}

// timeLayouts are the timestamp shapes the upstream has been seen to emit.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeval resolves a timestamp attribute. Numeric values are treated as unix
// seconds; unparseable values yield nil.
func timeval(r pms.Record, keys ...string) *time.Time {
	v, ok := pick(r, keys...)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, strings.TrimSpace(val)); err == nil {
				return &t
			}
		}
		return nil
	case float64:
		t := time.Unix(int64(val), 0).UTC()
		return &t
	}
	return nil
}

// strSlice resolves a list attribute, tolerating lists of strings, lists of
// objects with a url/name field, and a single comma-joined string.
func strSlice(r pms.Record, itemKeys []string, keys ...string) []string {
	v, ok := pick(r, keys...)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case []any:
		var out []string
		for _, item := range val {
			switch entry := item.(type) {
			case string:
				if entry != "" {
					out = append(out, entry)
				}
			case map[string]any:
				for _, k := range itemKeys {
					if s, ok := entry[k].(string); ok && s != "" {
						out = append(out, s)
						break
					}
				}
			}
		}
		return out
	case string:
		if val == "" {
			return nil
		}
		parts := strings.Split(val, ",")
		var out []string
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// sub resolves a nested object attribute.
func sub(r pms.Record, keys ...string) pms.Record {
	v, ok := pick(r, keys...)
	if !ok {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// ErrIncomplete signals that a record is missing a required attribute and
// must be skipped, not stored with placeholders.
type incompleteError struct {
	entity string
	field  string
}

func (e *incompleteError) Error() string {
	return fmt.Sprintf("incomplete %s record: missing %s", e.entity, e.field)
}

// IsIncomplete reports whether err marks a record that failed normalization
// because a required field could not be resolved.
func IsIncomplete(err error) bool {
	_, ok := err.(*incompleteError)
	return ok
}
