package kibela

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Pluck extracts a single value from a decoded data map using a JSONPath
// expression, e.g. Pluck(resp.Data, "$.createNote.note.id").
func Pluck(data map[string]any, path string) (any, error) {
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("parse path %q: %w", path, err)
	}
	results := expr.Get(data)
	if len(results) == 0 {
		return nil, fmt.Errorf("path %q matched nothing", path)
	}
	return results[0], nil
}

// PluckString is Pluck for string-valued fields (ids, paths, urls).
func PluckString(data map[string]any, path string) (string, error) {
	v, err := Pluck(data, path)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("path %q: expected string, got %T", path, v)
	}
	return s, nil
}
