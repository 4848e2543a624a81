// Package records resolves the vendor's inconsistent export payload shapes
// into a plain list of incident records.
package records

import (
	"encoding/json"
	"fmt"
	"os"
)

// Unwrap extracts the record list from a decoded payload. The vendor returns
// either a bare list, a {"data": [...]} envelope, or a single-key wrapper
// around a list. Anything else is kept as one opaque record.
func Unwrap(payload any) []any {
	switch v := payload.(type) {
	case []any:
		return v
	case map[string]any:
		if d, ok := v["data"]; ok {
			if list, ok := d.([]any); ok {
				return list
			}
		}
		if len(v) == 1 {
			for _, inner := range v {
				if list, ok := inner.([]any); ok {
					return list
				}
			}
		}
	}
	return []any{payload}
}

// FromJSON decodes raw export bytes and unwraps them into a record list.
func FromJSON(data []byte) ([]any, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("invalid json payload: %w", err)
	}
	return Unwrap(payload), nil
}

// FromFile reads a saved export artifact and unwraps its records.
func FromFile(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromJSON(data)
}
