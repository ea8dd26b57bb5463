// Package models contains domain models for newsflow.
package models

import (
	"database/sql/driver"
	"fmt"

	"github.com/goccy/go-json"
)

// JSONStringArray is a string slice stored as a JSON TEXT column.
type JSONStringArray []string

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value any) error {
	if value == nil {
		*a = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("scan JSONStringArray: unsupported type %T", value)
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	return json.Unmarshal(data, (*[]string)(a))
}

// Contains reports whether the array contains s.
func (a JSONStringArray) Contains(s string) bool {
	for _, v := range a {
		if v == s {
			return true
		}
	}
	return false
}

// Union returns a with any elements of other not already present appended.
// Order of existing elements is preserved; the result is a new slice.
func (a JSONStringArray) Union(other []string) JSONStringArray {
	seen := make(map[string]bool, len(a))
	result := make(JSONStringArray, 0, len(a)+len(other))
	for _, v := range a {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	for _, v := range other {
		if !seen[v] {
			seen[v] = true
			result = append(result, v)
		}
	}
	return result
}

// Vector is an embedding stored as a JSON TEXT column.
type Vector []float32

// Value implements driver.Valuer.
func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	data, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (v *Vector) Scan(value any) error {
	if value == nil {
		*v = nil
		return nil
	}
	var data []byte
	switch val := value.(type) {
	case string:
		data = []byte(val)
	case []byte:
		data = val
	default:
		return fmt.Errorf("scan Vector: unsupported type %T", value)
	}
	if len(data) == 0 {
		*v = nil
		return nil
	}
	return json.Unmarshal(data, (*[]float32)(v))
}
