package connpager

import (
	"encoding/json"
	"fmt"
)

const (
	filterKeyAND = "AND"
	filterKeyOR  = "OR"
)

// FieldFilter is a filter leaf: Operator(field, Value).
type FieldFilter struct {
	Operator        Operator `json:"operator"`
	Value           any      `json:"value"`
	CaseInsensitive bool     `json:"caseInsensitive,omitempty"`
}

// Filter is a node of a filter expression tree. Leaves of one node and its
// AND/OR groups are all joined with AND.
//
// Wire shape:
//
//	{"name": {"operator": "contains", "value": "Math"}, "OR": [...], "AND": [...]}
type Filter struct {
	Fields map[string]FieldFilter
	AND    []Filter
	OR     []Filter
}

// IsEmpty reports whether the filter restricts nothing syntactically.
func (f *Filter) IsEmpty() bool {
	return f == nil || (len(f.Fields) == 0 && len(f.AND) == 0 && len(f.OR) == 0)
}

// HasField reports whether the field is referenced anywhere in the tree.
func (f *Filter) HasField(field string) bool {
	if f == nil {
		return false
	}

	if _, ok := f.Fields[field]; ok {
		return true
	}

	for i := range f.AND {
		if f.AND[i].HasField(field) {
			return true
		}
	}
	for i := range f.OR {
		if f.OR[i].HasField(field) {
			return true
		}
	}

	return false
}

// MarshalJSON writes the wire shape. Keys are sorted, so equal filters have
// equal encodings.
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(f.Fields)+2)
	for field, leaf := range f.Fields {
		m[field] = leaf
	}
	if len(f.AND) > 0 {
		m[filterKeyAND] = f.AND
	}
	if len(f.OR) > 0 {
		m[filterKeyOR] = f.OR
	}

	return json.Marshal(m)
}

// UnmarshalJSON reads the wire shape.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	ret := Filter{}
	for key, msg := range raw {
		switch key {
		case filterKeyAND:
			if err := json.Unmarshal(msg, &ret.AND); err != nil {
				return fmt.Errorf("filter %s: %w", key, err)
			}
		case filterKeyOR:
			if err := json.Unmarshal(msg, &ret.OR); err != nil {
				return fmt.Errorf("filter %s: %w", key, err)
			}
		default:
			var leaf FieldFilter
			if err := json.Unmarshal(msg, &leaf); err != nil {
				return fmt.Errorf("filter field '%s': %w", key, err)
			}
			if ret.Fields == nil {
				ret.Fields = make(map[string]FieldFilter)
			}
			ret.Fields[key] = leaf
		}
	}

	*f = ret

	return nil
}
