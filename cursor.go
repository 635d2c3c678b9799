package connpager

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var _encoder = base64.RawURLEncoding

// CursorField is one (column, value) pair of a cursor.
type CursorField struct {
	Column string
	Value  any
}

// CursorRecord is the ordered record a cursor encodes: the values of the sort
// columns of an edge, primary key last. An empty record means the start of
// the dataset.
type CursorRecord []CursorField

// IsEmpty reports whether the record points at the start of the dataset.
func (r CursorRecord) IsEmpty() bool {
	return len(r) == 0
}

// Get returns the value stored for the column.
func (r CursorRecord) Get(column string) (any, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}

	return nil, false
}

// Values returns the values in record order.
func (r CursorRecord) Values() []any {
	ret := make([]any, 0, len(r))
	for _, f := range r {
		ret = append(ret, f.Value)
	}

	return ret
}

// Matches fails with ErrMalformedCursor unless the record was produced under
// the given orderings: same columns, same order.
func (r CursorRecord) Matches(orderings Orderings) error {
	if len(r) != len(orderings) {
		return fmt.Errorf("%w: cursor column number mismatch", ErrMalformedCursor)
	}

	for i := range r {
		if r[i].Column != orderings[i].Key() {
			return fmt.Errorf("%w: unexpected cursor column '%s'", ErrMalformedCursor, r[i].Column)
		}
	}

	return nil
}

// MarshalJSON writes the record as a JSON object keeping the record order.
func (r CursorRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(f.Column)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		value, err := marshalScalar(f.Value)
		if err != nil {
			return nil, fmt.Errorf("cursor column '%s': %w", f.Column, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object of scalars keeping the key order.
func (r *CursorRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("cursor is not an object")
	}

	ret := CursorRecord{}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		column, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected cursor key %v", tok)
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		var value any
		switch tok {
		case json.Delim('{'):
			value, err = unmarshalTagged(dec)
		case json.Delim('['):
			return fmt.Errorf("cursor column '%s' holds a non scalar value", column)
		default:
			value, err = unmarshalScalar(tok)
		}
		if err != nil {
			return fmt.Errorf("cursor column '%s': %w", column, err)
		}
		ret = append(ret, CursorField{Column: column, Value: value})
	}

	if _, err = dec.Token(); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after cursor object")
	}

	*r = ret

	return nil
}

func marshalScalar(v any) ([]byte, error) {
	switch vt := v.(type) {
	case nil, bool, string:
		return json.Marshal(vt)
	case time.Time:
		return json.Marshal(map[string]string{cursorTimeTag: vt.UTC().Format(time.RFC3339Nano)})
	case *time.Time:
		if vt == nil {
			return []byte("null"), nil
		}

		return marshalScalar(*vt)
	case float32:
		return marshalFloat(float64(vt))
	case float64:
		return marshalFloat(vt)
	case fmt.Stringer:
		return json.Marshal(vt.String())
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(rv.Int(), 10)), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("unsigned value %d overflows int64", u)
		}

		return []byte(strconv.FormatUint(u, 10)), nil
	case reflect.String:
		return json.Marshal(rv.String())
	case reflect.Bool:
		return json.Marshal(rv.Bool())
	case reflect.Pointer:
		if rv.IsNil() {
			return []byte("null"), nil
		}

		return marshalScalar(rv.Elem().Interface())
	default:
		return nil, fmt.Errorf("unsupported cursor value type %T", v)
	}
}

// marshalFloat always writes a fraction or an exponent so the value decodes
// as a float again.
func marshalFloat(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("unsupported float value %v", f)
	}

	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}

	return []byte(s), nil
}

func unmarshalScalar(tok json.Token) (any, error) {
	switch vt := tok.(type) {
	case nil, bool:
		return vt, nil
	case string:
		return vt, nil
	case json.Number:
		s := vt.String()
		if strings.ContainsAny(s, ".eE") {
			return vt.Float64()
		}

		return vt.Int64()
	default:
		return nil, fmt.Errorf("unexpected cursor value %v", tok)
	}
}

// cursorTimeTag marks a time value in a cursor: {"column":{"t":"<RFC3339Nano>"}}.
// Plain strings are never parsed as time.
const cursorTimeTag = "t"

// unmarshalTagged reads the rest of a tagged value whose opening brace has
// already been consumed.
func unmarshalTagged(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tag, ok := tok.(string); !ok || tag != cursorTimeTag {
		return nil, fmt.Errorf("unsupported tagged value %v", tok)
	}

	tok, err = dec.Token()
	if err != nil {
		return nil, err
	}
	text, ok := tok.(string)
	if !ok {
		return nil, fmt.Errorf("time value %v is not a string", tok)
	}
	ts, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return nil, err
	}

	tok, err = dec.Token()
	if err != nil {
		return nil, err
	}
	if tok != json.Delim('}') {
		return nil, fmt.Errorf("tagged value holds more than one key")
	}

	return ts.UTC(), nil
}

// EncodeCursor encodes the record into an opaque cursor. The encoding is
// deterministic and carries no process-local state, so cursors stay valid
// across restarts.
func EncodeCursor(record CursorRecord) (string, error) {
	if record.IsEmpty() {
		return "", nil
	}

	jTok, err := record.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("cannot marshal cursor value: %w", err)
	}

	return _encoder.EncodeToString(jTok), nil
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty string
// decodes to an empty record.
func DecodeCursor(b64String string) (CursorRecord, error) {
	if len(b64String) == 0 {
		return nil, nil
	}

	jsonData, err := _encoder.DecodeString(b64String)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64 encoded cursor: %v", ErrMalformedCursor, err)
	}

	var record CursorRecord
	if err = json.Unmarshal(jsonData, &record); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal json encoded cursor: %v", ErrMalformedCursor, err)
	}
	if record.IsEmpty() {
		return nil, fmt.Errorf("%w: empty cursor record", ErrMalformedCursor)
	}

	return record, nil
}

// Getters is a dictionary of value getters for a node type, keyed by the table
// qualified column name. Provide a getter for every column the node can be
// sorted by.
// Example:
//
//	connpager.Getters[Role]{
//		"roles.id":   func(r Role) any { return r.ID },
//		"roles.name": func(r Role) any { return r.Name },
//	}
type Getters[T any] map[string]func(T) any

// recordFor builds the cursor record of a node.
func (g Getters[T]) recordFor(node T, orderings Orderings) (CursorRecord, error) {
	ret := make(CursorRecord, 0, len(orderings))
	for _, orderBy := range orderings {
		getter, ok := g[orderBy.Key()]
		if !ok {
			return nil, fmt.Errorf("cannot find getter for column '%s' met in ordering", orderBy.Key())
		}

		ret = append(ret, CursorField{Column: orderBy.Key(), Value: getter(node)})
	}

	return ret, nil
}

// CursorFor returns the cursor of a node under the given orderings.
func (g Getters[T]) CursorFor(node T, orderings Orderings) (string, error) {
	record, err := g.recordFor(node, orderings)
	if err != nil {
		return "", err
	}

	return EncodeCursor(record)
}
