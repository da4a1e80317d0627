// Package record defines the schema-less record shape migrated from
// PandaScore into the destination store.
//
// A Record is a JSON object decoded with UseNumber. Its values are always one
// of: nil, bool, json.Number, string, time.Time, Record or []any (whose
// elements are themselves values of the same union). Decode normalizes nested
// objects to Record so callers can type-switch on a closed set.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Record is one hierarchical unit of source data.
type Record map[string]any

// ID returns the record's "id" field rendered as a string.
func (r Record) ID() (string, bool) {
	v, ok := r["id"]
	if !ok || v == nil {
		return "", false
	}
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return fmt.Sprintf("%d", id), true
	case int64:
		return fmt.Sprintf("%d", id), true
	default:
		return "", false
	}
}

// Slug returns the "slug" field, or "" when it is missing or not a string.
func (r Record) Slug() string {
	s, _ := r["slug"].(string)
	return s
}

// DecodeList decodes a JSON array of objects.
func DecodeList(data []byte) ([]Record, error) {
	return decodeList(bytes.NewReader(data))
}

// DecodeListFrom decodes a JSON array of objects from r.
func DecodeListFrom(r io.Reader) ([]Record, error) {
	return decodeList(r)
}

func decodeList(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode record list: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, m := range raw {
		out = append(out, normalizeMap(m))
	}
	return out, nil
}

// Normalize converts nested map[string]any values into Record so the value
// union stays closed. It is a no-op on already normalized records.
func Normalize(m map[string]any) Record {
	return normalizeMap(m)
}

func normalizeMap(m map[string]any) Record {
	rec := make(Record, len(m))
	for k, v := range m {
		rec[k] = normalizeValue(v)
	}
	return rec
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return normalizeMap(val)
	case Record:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

// Decode decodes a single JSON object.
func Decode(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return normalizeMap(m), nil
}
