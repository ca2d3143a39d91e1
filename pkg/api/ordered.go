package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"slices"

	"github.com/tidwall/gjson"
)

// Ordered is a string-keyed map that remembers insertion order. Setting an
// existing key replaces its value in place. The zero value is ready to use;
// read methods are safe on a nil *Ordered.
//
// Ordered is not safe for concurrent mutation.
type Ordered[V any] struct {
	keys   []string
	values map[string]V
}

// FetchMap is the declared set of named entries a page wants resolved.
type FetchMap = Ordered[Entry]

// ActionMap is a FetchMap after normalization.
type ActionMap = Ordered[Action]

// NewFetchMap returns an empty FetchMap.
func NewFetchMap() *FetchMap { return &FetchMap{} }

// NewActionMap returns an empty ActionMap.
func NewActionMap() *ActionMap { return &ActionMap{} }

// Set stores v under key.
func (m *Ordered[V]) Set(key string, v V) {
	if m.values == nil {
		m.values = make(map[string]V)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value under key.
func (m *Ordered[V]) Get(key string) (V, bool) {
	var zero V
	if m == nil {
		return zero, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Ordered[V]) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Len returns the number of keys.
func (m *Ordered[V]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *Ordered[V]) Keys() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.keys)
}

// All iterates over key/value pairs in insertion order.
func (m *Ordered[V]) All() iter.Seq2[string, V] {
	return func(yield func(string, V) bool) {
		if m == nil {
			return
		}
		for _, k := range m.keys {
			if !yield(k, m.values[k]) {
				return
			}
		}
	}
}

// Clone returns a shallow copy.
func (m *Ordered[V]) Clone() *Ordered[V] {
	out := &Ordered[V]{}
	for k, v := range m.All() {
		out.Set(k, v)
	}
	return out
}

// MarshalJSON encodes the map as a JSON object with keys in insertion order.
func (m Ordered[V]) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping its keys in document order.
func (m *Ordered[V]) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("invalid JSON")
	}
	res := gjson.ParseBytes(data)
	if !res.IsObject() {
		return fmt.Errorf("expected JSON object, got %s", res.Type)
	}

	*m = Ordered[V]{}
	var decodeErr error
	res.ForEach(func(key, value gjson.Result) bool {
		var v V
		if err := json.Unmarshal([]byte(value.Raw), &v); err != nil {
			decodeErr = fmt.Errorf("decode %q: %w", key.String(), err)
			return false
		}
		m.Set(key.String(), v)
		return true
	})
	return decodeErr
}
