package kv

import "encoding/json"

// Table is a typed, JSON-codec view of one logical table in a Store.
// Keys are raw bytes ordered lexicographically, so callers encode them so
// that byte order matches the domain's sort order (typically a string
// or fixed-width encoding).
type Table[V any] struct {
	store Store
	name  string
}

// NewTable returns a typed view over name in store.
func NewTable[V any](store Store, name string) Table[V] {
	return Table[V]{store: store, name: name}
}

func (t Table[V]) Get(key []byte) (V, error) {
	var v V
	raw, err := t.store.Get(t.name, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, err
	}
	return v, nil
}

func (t Table[V]) Set(key []byte, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return t.store.Set(t.name, key, raw)
}

func (t Table[V]) Delete(key []byte) error {
	return t.store.Delete(t.name, key)
}

// TypedEntry is a decoded Range result.
type TypedEntry[V any] struct {
	Key   []byte
	Value V
}

func (t Table[V]) Range(r Range) ([]TypedEntry[V], error) {
	raw, err := t.store.Range(t.name, r)
	if err != nil {
		return nil, err
	}
	out := make([]TypedEntry[V], 0, len(raw))
	for _, e := range raw {
		var v V
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, err
		}
		out = append(out, TypedEntry[V]{Key: e.Key, Value: v})
	}
	return out, nil
}
