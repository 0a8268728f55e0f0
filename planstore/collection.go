package planstore

import (
	"encoding/json"
	"fmt"
	"slices"
)

// collection is an insertion ordered map persisted as [[key, entry], ...].
type collection[T any] struct {
	keys    []string
	entries map[string]T
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{entries: make(map[string]T)}
}

func (c *collection[T]) get(key string) (T, bool) {
	v, ok := c.entries[key]
	return v, ok
}

// put inserts or replaces; a replaced entry keeps its position.
func (c *collection[T]) put(key string, v T) {
	if _, ok := c.entries[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.entries[key] = v
}

func (c *collection[T]) remove(key string) bool {
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.keys = slices.DeleteFunc(c.keys, func(k string) bool { return k == key })
	return true
}

func (c *collection[T]) values() []T {
	out := make([]T, 0, len(c.keys))
	for _, k := range c.keys {
		out = append(out, c.entries[k])
	}
	return out
}

func (c *collection[T]) MarshalJSON() ([]byte, error) {
	pairs := make([][2]any, 0, len(c.keys))
	for _, k := range c.keys {
		pairs = append(pairs, [2]any{k, c.entries[k]})
	}
	return json.Marshal(pairs)
}

func (c *collection[T]) UnmarshalJSON(data []byte) error {
	var pairs [][]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	c.keys = c.keys[:0]
	c.entries = make(map[string]T, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return fmt.Errorf("entry %d: want [key, value], got %d elements", i, len(p))
		}
		var key string
		if err := json.Unmarshal(p[0], &key); err != nil {
			return fmt.Errorf("entry %d key: %w", i, err)
		}
		var v T
		if err := json.Unmarshal(p[1], &v); err != nil {
			return fmt.Errorf("entry %d (%s): %w", i, key, err)
		}
		c.put(key, v)
	}
	return nil
}
