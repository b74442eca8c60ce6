// Package kv is the persistence boundary of minaplatser: a string-keyed store
// of JSON values with whole-value replace semantics, the desktop counterpart
// of a browser's localStorage.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
)

// Keys used by the application.
const (
	KeyMapType    = "mapType"
	KeyViewCenter = "map_viewCenter"
	KeyZoom       = "map_currentZoom"
	KeyPlaces     = "Mina Platser"
)

// Store persists raw values by key. Set replaces the whole value.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Close() error
}

// GetJSON decodes the value under key into v. It reports false when the key
// is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
