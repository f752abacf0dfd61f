// Package cache implements the write-once request cache and the DOI metadata cache that sit
// between the harvest engine and the network.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes payload with object keys sorted at every level, no insignificant
// whitespace and no HTML escaping. Equal payloads always produce equal bytes, whatever the
// field order of the value passed in.
func CanonicalJSON(payload any) ([]byte, error) {
	first, err := encode(payload)
	if err != nil {
		return nil, err
	}
	// Round-trip through generic values so struct field order does not leak into the key.
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	return encode(generic)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// postKey returns the cache key of a POST and the canonical payload it ends with.
func postKey(url string, payload any) (string, []byte, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return "", nil, err
	}
	return url + string(body), body, nil
}
