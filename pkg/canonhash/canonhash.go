// Package canonhash hashes JSON-shaped values in a form that does not depend on
// struct field order or map insertion order.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const Prefix = "sha256:"

// Canonicalize returns the canonical JSON encoding of v: object keys sorted,
// no insignificant whitespace, numbers kept in their original textual form.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

func SumObject(v any) (string, []byte, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", nil, err
	}
	return SumBytes(b), b, nil
}

func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(sum[:])
}

func SumString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
