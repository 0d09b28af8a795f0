package canonhash

import (
	"strings"
	"testing"
)

func TestSumObjectDeterministicForSameState(t *testing.T) {
	a := map[string]any{
		"b": 2,
		"a": map[string]any{"y": 2, "x": 1},
	}
	b := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": 2,
	}

	ha, _, err := SumObject(a)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hb, _, err := SumObject(b)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if ha != hb {
		t.Fatalf("expected same hash, got %s vs %s", ha, hb)
	}
	if !strings.HasPrefix(ha, Prefix) {
		t.Fatalf("expected %s prefix, got %s", Prefix, ha)
	}
}

func TestSumObjectChangesWhenStateChanges(t *testing.T) {
	a := map[string]any{"a": 1}
	b := map[string]any{"a": 2}
	ha, _, _ := SumObject(a)
	hb, _, _ := SumObject(b)
	if ha == hb {
		t.Fatalf("expected different hashes")
	}
}

func TestStructAndEquivalentMapHashEqual(t *testing.T) {
	type inner struct {
		Z string `json:"z"`
		A int    `json:"a"`
	}
	type outer struct {
		Name  string `json:"name"`
		Inner inner  `json:"inner"`
	}
	s := outer{Name: "x", Inner: inner{Z: "q", A: 3}}
	m := map[string]any{"inner": map[string]any{"a": 3, "z": "q"}, "name": "x"}
	hs, bs, err := SumObject(s)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	hm, _, _ := SumObject(m)
	if hs != hm {
		t.Fatalf("expected struct and map to hash equally, canonical=%s", bs)
	}
	if string(bs) != `{"inner":{"a":3,"z":"q"},"name":"x"}` {
		t.Fatalf("unexpected canonical form: %s", bs)
	}
}

func TestCanonicalizeKeepsNumberText(t *testing.T) {
	b, err := Canonicalize(map[string]any{"score": 0.5, "n": 10})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if string(b) != `{"n":10,"score":0.5}` {
		t.Fatalf("unexpected canonical form: %s", b)
	}
}
