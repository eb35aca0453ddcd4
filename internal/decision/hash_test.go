package decision

import "testing"

func TestStableHash_OrderIndependent(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": map[string]any{"y": 1, "x": 2}}
	b := map[string]any{"c": map[string]any{"x": 2, "y": 1}, "a": 2, "b": 1}

	if stableHash(a) != stableHash(b) {
		t.Fatalf("expected equal hashes for maps differing only in key order")
	}
}

func TestStableHash_DifferentValuesDiffer(t *testing.T) {
	a := map[string]any{"action": "ALLOW_ANSWER"}
	b := map[string]any{"action": "BLOCK"}

	if stableHash(a) == stableHash(b) {
		t.Fatalf("expected different hashes for different inputs")
	}
}

func TestStableHash_SliceOrderMatters(t *testing.T) {
	a := map[string]any{"tags": []any{"x", "y"}}
	b := map[string]any{"tags": []any{"y", "x"}}

	if stableHash(a) == stableHash(b) {
		t.Fatalf("expected slice order to affect the hash, unlike map key order")
	}
}

func TestStableHash_Deterministic(t *testing.T) {
	in := map[string]any{"trace_id": "abc", "policy_version": "p:1"}
	if stableHash(in) != stableHash(in) {
		t.Fatalf("expected stableHash to be deterministic across calls")
	}
}
