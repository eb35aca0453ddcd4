package policy

import (
	"testing"

	"github.com/gavelhq/gavel/internal/model"
)

func ruleDefinition(rules ...map[string]any) map[string]any {
	out := make([]any, len(rules))
	for i, r := range rules {
		out[i] = r
	}
	return map[string]any{"rules": out}
}

func TestEvaluate_NoRulesDefaultsToAllow(t *testing.T) {
	version := model.PolicyVersion{Definition: map[string]any{}}
	result, err := Evaluate(version, map[string]any{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Fatalf("expected no match")
	}
	if result.Action != defaultAction || result.ReasonCode != defaultReasonCode {
		t.Fatalf("unexpected default result: %+v", result)
	}
}

func TestEvaluate_FirstMatchByAscendingPriority(t *testing.T) {
	version := model.PolicyVersion{Definition: ruleDefinition(
		map[string]any{
			"priority": 10,
			"when":     map[string]any{"all": []any{map[string]any{"field": "overall_score", "op": "lt", "value": 0.5}}},
			"then":     map[string]any{"action": "BLOCK", "reason_code": "LOW_SCORE"},
		},
		map[string]any{
			"priority": 1,
			"when":     map[string]any{"all": []any{map[string]any{"field": "overall_score", "op": "lt", "value": 0.9}}},
			"then":     map[string]any{"action": "ESCALATE", "reason_code": "QUALITY_REVIEW"},
		},
	)}

	result, err := Evaluate(version, map[string]any{"overall_score": 0.4})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Matched || result.Action != "ESCALATE" || result.ReasonCode != "QUALITY_REVIEW" {
		t.Fatalf("expected the lower-priority-number rule to win, got %+v", result)
	}
}

func TestEvaluate_MissingFieldFailsClosed(t *testing.T) {
	version := model.PolicyVersion{Definition: ruleDefinition(map[string]any{
		"priority": 1,
		"when":     map[string]any{"all": []any{map[string]any{"field": "nonexistent.path", "op": "eq", "value": true}}},
		"then":     map[string]any{"action": "BLOCK"},
	})}

	result, err := Evaluate(version, map[string]any{"overall_score": 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched {
		t.Fatalf("expected a condition over a missing field to never match")
	}
}

func TestEvaluate_AnyRequiresAtLeastOne(t *testing.T) {
	version := model.PolicyVersion{Definition: ruleDefinition(map[string]any{
		"priority": 1,
		"when": map[string]any{"any": []any{
			map[string]any{"field": "tag", "op": "eq", "value": "urgent"},
			map[string]any{"field": "tag", "op": "eq", "value": "escalated"},
		}},
		"then": map[string]any{"action": "ESCALATE"},
	})}

	result, err := Evaluate(version, map[string]any{"tag": "escalated"})
	if err != nil || !result.Matched {
		t.Fatalf("expected any-condition match, got %+v err=%v", result, err)
	}

	result, err = Evaluate(version, map[string]any{"tag": "normal"})
	if err != nil || result.Matched {
		t.Fatalf("expected no match for unrelated tag, got %+v err=%v", result, err)
	}
}

func TestConditionOperators(t *testing.T) {
	ctx := map[string]any{
		"score": 0.75,
		"tags":  []any{"a", "b"},
		"name":  "hello world",
	}

	cases := []struct {
		op    string
		field string
		value any
		want  bool
	}{
		{"gte", "score", 0.75, true},
		{"gt", "score", 0.75, false},
		{"lte", "score", 0.75, true},
		{"lt", "score", 0.8, true},
		{"eq", "score", 0.75, true},
		{"ne", "score", 0.1, true},
		{"in", "name", []any{"hello world", "other"}, true},
		{"contains", "name", "world", true},
		{"contains", "tags", "a", false},
		{"contains", "tags", "z", false},
	}
	for _, c := range cases {
		got := conditionMatch(model.PolicyCondition{Field: c.field, Op: c.op, Value: c.value}, ctx)
		if got != c.want {
			t.Errorf("%s %s %v: got %v, want %v", c.field, c.op, c.value, got, c.want)
		}
	}
}

func TestGetNested(t *testing.T) {
	payload := map[string]any{
		"metadata": map[string]any{
			"user": map[string]any{"id": "u1"},
		},
	}

	if got := getNested(payload, "metadata.user.id"); got != "u1" {
		t.Fatalf("expected u1, got %v", got)
	}
	if got := getNested(payload, "metadata.user.missing"); got != nil {
		t.Fatalf("expected nil for missing leaf, got %v", got)
	}
	if got := getNested(payload, "metadata.user.id.extra"); got != nil {
		t.Fatalf("expected nil when descending into a non-map, got %v", got)
	}
}
