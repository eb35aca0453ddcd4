// Package policy evaluates a versioned rule set against a decision context,
// grounded on the original source's services/policy_engine.py.
package policy

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gavelhq/gavel/internal/model"
)

// Result is the outcome of Evaluate: either a matched rule's action, or the
// engine's fail-closed default.
type Result struct {
	Matched    bool
	Action     string
	ReasonCode string
	Severity   string
	Priority   int
}

const (
	defaultAction     = "ALLOW_ANSWER"
	defaultReasonCode = "DEFAULT_ALLOW"
	defaultSeverity   = "low"
)

// Evaluate walks a PolicyVersion's rules in ascending priority order and
// returns the first match. A missing field anywhere in a condition fails
// that condition closed (never matches), rather than erroring.
func Evaluate(version model.PolicyVersion, context map[string]any) (Result, error) {
	rules, err := decodeRules(version.Definition)
	if err != nil {
		return Result{}, err
	}

	sortRulesByPriority(rules)

	for _, rule := range rules {
		if ruleMatches(rule.When, context) {
			reasonCode := rule.Then.ReasonCode
			if reasonCode == "" {
				reasonCode = "POLICY_MATCH"
			}
			severity := rule.Then.Severity
			if severity == "" {
				severity = "medium"
			}
			return Result{
				Matched:    true,
				Action:     rule.Then.Action,
				ReasonCode: reasonCode,
				Severity:   severity,
				Priority:   rule.Priority,
			}, nil
		}
	}

	return Result{
		Matched:    false,
		Action:     defaultAction,
		ReasonCode: defaultReasonCode,
		Severity:   defaultSeverity,
	}, nil
}

func decodeRules(definition map[string]any) ([]model.PolicyRule, error) {
	raw, ok := definition["rules"]
	if !ok {
		return nil, nil
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("policy: marshal rules: %w", err)
	}
	var rules []model.PolicyRule
	if err := json.Unmarshal(buf, &rules); err != nil {
		return nil, fmt.Errorf("policy: unmarshal rules: %w", err)
	}
	return rules, nil
}

func sortRulesByPriority(rules []model.PolicyRule) {
	// Small n (rule counts per policy are in the tens); insertion sort keeps
	// ties in their original (definition) order, matching Python's stable
	// sort over x.get("priority", 9999).
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && priorityOf(rules[j]) < priorityOf(rules[j-1]); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

func priorityOf(r model.PolicyRule) int {
	if r.Priority == 0 {
		return 9999
	}
	return r.Priority
}

func ruleMatches(when model.PolicyWhen, context map[string]any) bool {
	allOK := true
	for _, cond := range when.All {
		if !conditionMatch(cond, context) {
			allOK = false
			break
		}
	}
	anyOK := len(when.Any) == 0
	for _, cond := range when.Any {
		if conditionMatch(cond, context) {
			anyOK = true
			break
		}
	}
	return allOK && anyOK
}

func conditionMatch(cond model.PolicyCondition, context map[string]any) bool {
	actual := getNested(context, cond.Field)
	if actual == nil {
		return false
	}
	return compare(actual, cond.Op, cond.Value)
}

func compare(actual any, op string, expected any) bool {
	switch op {
	case "eq":
		return equal(actual, expected)
	case "ne":
		return !equal(actual, expected)
	case "lt", "lte", "gt", "gte":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false
		}
		switch op {
		case "lt":
			return a < b
		case "lte":
			return a <= b
		case "gt":
			return a > b
		default:
			return a >= b
		}
	case "contains":
		return contains(actual, expected)
	case "in":
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if equal(actual, v) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equal(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func contains(actual, expected any) bool {
	c, ok := actual.(string)
	if !ok {
		return false
	}
	s, ok := expected.(string)
	return ok && strings.Contains(strings.ToLower(c), strings.ToLower(s))
}
