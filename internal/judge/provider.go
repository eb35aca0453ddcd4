// Package judge implements the two-tier heuristic/LLM judge dispatch of
// SPEC_FULL.md §4.5, grounded on the original source's judge/ package.
package judge

import "context"

// Output is what a Provider returns for one decision context.
type Output struct {
	Action     string
	ReasonCode string
	Confidence float64
	Raw        map[string]any
}

// Provider is implemented by both tiers of judge. A plain map[string]Provider
// registry (Registry) replaces the original source's name-keyed dict lookup;
// Go's interfaces make the heuristic/LLM split a tagged dispatch instead of
// dynamic attribute access.
type Provider interface {
	Name() string
	Judge(ctx context.Context, decisionContext map[string]any) (Output, error)
}
