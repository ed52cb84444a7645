package aiprovider

import (
	"fmt"

	"github.com/yanolja/modgate"
)

// Registry maps a model tier to the Provider that serves it, built with a
// factory-switch idiom generalized from per-provider instantiation to
// per-tier lookup.
type Registry struct {
	byTier map[modgate.ModelTier]Provider
}

// NewRegistry builds a Registry from a tier->Provider table.
func NewRegistry(byTier map[modgate.ModelTier]Provider) *Registry {
	return &Registry{byTier: byTier}
}

// Select returns the Provider configured for tier.
func (r *Registry) Select(tier modgate.ModelTier) (Provider, error) {
	p, ok := r.byTier[tier]
	if ok {
		return p, nil
	}
	if fallback, ok := r.byTier[modgate.TierNormal]; ok {
		return fallback, nil
	}
	return nil, fmt.Errorf("aiprovider: no provider configured for tier %q", tier)
}
