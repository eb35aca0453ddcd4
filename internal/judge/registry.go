package judge

import "fmt"

// Registry looks providers up by name. Grounded on the original source's
// JudgeRegistry.get, which raises KeyError for an unknown name — Registry.Get
// returns an error instead.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("judge: unknown provider %q", name)
	}
	return p, nil
}
