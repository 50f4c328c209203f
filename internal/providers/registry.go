package providers

import (
	"log/slog"

	"chatgate/internal/core"
)

// NamespaceLoader produces the namespace candidates are resolved against.
type NamespaceLoader func() (Namespace, error)

// StaticLoader returns a loader that always yields ns.
func StaticLoader(ns Namespace) NamespaceLoader {
	return func() (Namespace, error) {
		return ns, nil
	}
}

// Registry resolves the ordered candidate list into available providers.
type Registry struct {
	candidates []string
	load       NamespaceLoader
}

// NewRegistry creates a registry over an ordered list of candidate names.
func NewRegistry(candidates []string, load NamespaceLoader) *Registry {
	return &Registry{
		candidates: append([]string(nil), candidates...),
		load:       load,
	}
}

// Candidates returns a copy of the configured candidate names.
func (r *Registry) Candidates() []string {
	return append([]string(nil), r.candidates...)
}

// Load resolves every candidate in order. A candidate is looked up as a
// top-level provider first, then as the same-named provider inside the
// same-named sub-module. Unresolvable candidates are skipped. An unavailable
// namespace yields an empty list.
func (r *Registry) Load() []*core.Provider {
	if r.load == nil {
		return nil
	}
	ns, err := r.load()
	if err != nil || ns == nil {
		slog.Warn("provider namespace unavailable", "error", err)
		return nil
	}

	resolved := make([]*core.Provider, 0, len(r.candidates))
	for _, name := range r.candidates {
		p, ok := resolve(ns, name)
		if !ok {
			slog.Debug("provider candidate not found", "candidate", name)
			continue
		}
		resolved = append(resolved, p)
	}
	return resolved
}

func resolve(ns Namespace, name string) (*core.Provider, bool) {
	if p, ok := ns.Provider(name); ok && p != nil {
		return p, true
	}
	if sub, ok := ns.Module(name); ok && sub != nil {
		if p, ok := sub.Provider(name); ok && p != nil {
			return p, true
		}
	}
	return nil, false
}
