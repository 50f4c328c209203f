// Package providers resolves configured provider names into concrete providers.
package providers

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatgate/config"
	"chatgate/internal/core"
)

// ErrNamespaceUnavailable is returned when no provider namespace can be built.
var ErrNamespaceUnavailable = errors.New("provider namespace unavailable")

// Namespace is a tree of named providers. Providers live either at the top
// level or in a same-named sub-module.
type Namespace interface {
	Provider(name string) (*core.Provider, bool)
	Module(name string) (Namespace, bool)
}

// Table is an in-memory Namespace.
type Table struct {
	mu        sync.RWMutex
	providers map[string]*core.Provider
	modules   map[string]*Table
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{
		providers: make(map[string]*core.Provider),
		modules:   make(map[string]*Table),
	}
}

// Register adds a provider under its name. Names are unique per table.
func (t *Table) Register(p *core.Provider) error {
	if p == nil || p.Name == "" {
		return errors.New("provider name is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.providers[p.Name]; exists {
		return fmt.Errorf("provider %q already registered", p.Name)
	}
	t.providers[p.Name] = p
	return nil
}

// Submodule returns the named sub-module, creating it when missing.
func (t *Table) Submodule(name string) *Table {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.modules[name]; ok {
		return m
	}
	m := NewTable()
	t.modules[name] = m
	return m
}

// Provider implements Namespace.
func (t *Table) Provider(name string) (*core.Provider, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.providers[name]
	return p, ok
}

// Module implements Namespace.
func (t *Table) Module(name string) (Namespace, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.modules[name]
	if !ok {
		return nil, false
	}
	return m, true
}

// Names lists the top-level provider names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.providers))
	for name := range t.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewNamespace builds a Table from provider configuration. A provider with a
// module is registered inside that sub-module instead of the top level.
func NewNamespace(cfgs map[string]config.ProviderConfig) (*Table, error) {
	if len(cfgs) == 0 {
		return nil, ErrNamespaceUnavailable
	}

	// Sorted so duplicate detection reports deterministically.
	names := make([]string, 0, len(cfgs))
	for name := range cfgs {
		names = append(names, name)
	}
	sort.Strings(names)

	root := NewTable()
	for _, name := range names {
		cfg := cfgs[name]
		p := &core.Provider{
			Name:    name,
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Headers: cfg.Headers,
		}
		target := root
		if cfg.Module != "" {
			target = root.Submodule(cfg.Module)
		}
		if err := target.Register(p); err != nil {
			return nil, err
		}
	}
	return root, nil
}
