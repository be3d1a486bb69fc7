package schema

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SymbolSpec describes a tradable instrument and its exchange constraints.
type SymbolSpec struct {
	Name           string
	LotSize        decimal.Decimal
	PositionCap    decimal.Decimal
	ReferencePrice decimal.Decimal
}

// Registry stores symbol specs keyed by name.
type Registry struct {
	symbols []SymbolSpec
	byName  map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// AddSymbol registers a new symbol spec.
func (r *Registry) AddSymbol(spec SymbolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("symbol name is empty")
	}
	if _, ok := r.byName[spec.Name]; ok {
		return fmt.Errorf("symbol already exists: %s", spec.Name)
	}
	if spec.LotSize.Sign() < 0 || spec.PositionCap.Sign() < 0 {
		return fmt.Errorf("symbol %s has negative constraint", spec.Name)
	}
	r.byName[spec.Name] = len(r.symbols)
	r.symbols = append(r.symbols, spec)
	return nil
}

// Symbol returns the spec for a symbol name.
func (r *Registry) Symbol(name string) (SymbolSpec, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return SymbolSpec{}, false
	}
	return r.symbols[idx], true
}

// Has reports whether a symbol is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns all registered symbol names in insertion order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.symbols))
	for _, spec := range r.symbols {
		out = append(out, spec.Name)
	}
	return out
}

// Count returns the number of registered symbols.
func (r *Registry) Count() int {
	return len(r.symbols)
}
