package planner

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
)

// FilterContext is handed to an operator building one predicate.
type FilterContext struct {
	// Node is where the predicate is being built: a Scope, a Group, or a detached root.
	Node     Node
	Table    *catalog.Table
	Field    catalog.FieldRef
	Source   string
	Operator string
	Value    any

	args *Args
}

// Placeholder binds v as a statement argument.
func (c *FilterContext) Placeholder(v any) string {
	return c.args.Add(v)
}

// OperatorFunc returns the SQL predicate for one filter.
type OperatorFunc func(ctx *FilterContext) (string, error)

// Operator is a named filter operator applicable to a set of column types.
type Operator struct {
	Name string
	// Types lists the PostgreSQL type names the operator accepts; nil accepts all but
	// the excluded ones.
	Types    []string
	Excluded []string
	Build    OperatorFunc
}

func (o Operator) appliesTo(typ string) bool {
	for _, t := range o.Excluded {
		if t == typ {
			return false
		}
	}
	if len(o.Types) == 0 {
		return true
	}
	for _, t := range o.Types {
		if t == typ {
			return true
		}
	}
	return false
}

// FieldContext is handed to a derived field resolver.
type FieldContext struct {
	// Node refers to the row the field is read from.
	Node  Node
	Table *catalog.Table
}

// DerivedField is a read-only field computed from other state of the scope.
type DerivedField struct {
	Name    string
	Type    string
	Resolve func(ctx *FieldContext) (string, error)
}

// OrderContext is handed to an order option being applied.
type OrderContext struct {
	Node  Node
	Table *catalog.Table
}

// OrderOption is a named ordering value.
type OrderOption struct {
	Name  string
	Apply func(ctx *OrderContext) error
}

// FieldProvider contributes derived fields to a table.
type FieldProvider func(t *catalog.Table) []DerivedField

// OrderProvider contributes order options to a table.
type OrderProvider func(t *catalog.Table) []OrderOption

// Registry holds the operators, derived fields and order options the planner may use.
// The zero Registry has no filter support.
type Registry struct {
	mu             sync.RWMutex
	operators      map[string][]Operator
	fieldProviders []FieldProvider
	orderProviders []OrderProvider
	observers      []ScopeObserver
}

// NewRegistry returns a registry with the built-in comparison operators.
func NewRegistry() *Registry {
	r := &Registry{operators: make(map[string][]Operator)}
	for _, op := range builtinOperators() {
		if err := r.RegisterOperator(op); err != nil {
			panic(err)
		}
	}
	return r
}

// SupportsFilters reports whether operators can be registered.
func (r *Registry) SupportsFilters() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators != nil
}

// RegisterOperator adds op. Two operators of the same name may not accept the same type.
func (r *Registry) RegisterOperator(op Operator) error {
	if op.Name == "" || op.Build == nil {
		return fmt.Errorf("operator requires a name and a builder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.operators == nil {
		return fulltext.NewMissingCollaboratorError(fulltext.ErrCodeMissingCollaborator,
			"registry has no filter support").WithDetail("operator", op.Name)
	}
	for _, existing := range r.operators[op.Name] {
		for _, t := range op.Types {
			if existing.appliesTo(t) {
				return fmt.Errorf("operator %s already registered for type %s", op.Name, t)
			}
		}
		if len(op.Types) == 0 && len(existing.Types) == 0 {
			return fmt.Errorf("operator %s already registered", op.Name)
		}
	}
	r.operators[op.Name] = append(r.operators[op.Name], op)
	return nil
}

// Operator looks up the operator name for a column of type typ.
func (r *Registry) Operator(name, typ string) (Operator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.operators[name] {
		if op.appliesTo(typ) {
			return op, true
		}
	}
	return Operator{}, false
}

// OperatorsFor lists the operator names accepted by columns of type typ, sorted.
func (r *Registry) OperatorsFor(typ string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, ops := range r.operators {
		for _, op := range ops {
			if op.appliesTo(typ) {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

// RegisterFields adds a derived field provider.
func (r *Registry) RegisterFields(p FieldProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fieldProviders = append(r.fieldProviders, p)
}

// RegisterOrders adds an order option provider.
func (r *Registry) RegisterOrders(p OrderProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orderProviders = append(r.orderProviders, p)
}

// OnScopeFinished adds an observer called once per scope when its planning completes.
func (r *Registry) OnScopeFinished(o ScopeObserver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// DerivedFields returns the derived fields of t from every provider.
func (r *Registry) DerivedFields(t *catalog.Table) []DerivedField {
	r.mu.RLock()
	providers := append([]FieldProvider(nil), r.fieldProviders...)
	r.mu.RUnlock()

	var out []DerivedField
	for _, p := range providers {
		out = append(out, p(t)...)
	}
	return out
}

// OrderOptions returns the plugin order options of t from every provider.
func (r *Registry) OrderOptions(t *catalog.Table) []OrderOption {
	r.mu.RLock()
	providers := append([]OrderProvider(nil), r.orderProviders...)
	r.mu.RUnlock()

	var out []OrderOption
	for _, p := range providers {
		out = append(out, p(t)...)
	}
	return out
}

func (r *Registry) scopeObservers() []ScopeObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]ScopeObserver(nil), r.observers...)
}
