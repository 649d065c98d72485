package planner

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
)

// Node is a position in the plan tree. Every node except a detached root has a parent.
type Node interface {
	Parent() Node
}

// ResolveScope walks from n up to the nearest enclosing Scope.
func ResolveScope(n Node) (*Scope, bool) {
	for n != nil {
		if s, ok := n.(*Scope); ok {
			return s, true
		}
		n = n.Parent()
	}
	return nil, false
}

// Args collects positional statement arguments.
type Args struct {
	values []any
}

// Add appends v and returns its placeholder.
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

// Values returns the arguments in placeholder order.
func (a *Args) Values() []any {
	return a.values
}

// Projection is one SELECT list entry.
type Projection struct {
	Name     string
	SQL      string
	Relation bool
}

// OrderTerm is one ORDER BY entry.
type OrderTerm struct {
	SQL       string
	Direction fulltext.SortDirection
}

// Scope is one row set being assembled: the root query, a relation filter subquery or
// a nested related-row selection.
type Scope struct {
	id      uuid.UUID
	parent  Node
	table   *catalog.Table
	alias   string
	session *Session

	where    []string
	selects  []Projection
	orderBy  []OrderTerm
	state    map[string]any
	finished bool
}

func (s *Scope) Parent() Node { return s.parent }

// ID returns the unique id of the scope.
func (s *Scope) ID() uuid.UUID { return s.id }

// Table returns the row type the scope reads.
func (s *Scope) Table() *catalog.Table { return s.table }

// Alias returns the SQL alias of the scope's table.
func (s *Scope) Alias() string { return s.alias }

// Session returns the request the scope belongs to.
func (s *Scope) Session() *Session { return s.session }

// Set attaches per-scope state.
func (s *Scope) Set(key string, value any) {
	if s.state == nil {
		s.state = make(map[string]any)
	}
	s.state[key] = value
}

// Get retrieves per-scope state.
func (s *Scope) Get(key string) (any, bool) {
	v, ok := s.state[key]
	return v, ok
}

// Where appends a boolean term to the scope's WHERE clause.
func (s *Scope) Where(sql string) {
	if sql != "" {
		s.where = append(s.where, sql)
	}
}

// Select appends a projection.
func (s *Scope) Select(name, sql string) {
	s.selects = append(s.selects, Projection{Name: name, SQL: sql})
}

func (s *Scope) selectRelation(name, sql string) {
	s.selects = append(s.selects, Projection{Name: name, SQL: sql, Relation: true})
}

// OrderBy appends an ordering term.
func (s *Scope) OrderBy(sql string, dir fulltext.SortDirection) {
	s.orderBy = append(s.orderBy, OrderTerm{SQL: sql, Direction: dir})
}

// Placeholder binds v as a statement argument.
func (s *Scope) Placeholder(v any) string {
	return s.session.args.Add(v)
}

// Finished reports whether planning of the scope has completed.
func (s *Scope) Finished() bool { return s.finished }

// Group is an AND/OR wrapper inside a filter. It never owns a scope.
type Group struct {
	parent Node
	Logic  fulltext.Logic
}

func (g *Group) Parent() Node { return g.parent }

// RowRef stands for a single row of its scope, as seen by field resolvers.
type RowRef struct {
	scope *Scope
}

func (r *RowRef) Parent() Node { return r.scope }

// Session holds the planning state of one request. It is not shared between requests.
type Session struct {
	ID uuid.UUID

	args      Args
	aliases   int
	mu        sync.Mutex
	values    map[string]any
	observers []ScopeObserver
}

// ScopeObserver is told when a scope has finished planning.
type ScopeObserver func(*Scope)

func newSession(observers []ScopeObserver) *Session {
	return &Session{
		ID:        uuid.New(),
		values:    make(map[string]any),
		observers: observers,
	}
}

// Value returns the session value under key, creating it with init on first use.
func (s *Session) Value(key string, init func() any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.values[key]; ok {
		return v
	}
	v := init()
	s.values[key] = v
	return v
}

// Args returns the statement arguments collected so far.
func (s *Session) Args() []any {
	return s.args.Values()
}

func (s *Session) newScope(parent Node, table *catalog.Table) *Scope {
	alias := fmt.Sprintf("t%d", s.aliases)
	s.aliases++
	return &Scope{
		id:      uuid.New(),
		parent:  parent,
		table:   table,
		alias:   alias,
		session: s,
	}
}

func (s *Session) finish(scope *Scope) {
	if scope.finished {
		return
	}
	scope.finished = true
	for _, observe := range s.observers {
		observe(scope)
	}
}
