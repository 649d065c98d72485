// Package rankcache remembers, per query scope, which search-vector expression a
// matches filter compared against which sanitized query, so that rank projections and
// rank orderings planned later in the same scope can reuse it.
package rankcache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/tsquery"
)

// Binding is one (source expression, parsed query) pair.
type Binding struct {
	// Source is the SQL expression yielding the tsvector, e.g. t0."full_text".
	Source string
	// Query is the sanitized search query.
	Query tsquery.Query
	// Arg is the statement placeholder the query text is bound to.
	Arg string
}

// Entry holds the bindings recorded for one field in one scope. Under every policy
// except max it holds exactly one binding.
type Entry struct {
	Field    string
	Bindings []Binding
}

// Current returns the most recently recorded binding.
func (e Entry) Current() Binding {
	return e.Bindings[len(e.Bindings)-1]
}

// Arena stores entries for every scope of one request.
type Arena struct {
	mu     sync.Mutex
	policy fulltext.DuplicatePolicy
	scopes map[uuid.UUID]map[string]*Entry
}

// New returns an empty arena applying policy to repeated records. An empty policy
// means last-write-wins.
func New(policy fulltext.DuplicatePolicy) *Arena {
	if policy == "" {
		policy = fulltext.DuplicateLastWriteWins
	}
	return &Arena{
		policy: policy,
		scopes: make(map[uuid.UUID]map[string]*Entry),
	}
}

// Policy returns the duplicate policy of the arena.
func (a *Arena) Policy() fulltext.DuplicatePolicy {
	return a.policy
}

// Record stores b for (scope, field). A second record for the same key replaces the
// first, is appended under the max policy, or fails under the reject policy.
func (a *Arena) Record(scope uuid.UUID, field string, b Binding) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	fields, ok := a.scopes[scope]
	if !ok {
		fields = make(map[string]*Entry)
		a.scopes[scope] = fields
	}

	existing, ok := fields[field]
	if !ok {
		fields[field] = &Entry{Field: field, Bindings: []Binding{b}}
		return nil
	}

	switch a.policy {
	case fulltext.DuplicateReject:
		return fulltext.NewDuplicateBindingError(field).WithDetail("scope", scope.String())
	case fulltext.DuplicateMax:
		existing.Bindings = append(existing.Bindings, b)
	default:
		existing.Bindings = []Binding{b}
	}
	return nil
}

// Lookup returns a copy of the entry for (scope, field).
func (a *Arena) Lookup(scope uuid.UUID, field string) (Entry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry, ok := a.scopes[scope][field]
	if !ok {
		return Entry{}, false
	}
	bindings := make([]Binding, len(entry.Bindings))
	copy(bindings, entry.Bindings)
	return Entry{Field: entry.Field, Bindings: bindings}, true
}

// Release discards every entry of scope.
func (a *Arena) Release(scope uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.scopes, scope)
}

// Scopes returns the number of scopes that still hold entries.
func (a *Arena) Scopes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.scopes)
}
