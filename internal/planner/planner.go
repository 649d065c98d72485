// Package planner turns a fulltext.QueryRequest into one PostgreSQL statement. Filters,
// projections and orderings are built per scope in a fixed order (WHERE, then SELECT,
// then ORDER BY) so that plugins can pass state from predicates to later phases.
package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
	"github.com/lychee-technology/fulltext/internal/inflect"
)

// Order values every table understands.
const (
	OrderNatural        = "NATURAL"
	OrderPrimaryKeyAsc  = "PRIMARY_KEY_ASC"
	OrderPrimaryKeyDesc = "PRIMARY_KEY_DESC"
)

// Options bound pagination.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	LogQueries      bool
}

// Column describes one column of a planned statement's result.
type Column struct {
	Name     string
	Relation bool
}

// Statement is an executable query.
type Statement struct {
	SQL     string
	Args    []any
	Columns []Column
}

// Planner builds statements against one catalog.
type Planner struct {
	registry *Registry
	catalog  *catalog.Catalog
	opts     Options
}

// New returns a Planner. Zero page sizes fall back to 50 and 500.
func New(reg *Registry, cat *catalog.Catalog, opts Options) *Planner {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = max(500, opts.DefaultPageSize)
	}
	return &Planner{registry: reg, catalog: cat, opts: opts}
}

// Plan builds the statement for req in a fresh session.
func (p *Planner) Plan(req *fulltext.QueryRequest) (*Statement, error) {
	if req == nil {
		return nil, fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidInput, "query request cannot be nil")
	}
	table, err := p.table(req.SchemaName)
	if err != nil {
		return nil, err
	}

	limit, offset, err := p.pagination(req)
	if err != nil {
		return nil, err
	}

	sess := newSession(p.registry.scopeObservers())
	root := sess.newScope(nil, table)
	defer sess.finish(root)

	// WHERE
	if req.Filter != nil {
		where, err := p.filter(sess, root, root.alias, table, req.Filter)
		if err != nil {
			return nil, err
		}
		root.Where(where)
	}

	// SELECT
	if err := p.selectFields(root, req.Selection()); err != nil {
		return nil, err
	}

	// ORDER BY
	if err := p.order(root, req.OrderBy); err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(renderProjections(root.selects))
	fmt.Fprintf(&b, " FROM %s %s", table.QualifiedName(), root.alias)
	if len(root.where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(root.where, " AND "))
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(renderOrder(root.orderBy))
	fmt.Fprintf(&b, " LIMIT %s OFFSET %s", root.Placeholder(limit), root.Placeholder(offset))

	columns := make([]Column, len(root.selects))
	for i, proj := range root.selects {
		columns[i] = Column{Name: proj.Name, Relation: proj.Relation}
	}

	stmt := &Statement{SQL: b.String(), Args: sess.Args(), Columns: columns}
	if p.opts.LogQueries {
		zap.S().Debugw("planned statement", "session", sess.ID, "sql", stmt.SQL, "args", len(stmt.Args))
	}
	return stmt, nil
}

// Predicate renders cond against schemaName as a standalone boolean expression over
// the caller's alias, for embedding in caller-owned SQL. Relation subqueries use aliases
// of the form tN, so alias must not. No scope encloses the predicate, so state recorded
// by filters on the top-level row type is not kept.
func (p *Planner) Predicate(schemaName, alias string, cond fulltext.Condition) (string, []any, error) {
	table, err := p.table(schemaName)
	if err != nil {
		return "", nil, err
	}
	if alias == "" {
		return "", nil, fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidInput, "alias is required")
	}
	sess := newSession(p.registry.scopeObservers())
	detached := &Group{Logic: fulltext.LogicAnd}
	sql, err := p.filter(sess, detached, alias, table, cond)
	if err != nil {
		return "", nil, err
	}
	if sql == "" {
		return "TRUE", sess.Args(), nil
	}
	return parenthesize(sql), sess.Args(), nil
}

// parenthesize wraps a non-empty predicate so it can be ANDed with other terms.
func parenthesize(sql string) string {
	if sql == "" {
		return ""
	}
	return "(" + sql + ")"
}

func (p *Planner) table(name string) (*catalog.Table, error) {
	if name == "" {
		return nil, fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownSchema, "schema name is required")
	}
	t, ok := p.catalog.Table(name)
	if !ok {
		return nil, fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownSchema,
			fmt.Sprintf("unknown schema '%s'", name)).WithDetail("schema", name)
	}
	return t, nil
}

func (p *Planner) pagination(req *fulltext.QueryRequest) (int, int, error) {
	if req.First < 0 {
		return 0, 0, fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidInput, "first must not be negative")
	}
	if req.Offset < 0 {
		return 0, 0, fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidInput, "offset must not be negative")
	}
	limit := req.First
	if limit == 0 {
		limit = p.opts.DefaultPageSize
	}
	if limit > p.opts.MaxPageSize {
		limit = p.opts.MaxPageSize
	}
	return limit, req.Offset, nil
}

// filter renders cond hanging from node, reading table through alias.
func (p *Planner) filter(sess *Session, node Node, alias string, table *catalog.Table, cond fulltext.Condition) (string, error) {
	switch c := cond.(type) {
	case *fulltext.CompositeCondition:
		group := &Group{parent: node, Logic: c.Logic}
		var clauses []string
		for _, child := range c.Conditions {
			sql, err := p.filter(sess, group, alias, table, child)
			if err != nil {
				return "", err
			}
			if sql != "" {
				clauses = append(clauses, "("+sql+")")
			}
		}
		if len(clauses) == 0 {
			return "", nil
		}
		joiner := " AND "
		if c.Logic == fulltext.LogicOr {
			joiner = " OR "
		}
		return strings.Join(clauses, joiner), nil

	case *fulltext.KvCondition:
		field, ok := table.Field(c.Attr)
		if !ok {
			return "", unknownField(table, c.Attr)
		}
		op, ok := p.registry.Operator(c.Op, field.Type)
		if !ok {
			return "", fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownOperator,
				fmt.Sprintf("operator '%s' is not available for field of type %s", c.Op, field.Type)).
				WithField(c.Attr).WithDetail("operator", c.Op)
		}
		return op.Build(&FilterContext{
			Node:     node,
			Table:    table,
			Field:    field,
			Source:   field.Expression(alias),
			Operator: c.Op,
			Value:    c.Value,
			args:     &sess.args,
		})

	case *fulltext.RelationCondition:
		rel, ok := table.Relation(c.Relation)
		if !ok {
			return "", unknownField(table, c.Relation)
		}
		target, _ := p.catalog.Table(rel.Target)

		child := sess.newScope(node, target)
		defer sess.finish(child)

		child.Where(fmt.Sprintf("%s.%s = %s.%s",
			child.alias, pq.QuoteIdentifier(rel.ForeignColumn),
			alias, pq.QuoteIdentifier(rel.LocalColumn)))
		if c.Condition != nil {
			inner, err := p.filter(sess, child, child.alias, target, c.Condition)
			if err != nil {
				return "", err
			}
			child.Where(parenthesize(inner))
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
			target.QualifiedName(), child.alias, strings.Join(child.where, " AND ")), nil

	case nil:
		return "", nil
	}

	return "", fulltext.NewInvalidInputError(fulltext.ErrCodeInvalidFilter, fmt.Sprintf("unsupported condition %T", cond))
}

func (p *Planner) selectFields(scope *Scope, sel *fulltext.Selection) error {
	table := scope.table
	fields := sel.Fields
	if len(fields) == 0 && len(sel.Relations) == 0 {
		for _, f := range table.Fields() {
			fields = append(fields, f.Name)
		}
	}

	derived := make(map[string]DerivedField)
	for _, d := range p.registry.DerivedFields(table) {
		derived[d.Name] = d
	}

	row := &RowRef{scope: scope}
	for _, name := range fields {
		if f, ok := table.Field(name); ok {
			scope.Select(name, f.Expression(scope.alias))
			continue
		}
		if d, ok := derived[name]; ok {
			sql, err := d.Resolve(&FieldContext{Node: row, Table: table})
			if err != nil {
				return err
			}
			scope.Select(name, sql)
			continue
		}
		if _, ok := table.Relation(name); ok {
			if err := p.selectRelation(scope, name, &fulltext.Selection{}); err != nil {
				return err
			}
			continue
		}
		return unknownField(table, name)
	}

	for _, name := range sortedKeys(sel.Relations) {
		sub := sel.Relations[name]
		if sub == nil {
			sub = &fulltext.Selection{}
		}
		if err := p.selectRelation(scope, name, sub); err != nil {
			return err
		}
	}
	return nil
}

// selectRelation projects the related row as a JSON object built in its own scope.
func (p *Planner) selectRelation(parent *Scope, name string, sel *fulltext.Selection) error {
	rel, ok := parent.table.Relation(name)
	if !ok {
		return unknownField(parent.table, name)
	}
	target, _ := p.catalog.Table(rel.Target)

	child := parent.session.newScope(&RowRef{scope: parent}, target)
	defer parent.session.finish(child)

	child.Where(fmt.Sprintf("%s.%s = %s.%s",
		child.alias, pq.QuoteIdentifier(rel.ForeignColumn),
		parent.alias, pq.QuoteIdentifier(rel.LocalColumn)))

	if err := p.selectFields(child, sel); err != nil {
		return err
	}

	pairs := make([]string, 0, len(child.selects))
	for _, proj := range child.selects {
		pairs = append(pairs, pq.QuoteLiteral(proj.Name)+", "+proj.SQL)
	}
	parent.selectRelation(name, fmt.Sprintf("(SELECT json_build_object(%s) FROM %s %s WHERE %s)",
		strings.Join(pairs, ", "), target.QualifiedName(), child.alias, strings.Join(child.where, " AND ")))
	return nil
}

func (p *Planner) order(scope *Scope, values []string) error {
	table := scope.table
	options := p.orderOptions(table)

	for _, value := range values {
		opt, ok := options[value]
		if !ok {
			return fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownOrder,
				fmt.Sprintf("unknown order value '%s' for %s", value, table.Name)).WithDetail("order", value)
		}
		if err := opt.Apply(&OrderContext{Node: scope, Table: table}); err != nil {
			return err
		}
	}

	// Deterministic tie-breaker.
	pk := scope.alias + "." + pq.QuoteIdentifier(table.PrimaryKey)
	for _, term := range scope.orderBy {
		if term.SQL == pk {
			return nil
		}
	}
	scope.OrderBy(pk, fulltext.SortAsc)
	return nil
}

// orderOptions returns every order value of table by name.
func (p *Planner) orderOptions(table *catalog.Table) map[string]OrderOption {
	options := make(map[string]OrderOption)
	add := func(o OrderOption) { options[o.Name] = o }

	add(OrderOption{Name: OrderNatural, Apply: func(*OrderContext) error { return nil }})
	pkField, _ := table.Field(table.PrimaryKeyField())
	add(columnOrder(OrderPrimaryKeyAsc, pkField, fulltext.SortAsc))
	add(columnOrder(OrderPrimaryKeyDesc, pkField, fulltext.SortDesc))

	for _, f := range table.Fields() {
		if isNonComparable(f.Type) {
			continue
		}
		add(columnOrder(inflect.ColumnOrder(f.Name, true), f, fulltext.SortAsc))
		add(columnOrder(inflect.ColumnOrder(f.Name, false), f, fulltext.SortDesc))
	}

	for _, o := range p.registry.OrderOptions(table) {
		add(o)
	}
	return options
}

// OrderValues lists every order value of table, sorted.
func (p *Planner) OrderValues(table *catalog.Table) []string {
	return sortedKeys(p.orderOptions(table))
}

func columnOrder(name string, f catalog.FieldRef, dir fulltext.SortDirection) OrderOption {
	return OrderOption{
		Name: name,
		Apply: func(ctx *OrderContext) error {
			scope, ok := ResolveScope(ctx.Node)
			if !ok {
				return fulltext.NewUnresolvedScopeError(f.Name)
			}
			scope.OrderBy(f.Expression(scope.alias), dir)
			return nil
		},
	}
}

func isNonComparable(typ string) bool {
	for _, t := range nonComparable {
		if t == typ {
			return true
		}
	}
	return false
}

func renderProjections(selects []Projection) string {
	parts := make([]string, len(selects))
	for i, proj := range selects {
		parts[i] = proj.SQL + " AS " + pq.QuoteIdentifier(proj.Name)
	}
	return strings.Join(parts, ", ")
}

func renderOrder(terms []OrderTerm) string {
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = term.SQL + " " + string(term.Direction)
	}
	return strings.Join(parts, ", ")
}

func unknownField(table *catalog.Table, name string) error {
	return fulltext.NewInvalidInputError(fulltext.ErrCodeUnknownField,
		fmt.Sprintf("unknown field '%s' on %s", name, table.Name)).WithField(name)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
