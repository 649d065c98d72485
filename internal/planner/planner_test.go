package planner

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.New(
		&catalog.Table{
			Name:       "clients",
			PrimaryKey: "id",
			Columns: []catalog.Column{
				{Name: "id", Type: "int4"},
				{Name: "comment", Type: "text"},
				{Name: "tsv", Type: catalog.TypeTSVector},
			},
		},
		&catalog.Table{
			Name:       "orders",
			PrimaryKey: "id",
			Columns: []catalog.Column{
				{Name: "id", Type: "int4"},
				{Name: "client_id", Type: "int4"},
				{Name: "comment", Type: "text"},
				{Name: "total", Type: "numeric"},
			},
			Relations: []catalog.Relation{{Target: "clients", LocalColumn: "client_id", ForeignColumn: "id"}},
		},
	)
	require.NoError(t, err)
	return cat
}

func decodeRequest(t *testing.T, payload string) *fulltext.QueryRequest {
	t.Helper()
	var req fulltext.QueryRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))
	return &req
}

func TestPlan_Basic(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(decodeRequest(t, `{"schema_name":"orders","fields":["id","comment"],"filter":{"a":"comment","v":"includes:Z"}}`))
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT t0."id" AS "id", t0."comment" AS "comment" FROM "public"."orders" t0 WHERE t0."comment" LIKE $1 ORDER BY t0."id" ASC LIMIT $2 OFFSET $3`,
		stmt.SQL)
	assert.Equal(t, []any{"%Z%", 50, 0}, stmt.Args)
	assert.Equal(t, []Column{{Name: "id"}, {Name: "comment"}}, stmt.Columns)
}

func TestPlan_DefaultFieldsAndOrders(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{DefaultPageSize: 10, MaxPageSize: 20})

	stmt, err := p.Plan(&fulltext.QueryRequest{SchemaName: "order", OrderBy: []string{"TOTAL_DESC", "NATURAL"}, First: 100, Offset: 5})
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `t0."total" AS "total"`)
	assert.Contains(t, stmt.SQL, `ORDER BY t0."total" DESC, t0."id" ASC`)
	assert.Equal(t, []any{20, 5}, stmt.Args)
}

func TestPlan_PrimaryKeyOrderSkipsTieBreaker(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(&fulltext.QueryRequest{SchemaName: "orders", Fields: []string{"id"}, OrderBy: []string{OrderPrimaryKeyDesc}})
	require.NoError(t, err)
	assert.Contains(t, stmt.SQL, `ORDER BY t0."id" DESC LIMIT`)
}

func TestPlan_CompositeAndRelationFilter(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(decodeRequest(t, `{
		"schema_name": "orders",
		"fields": ["id"],
		"filter": {"l": "or", "c": [
			{"a": "comment", "v": "includes:Z"},
			{"a": "clientByClientId", "c": {"a": "comment", "o": "starts_with", "v": "ab_"}}
		]}
	}`))
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`WHERE (t0."comment" LIKE $1) OR (EXISTS (SELECT 1 FROM "public"."clients" t1 WHERE t1."id" = t0."client_id" AND (t1."comment" LIKE $2)))`)
	assert.Equal(t, []any{"%Z%", `ab\_%`, 50, 0}, stmt.Args)
}

func TestPlan_RelationFilterWithOrGroup(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(decodeRequest(t, `{
		"schema_name": "orders",
		"fields": ["id"],
		"filter": {"a": "clientByClientId", "c": {"l": "or", "c": [
			{"a": "comment", "v": "includes:a"},
			{"a": "comment", "v": "includes:b"}
		]}}
	}`))
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`WHERE EXISTS (SELECT 1 FROM "public"."clients" t1 WHERE t1."id" = t0."client_id" AND ((t1."comment" LIKE $1) OR (t1."comment" LIKE $2)))`)
}

func TestPlan_NestedRelationSelection(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(decodeRequest(t, `{
		"schema_name": "orders",
		"fields": ["id"],
		"relations": {"clientByClientId": {"fields": ["id", "comment"]}}
	}`))
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL,
		`(SELECT json_build_object('id', t1."id", 'comment', t1."comment") FROM "public"."clients" t1 WHERE t1."id" = t0."client_id") AS "clientByClientId"`)
	assert.Equal(t, []Column{{Name: "id"}, {Name: "clientByClientId", Relation: true}}, stmt.Columns)
}

func TestPlan_OperatorsAndValues(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	stmt, err := p.Plan(decodeRequest(t, `{"schema_name":"orders","fields":["id"],"filter":{"l":"and","c":[
		{"a":"total","o":"gte","v":10},
		{"a":"total","o":"lt","v":99.5},
		{"a":"comment","o":"is_null","v":false},
		{"a":"comment","o":"contains","v":"50%"}
	]}}`))
	require.NoError(t, err)

	assert.Contains(t, stmt.SQL, `(t0."total" >= $1) AND (t0."total" < $2) AND (t0."comment" IS NOT NULL) AND (t0."comment" ILIKE $3)`)
	assert.Equal(t, []any{int64(10), 99.5, `%50\%%`, 50, 0}, stmt.Args)
}

func TestPlan_Errors(t *testing.T) {
	p := New(NewRegistry(), testCatalog(t), Options{})

	tests := []struct {
		name string
		req  *fulltext.QueryRequest
		code string
	}{
		{name: "nil request", req: nil, code: fulltext.ErrCodeInvalidInput},
		{name: "missing schema", req: &fulltext.QueryRequest{}, code: fulltext.ErrCodeUnknownSchema},
		{name: "unknown schema", req: &fulltext.QueryRequest{SchemaName: "nope"}, code: fulltext.ErrCodeUnknownSchema},
		{name: "unknown field", req: &fulltext.QueryRequest{SchemaName: "orders", Fields: []string{"missing"}}, code: fulltext.ErrCodeUnknownField},
		{name: "unknown order", req: &fulltext.QueryRequest{SchemaName: "orders", OrderBy: []string{"MISSING_ASC"}}, code: fulltext.ErrCodeUnknownOrder},
		{name: "negative first", req: &fulltext.QueryRequest{SchemaName: "orders", First: -1}, code: fulltext.ErrCodeInvalidInput},
		{
			name: "unknown operator",
			req:  &fulltext.QueryRequest{SchemaName: "orders", Filter: &fulltext.KvCondition{Attr: "total", Op: "contains", Value: "x"}},
			code: fulltext.ErrCodeUnknownOperator,
		},
		{
			name: "unknown filter field",
			req:  &fulltext.QueryRequest{SchemaName: "orders", Filter: &fulltext.KvCondition{Attr: "missing", Op: "equals", Value: "x"}},
			code: fulltext.ErrCodeUnknownField,
		},
		{
			name: "text operand required",
			req:  &fulltext.QueryRequest{SchemaName: "orders", Filter: &fulltext.KvCondition{Attr: "comment", Op: "includes", Value: 3}},
			code: fulltext.ErrCodeInvalidOperand,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Plan(tt.req)
			require.Error(t, err)
			var fe *fulltext.Error
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, fulltext.KindInvalidInput, fe.Kind)
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestPlan_ScopeLifecycle(t *testing.T) {
	reg := NewRegistry()

	var finished []string
	reg.OnScopeFinished(func(s *Scope) { finished = append(finished, s.Table().Name+":"+s.Alias()) })

	var seen []Node
	require.NoError(t, reg.RegisterOperator(Operator{
		Name:  "echo",
		Types: []string{"text"},
		Build: func(ctx *FilterContext) (string, error) {
			seen = append(seen, ctx.Node)
			return "TRUE", nil
		},
	}))

	p := New(reg, testCatalog(t), Options{})
	_, err := p.Plan(decodeRequest(t, `{"schema_name":"orders","fields":["id"],
		"relations":{"clientByClientId":{"fields":["id"]}},
		"filter":{"l":"and","c":[{"l":"or","c":[{"a":"comment","v":"echo:x"}]},
		                         {"a":"clientByClientId","c":{"a":"comment","v":"echo:y"}}]}}`))
	require.NoError(t, err)

	require.Len(t, seen, 2)

	_, isGroup := seen[0].(*Group)
	assert.True(t, isGroup, "predicate inside an OR group hangs from the group")
	outer, ok := ResolveScope(seen[0])
	require.True(t, ok)
	assert.Equal(t, "t0", outer.Alias())

	inner, ok := ResolveScope(seen[1])
	require.True(t, ok)
	assert.Equal(t, "t1", inner.Alias())
	assert.NotEqual(t, outer.ID(), inner.ID())

	assert.Equal(t, []string{"clients:t1", "clients:t2", "orders:t0"}, finished)
	assert.True(t, outer.Finished())
}

func TestPredicate_Detached(t *testing.T) {
	reg := NewRegistry()
	var resolved bool
	require.NoError(t, reg.RegisterOperator(Operator{
		Name:  "echo",
		Types: []string{"text"},
		Build: func(ctx *FilterContext) (string, error) {
			_, resolved = ResolveScope(ctx.Node)
			return ctx.Source + " = " + ctx.Placeholder("x"), nil
		},
	}))
	p := New(reg, testCatalog(t), Options{})

	sql, args, err := p.Predicate("orders", "o", &fulltext.KvCondition{Attr: "comment", Op: "echo", Value: "x"})
	require.NoError(t, err)
	assert.Equal(t, `(o."comment" = $1)`, sql)
	assert.Equal(t, []any{"x"}, args)
	assert.False(t, resolved)

	sql, args, err = p.Predicate("orders", "o", &fulltext.CompositeCondition{Logic: fulltext.LogicOr, Conditions: []fulltext.Condition{
		&fulltext.KvCondition{Attr: "comment", Op: "echo", Value: "a"},
		&fulltext.KvCondition{Attr: "comment", Op: "echo", Value: "b"},
	}})
	require.NoError(t, err)
	assert.Equal(t, `((o."comment" = $1) OR (o."comment" = $2))`, sql)
	assert.Equal(t, []any{"a", "b"}, args)

	sql, _, err = p.Predicate("orders", "o", nil)
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)

	_, _, err = p.Predicate("orders", "", nil)
	assert.Error(t, err)
}

func TestResolveScope(t *testing.T) {
	sess := newSession(nil)
	scope := sess.newScope(nil, &catalog.Table{Name: "x"})
	group := &Group{parent: &Group{parent: scope}}
	row := &RowRef{scope: scope}

	for _, n := range []Node{scope, group, row} {
		got, ok := ResolveScope(n)
		require.True(t, ok)
		assert.Same(t, scope, got)
	}

	_, ok := ResolveScope(&Group{})
	assert.False(t, ok)
	_, ok = ResolveScope(nil)
	assert.False(t, ok)
}

func TestScope_StateAndSessionValues(t *testing.T) {
	sess := newSession(nil)
	scope := sess.newScope(nil, &catalog.Table{Name: "x"})

	_, ok := scope.Get("k")
	assert.False(t, ok)
	scope.Set("k", 1)
	v, ok := scope.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	calls := 0
	init := func() any { calls++; return "arena" }
	assert.Equal(t, "arena", sess.Value("fts", init))
	assert.Equal(t, "arena", sess.Value("fts", init))
	assert.Equal(t, 1, calls)

	assert.Equal(t, "$1", scope.Placeholder("a"))
	assert.Equal(t, "$2", scope.Placeholder("b"))
	assert.Equal(t, []any{"a", "b"}, sess.Args())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.True(t, reg.SupportsFilters())
	assert.False(t, (&Registry{}).SupportsFilters())
	assert.False(t, (*Registry)(nil).SupportsFilters())

	_, ok := reg.Operator(fulltext.OpEquals, catalog.TypeTSVector)
	assert.False(t, ok)
	_, ok = reg.Operator(fulltext.OpContains, "int4")
	assert.False(t, ok)
	_, ok = reg.Operator(fulltext.OpContains, "text")
	assert.True(t, ok)

	assert.Contains(t, reg.OperatorsFor("text"), fulltext.OpStartsWith)
	assert.Equal(t, []string{fulltext.OpIsNull}, reg.OperatorsFor(catalog.TypeTSVector))

	err := reg.RegisterOperator(Operator{Name: fulltext.OpContains, Types: []string{"text"}, Build: func(*FilterContext) (string, error) { return "", nil }})
	assert.Error(t, err)

	err = (&Registry{}).RegisterOperator(Operator{Name: "x", Build: func(*FilterContext) (string, error) { return "", nil }})
	require.Error(t, err)
	assert.True(t, fulltext.IsKind(err, fulltext.KindMissingCollaborator))
}

func TestDescribe(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterFields(func(t *catalog.Table) []DerivedField {
		return []DerivedField{{Name: "score", Type: "float8", Resolve: func(*FieldContext) (string, error) { return "NULL", nil }}}
	})
	p := New(reg, testCatalog(t), Options{})

	desc, err := p.Describe("orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", desc.Name)
	assert.Equal(t, []string{"clientByClientId"}, desc.Relations)
	assert.Contains(t, desc.OrderValues, "TOTAL_ASC")
	assert.Contains(t, desc.OrderValues, OrderPrimaryKeyAsc)
	assert.Contains(t, desc.OrderValues, OrderNatural)

	last := desc.Fields[len(desc.Fields)-1]
	assert.Equal(t, "score", last.Name)
	assert.True(t, last.Derived)

	_, err = p.Describe("missing")
	assert.Error(t, err)
}
