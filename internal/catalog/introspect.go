package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lychee-technology/fulltext/internal/inflect"
)

// Querier is the subset of pgxpool.Pool the introspector needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	tsvectorTypeQuery = `SELECT EXISTS (SELECT 1 FROM pg_catalog.pg_type WHERE typname = 'tsvector')`

	columnsQuery = `SELECT c.table_schema, c.table_name, c.column_name, c.udt_name
FROM information_schema.columns c
JOIN information_schema.tables t ON t.table_schema = c.table_schema AND t.table_name = c.table_name
WHERE c.table_schema = ANY($1) AND t.table_type = 'BASE TABLE'
ORDER BY c.table_schema, c.table_name, c.ordinal_position`

	primaryKeysQuery = `SELECT tc.table_schema, tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ANY($1)
ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

	foreignKeysQuery = `SELECT tc.table_schema, tc.table_name, kcu.column_name, ccu.table_name, ccu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON kcu.constraint_name = tc.constraint_name AND kcu.table_schema = tc.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = ANY($1)
ORDER BY tc.table_schema, tc.table_name, kcu.column_name`

	computedColumnsQuery = `SELECT n.nspname, arg.typname, p.proname, ret.typname
FROM pg_catalog.pg_proc p
JOIN pg_catalog.pg_namespace n ON n.oid = p.pronamespace
JOIN pg_catalog.pg_type arg ON arg.oid = p.proargtypes[0]
JOIN pg_catalog.pg_type ret ON ret.oid = p.prorettype
WHERE n.nspname = ANY($1) AND p.pronargs = 1 AND p.provolatile IN ('s', 'i') AND arg.typtype = 'c'
ORDER BY n.nspname, arg.typname, p.proname`
)

// Introspector reads the catalog from a live database.
type Introspector struct {
	db Querier
	// Parallelism bounds the concurrent catalog queries; zero means unbounded.
	Parallelism int
}

// NewIntrospector returns an Introspector over db.
func NewIntrospector(db Querier) *Introspector {
	return &Introspector{db: db}
}

type tableKey struct{ schema, name string }

type foreignKey struct {
	table         tableKey
	column        string
	target        string
	foreignColumn string
}

type computedRow struct {
	table      tableKey
	function   string
	returnType string
}

// Load introspects the given schemas. Tables without a primary key are skipped. A
// database without the tsvector type yields a catalog with TextSearchUnavailable set.
func (i *Introspector) Load(ctx context.Context, schemas ...string) (*Catalog, error) {
	if len(schemas) == 0 {
		schemas = []string{"public"}
	}

	var hasTSVector bool
	if err := i.db.QueryRow(ctx, tsvectorTypeQuery).Scan(&hasTSVector); err != nil {
		return nil, catalogError(fmt.Errorf("check tsvector type: %w", err))
	}

	var (
		columns  map[tableKey][]Column
		order    []tableKey
		pks      map[tableKey]string
		fks      []foreignKey
		computed []computedRow
	)

	g, gctx := errgroup.WithContext(ctx)
	if i.Parallelism > 0 {
		g.SetLimit(i.Parallelism)
	}
	g.Go(func() error {
		var err error
		columns, order, err = i.loadColumns(gctx, schemas)
		return err
	})
	g.Go(func() error {
		var err error
		pks, err = i.loadPrimaryKeys(gctx, schemas)
		return err
	})
	g.Go(func() error {
		var err error
		fks, err = i.loadForeignKeys(gctx, schemas)
		return err
	})
	g.Go(func() error {
		var err error
		computed, err = i.loadComputed(gctx, schemas)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, catalogError(err)
	}

	tables := make(map[tableKey]*Table, len(order))
	var list []*Table
	for _, key := range order {
		pk, ok := pks[key]
		if !ok {
			zap.S().Debugw("skipping table without primary key", "schema", key.schema, "table", key.name)
			continue
		}
		t := &Table{Schema: key.schema, Name: key.name, PrimaryKey: pk, Columns: columns[key]}
		tables[key] = t
		list = append(list, t)
	}

	for _, c := range computed {
		t, ok := tables[c.table]
		if !ok || !strings.HasPrefix(c.function, t.Name+"_") {
			continue
		}
		if shadowsColumn(t, inflect.ComputedField(t.Name, c.function)) {
			zap.S().Debugw("skipping computed column shadowing a column", "table", t.Name, "function", c.function)
			continue
		}
		t.Computed = append(t.Computed, ComputedColumn{Function: c.function, ReturnType: c.returnType})
	}

	for _, fk := range fks {
		t, ok := tables[fk.table]
		if !ok {
			continue
		}
		if _, ok := tables[tableKey{schema: fk.table.schema, name: fk.target}]; !ok {
			continue
		}
		t.Relations = append(t.Relations, Relation{Target: fk.target, LocalColumn: fk.column, ForeignColumn: fk.foreignColumn})
	}

	cat, err := New(list...)
	if err != nil {
		return nil, err
	}
	cat.TextSearchUnavailable = !hasTSVector

	zap.S().Infow("catalog introspected",
		"schemas", schemas,
		"tables", len(cat.Tables),
		"textSearch", hasTSVector,
	)
	return cat, nil
}

func (i *Introspector) loadColumns(ctx context.Context, schemas []string) (map[tableKey][]Column, []tableKey, error) {
	rows, err := i.db.Query(ctx, columnsQuery, schemas)
	if err != nil {
		return nil, nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[tableKey][]Column)
	var order []tableKey
	for rows.Next() {
		var key tableKey
		var col Column
		if err := rows.Scan(&key.schema, &key.name, &col.Name, &col.Type); err != nil {
			return nil, nil, fmt.Errorf("scan column: %w", err)
		}
		if _, seen := columns[key]; !seen {
			order = append(order, key)
		}
		columns[key] = append(columns[key], col)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, order, nil
}

func (i *Introspector) loadPrimaryKeys(ctx context.Context, schemas []string) (map[tableKey]string, error) {
	rows, err := i.db.Query(ctx, primaryKeysQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query primary keys: %w", err)
	}
	defer rows.Close()

	pks := make(map[tableKey]string)
	for rows.Next() {
		var key tableKey
		var column string
		if err := rows.Scan(&key.schema, &key.name, &column); err != nil {
			return nil, fmt.Errorf("scan primary key: %w", err)
		}
		// Composite keys use their first column as the tie-breaker.
		if _, ok := pks[key]; !ok {
			pks[key] = column
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary keys: %w", err)
	}
	return pks, nil
}

func (i *Introspector) loadForeignKeys(ctx context.Context, schemas []string) ([]foreignKey, error) {
	rows, err := i.db.Query(ctx, foreignKeysQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.table.schema, &fk.table.name, &fk.column, &fk.target, &fk.foreignColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

func (i *Introspector) loadComputed(ctx context.Context, schemas []string) ([]computedRow, error) {
	rows, err := i.db.Query(ctx, computedColumnsQuery, schemas)
	if err != nil {
		return nil, fmt.Errorf("query computed columns: %w", err)
	}
	defer rows.Close()

	var out []computedRow
	for rows.Next() {
		var c computedRow
		if err := rows.Scan(&c.table.schema, &c.table.name, &c.function, &c.returnType); err != nil {
			return nil, fmt.Errorf("scan computed column: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate computed columns: %w", err)
	}
	return out, nil
}

func shadowsColumn(t *Table, field string) bool {
	for _, col := range t.Columns {
		if inflect.Field(col.Name) == field {
			return true
		}
	}
	return false
}
