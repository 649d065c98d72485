// Package catalog describes the row types the engine can query: their columns, their
// computed columns and the belongs-to relations between them.
package catalog

import (
	"fmt"
	"sort"

	"github.com/lib/pq"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/inflect"
)

// TypeTSVector is the PostgreSQL type name of search vectors.
const TypeTSVector = "tsvector"

// Column is a physical column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
}

// ComputedColumn is a stable function taking the row and returning a value,
// conventionally named "<table>_<name>".
type ComputedColumn struct {
	Function   string `json:"function" yaml:"function"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	ReturnType string `json:"return_type" yaml:"return_type"`
}

// Relation is a belongs-to link through a foreign key on this table.
type Relation struct {
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Target        string `json:"target" yaml:"target"`
	LocalColumn   string `json:"local_column" yaml:"local_column"`
	ForeignColumn string `json:"foreign_column" yaml:"foreign_column"`
}

// Table is one row type.
type Table struct {
	Schema     string           `json:"schema" yaml:"schema"`
	Name       string           `json:"name" yaml:"name"`
	PrimaryKey string           `json:"primary_key" yaml:"primary_key"`
	Columns    []Column         `json:"columns" yaml:"columns"`
	Computed   []ComputedColumn `json:"computed,omitempty" yaml:"computed,omitempty"`
	Relations  []Relation       `json:"relations,omitempty" yaml:"relations,omitempty"`

	fields    map[string]FieldRef
	relations map[string]*Relation
}

// FieldKind tells how a field is read.
type FieldKind int

const (
	FieldColumn FieldKind = iota
	FieldComputed
)

// FieldRef is a resolved logical field of a table.
type FieldRef struct {
	Name     string
	Kind     FieldKind
	Type     string
	Column   string
	Function string
	schema   string
}

// Expression renders the SQL reading the field from the row aliased alias.
func (f FieldRef) Expression(alias string) string {
	if f.Kind == FieldComputed {
		return fmt.Sprintf("%s.%s(%s)", pq.QuoteIdentifier(f.schema), pq.QuoteIdentifier(f.Function), alias)
	}
	return alias + "." + pq.QuoteIdentifier(f.Column)
}

// IsSearchVector reports whether the field yields a tsvector.
func (f FieldRef) IsSearchVector() bool {
	return f.Type == TypeTSVector
}

// QualifiedName returns the quoted schema-qualified table name.
func (t *Table) QualifiedName() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// PrimaryKeyField returns the logical name of the primary key column.
func (t *Table) PrimaryKeyField() string {
	return inflect.Field(t.PrimaryKey)
}

// Field resolves a column or computed column by logical name.
func (t *Table) Field(name string) (FieldRef, bool) {
	f, ok := t.fields[name]
	return f, ok
}

// Relation resolves a relation by its field name.
func (t *Table) Relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

// Fields returns every column then every computed column, in declaration order.
func (t *Table) Fields() []FieldRef {
	out := make([]FieldRef, 0, len(t.Columns)+len(t.Computed))
	for _, c := range t.Columns {
		out = append(out, t.fields[inflect.Field(c.Name)])
	}
	for _, c := range t.Computed {
		out = append(out, t.fields[c.Name])
	}
	return out
}

// SearchVectorAttributes returns every tsvector column and computed column.
func (t *Table) SearchVectorAttributes() []FieldRef {
	var out []FieldRef
	for _, f := range t.Fields() {
		if f.IsSearchVector() {
			out = append(out, f)
		}
	}
	return out
}

// RelationNames returns the relation field names, sorted.
func (t *Table) RelationNames() []string {
	names := make([]string, 0, len(t.relations))
	for name := range t.relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Table) index() error {
	if t.Name == "" {
		return fmt.Errorf("table without name")
	}
	if t.Schema == "" {
		t.Schema = "public"
	}

	t.fields = make(map[string]FieldRef, len(t.Columns)+len(t.Computed))
	for _, c := range t.Columns {
		name := inflect.Field(c.Name)
		if _, dup := t.fields[name]; dup {
			return fmt.Errorf("table %s: duplicate field %s", t.Name, name)
		}
		t.fields[name] = FieldRef{Name: name, Kind: FieldColumn, Type: c.Type, Column: c.Name, schema: t.Schema}
	}

	for i := range t.Computed {
		c := &t.Computed[i]
		if c.Name == "" {
			c.Name = inflect.ComputedField(t.Name, c.Function)
		}
		if _, dup := t.fields[c.Name]; dup {
			return fmt.Errorf("table %s: computed column %s shadows field %s", t.Name, c.Function, c.Name)
		}
		t.fields[c.Name] = FieldRef{Name: c.Name, Kind: FieldComputed, Type: c.ReturnType, Function: c.Function, schema: t.Schema}
	}

	if t.PrimaryKey == "" {
		return fmt.Errorf("table %s: primary key is required", t.Name)
	}
	if _, ok := t.fields[inflect.Field(t.PrimaryKey)]; !ok {
		return fmt.Errorf("table %s: primary key %s is not a column", t.Name, t.PrimaryKey)
	}

	t.relations = make(map[string]*Relation, len(t.Relations))
	for i := range t.Relations {
		r := &t.Relations[i]
		if r.Name == "" {
			r.Name = inflect.RelationField(r.Target, r.LocalColumn)
		}
		if _, dup := t.fields[r.Name]; dup {
			return fmt.Errorf("table %s: relation %s shadows a field", t.Name, r.Name)
		}
		t.relations[r.Name] = r
	}
	return nil
}

// Catalog is the set of tables the engine serves.
type Catalog struct {
	Tables []*Table `json:"tables" yaml:"tables"`

	// TextSearchUnavailable is set when the database has no tsvector type.
	TextSearchUnavailable bool `json:"-" yaml:"-"`

	byName map[string]*Table
}

// New indexes tables and checks that every relation targets a known table.
func New(tables ...*Table) (*Catalog, error) {
	c := &Catalog{Tables: tables}
	if err := c.build(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) build() error {
	c.byName = make(map[string]*Table, len(c.Tables)*2)
	for _, t := range c.Tables {
		if err := t.index(); err != nil {
			return catalogError(err)
		}
		if _, dup := c.byName[t.Name]; dup {
			return catalogError(fmt.Errorf("duplicate table %s", t.Name))
		}
		c.byName[t.Name] = t
	}
	// Singular camel-case aliases ("job" for "jobs") never override a real table name.
	for _, t := range c.Tables {
		alias := inflect.Record(t.Name)
		if _, taken := c.byName[alias]; !taken {
			c.byName[alias] = t
		}
	}
	for _, t := range c.Tables {
		for _, r := range t.Relations {
			target, ok := c.byName[r.Target]
			if !ok {
				return catalogError(fmt.Errorf("table %s: relation %s targets unknown table %s", t.Name, r.Name, r.Target))
			}
			if _, ok := target.Field(inflect.Field(r.ForeignColumn)); !ok {
				return catalogError(fmt.Errorf("table %s: relation %s targets unknown column %s.%s", t.Name, r.Name, r.Target, r.ForeignColumn))
			}
			if _, ok := t.Field(inflect.Field(r.LocalColumn)); !ok {
				return catalogError(fmt.Errorf("table %s: relation %s uses unknown column %s", t.Name, r.Name, r.LocalColumn))
			}
		}
	}
	return nil
}

// Table looks a table up by name or by its singular camel-case alias.
func (c *Catalog) Table(name string) (*Table, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// HasSearchVectors reports whether any table has a search-vector attribute.
func (c *Catalog) HasSearchVectors() bool {
	for _, t := range c.Tables {
		if len(t.SearchVectorAttributes()) > 0 {
			return true
		}
	}
	return false
}

func catalogError(err error) error {
	return fulltext.NewError(fulltext.KindInternal, fulltext.ErrCodeCatalogLoad, err.Error()).WithCause(err)
}
