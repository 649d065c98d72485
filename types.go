package fulltext

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Row is one decoded result row keyed by logical field name.
type Row map[string]any

// SortDirection defines sort direction
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

type Logic string

const (
	LogicAnd Logic = "and"
	LogicOr  Logic = "or"
)

// Operator names understood by the planner. Plugins may register more.
const (
	OpEquals     = "equals"
	OpNotEquals  = "not_equals"
	OpGreater    = "gt"
	OpGreaterEq  = "gte"
	OpLess       = "lt"
	OpLessEq     = "lte"
	OpContains   = "contains"
	OpIncludes   = "includes"
	OpStartsWith = "starts_with"
	OpIsNull     = "is_null"
	OpMatches    = "matches"
)

// Condition is a node of a filter tree.
type Condition interface {
	IsLeaf() bool
}

// CompositeCondition combines child conditions with AND / OR.
type CompositeCondition struct {
	Logic      Logic       `json:"l"`
	Conditions []Condition `json:"c"`
}

func (c *CompositeCondition) IsLeaf() bool { return false }

// UnmarshalJSON customizes decoding so that nested conditions are turned into the
// appropriate concrete condition implementations.
func (c *CompositeCondition) UnmarshalJSON(data []byte) error {
	type compositeAlias struct {
		Logic      *Logic            `json:"l"`
		Conditions []json.RawMessage `json:"c"`
	}

	var alias compositeAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Logic == nil {
		return fmt.Errorf("composite condition missing logic")
	}

	switch *alias.Logic {
	case LogicAnd, LogicOr:
		c.Logic = *alias.Logic
	default:
		return fmt.Errorf("unknown logic: %s", *alias.Logic)
	}

	if len(alias.Conditions) == 0 {
		c.Conditions = nil
		return nil
	}

	conditions := make([]Condition, 0, len(alias.Conditions))
	for _, raw := range alias.Conditions {
		child, err := UnmarshalCondition(raw)
		if err != nil {
			return err
		}
		conditions = append(conditions, child)
	}

	c.Conditions = conditions
	return nil
}

// KvCondition applies one operator to one field.
//
// On the wire it is either the shorthand {"a":"fullText","v":"matches:fruit"}, where a
// value without an operator prefix means equals, or the explicit form
// {"a":"fullText","o":"matches","v":<any json value>}.
type KvCondition struct {
	Attr  string `json:"a"`
	Op    string `json:"o,omitempty"`
	Value any    `json:"v"`
}

func (kv *KvCondition) IsLeaf() bool { return true }

func (kv *KvCondition) UnmarshalJSON(data []byte) error {
	type kvAlias struct {
		Attr  string          `json:"a"`
		Op    string          `json:"o"`
		Value json.RawMessage `json:"v"`
	}

	var alias kvAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	if alias.Attr == "" {
		return fmt.Errorf("kv condition missing attr 'a'")
	}
	if len(alias.Value) == 0 {
		return fmt.Errorf("kv condition missing value 'v'")
	}

	kv.Attr = alias.Attr

	if alias.Op != "" {
		var value any
		dec := json.NewDecoder(bytes.NewReader(alias.Value))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("kv condition value: %w", err)
		}
		kv.Op = alias.Op
		kv.Value = value
		return nil
	}

	var shorthand string
	if err := json.Unmarshal(alias.Value, &shorthand); err != nil {
		return fmt.Errorf("kv condition shorthand value must be a string of the form 'op:value'")
	}
	op, value, err := ParseKvShorthand(shorthand)
	if err != nil {
		return err
	}
	kv.Op = op
	kv.Value = value
	return nil
}

// ParseKvShorthand splits "op:value". A string without a colon is an equals test.
// The value may be empty; "matches:" searches for nothing and matches no rows.
func ParseKvShorthand(s string) (op string, value string, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 1 {
		return OpEquals, s, nil
	}
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid KvCondition value format: %s", s)
	}
	return parts[0], parts[1], nil
}

// RelationCondition applies a condition to the row reached through a relation field.
type RelationCondition struct {
	Relation  string    `json:"a"`
	Condition Condition `json:"c"`
}

func (r *RelationCondition) IsLeaf() bool { return false }

func (r *RelationCondition) UnmarshalJSON(data []byte) error {
	var alias struct {
		Relation  string          `json:"a"`
		Condition json.RawMessage `json:"c"`
	}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	if alias.Relation == "" {
		return fmt.Errorf("relation condition missing relation 'a'")
	}
	if len(alias.Condition) == 0 {
		return fmt.Errorf("relation condition missing condition 'c'")
	}
	child, err := UnmarshalCondition(alias.Condition)
	if err != nil {
		return err
	}
	r.Relation = alias.Relation
	r.Condition = child
	return nil
}

// UnmarshalCondition inspects the incoming JSON payload and instantiates the
// correct Condition implementation.
func UnmarshalCondition(data []byte) (Condition, error) {
	var discriminator struct {
		Logic *Logic           `json:"l"`
		Attr  *string          `json:"a"`
		Child *json.RawMessage `json:"c"`
	}

	if err := json.Unmarshal(data, &discriminator); err != nil {
		return nil, err
	}

	switch {
	case discriminator.Logic != nil:
		var composite CompositeCondition
		if err := json.Unmarshal(data, &composite); err != nil {
			return nil, err
		}
		return &composite, nil
	case discriminator.Attr != nil && discriminator.Child != nil:
		var rel RelationCondition
		if err := json.Unmarshal(data, &rel); err != nil {
			return nil, err
		}
		return &rel, nil
	case discriminator.Attr != nil:
		var kv KvCondition
		if err := json.Unmarshal(data, &kv); err != nil {
			return nil, err
		}
		return &kv, nil
	}

	return nil, fmt.Errorf("invalid condition payload: expected 'l' or 'a'")
}

// Selection lists the fields and related rows to return for one row set.
type Selection struct {
	Fields    []string              `json:"fields"`
	Relations map[string]*Selection `json:"relations,omitempty"`
}

// QueryRequest is one outward query against a single row type.
type QueryRequest struct {
	SchemaName string                `json:"schema_name"`
	Filter     Condition             `json:"filter,omitempty"`
	OrderBy    []string              `json:"order_by,omitempty"`
	Fields     []string              `json:"fields"`
	Relations  map[string]*Selection `json:"relations,omitempty"`
	First      int                   `json:"first,omitempty"`
	Offset     int                   `json:"offset,omitempty"`
}

// Selection returns the root selection of the request.
func (r *QueryRequest) Selection() *Selection {
	return &Selection{Fields: r.Fields, Relations: r.Relations}
}

func (r *QueryRequest) UnmarshalJSON(data []byte) error {
	type requestAlias struct {
		SchemaName string                `json:"schema_name"`
		Filter     json.RawMessage       `json:"filter"`
		OrderBy    []string              `json:"order_by"`
		Fields     []string              `json:"fields"`
		Relations  map[string]*Selection `json:"relations"`
		First      int                   `json:"first"`
		Offset     int                   `json:"offset"`
	}

	var alias requestAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}

	r.SchemaName = alias.SchemaName
	r.OrderBy = alias.OrderBy
	r.Fields = alias.Fields
	r.Relations = alias.Relations
	r.First = alias.First
	r.Offset = alias.Offset
	r.Filter = nil

	if len(alias.Filter) > 0 && string(alias.Filter) != "null" {
		cond, err := UnmarshalCondition(alias.Filter)
		if err != nil {
			return fmt.Errorf("filter: %w", err)
		}
		r.Filter = cond
	}
	return nil
}

// QueryResult holds the rows of one query.
type QueryResult struct {
	Rows          []Row         `json:"rows"`
	Count         int           `json:"count"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// FieldDescription describes one readable field of a row type.
type FieldDescription struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Derived   bool     `json:"derived,omitempty"`
	Operators []string `json:"operators,omitempty"`
}

// TableDescription lists what a caller may filter, select and order by.
type TableDescription struct {
	Name        string             `json:"name"`
	Fields      []FieldDescription `json:"fields"`
	Relations   []string           `json:"relations,omitempty"`
	OrderValues []string           `json:"order_values"`
}
