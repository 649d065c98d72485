package planner

import (
	"github.com/lychee-technology/fulltext"
)

// Describe reports the fields, relations and order values of a row type.
func (p *Planner) Describe(schemaName string) (*fulltext.TableDescription, error) {
	table, err := p.table(schemaName)
	if err != nil {
		return nil, err
	}

	desc := &fulltext.TableDescription{
		Name:        table.Name,
		Relations:   table.RelationNames(),
		OrderValues: p.OrderValues(table),
	}
	for _, f := range table.Fields() {
		desc.Fields = append(desc.Fields, fulltext.FieldDescription{
			Name:      f.Name,
			Type:      f.Type,
			Operators: p.registry.OperatorsFor(f.Type),
		})
	}
	for _, d := range p.registry.DerivedFields(table) {
		desc.Fields = append(desc.Fields, fulltext.FieldDescription{
			Name:    d.Name,
			Type:    d.Type,
			Derived: true,
		})
	}
	return desc, nil
}
