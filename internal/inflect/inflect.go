// Package inflect derives the public names of fields, relations and order values from
// database identifiers.
package inflect

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/jinzhu/inflection"
)

// Field names a column as a lowerCamelCase field: Field("full_text") == "fullText".
func Field(column string) string {
	return strcase.ToLowerCamel(column)
}

// RankField names the derived rank field of a search-vector field.
func RankField(field string) string {
	return strcase.ToLowerCamel(field + "_rank")
}

// RankOrder names the rank order value of a search-vector field.
func RankOrder(field string, ascending bool) string {
	return strcase.ToScreamingSnake(field) + "_RANK" + directionSuffix(ascending)
}

// ColumnOrder names the order value of a plain column.
func ColumnOrder(field string, ascending bool) string {
	return strcase.ToScreamingSnake(field) + directionSuffix(ascending)
}

// RelationField names a belongs-to relation: RelationField("clients", "client_id")
// == "clientByClientId".
func RelationField(targetTable, localColumn string) string {
	return Record(targetTable) + "By" + strcase.ToCamel(localColumn)
}

// Record names one row of a table: Record("categories") == "category".
func Record(table string) string {
	return strcase.ToLowerCamel(inflection.Singular(table))
}

// ComputedField names a computed column from its function: the "<table>_" prefix is
// removed, so ComputedField("jobs", "jobs_search") == "search".
func ComputedField(table, function string) string {
	return strcase.ToLowerCamel(strings.TrimPrefix(function, table+"_"))
}

func directionSuffix(ascending bool) string {
	if ascending {
		return "_ASC"
	}
	return "_DESC"
}
