package fulltext

import (
	"context"
)

// Engine plans and runs full-text aware queries.
type Engine interface {
	// Query plans req in one request scope and executes it.
	Query(ctx context.Context, req *QueryRequest) (*QueryResult, error)

	// Describe reports the filterable, selectable and orderable surface of a row type.
	Describe(schemaName string) (*TableDescription, error)
}
