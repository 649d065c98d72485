// Package engine joins the planner and the executor into a fulltext.Engine.
package engine

import (
	"context"
	"time"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/logging"
	"github.com/lychee-technology/fulltext/internal/planner"
)

// StatementRunner executes planned statements.
type StatementRunner interface {
	Run(ctx context.Context, stmt *planner.Statement) ([]fulltext.Row, error)
}

type engine struct {
	planner *planner.Planner
	runner  StatementRunner
}

// New returns an Engine planning with p and executing with runner.
func New(p *planner.Planner, runner StatementRunner) fulltext.Engine {
	return &engine{planner: p, runner: runner}
}

// Query plans req in one request scope and runs the statement.
func (e *engine) Query(ctx context.Context, req *fulltext.QueryRequest) (*fulltext.QueryResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fulltext.NewExecutionError("request cancelled before planning", err)
	}

	stmt, err := e.planner.Plan(req)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx).Sugar()
	startTime := time.Now()
	rows, err := e.runner.Run(ctx, stmt)
	if err != nil {
		log.Errorw("query failed", "schema", req.SchemaName, "error", err)
		return nil, err
	}
	if rows == nil {
		rows = []fulltext.Row{}
	}

	result := &fulltext.QueryResult{
		Rows:          rows,
		Count:         len(rows),
		ExecutionTime: time.Since(startTime),
	}
	log.Debugw("query executed", "schema", req.SchemaName, "rows", result.Count, "duration", result.ExecutionTime)
	return result, nil
}

func (e *engine) Describe(schemaName string) (*fulltext.TableDescription, error) {
	return e.planner.Describe(schemaName)
}
