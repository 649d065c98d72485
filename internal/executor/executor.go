// Package executor runs planned statements on PostgreSQL and decodes their rows.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/planner"
)

// Pool is the subset of *pgxpool.Pool the executor needs.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Options tunes an Executor.
type Options struct {
	// Timeout bounds each statement. Zero means no bound beyond the caller's context.
	Timeout time.Duration
	Breaker *CircuitBreaker
}

// Executor runs statements against one pool.
type Executor struct {
	pool    Pool
	timeout time.Duration
	breaker *CircuitBreaker
}

func New(pool Pool, opts Options) *Executor {
	return &Executor{pool: pool, timeout: opts.Timeout, breaker: opts.Breaker}
}

// Run executes stmt and returns its rows keyed by the statement's column names.
// Relation columns are decoded into nested rows.
func (e *Executor) Run(ctx context.Context, stmt *planner.Statement) ([]fulltext.Row, error) {
	if e.breaker.IsOpen() {
		return nil, fulltext.NewExecutionError("database circuit breaker is open", ErrBreakerOpen)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.pool.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		e.fail(ctx, err)
		return nil, fulltext.NewExecutionError("query failed", err)
	}
	defer rows.Close()

	var out []fulltext.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			e.fail(ctx, err)
			return nil, fulltext.NewExecutionError("read row", err)
		}
		if len(values) != len(stmt.Columns) {
			return nil, fulltext.NewExecutionError("read row",
				fmt.Errorf("statement returned %d columns, expected %d", len(values), len(stmt.Columns)))
		}
		row := make(fulltext.Row, len(values))
		for i, col := range stmt.Columns {
			v, err := decode(values[i], col.Relation)
			if err != nil {
				return nil, fulltext.NewExecutionError(fmt.Sprintf("decode column %s", col.Name), err)
			}
			row[col.Name] = v
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		e.fail(ctx, err)
		return nil, fulltext.NewExecutionError("iterate rows", err)
	}

	e.breaker.RecordSuccess()
	return out, nil
}

// Ping checks that the database answers within timeout. Zero means 5s.
func (e *Executor) Ping(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := e.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, err error) {
	// A cancelled request says nothing about database health.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}
	e.breaker.RecordFailure()
	zap.S().Warnw("statement failed", "error", err, "breakerOpen", e.breaker.IsOpen())
}

func decode(v any, relation bool) (any, error) {
	if relation {
		return decodeRelation(v)
	}
	switch x := v.(type) {
	case float32:
		return float64(x), nil
	case pgtype.Numeric:
		if !x.Valid {
			return nil, nil
		}
		f, err := x.Float64Value()
		if err != nil {
			return nil, err
		}
		return f.Float64, nil
	case [16]byte:
		return uuid.UUID(x).String(), nil
	}
	return v, nil
}

func decodeRelation(v any) (any, error) {
	var raw []byte
	switch x := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return fulltext.Row(x), nil
	case []byte:
		raw = x
	case string:
		raw = []byte(x)
	default:
		return nil, fmt.Errorf("unexpected relation value %T", v)
	}
	var row fulltext.Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row, nil
}
