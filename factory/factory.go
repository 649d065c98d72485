package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/lychee-technology/fulltext"
	"github.com/lychee-technology/fulltext/internal/catalog"
	"github.com/lychee-technology/fulltext/internal/engine"
	"github.com/lychee-technology/fulltext/internal/executor"
	"github.com/lychee-technology/fulltext/internal/fts"
	"github.com/lychee-technology/fulltext/internal/planner"
	"github.com/lychee-technology/fulltext/internal/tsquery"
)

// NewEngine creates a full-text aware Engine over cat, executing on pool.
// This is the primary way for external projects to create an Engine.
//
// Usage:
//
//	config := fulltext.DefaultConfig()
//	pool, err := factory.NewPool(ctx, config.Database)
//	cat, err := factory.LoadCatalog(ctx, config, pool)
//	eng, err := factory.NewEngine(config, pool, cat, prometheus.DefaultRegisterer)
//
// When the database has no tsvector type the engine is still returned, without the
// matches operator, rank fields and rank order values. reg may be nil.
func NewEngine(config *fulltext.Config, pool executor.Pool, cat *catalog.Catalog, reg prometheus.Registerer) (fulltext.Engine, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("database pool is required")
	}
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}

	sanitizer, err := tsquery.NewSanitizer(config.Search.SanitizerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create sanitizer: %w", err)
	}

	var metrics *fts.Metrics
	if reg != nil {
		if metrics, err = fts.NewMetrics(reg); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	registry := planner.NewRegistry()
	_, err = fts.Register(registry, cat, fts.Options{
		TextSearchConfig: config.Search.TextSearchConfig,
		DuplicatePolicy:  config.Search.DuplicatePolicy,
		Sanitizer:        sanitizer,
		Metrics:          metrics,
	})
	var ftErr *fulltext.Error
	switch {
	case err == nil:
	case errors.As(err, &ftErr) && ftErr.Code == fulltext.ErrCodeMissingTSVectorType:
		zap.S().Warnw("full text search disabled", "error", err)
	default:
		return nil, err
	}

	p := planner.New(registry, cat, planner.Options{
		DefaultPageSize: config.Search.DefaultPageSize,
		MaxPageSize:     config.Search.MaxPageSize,
		LogQueries:      config.Logging.LogQueries,
	})
	exec := executor.New(pool, executor.Options{
		Timeout: config.Database.Timeout,
		Breaker: executor.NewCircuitBreaker(
			config.Database.BreakerThreshold,
			config.Database.BreakerWindow,
			config.Database.BreakerOpenDuration,
		),
	})
	return engine.New(p, exec), nil
}

// LoadCatalog loads the catalog from the configured source: introspection of db, a
// local file, or an S3 object.
func LoadCatalog(ctx context.Context, config *fulltext.Config, db catalog.Querier) (*catalog.Catalog, error) {
	switch config.Catalog.Source {
	case fulltext.CatalogSourceFile:
		return catalog.LoadFile(config.Catalog.Path)
	case fulltext.CatalogSourceS3:
		client, err := catalog.NewS3Client(ctx, config.Catalog.S3)
		if err != nil {
			return nil, err
		}
		return catalog.LoadS3(ctx, client, config.Catalog.S3.Bucket, config.Catalog.S3.Key)
	case fulltext.CatalogSourceIntrospect, "":
		if db == nil {
			return nil, fmt.Errorf("introspection requires a database connection")
		}
		cat, err := catalog.NewIntrospector(db).Load(ctx, config.Catalog.Schemas...)
		if err != nil {
			return nil, err
		}
		zap.S().Infow("catalog introspected", "schemas", config.Catalog.Schemas, "tables", len(cat.Tables))
		return cat, nil
	}
	return nil, fmt.Errorf("unknown catalog source %q", config.Catalog.Source)
}

// NewPool creates a PostgreSQL connection pool and checks that it answers.
func NewPool(ctx context.Context, config fulltext.DatabaseConfig) (*pgxpool.Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = int32(config.MaxConnections)
	poolConfig.MinConns = int32(config.MinConnections)
	poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = config.ConnMaxIdleTime
	poolConfig.ConnConfig.ConnectTimeout = config.Timeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
