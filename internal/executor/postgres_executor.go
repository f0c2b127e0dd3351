package executor

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/noetl/core/internal/domain/noetl"
)

// PostgresExecutor implements tool.kind "postgres". spec carries
// {dsn, query, params?}; params are positional (`$1, $2, ...`) bind values.
// Connections are cached per DSN for the lifetime of the worker process,
// mirroring the engine/event-store's own single long-lived *gorm.DB rather
// than reopening a connection per call.
type PostgresExecutor struct {
	mu    sync.Mutex
	conns map[string]*gorm.DB
}

func NewPostgresExecutor() *PostgresExecutor {
	return &PostgresExecutor{conns: map[string]*gorm.DB{}}
}

func (e *PostgresExecutor) connFor(dsn string) (*gorm.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if db, ok := e.conns[dsn]; ok {
		return db, nil
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres executor: open: %w", err)
	}
	e.conns[dsn] = db
	return db, nil
}

func (e *PostgresExecutor) Execute(ctx context.Context, spec noetl.Value, call CallContext) (Result, error) {
	dsn := spec.Get("dsn").String()
	query := spec.Get("query").String()
	if dsn == "" || query == "" {
		return Result{}, fmt.Errorf("postgres executor: spec.dsn and spec.query are required")
	}

	db, err := e.connFor(dsn)
	if err != nil {
		return Result{}, err
	}

	params := spec.Get("params")
	args := make([]interface{}, 0, len(params.Array()))
	for _, p := range params.Array() {
		args = append(args, p.Native())
	}

	rows, err := db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return Result{}, fmt.Errorf("postgres executor: query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("postgres executor: read columns: %w", err)
	}

	var records []noetl.Value
	for rows.Next() {
		scanTargets := make([]interface{}, len(cols))
		scanValues := make([]interface{}, len(cols))
		for i := range scanTargets {
			scanTargets[i] = &scanValues[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("postgres executor: scan row: %w", err)
		}
		row := make(map[string]noetl.Value, len(cols))
		for i, c := range cols {
			row[c] = noetl.FromNative(normalizeSQLValue(scanValues[i]))
		}
		records = append(records, noetl.Map(row))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("postgres executor: iterate rows: %w", err)
	}

	return Result{Data: noetl.Map(map[string]noetl.Value{
		"rows":  noetl.Array(records...),
		"count": noetl.Int(int64(len(records))),
	})}, nil
}

// normalizeSQLValue coerces driver-returned types ([]byte, etc) into plain
// JSON-friendly values before wrapping in a noetl.Value.
func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
