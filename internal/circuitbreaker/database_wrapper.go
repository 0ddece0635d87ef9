package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper exposes the subset of sqlx the workflow store needs, with
// each statement guarded by a breaker.
type DatabaseWrapper struct {
	db *sqlx.DB
	cb *CircuitBreaker
}

// NewDatabaseWrapper guards db with a breaker built from settings, falling
// back to the CB_DB_* environment defaults.
func NewDatabaseWrapper(db *sqlx.DB, service string, settings Settings, logger *zap.Logger) *DatabaseWrapper {
	cfg := settings.Merge(GetDatabaseConfig()).ToConfig()
	cfg.IsFailure = func(err error) bool { return !errors.Is(err, sql.ErrNoRows) }
	cb := NewCircuitBreaker("postgresql", cfg, logger)
	Default.Track(service, cb)
	return &DatabaseWrapper{db: db, cb: cb}
}

func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.PingContext(ctx) })
}

func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// GetContext scans one row into dest. sql.ErrNoRows is passed through without
// counting against the breaker.
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	return dw.cb.Execute(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return call(ctx, dw.cb, func() (sql.Result, error) { return dw.db.ExecContext(ctx, query, args...) })
}

// NamedExecContext binds the db-tagged fields of arg.
func (dw *DatabaseWrapper) NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error) {
	return call(ctx, dw.cb, func() (sql.Result, error) { return dw.db.NamedExecContext(ctx, query, arg) })
}

func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool { return dw.cb.IsOpen() }
