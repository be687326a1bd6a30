package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	return fmt.Sprintf("%s = ANY(%s)", field, pb.Add(values))
}

func (d *PostgresDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	return fmt.Sprintf("%s != ALL(%s)", field, pb.Add(values))
}

func (d *PostgresDialect) ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := pgErr.Message
		if pgErr.Detail != "" {
			msg = msg + ": " + pgErr.Detail
		}
		return &StoreError{Message: msg}
	}
	// pgx/stdlib sometimes flattens errors to strings; fall back on the
	// SQLSTATE classes for constraint (23xxx) and syntax/column (42xxx).
	errStr := err.Error()
	if strings.Contains(errStr, "SQLSTATE 23") || strings.Contains(errStr, "SQLSTATE 42") {
		return &StoreError{Message: errStr}
	}
	return err
}

func (d *PostgresDialect) AuditTableSQL() string {
	return pgAuditTableSQL
}

const pgAuditTableSQL = `
CREATE TABLE IF NOT EXISTS _audit_events (
    id          UUID PRIMARY KEY,
    table_name  TEXT NOT NULL,
    operation   TEXT NOT NULL,
    decision    TEXT NOT NULL,
    rule        TEXT NOT NULL DEFAULT '',
    status      INT NOT NULL,
    duration_ms DOUBLE PRECISION,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_audit_events_table_created ON _audit_events (table_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON _audit_events (created_at DESC);
`

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
