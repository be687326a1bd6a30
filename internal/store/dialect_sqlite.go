package store

import (
	"errors"
	"fmt"
	"strings"

	sqlite "modernc.org/sqlite"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) InExpr(field string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s IN (%s)", field, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) NotInExpr(field string, pb ParamBuilder, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = pb.Add(v)
	}
	return fmt.Sprintf("%s NOT IN (%s)", field, strings.Join(placeholders, ", "))
}

func (d *SQLiteDialect) ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return &StoreError{Message: sqErr.Error()}
	}
	errStr := err.Error()
	if strings.Contains(errStr, "constraint failed") || strings.Contains(errStr, "no such column") ||
		strings.Contains(errStr, "no column named") || strings.Contains(errStr, "no such table") {
		return &StoreError{Message: errStr}
	}
	return err
}

func (d *SQLiteDialect) AuditTableSQL() string {
	return sqliteAuditTableSQL
}

const sqliteAuditTableSQL = `
CREATE TABLE IF NOT EXISTS _audit_events (
    id          TEXT PRIMARY KEY,
    table_name  TEXT NOT NULL,
    operation   TEXT NOT NULL,
    decision    TEXT NOT NULL,
    rule        TEXT NOT NULL DEFAULT '',
    status      INTEGER NOT NULL,
    duration_ms REAL,
    created_at  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_events_table_created ON _audit_events (table_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_events_created ON _audit_events (created_at DESC);
`

// Compile-time check
var _ Dialect = (*SQLiteDialect)(nil)
