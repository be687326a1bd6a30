package gateway

import (
	"fmt"
	"strings"

	"dashgate/internal/store"
)

// Rows are inserted-or-merged by the conventional primary key. Every table
// the dashboard exposes uses an `id` column.
const conflictKey = "id"

// Query is a built, parameterized statement ready for execution.
type Query struct {
	SQL    string
	Params []any
}

// BuildQuery translates a permitted operation into parameterized SQL.
// Identifiers were validated by the decoder and the table name came off an
// allow-list, so only values travel as parameters.
func BuildQuery(op *Operation, d store.Dialect) (*Query, *AppError) {
	switch op.Kind {
	case "select":
		return buildSelect(op, d)
	case "insert":
		return buildInsert(op, d, false)
	case "upsert":
		return buildInsert(op, d, true)
	case "update":
		return buildUpdate(op, d)
	case "delete":
		return buildDelete(op, d)
	default:
		return nil, MalformedError(fmt.Sprintf("Unknown operation: %s", op.Kind))
	}
}

func buildSelect(op *Operation, d store.Dialect) (*Query, *AppError) {
	pb := d.NewParamBuilder()

	sql := fmt.Sprintf("SELECT %s FROM %s", projection(op), op.Table)

	where, aerr := buildWhere(op.Filters, d, pb)
	if aerr != nil {
		return nil, aerr
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	if len(op.Order) > 0 {
		parts := make([]string, len(op.Order))
		for i, o := range op.Order {
			dir := "ASC"
			if !o.Ascending {
				dir = "DESC"
			}
			parts[i] = fmt.Sprintf("%s %s", o.Column, dir)
		}
		sql += " ORDER BY " + strings.Join(parts, ", ")
	}

	limit := op.Limit
	if op.Single && (limit == 0 || limit > 2) {
		// Two rows are enough to prove the match was not unique.
		limit = 2
	}
	if limit > 0 {
		sql += " LIMIT " + pb.Add(limit)
	}

	return &Query{SQL: sql, Params: pb.Params()}, nil
}

func buildInsert(op *Operation, d store.Dialect, upsert bool) (*Query, *AppError) {
	pb := d.NewParamBuilder()
	cols := columnsOf(op.Rows[0])

	var valueTuples []string
	for _, row := range op.Rows {
		placeholders := make([]string, len(cols))
		for i, col := range cols {
			placeholders[i] = pb.Add(row[col])
		}
		valueTuples = append(valueTuples, "("+strings.Join(placeholders, ", ")+")")
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		op.Table, strings.Join(cols, ", "), strings.Join(valueTuples, ", "))

	if upsert {
		var sets []string
		for _, col := range cols {
			if col == conflictKey {
				continue
			}
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", col, col))
		}
		if len(sets) == 0 {
			sql += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictKey)
		} else {
			sql += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictKey, strings.Join(sets, ", "))
		}
	}

	sql += " RETURNING " + projection(op)
	return &Query{SQL: sql, Params: pb.Params()}, nil
}

func buildUpdate(op *Operation, d store.Dialect) (*Query, *AppError) {
	pb := d.NewParamBuilder()
	row := op.Rows[0]
	cols := columnsOf(row)

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = fmt.Sprintf("%s = %s", col, pb.Add(row[col]))
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", op.Table, strings.Join(sets, ", "))

	where, aerr := buildWhere(op.Filters, d, pb)
	if aerr != nil {
		return nil, aerr
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	sql += " RETURNING " + projection(op)
	return &Query{SQL: sql, Params: pb.Params()}, nil
}

func buildDelete(op *Operation, d store.Dialect) (*Query, *AppError) {
	pb := d.NewParamBuilder()

	sql := "DELETE FROM " + op.Table

	where, aerr := buildWhere(op.Filters, d, pb)
	if aerr != nil {
		return nil, aerr
	}
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	sql += " RETURNING " + projection(op)
	return &Query{SQL: sql, Params: pb.Params()}, nil
}

func buildWhere(filters []Filter, d store.Dialect, pb store.ParamBuilder) ([]string, *AppError) {
	var clauses []string
	for _, f := range filters {
		clause, aerr := buildPredicate(f, d, pb)
		if aerr != nil {
			return nil, aerr
		}
		clauses = append(clauses, clause)
	}
	return clauses, nil
}

func buildPredicate(f Filter, d store.Dialect, pb store.ParamBuilder) (string, *AppError) {
	switch f.Op {
	case FilterEq:
		return fmt.Sprintf("%s = %s", f.Column, pb.Add(f.Value)), nil
	case FilterNeq:
		return fmt.Sprintf("%s != %s", f.Column, pb.Add(f.Value)), nil
	case FilterGt:
		return fmt.Sprintf("%s > %s", f.Column, pb.Add(f.Value)), nil
	case FilterGte:
		return fmt.Sprintf("%s >= %s", f.Column, pb.Add(f.Value)), nil
	case FilterLt:
		return fmt.Sprintf("%s < %s", f.Column, pb.Add(f.Value)), nil
	case FilterLte:
		return fmt.Sprintf("%s <= %s", f.Column, pb.Add(f.Value)), nil
	case FilterIn, FilterNotIn:
		values, ok := f.Value.([]any)
		if !ok || len(values) == 0 {
			return "", MalformedError(fmt.Sprintf("Filter %s on %s requires a non-empty array", f.Op, f.Column))
		}
		if f.Op == FilterIn {
			return d.InExpr(f.Column, pb, values), nil
		}
		return d.NotInExpr(f.Column, pb, values), nil
	case FilterLike:
		pattern, ok := f.Value.(string)
		if !ok {
			return "", MalformedError(fmt.Sprintf("Filter like on %s requires a string pattern", f.Column))
		}
		return fmt.Sprintf("%s LIKE %s", f.Column, pb.Add(pattern)), nil
	case FilterIs:
		switch v := f.Value.(type) {
		case nil:
			return f.Column + " IS NULL", nil
		case bool:
			if v {
				return f.Column + " IS TRUE", nil
			}
			return f.Column + " IS FALSE", nil
		case string:
			if v == "null" {
				return f.Column + " IS NULL", nil
			}
			if v == "not_null" {
				return f.Column + " IS NOT NULL", nil
			}
		}
		return "", MalformedError(fmt.Sprintf("Filter is on %s accepts null, not_null, true or false", f.Column))
	default:
		// The decoder already rejected unknown operators.
		return "", MalformedError(fmt.Sprintf("Unsupported filter operator: %s", f.Op))
	}
}

func projection(op *Operation) string {
	if len(op.Projection) == 0 {
		return "*"
	}
	return strings.Join(op.Projection, ", ")
}
