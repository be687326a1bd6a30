package gateway

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Filter operators form a closed set. The operator name arrives from the
// untrusted client, so anything outside this enumeration is rejected before
// it can reach the query builder.
const (
	FilterEq    = "eq"
	FilterNeq   = "neq"
	FilterGt    = "gt"
	FilterGte   = "gte"
	FilterLt    = "lt"
	FilterLte   = "lte"
	FilterIn    = "in"
	FilterNotIn = "not_in"
	FilterLike  = "like"
	FilterIs    = "is"
)

var supportedFilterOps = map[string]bool{
	FilterEq:    true,
	FilterNeq:   true,
	FilterGt:    true,
	FilterGte:   true,
	FilterLt:    true,
	FilterLte:   true,
	FilterIn:    true,
	FilterNotIn: true,
	FilterLike:  true,
	FilterIs:    true,
}

var operations = map[string]bool{
	"select": true,
	"insert": true,
	"update": true,
	"delete": true,
	"upsert": true,
}

// Filter is one predicate: operator, column, comparison value.
type Filter struct {
	Op     string
	Column string
	Value  any
}

type OrderClause struct {
	Column    string
	Ascending bool
}

// Operation is the decoded, shape-validated form of one client request.
// Filters are flattened and sorted so query construction is deterministic.
type Operation struct {
	Table      string
	Kind       string
	Filters    []Filter
	Rows       []map[string]any // payload; nil for select/delete
	Projection []string         // empty means all columns
	Order      []OrderClause
	Limit      int // 0 means no limit
	Single     bool
}

type rawRequest struct {
	Table     string                    `json:"table"`
	Operation string                    `json:"operation"`
	Filters   map[string]map[string]any `json:"filters"`
	Data      json.RawMessage           `json:"data"`
	Select    string                    `json:"select"`
	Order     []rawOrder                `json:"order"`
	Limit     *int                      `json:"limit"`
	Single    bool                      `json:"single"`
}

type rawOrder struct {
	Column    string `json:"column"`
	Ascending *bool  `json:"ascending"`
}

// DecodeRequest parses and shape-validates a request body. Everything that
// fails here is a 400 and never reaches the policy engine.
func DecodeRequest(body []byte) (*Operation, *AppError) {
	var raw rawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, MalformedError("Invalid JSON body")
	}

	if strings.TrimSpace(raw.Table) == "" {
		return nil, MalformedError("Missing required field: table")
	}
	if !operations[raw.Operation] {
		return nil, MalformedError(fmt.Sprintf("Unknown operation: %s", raw.Operation))
	}

	op := &Operation{
		Table:  raw.Table,
		Kind:   raw.Operation,
		Single: raw.Single,
	}

	if raw.Limit != nil {
		if *raw.Limit < 0 {
			return nil, MalformedError("limit must not be negative")
		}
		op.Limit = *raw.Limit
	}

	if aerr := decodeFilters(raw.Filters, op); aerr != nil {
		return nil, aerr
	}
	if aerr := decodePayload(raw, op); aerr != nil {
		return nil, aerr
	}
	if aerr := decodeProjection(raw.Select, op); aerr != nil {
		return nil, aerr
	}
	if aerr := decodeOrder(raw.Order, op); aerr != nil {
		return nil, aerr
	}

	return op, nil
}

func decodeFilters(filters map[string]map[string]any, op *Operation) *AppError {
	for operator, conditions := range filters {
		if !supportedFilterOps[operator] {
			return MalformedError(fmt.Sprintf("Unsupported filter operator: %s", operator))
		}
		for column, value := range conditions {
			if !isValidIdent(column) {
				return MalformedError(fmt.Sprintf("Invalid filter column: %s", column))
			}
			op.Filters = append(op.Filters, Filter{Op: operator, Column: column, Value: value})
		}
	}

	// Map iteration order is random; sort for deterministic SQL.
	sort.Slice(op.Filters, func(i, j int) bool {
		if op.Filters[i].Op != op.Filters[j].Op {
			return op.Filters[i].Op < op.Filters[j].Op
		}
		return op.Filters[i].Column < op.Filters[j].Column
	})
	return nil
}

func decodePayload(raw rawRequest, op *Operation) *AppError {
	isWrite := op.Kind == "insert" || op.Kind == "update" || op.Kind == "upsert"

	if !isWrite {
		// Payload is ignored for select/delete.
		return nil
	}
	if len(raw.Data) == 0 || string(raw.Data) == "null" {
		return MalformedError(fmt.Sprintf("Operation %s requires a data payload", op.Kind))
	}

	trimmed := strings.TrimSpace(string(raw.Data))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var row map[string]any
		if err := json.Unmarshal(raw.Data, &row); err != nil {
			return MalformedError("Invalid data payload")
		}
		op.Rows = []map[string]any{row}
	case strings.HasPrefix(trimmed, "["):
		var rows []map[string]any
		if err := json.Unmarshal(raw.Data, &rows); err != nil {
			return MalformedError("Invalid data payload: array elements must be objects")
		}
		if len(rows) == 0 {
			return MalformedError("Data payload array is empty")
		}
		op.Rows = rows
	default:
		return MalformedError("Data payload must be an object or an array of objects")
	}

	if op.Kind == "update" && len(op.Rows) != 1 {
		return MalformedError("update accepts a single row payload")
	}

	// Multi-row inserts map onto a single column list, so every row must
	// carry the same columns. Validates identifiers along the way.
	reference := columnsOf(op.Rows[0])
	for i, row := range op.Rows {
		for col := range row {
			if !isValidIdent(col) {
				return MalformedError(fmt.Sprintf("Invalid column name: %s", col))
			}
		}
		if i > 0 && !sameColumns(reference, row) {
			return MalformedError("All payload rows must have the same columns")
		}
	}
	return nil
}

func decodeProjection(sel string, op *Operation) *AppError {
	sel = strings.TrimSpace(sel)
	if sel == "" || sel == "*" {
		return nil
	}
	for _, part := range strings.Split(sel, ",") {
		col := strings.TrimSpace(part)
		if !isValidIdent(col) {
			return MalformedError(fmt.Sprintf("Invalid projection column: %s", col))
		}
		op.Projection = append(op.Projection, col)
	}
	return nil
}

func decodeOrder(order []rawOrder, op *Operation) *AppError {
	for _, o := range order {
		if !isValidIdent(o.Column) {
			return MalformedError(fmt.Sprintf("Invalid order column: %s", o.Column))
		}
		ascending := true
		if o.Ascending != nil {
			ascending = *o.Ascending
		}
		op.Order = append(op.Order, OrderClause{Column: o.Column, Ascending: ascending})
	}
	return nil
}

// IsWrite reports whether the operation carries a payload to store.
func (op *Operation) IsWrite() bool {
	return op.Kind == "insert" || op.Kind == "update" || op.Kind == "upsert"
}

func columnsOf(row map[string]any) []string {
	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func sameColumns(reference []string, row map[string]any) bool {
	if len(row) != len(reference) {
		return false
	}
	for _, col := range reference {
		if _, ok := row[col]; !ok {
			return false
		}
	}
	return true
}

// isValidIdent accepts plain SQL identifiers only. Column names are spliced
// into generated SQL, so anything else is rejected at decode time.
func isValidIdent(name string) bool {
	if len(name) == 0 || len(name) > 63 {
		return false
	}
	for i, c := range name {
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' {
			continue
		}
		if c >= '0' && c <= '9' && i > 0 {
			continue
		}
		return false
	}
	return true
}
