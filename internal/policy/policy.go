// Package policy holds the gateway's authorization model: which tables the
// dashboard client may read, write, or delete, which fields it may never
// set, and which mutations must be scoped by a filter. The configuration is
// built once at startup and never mutated, so concurrent request handlers
// share it without locks. Everything is fail-closed: a table nobody listed
// is a table nobody can touch.
package policy

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"dashgate/internal/config"
)

// Operation kinds understood by the engine.
const (
	OpSelect = "select"
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpUpsert = "upsert"
)

// Rule names reported in decisions and audit events.
const (
	RuleReadable       = "table_readable"
	RuleWritable       = "table_writable"
	RuleDeletable      = "table_deletable"
	RuleFilterRequired = "filter_required"
	RuleProtectedField = "protected_field"
	RuleWriteGuard     = "write_guard"
)

// Request is the slice of an operation descriptor the engine needs.
type Request struct {
	Table     string
	Operation string
	HasFilter bool
	Rows      []map[string]any // flattened payload; nil for select/delete
}

// Decision is the outcome of one policy evaluation. Denials carry the rule
// that fired, a client-safe reason, and the HTTP status to return.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
	Status  int
}

func permit() Decision {
	return Decision{Allowed: true}
}

func deny(rule, reason string) Decision {
	return Decision{Rule: rule, Reason: reason, Status: 403}
}

// Config is the immutable policy configuration.
type Config struct {
	readable       map[string]struct{}
	writable       map[string]struct{}
	deletable      map[string]struct{}
	filterRequired map[string]struct{}
	protected      map[string]map[string]struct{}
	guards         map[string]*vm.Program
}

// New builds a Config from its file-shaped form, compiling write-guard
// expressions up front so a broken guard fails at startup, not per request.
func New(cfg config.PolicyConfig) (*Config, error) {
	c := &Config{
		readable:       toSet(cfg.Readable),
		writable:       toSet(cfg.Writable),
		deletable:      toSet(cfg.Deletable),
		filterRequired: toSet(cfg.FilterRequired),
		protected:      make(map[string]map[string]struct{}, len(cfg.ProtectedFields)),
		guards:         make(map[string]*vm.Program, len(cfg.WriteGuards)),
	}

	for table, fields := range cfg.ProtectedFields {
		c.protected[table] = toSet(fields)
	}

	for table, src := range cfg.WriteGuards {
		prog, err := expr.Compile(src, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile write guard for %s: %w", table, err)
		}
		c.guards[table] = prog
	}

	return c, nil
}

// Evaluate runs the policy layers in fixed order and returns the first
// denial, or a permit if every layer passes. It is a pure function of the
// request and the configuration.
func (c *Config) Evaluate(req Request) Decision {
	// 1. Every operation, writes included, requires a readable table.
	if _, ok := c.readable[req.Table]; !ok {
		return deny(RuleReadable, fmt.Sprintf("Table '%s' not allowed", req.Table))
	}

	// 2. Write eligibility.
	if isWrite(req.Operation) {
		if _, ok := c.writable[req.Table]; !ok {
			return deny(RuleWritable, fmt.Sprintf("Write to table '%s' not allowed", req.Table))
		}
	}

	// 3. Delete eligibility. Financial and audit-sensitive tables are
	// archived, never hard-deleted from the client.
	if req.Operation == OpDelete {
		if _, ok := c.deletable[req.Table]; !ok {
			return deny(RuleDeletable, fmt.Sprintf("Delete from table '%s' not allowed, use the archive pattern", req.Table))
		}
	}

	// 4. Mutations on sensitive tables must be scoped by a filter so a
	// stray request cannot touch every row.
	if req.Operation == OpUpdate || req.Operation == OpDelete {
		if _, ok := c.filterRequired[req.Table]; ok && !req.HasFilter {
			return deny(RuleFilterRequired, fmt.Sprintf("%s on table '%s' requires at least one filter", req.Operation, req.Table))
		}
	}

	// 5. Protected fields are server-computed or financially authoritative
	// and may never arrive from the client.
	if isWrite(req.Operation) {
		if protected, ok := c.protected[req.Table]; ok {
			for _, row := range req.Rows {
				for field := range row {
					if _, hit := protected[field]; hit {
						return deny(RuleProtectedField, fmt.Sprintf("Field '%s' on table '%s' is protected", field, req.Table))
					}
				}
			}
		}

		// 6. Write guards: per-table boolean expressions over each row.
		if prog, ok := c.guards[req.Table]; ok {
			for _, row := range req.Rows {
				passed, err := runGuard(prog, row)
				if err != nil || !passed {
					return deny(RuleWriteGuard, fmt.Sprintf("Write to table '%s' rejected by write guard", req.Table))
				}
			}
		}
	}

	return permit()
}

func runGuard(prog *vm.Program, row map[string]any) (bool, error) {
	result, err := expr.Run(prog, row)
	if err != nil {
		return false, err
	}
	passed, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("guard did not return bool")
	}
	return passed, nil
}

func isWrite(op string) bool {
	return op == OpInsert || op == OpUpdate || op == OpUpsert
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
