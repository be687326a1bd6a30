package policy

import (
	"strings"
	"testing"

	"dashgate/internal/config"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	c, err := New(config.PolicyConfig{
		Readable:       []string{"tasks", "reminders", "students", "transactions", "tov_payments", "archive_only"},
		Writable:       []string{"tasks", "reminders", "students", "transactions", "tov_payments"},
		Deletable:      []string{"tasks", "reminders"},
		FilterRequired: []string{"students", "transactions", "tov_payments"},
		ProtectedFields: map[string][]string{
			"tov_payments": {"amount", "confirmed_at"},
			"tasks":        {"created_at"},
		},
		WriteGuards: map[string]string{
			"transactions": "amount == nil || amount >= 0",
		},
	})
	if err != nil {
		t.Fatalf("build policy config: %v", err)
	}
	return c
}

func TestEvaluate_UnknownTableDeniedForEveryOperation(t *testing.T) {
	c := testConfig(t)

	for _, op := range []string{OpSelect, OpInsert, OpUpdate, OpDelete, OpUpsert} {
		dec := c.Evaluate(Request{Table: "internal_audit_log", Operation: op})
		if dec.Allowed {
			t.Fatalf("expected deny for %s on unknown table", op)
		}
		if dec.Rule != RuleReadable {
			t.Fatalf("expected rule %s, got %s", RuleReadable, dec.Rule)
		}
		if dec.Status != 403 {
			t.Fatalf("expected 403, got %d", dec.Status)
		}
		if !strings.Contains(dec.Reason, "Table 'internal_audit_log' not allowed") {
			t.Fatalf("unexpected reason: %s", dec.Reason)
		}
	}
}

func TestEvaluate_ReadOnlyTableRejectsWrites(t *testing.T) {
	c := testConfig(t)

	if dec := c.Evaluate(Request{Table: "archive_only", Operation: OpSelect}); !dec.Allowed {
		t.Fatalf("expected select on readable table to pass, got %s", dec.Reason)
	}

	for _, op := range []string{OpInsert, OpUpdate, OpUpsert} {
		dec := c.Evaluate(Request{Table: "archive_only", Operation: op, Rows: []map[string]any{{"x": 1}}})
		if dec.Allowed {
			t.Fatalf("expected deny for %s on read-only table", op)
		}
		if dec.Rule != RuleWritable {
			t.Fatalf("expected rule %s, got %s", RuleWritable, dec.Rule)
		}
	}
}

func TestEvaluate_DeleteRequiresDeletableTable(t *testing.T) {
	c := testConfig(t)

	dec := c.Evaluate(Request{Table: "students", Operation: OpDelete, HasFilter: true})
	if dec.Allowed {
		t.Fatal("expected deny for delete on non-deletable table")
	}
	if dec.Rule != RuleDeletable {
		t.Fatalf("expected rule %s, got %s", RuleDeletable, dec.Rule)
	}
	if !strings.Contains(dec.Reason, "archive pattern") {
		t.Fatalf("expected archive pattern hint, got: %s", dec.Reason)
	}

	if dec := c.Evaluate(Request{Table: "tasks", Operation: OpDelete, HasFilter: true}); !dec.Allowed {
		t.Fatalf("expected delete on deletable table to pass, got %s", dec.Reason)
	}
}

func TestEvaluate_FilterRequiredMutations(t *testing.T) {
	c := testConfig(t)

	dec := c.Evaluate(Request{Table: "students", Operation: OpUpdate, Rows: []map[string]any{{"name": "x"}}})
	if dec.Allowed {
		t.Fatal("expected deny for unfiltered update on sensitive table")
	}
	if dec.Rule != RuleFilterRequired {
		t.Fatalf("expected rule %s, got %s", RuleFilterRequired, dec.Rule)
	}
	if !strings.Contains(dec.Reason, "requires at least one filter") {
		t.Fatalf("unexpected reason: %s", dec.Reason)
	}

	// Same request with a filter passes this layer.
	dec = c.Evaluate(Request{Table: "students", Operation: OpUpdate, HasFilter: true, Rows: []map[string]any{{"name": "x"}}})
	if !dec.Allowed {
		t.Fatalf("expected filtered update to pass, got %s", dec.Reason)
	}

	// Tables without the requirement update fine unfiltered.
	dec = c.Evaluate(Request{Table: "reminders", Operation: OpUpdate, Rows: []map[string]any{{"done": true}}})
	if !dec.Allowed {
		t.Fatalf("expected unfiltered update on plain table to pass, got %s", dec.Reason)
	}
}

func TestEvaluate_ProtectedFields(t *testing.T) {
	c := testConfig(t)

	dec := c.Evaluate(Request{
		Table: "tov_payments", Operation: OpUpdate, HasFilter: true,
		Rows: []map[string]any{{"amount": 500}},
	})
	if dec.Allowed {
		t.Fatal("expected deny for protected field")
	}
	if dec.Rule != RuleProtectedField {
		t.Fatalf("expected rule %s, got %s", RuleProtectedField, dec.Rule)
	}
	if dec.Reason != "Field 'amount' on table 'tov_payments' is protected" {
		t.Fatalf("unexpected reason: %s", dec.Reason)
	}

	// Identical payload with the field removed is permitted.
	dec = c.Evaluate(Request{
		Table: "tov_payments", Operation: OpUpdate, HasFilter: true,
		Rows: []map[string]any{{"note": "paid in cash"}},
	})
	if !dec.Allowed {
		t.Fatalf("expected pass without protected field, got %s", dec.Reason)
	}
}

func TestEvaluate_ProtectedFieldInArrayPayload(t *testing.T) {
	c := testConfig(t)

	dec := c.Evaluate(Request{
		Table: "tasks", Operation: OpInsert,
		Rows: []map[string]any{
			{"title": "ok"},
			{"title": "sneaky", "created_at": "2020-01-01"},
		},
	})
	if dec.Allowed {
		t.Fatal("expected deny when any array element carries a protected field")
	}
	if dec.Reason != "Field 'created_at' on table 'tasks' is protected" {
		t.Fatalf("unexpected reason: %s", dec.Reason)
	}
}

func TestEvaluate_WriteGuard(t *testing.T) {
	c := testConfig(t)

	dec := c.Evaluate(Request{
		Table: "transactions", Operation: OpInsert,
		Rows: []map[string]any{{"amount": -10}},
	})
	if dec.Allowed {
		t.Fatal("expected deny for negative amount")
	}
	if dec.Rule != RuleWriteGuard {
		t.Fatalf("expected rule %s, got %s", RuleWriteGuard, dec.Rule)
	}

	dec = c.Evaluate(Request{
		Table: "transactions", Operation: OpInsert,
		Rows: []map[string]any{{"amount": 10}},
	})
	if !dec.Allowed {
		t.Fatalf("expected positive amount to pass, got %s", dec.Reason)
	}

	// Guard with the variable absent passes (== nil branch).
	dec = c.Evaluate(Request{
		Table: "transactions", Operation: OpInsert, HasFilter: true,
		Rows: []map[string]any{{"note": "no amount"}},
	})
	if !dec.Allowed {
		t.Fatalf("expected row without amount to pass, got %s", dec.Reason)
	}
}

func TestEvaluate_LayerOrdering(t *testing.T) {
	c := testConfig(t)

	// A request failing several layers must report the earliest one:
	// unreadable beats unwritable.
	dec := c.Evaluate(Request{Table: "nope", Operation: OpInsert, Rows: []map[string]any{{"created_at": "x"}}})
	if dec.Rule != RuleReadable {
		t.Fatalf("expected readability to deny first, got %s", dec.Rule)
	}

	// Filter requirement fires before the protected-field scan.
	dec = c.Evaluate(Request{
		Table: "tov_payments", Operation: OpUpdate,
		Rows: []map[string]any{{"amount": 1}},
	})
	if dec.Rule != RuleFilterRequired {
		t.Fatalf("expected filter rule to deny first, got %s", dec.Rule)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	c := testConfig(t)
	req := Request{Table: "tov_payments", Operation: OpUpdate, HasFilter: true, Rows: []map[string]any{{"amount": 1}}}

	first := c.Evaluate(req)
	for i := 0; i < 50; i++ {
		if got := c.Evaluate(req); got != first {
			t.Fatalf("evaluation not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestNew_RejectsBrokenGuard(t *testing.T) {
	_, err := New(config.PolicyConfig{
		Readable:    []string{"t"},
		WriteGuards: map[string]string{"t": "amount >=="},
	})
	if err == nil {
		t.Fatal("expected compile error for broken guard expression")
	}
}
