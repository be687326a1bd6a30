package gateway

import (
	"reflect"
	"testing"

	"dashgate/internal/store"
)

func mustDecode(t *testing.T, body string) *Operation {
	t.Helper()
	op, aerr := DecodeRequest([]byte(body))
	if aerr != nil {
		t.Fatalf("decode: %v", aerr)
	}
	return op
}

func TestBuildQuery_Select(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{
		"table":"reminders","operation":"select",
		"filters":{"lte":{"due_date":"2025-01-01"}},
		"order":[{"column":"due_date","ascending":true}],
		"limit":10
	}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}

	want := "SELECT * FROM reminders WHERE due_date <= ?1 ORDER BY due_date ASC LIMIT ?2"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
	if !reflect.DeepEqual(q.Params, []any{"2025-01-01", 10}) {
		t.Fatalf("unexpected params: %+v", q.Params)
	}
}

func TestBuildQuery_SelectProjectionAndMultiSort(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{
		"table":"tasks","operation":"select","select":"id,title",
		"order":[{"column":"status"},{"column":"due_date","ascending":false}]
	}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "SELECT id, title FROM tasks ORDER BY status ASC, due_date DESC"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
}

func TestBuildQuery_SingleCapsAtTwoRows(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{"table":"tasks","operation":"select","single":true,"filters":{"eq":{"id":1}}}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "SELECT * FROM tasks WHERE id = ?1 LIMIT ?2"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
	if q.Params[1] != 2 {
		t.Fatalf("expected limit 2 for single, got %v", q.Params[1])
	}
}

func TestBuildQuery_InsertMultiRow(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{"table":"tasks","operation":"insert","data":[{"title":"a","status":"open"},{"title":"b","status":"done"}]}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	// Columns are sorted, so SQL is deterministic.
	want := "INSERT INTO tasks (status, title) VALUES (?1, ?2), (?3, ?4) RETURNING *"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
	if !reflect.DeepEqual(q.Params, []any{"open", "a", "done", "b"}) {
		t.Fatalf("unexpected params: %+v", q.Params)
	}
}

func TestBuildQuery_Update(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{"table":"tasks","operation":"update","data":{"status":"done"},"filters":{"eq":{"id":7}}}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "UPDATE tasks SET status = ?1 WHERE id = ?2 RETURNING *"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
}

func TestBuildQuery_DeleteScopedByFilters(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{"table":"tasks","operation":"delete","filters":{"eq":{"id":3}}}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "DELETE FROM tasks WHERE id = ?1 RETURNING *"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
}

func TestBuildQuery_Upsert(t *testing.T) {
	d := store.NewDialect("sqlite")
	op := mustDecode(t, `{"table":"cards","operation":"upsert","data":{"id":1,"front":"hola","back":"hello"}}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "INSERT INTO cards (back, front, id) VALUES (?1, ?2, ?3) ON CONFLICT (id) DO UPDATE SET back = excluded.back, front = excluded.front RETURNING *"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
}

func TestBuildQuery_FilterPredicates(t *testing.T) {
	d := store.NewDialect("sqlite")

	cases := []struct {
		name string
		body string
		want string
	}{
		{
			"in expands placeholders",
			`{"table":"tasks","operation":"select","filters":{"in":{"status":["open","blocked"]}}}`,
			"SELECT * FROM tasks WHERE status IN (?1, ?2)",
		},
		{
			"not_in",
			`{"table":"tasks","operation":"select","filters":{"not_in":{"status":["done"]}}}`,
			"SELECT * FROM tasks WHERE status NOT IN (?1)",
		},
		{
			"like",
			`{"table":"notes","operation":"select","filters":{"like":{"title":"%milk%"}}}`,
			"SELECT * FROM notes WHERE title LIKE ?1",
		},
		{
			"is null",
			`{"table":"tasks","operation":"select","filters":{"is":{"completed_at":null}}}`,
			"SELECT * FROM tasks WHERE completed_at IS NULL",
		},
		{
			"is not_null",
			`{"table":"tasks","operation":"select","filters":{"is":{"completed_at":"not_null"}}}`,
			"SELECT * FROM tasks WHERE completed_at IS NOT NULL",
		},
		{
			"is true",
			`{"table":"habits","operation":"select","filters":{"is":{"active":true}}}`,
			"SELECT * FROM habits WHERE active IS TRUE",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, aerr := BuildQuery(mustDecode(t, tc.body), d)
			if aerr != nil {
				t.Fatalf("build: %v", aerr)
			}
			if q.SQL != tc.want {
				t.Fatalf("got SQL %q, want %q", q.SQL, tc.want)
			}
		})
	}
}

func TestBuildQuery_FilterValueErrors(t *testing.T) {
	d := store.NewDialect("sqlite")

	cases := []string{
		`{"table":"tasks","operation":"select","filters":{"in":{"status":"open"}}}`,
		`{"table":"tasks","operation":"select","filters":{"in":{"status":[]}}}`,
		`{"table":"tasks","operation":"select","filters":{"like":{"title":42}}}`,
		`{"table":"tasks","operation":"select","filters":{"is":{"status":"maybe"}}}`,
	}
	for _, body := range cases {
		op := mustDecode(t, body)
		if _, aerr := BuildQuery(op, d); aerr == nil || aerr.Status != 400 {
			t.Fatalf("expected 400 for %s", body)
		}
	}
}

func TestBuildQuery_PostgresPlaceholders(t *testing.T) {
	d := store.NewDialect("postgres")
	op := mustDecode(t, `{"table":"tasks","operation":"select","filters":{"in":{"status":["open"]}},"limit":5}`)

	q, aerr := BuildQuery(op, d)
	if aerr != nil {
		t.Fatalf("build: %v", aerr)
	}
	want := "SELECT * FROM tasks WHERE status = ANY($1) LIMIT $2"
	if q.SQL != want {
		t.Fatalf("got SQL %q, want %q", q.SQL, want)
	}
}
