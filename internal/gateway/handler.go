package gateway

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"dashgate/internal/policy"
	"dashgate/internal/store"
)

// AuditSink receives one event per handled request. A nil sink disables
// auditing.
type AuditSink interface {
	Record(table, operation, decision, rule string, status int, durationMs float64)
}

// Handler is the gateway pipeline: decode, policy check, query build,
// execute, format. The store carries service-level credentials, so nothing
// may reach it except through the permit path below.
type Handler struct {
	store  *store.Store
	policy *policy.Config
	audit  AuditSink
	log    zerolog.Logger
}

func NewHandler(s *store.Store, p *policy.Config, sink AuditSink, log zerolog.Logger) *Handler {
	return &Handler{store: s, policy: p, audit: sink, log: log}
}

// Execute handles POST /query. OPTIONS preflights are answered by the CORS
// middleware before this runs.
func (h *Handler) Execute(c *fiber.Ctx) error {
	started := time.Now()

	op, aerr := DecodeRequest(c.Body())
	if aerr != nil {
		h.record("", "", "deny", "malformed", aerr.Status, started)
		return respondError(c, aerr)
	}

	decision := h.policy.Evaluate(policy.Request{
		Table:     op.Table,
		Operation: op.Kind,
		HasFilter: len(op.Filters) > 0,
		Rows:      op.Rows,
	})
	if !decision.Allowed {
		h.log.Warn().
			Str("table", op.Table).
			Str("operation", op.Kind).
			Str("rule", decision.Rule).
			Msg("request denied")
		h.record(op.Table, op.Kind, "deny", decision.Rule, decision.Status, started)
		return respondError(c, PolicyError(decision.Reason, decision.Status))
	}

	query, aerr := BuildQuery(op, h.store.Dialect)
	if aerr != nil {
		h.record(op.Table, op.Kind, "deny", "malformed", aerr.Status, started)
		return respondError(c, aerr)
	}

	rows, err := store.QueryRows(c.Context(), h.store.Dialect, h.store.DB, query.SQL, query.Params...)
	if err != nil {
		if se, ok := store.IsStoreError(err); ok {
			h.record(op.Table, op.Kind, "error", "store", 400, started)
			return respondError(c, StoreFailure(se.Message))
		}
		h.record(op.Table, op.Kind, "error", "internal", 500, started)
		return err
	}

	// Ensure non-nil slice for JSON
	if rows == nil {
		rows = []map[string]any{}
	}

	var data any = rows
	if op.Single {
		if len(rows) != 1 {
			h.record(op.Table, op.Kind, "error", "store", 400, started)
			return respondError(c, StoreFailure("Expected a single row"))
		}
		data = rows[0]
	}

	h.log.Debug().
		Str("table", op.Table).
		Str("operation", op.Kind).
		Int("rows", len(rows)).
		Dur("elapsed", time.Since(started)).
		Msg("request served")
	h.record(op.Table, op.Kind, "permit", "", 200, started)

	return c.JSON(DataResponse{Data: data})
}

func (h *Handler) record(table, operation, decision, rule string, status int, started time.Time) {
	if h.audit == nil {
		return
	}
	h.audit.Record(table, operation, decision, rule, status, float64(time.Since(started).Microseconds())/1000.0)
}

func respondError(c *fiber.Ctx, aerr *AppError) error {
	return c.Status(aerr.Status).JSON(ErrorResponse{Error: aerr.Message})
}
