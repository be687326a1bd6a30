// Package audit records one event per gateway request into _audit_events.
// Events are buffered in memory and batch-inserted on a timer or when the
// buffer fills, so auditing never sits on the request path. A lost batch is
// logged, not retried.
package audit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dashgate/internal/store"
)

type Event struct {
	ID         uuid.UUID
	Table      string
	Operation  string
	Decision   string
	Rule       string
	Status     int
	DurationMs float64
}

// Recorder collects events in memory and periodically flushes them to the
// _audit_events table in a batch insert.
type Recorder struct {
	mu      sync.Mutex
	events  []Event
	store   *store.Store
	maxSize int
	ticker  *time.Ticker
	done    chan struct{}
	log     zerolog.Logger
}

// NewRecorder creates a recorder that flushes on a timer or when full.
func NewRecorder(st *store.Store, bufferSize, flushIntervalMs int, log zerolog.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 500
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 100
	}
	r := &Recorder{
		store:   st,
		maxSize: bufferSize,
		done:    make(chan struct{}),
		log:     log,
	}
	r.ticker = time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond)
	go r.run()
	return r
}

func (r *Recorder) run() {
	for {
		select {
		case <-r.done:
			return
		case <-r.ticker.C:
			r.Flush()
		}
	}
}

// Record enqueues one event. If the buffer is full, a flush is triggered
// asynchronously.
func (r *Recorder) Record(table, operation, decision, rule string, status int, durationMs float64) {
	event := Event{
		ID:         uuid.New(),
		Table:      table,
		Operation:  operation,
		Decision:   decision,
		Rule:       rule,
		Status:     status,
		DurationMs: durationMs,
	}

	r.mu.Lock()
	r.events = append(r.events, event)
	shouldFlush := len(r.events) >= r.maxSize
	r.mu.Unlock()
	if shouldFlush {
		go r.Flush()
	}
}

// Flush writes all buffered events to the database in a single batch insert.
func (r *Recorder) Flush() {
	r.mu.Lock()
	if len(r.events) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.events
	r.events = nil
	r.mu.Unlock()

	pb := r.store.Dialect.NewParamBuilder()
	var tuples []string
	for _, e := range batch {
		placeholders := []string{
			pb.Add(e.ID.String()),
			pb.Add(e.Table),
			pb.Add(e.Operation),
			pb.Add(e.Decision),
			pb.Add(e.Rule),
			pb.Add(e.Status),
			pb.Add(e.DurationMs),
		}
		tuples = append(tuples, "("+strings.Join(placeholders, ",")+")")
	}

	sql := "INSERT INTO _audit_events (id, table_name, operation, decision, rule, status, duration_ms) VALUES " +
		strings.Join(tuples, ",")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.Exec(ctx, r.store.Dialect, r.store.DB, sql, pb.Params()...); err != nil {
		r.log.Error().Err(err).Int("events", len(batch)).Msg("audit flush failed")
	}
}

// Stop halts the background ticker and flushes remaining events.
func (r *Recorder) Stop() {
	r.ticker.Stop()
	close(r.done)
	r.Flush()
}
