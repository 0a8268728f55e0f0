package libtracker

import (
	"context"
	"log/slog"
	"time"
)

// ActivityTracker records the lifecycle of one operation.
//
// Start returns three handlers: reportErr records a failure, reportChange
// records the entity the operation produced or mutated, and end closes the
// operation. end must be called exactly once, usually deferred.
type ActivityTracker interface {
	Start(
		ctx context.Context,
		operation string,
		subject string,
		kvArgs ...any,
	) (reportErr func(err error), reportChange func(id string, data any), end func())
}

// NoopTracker discards everything.
type NoopTracker struct{}

func (NoopTracker) Start(context.Context, string, string, ...any) (func(error), func(string, any), func()) {
	return func(error) {}, func(string, any) {}, func() {}
}

// LogActivityTracker writes one structured log record per finished operation.
type LogActivityTracker struct {
	logger *slog.Logger
}

func NewLogActivityTracker(logger *slog.Logger) *LogActivityTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogActivityTracker{logger: logger}
}

func (t *LogActivityTracker) Start(
	ctx context.Context,
	operation string,
	subject string,
	kvArgs ...any,
) (func(error), func(string, any), func()) {
	start := time.Now().UTC()
	var opErr error
	var entityID string
	var entityData any

	reportErr := func(err error) {
		if err != nil {
			opErr = err
		}
	}
	reportChange := func(id string, data any) {
		entityID = id
		entityData = data
	}
	end := func() {
		attrs := []any{
			"operation", operation,
			"subject", subject,
			"duration_ms", float64(time.Since(start)) / float64(time.Millisecond),
		}
		if reqID := RequestIDFrom(ctx); reqID != "" {
			attrs = append(attrs, "request_id", reqID)
		} else {
			attrs = append(attrs, "request_id", "SERVERBUG: missing request id")
		}
		if traceID := TraceIDFrom(ctx); traceID != "" {
			attrs = append(attrs, "trace_id", traceID)
		}
		attrs = append(attrs, kvArgs...)
		if entityID != "" {
			attrs = append(attrs, "entity_id", entityID, "entity_data", entityData)
		}
		if opErr != nil {
			t.logger.ErrorContext(ctx, "operation failed", append(attrs, "error", opErr)...)
			return
		}
		t.logger.InfoContext(ctx, "operation completed", attrs...)
	}
	return reportErr, reportChange, end
}

// ChainedTracker fans every call out to all trackers in order.
type ChainedTracker []ActivityTracker

func (c ChainedTracker) Start(
	ctx context.Context,
	operation string,
	subject string,
	kvArgs ...any,
) (func(error), func(string, any), func()) {
	errFns := make([]func(error), 0, len(c))
	changeFns := make([]func(string, any), 0, len(c))
	endFns := make([]func(), 0, len(c))
	for _, tracker := range c {
		if tracker == nil {
			continue
		}
		e, ch, end := tracker.Start(ctx, operation, subject, kvArgs...)
		errFns = append(errFns, e)
		changeFns = append(changeFns, ch)
		endFns = append(endFns, end)
	}
	return func(err error) {
			for _, f := range errFns {
				f(err)
			}
		}, func(id string, data any) {
			for _, f := range changeFns {
				f(id, data)
			}
		}, func() {
			for i := len(endFns) - 1; i >= 0; i-- {
				endFns[i]()
			}
		}
}

var (
	_ ActivityTracker = NoopTracker{}
	_ ActivityTracker = (*LogActivityTracker)(nil)
	_ ActivityTracker = ChainedTracker{}
)
