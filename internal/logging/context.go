package logging

import (
	"context"

	"github.com/rs/zerolog"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	threadIDKey  contextKey = "thread_id"
	runIDKey     contextKey = "run_id"
)

// ContextWithRequestID tags ctx with an HTTP request id.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// ContextWithRun tags ctx with a chat run's correlation pair.
func ContextWithRun(
	ctx context.Context, threadID, runID string,
) context.Context {
	ctx = context.WithValue(ctx, threadIDKey, threadID)
	return context.WithValue(ctx, runIDKey, runID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RunFromContext returns the thread and run ids or "".
func RunFromContext(ctx context.Context) (threadID, runID string) {
	threadID, _ = ctx.Value(threadIDKey).(string)
	runID, _ = ctx.Value(runIDKey).(string)
	return threadID, runID
}

// Ctx returns the global logger enriched with whatever ids ctx
// carries.
func Ctx(ctx context.Context) *zerolog.Logger {
	lc := Logger().With()
	if id := RequestIDFromContext(ctx); id != "" {
		lc = lc.Str("request_id", id)
	}
	if threadID, runID := RunFromContext(ctx); runID != "" {
		lc = lc.Str("thread_id", threadID).Str("run_id", runID)
	}
	l := lc.Logger()
	return &l
}
