package domain

import "context"

type runIDKey struct{}

// WithRunID сохраняет идентификатор запуска задачи в контексте.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext возвращает идентификатор запуска или пустую строку.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
