package logger

import (
	"context"

	"go.uber.org/zap"
)

// Context keys
type contextKey string

const (
	loggerKey contextKey = "logger"
	jobIDKey  contextKey = "job_id"
	bookIDKey contextKey = "book_id"
)

// WithContext returns a logger with fields from context
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}

	fields := make([]zap.Field, 0, 2)

	// Add job ID if present
	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, zap.String("job_id", jobID))
	}

	// Add book ID if present
	if bookID, ok := ctx.Value(bookIDKey).(string); ok && bookID != "" {
		fields = append(fields, zap.String("book_id", bookID))
	}

	if len(fields) == 0 {
		return l
	}

	return l.With(fields...)
}

// FromContext extracts logger from context, returns default logger if not found
func FromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}

	if logger, ok := ctx.Value(loggerKey).(*Logger); ok && logger != nil {
		return logger.WithContext(ctx)
	}

	return L().WithContext(ctx)
}

// ToContext adds logger to context
func ToContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithJobID adds parsing job ID to context
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithBookID adds book ID to context
func WithBookID(ctx context.Context, bookID string) context.Context {
	return context.WithValue(ctx, bookIDKey, bookID)
}

// GetJobID extracts parsing job ID from context
func GetJobID(ctx context.Context) string {
	if jobID, ok := ctx.Value(jobIDKey).(string); ok {
		return jobID
	}
	return ""
}

// GetBookID extracts book ID from context
func GetBookID(ctx context.Context) string {
	if bookID, ok := ctx.Value(bookIDKey).(string); ok {
		return bookID
	}
	return ""
}

// Convenience methods for context-aware logging
func DebugContext(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Debug(msg, fields...)
}

func InfoContext(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Info(msg, fields...)
}

func WarnContext(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Warn(msg, fields...)
}

func ErrorContext(ctx context.Context, msg string, fields ...zap.Field) {
	FromContext(ctx).Error(msg, fields...)
}
