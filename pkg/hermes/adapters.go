package hermes

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// SlogAdapter bridges the Logger interface onto a structured slog logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter returns a JSON logger writing to stdout.
func NewSlogAdapter() *SlogAdapter {
	return &SlogAdapter{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, nil)),
	}
}

// NewSlogAdapterFrom wraps an existing slog logger.
func NewSlogAdapterFrom(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// NewQuietAdapter discards everything below error level. Useful in tests.
func NewQuietAdapter() *SlogAdapter {
	return &SlogAdapter{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (l *SlogAdapter) Info(ctx context.Context, msg string, fields map[string]any) {
	l.logger.InfoContext(ctx, msg, flatten(fields)...)
}

func (l *SlogAdapter) Warn(ctx context.Context, msg string, fields map[string]any) {
	l.logger.WarnContext(ctx, msg, flatten(fields)...)
}

func (l *SlogAdapter) Error(ctx context.Context, msg string, fields map[string]any) {
	l.logger.ErrorContext(ctx, msg, flatten(fields)...)
}

func flatten(fields map[string]any) []any {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}

// NoopMetrics drops every observation.
type NoopMetrics struct{}

func NewNoopMetrics() *NoopMetrics {
	return &NoopMetrics{}
}

func (m *NoopMetrics) IncCounter(name string, value float64, labels ...Label)        {}
func (m *NoopMetrics) ObserveHistogram(name string, value float64, labels ...Label)  {}
func (m *NoopMetrics) SetGauge(name string, value float64, labels ...Label)          {}
