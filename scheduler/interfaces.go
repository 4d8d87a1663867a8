package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"
)

// =============================================================================
// Logger: structured logging, ambient across the scheduler
// =============================================================================

// Field is a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a Field.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the scheduler's logging seam. Serious-bug conditions like a
// double-bound executor, dead-worker warnings, and timeout reports all go
// through it.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// DefaultLogger writes through the standard log package.
type DefaultLogger struct{}

// NewDefaultLogger creates a DefaultLogger.
func NewDefaultLogger() *DefaultLogger { return &DefaultLogger{} }

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log("DEBUG", msg, fields...) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log("INFO", msg, fields...) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log("WARN", msg, fields...) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log("ERROR", msg, fields...) }

func (l *DefaultLogger) log(level, msg string, fields ...Field) {
	out := fmt.Sprintf("[%s] %s", level, msg)
	if len(fields) > 0 {
		out += " {"
		for i, f := range fields {
			if i > 0 {
				out += ", "
			}
			out += fmt.Sprintf("%s: %v", f.Key, f.Value)
		}
		out += "}"
	}
	log.Println(out)
}

// NoOpLogger discards everything. Useful in tests.
type NoOpLogger struct{}

// NewNoOpLogger creates a NoOpLogger.
func NewNoOpLogger() *NoOpLogger { return &NoOpLogger{} }

func (l *NoOpLogger) Debug(string, ...Field) {}
func (l *NoOpLogger) Info(string, ...Field)  {}
func (l *NoOpLogger) Warn(string, ...Field)  {}
func (l *NoOpLogger) Error(string, ...Field) {}

// =============================================================================
// PanicHandler: recovers panics raised inside a slice
// =============================================================================

// PanicHandler is invoked when a worker recovers a panic raised by an
// executor's Work. After the handler returns, the worker calls FastFail on
// that executor, as it does when Work returns an error, and survives to run
// the next executor.
type PanicHandler interface {
	HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic details to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[%s] panic: %v\n%s\n", runnerName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: observability seam, no-op by default
// =============================================================================

// Metrics collects scheduler-shaped signals. All methods must be fast and
// non-blocking; implementations should tolerate being embedded in a hot
// path (every admission and every slice completion calls into this).
type Metrics interface {
	RecordQueueDepth(depth int)
	RecordIdleWorkers(n int)
	RecordSliceDuration(d time.Duration)
	RecordAbort(kind string) // "soft", "hard", "interrupt", "replace"
	RecordVirtualRuntimeFloor(ns int64)
}

// NilMetrics discards everything.
type NilMetrics struct{}

func (NilMetrics) RecordQueueDepth(int)              {}
func (NilMetrics) RecordIdleWorkers(int)             {}
func (NilMetrics) RecordSliceDuration(time.Duration) {}
func (NilMetrics) RecordAbort(string)                {}
func (NilMetrics) RecordVirtualRuntimeFloor(int64)   {}

// =============================================================================
// Config
// =============================================================================

// Config holds the optional collaborators a Scheduler is built with. New
// replaces nil collaborators and a zero HistoryCapacity with defaults;
// ReportTimeouts is used as given.
type Config struct {
	Logger       Logger
	Metrics      Metrics
	PanicHandler PanicHandler

	// ReportTimeouts enables the timeout-report diagnostic; false disables
	// it globally.
	ReportTimeouts bool

	// HistoryCapacity bounds the ring buffer of recent timeout reports.
	HistoryCapacity int
}

// DefaultConfig returns a Config with default collaborators.
func DefaultConfig() Config {
	return Config{
		Logger:          NewDefaultLogger(),
		Metrics:         NilMetrics{},
		PanicHandler:    &DefaultPanicHandler{},
		ReportTimeouts:  true,
		HistoryCapacity: defaultTimeoutHistoryCapacity,
	}
}

func (c *Config) applyDefaults() {
	if c.Logger == nil {
		c.Logger = NewDefaultLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NilMetrics{}
	}
	if c.PanicHandler == nil {
		c.PanicHandler = &DefaultPanicHandler{}
	}
	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = defaultTimeoutHistoryCapacity
	}
}
