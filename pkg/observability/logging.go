package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// LogLevel represents the severity of a log message
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

func (l LogLevel) rank() int {
	switch l {
	case LogLevelDebug:
		return 0
	case LogLevelWarn:
		return 2
	case LogLevelError:
		return 3
	default:
		return 1
	}
}

// LogEntry is one JSON line written by a StructuredLogger
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Severity   LogLevel               `json:"severity"`
	Component  string                 `json:"component"`
	Message    string                 `json:"message"`
	TraceID    string                 `json:"trace_id,omitempty"`
	SpanID     string                 `json:"span_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// sink is the process-wide destination shared by every logger. Writes are
// serialized so concurrent requests never interleave lines.
type sink struct {
	mu    sync.Mutex
	out   io.Writer
	level LogLevel
}

var logSink = &sink{out: os.Stdout, level: LogLevelInfo}

func (s *sink) enabled(level LogLevel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return level.rank() >= s.level.rank()
}

func (s *sink) write(entry LogEntry) {
	data, err := json.Marshal(entry)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		fmt.Fprintf(s.out, "[%s] %s: %s\n", entry.Severity, entry.Component, entry.Message)
		return
	}
	s.out.Write(append(data, '\n'))
}

// SetLogOutput redirects every logger. A nil writer restores stdout.
func SetLogOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	logSink.mu.Lock()
	defer logSink.mu.Unlock()
	logSink.out = w
}

// SetLogLevel sets the minimum severity written by all loggers.
// Unknown levels fall back to info.
func SetLogLevel(level string) {
	l := LogLevel(strings.ToUpper(strings.TrimSpace(level)))
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		l = LogLevelInfo
	}
	logSink.mu.Lock()
	defer logSink.mu.Unlock()
	logSink.level = l
}

// StructuredLogger writes JSON lines tagged with a component name and the
// trace and span ids found in the context
type StructuredLogger struct {
	component string
	fields    map[string]interface{}
}

// NewStructuredLogger creates a logger for one component
func NewStructuredLogger(component string) *StructuredLogger {
	return &StructuredLogger{component: component}
}

// With returns a logger that adds fields to every entry. Per-call attributes
// win over these on key collisions.
func (l *StructuredLogger) With(fields map[string]interface{}) *StructuredLogger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &StructuredLogger{component: l.component, fields: merged}
}

// Debug logs a debug message
func (l *StructuredLogger) Debug(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelDebug, message, nil, attrs)
}

// Info logs an info message
func (l *StructuredLogger) Info(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelInfo, message, nil, attrs)
}

// Warn logs a warning message
func (l *StructuredLogger) Warn(ctx context.Context, message string, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelWarn, message, nil, attrs)
}

// Error logs an error message; err lands in the "error" attribute
func (l *StructuredLogger) Error(ctx context.Context, message string, err error, attrs ...map[string]interface{}) {
	l.log(ctx, LogLevelError, message, err, attrs)
}

func (l *StructuredLogger) log(ctx context.Context, level LogLevel, message string, err error, attrs []map[string]interface{}) {
	if !logSink.enabled(level) {
		return
	}

	var attributes map[string]interface{}
	if len(l.fields) > 0 || len(attrs) > 0 || err != nil {
		attributes = make(map[string]interface{}, len(l.fields))
		for k, v := range l.fields {
			attributes[k] = v
		}
		for _, set := range attrs {
			for k, v := range set {
				attributes[k] = v
			}
		}
		if err != nil {
			attributes["error"] = err.Error()
		}
	}

	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Severity:   level,
		Component:  l.component,
		Message:    message,
		Attributes: attributes,
	}
	if ctx != nil {
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			entry.TraceID = sc.TraceID().String()
			entry.SpanID = sc.SpanID().String()
		}
	}

	logSink.write(entry)
}
