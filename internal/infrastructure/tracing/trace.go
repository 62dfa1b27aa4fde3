package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/envsandbox/internal/shared/id"
)

// TraceID represents a unique trace identifier
type TraceID string

// SpanID represents a unique span identifier
type SpanID string

// Span represents a single operation in a trace
type Span struct {
	TraceID    TraceID
	SpanID     SpanID
	ParentID   SpanID
	Name       string
	Service    string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Tags       map[string]string
	Logs       []LogEntry
	Error      error
	StatusCode int
}

// LogEntry represents a log within a span
type LogEntry struct {
	Timestamp time.Time
	Message   string
	Fields    map[string]interface{}
}

// Tracer collects finished spans, logs them and keeps the most recent ones
// for inspection.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	recent []*Span
	keep   int
}

// DefaultKeep is how many finished spans Recent can return.
const DefaultKeep = 100

// New creates a new tracer instance
func New(service string, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		service: service,
		logger:  logger,
		spans:   make(chan *Span, 1000),
		done:    make(chan struct{}),
		keep:    DefaultKeep,
	}

	// Start span collector
	go t.collectSpans()

	return t
}

// StartSpan creates a new span, a child of the span carried by ctx if any.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:   traceID,
		SpanID:    SpanID(id.Default().GenerateWithPrefix("span")),
		ParentID:  GetSpanID(ctx),
		Name:      name,
		Service:   t.service,
		StartTime: time.Now(),
		Tags:      make(map[string]string),
		Logs:      []LogEntry{},
	}

	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, spanIDKey, span.SpanID)

	return span, newCtx
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Error = err
	if s.StatusCode == 0 {
		s.StatusCode = 500
	}
}

// SetStatus sets the HTTP status code
func (s *Span) SetStatus(code int) {
	s.StatusCode = code
}

// Log adds a log entry to the span
func (s *Span) Log(message string, fields map[string]interface{}) {
	s.Logs = append(s.Logs, LogEntry{
		Timestamp: time.Now(),
		Message:   message,
		Fields:    fields,
	})
}

// collectSpans processes completed spans
func (t *Tracer) collectSpans() {
	defer close(t.done)
	for span := range t.spans {
		t.processSpan(span)
	}
}

// processSpan logs the span and keeps it in the recent buffer
func (t *Tracer) processSpan(span *Span) {
	fields := []zap.Field{
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", span.Service),
	}

	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	if span.StatusCode != 0 {
		fields = append(fields, zap.Int("status", span.StatusCode))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Error != nil {
		fields = append(fields, zap.Error(span.Error))
		t.logger.Warn("span completed with error", fields...)
	} else {
		t.logger.Debug("span completed", fields...)
	}

	t.mu.Lock()
	t.recent = append(t.recent, span)
	if len(t.recent) > t.keep {
		t.recent = t.recent[len(t.recent)-t.keep:]
	}
	t.mu.Unlock()
}

// Submit sends a span to the collector. Spans submitted after Close are
// dropped.
func (t *Tracer) Submit(span *Span) {
	select {
	case <-t.done:
		return
	default:
	}
	defer func() {
		// The channel may close between the check above and the send.
		_ = recover()
	}()

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("span_id", string(span.SpanID)),
		)
	}
}

// Close stops the collector after the queued spans are processed.
func (t *Tracer) Close() {
	t.once.Do(func() {
		close(t.spans)
	})
	<-t.done
}

// Recent returns the most recently processed spans, oldest first.
func (t *Tracer) Recent() []*Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Span(nil), t.recent...)
}

// ExtractTraceContext extracts trace context from headers
func ExtractTraceContext(headers map[string]string) (TraceID, SpanID) {
	traceID := TraceID(headers[HeaderTraceID])
	spanID := SpanID(headers[HeaderSpanID])
	return traceID, spanID
}

// InjectTraceContext injects trace context into headers
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	if traceID := GetTraceID(ctx); traceID != "" {
		headers[HeaderTraceID] = string(traceID)
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		headers[HeaderSpanID] = string(spanID)
	}
}

// Propagation headers.
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// Context keys for trace propagation
type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	spanIDKey  contextKey = "span_id"
)

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	if traceID, ok := ctx.Value(traceIDKey).(TraceID); ok {
		return traceID
	}
	return ""
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) SpanID {
	if spanID, ok := ctx.Value(spanIDKey).(SpanID); ok {
		return spanID
	}
	return ""
}

// FormatTrace returns a formatted trace string for logging
func FormatTrace(traceID TraceID, spanID SpanID) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, spanID)
}
