package tracing

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
)

// Propagation headers
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

const spanBuffer = 1000

// TraceID identifies one causal chain, e.g. an agent connection.
type TraceID string

// SpanID identifies one operation inside a trace.
type SpanID string

// Span is one timed operation.
type Span struct {
	TraceID  TraceID
	SpanID   SpanID
	ParentID SpanID
	Name     string
	Service  string
	Start    time.Time
	Duration time.Duration
	Tags     map[string]string
	Err      error
}

// SetTag adds a tag to the span
func (s *Span) SetTag(key, value string) {
	s.Tags[key] = value
}

// SetError records an error in the span
func (s *Span) SetError(err error) {
	s.Err = err
}

// Finish marks the span as complete
func (s *Span) Finish() {
	s.Duration = time.Since(s.Start)
}

// Tracer writes finished spans to the log from a single collector goroutine.
type Tracer struct {
	service string
	logger  *zap.Logger
	spans   chan *Span
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// New creates a tracer and starts its collector. Call Close to flush.
func New(service string, logger *zap.Logger) *Tracer {
	t := &Tracer{
		service: service,
		logger:  logger.Named("trace"),
		spans:   make(chan *Span, spanBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go t.collect()
	return t
}

// StartSpan opens a span, continuing the trace carried by ctx if any.
func (t *Tracer) StartSpan(ctx context.Context, name string) (*Span, context.Context) {
	traceID := GetTraceID(ctx)
	if traceID == "" {
		traceID = TraceID(id.NewRequestID())
	}

	span := &Span{
		TraceID:  traceID,
		SpanID:   SpanID(id.NewRequestID()),
		ParentID: GetSpanID(ctx),
		Name:     name,
		Service:  t.service,
		Start:    time.Now(),
		Tags:     make(map[string]string),
	}
	return span, withIDs(ctx, traceID, span.SpanID)
}

// Submit queues a finished span. Spans are dropped once the buffer is full
// or the tracer is closed.
func (t *Tracer) Submit(span *Span) {
	select {
	case <-t.done:
		return
	default:
	}

	select {
	case t.spans <- span:
	default:
		t.logger.Warn("span buffer full, dropping span",
			zap.String("trace_id", string(span.TraceID)),
			zap.String("operation", span.Name))
	}
}

// Close flushes buffered spans and stops the collector.
func (t *Tracer) Close() {
	t.once.Do(func() { close(t.done) })
	<-t.stopped
}

func (t *Tracer) collect() {
	defer close(t.stopped)
	for {
		select {
		case span := <-t.spans:
			t.write(span)
		case <-t.done:
			for {
				select {
				case span := <-t.spans:
					t.write(span)
				default:
					return
				}
			}
		}
	}
}

func (t *Tracer) write(span *Span) {
	fields := make([]zap.Field, 0, len(span.Tags)+6)
	fields = append(fields,
		zap.String("trace_id", string(span.TraceID)),
		zap.String("span_id", string(span.SpanID)),
		zap.String("operation", span.Name),
		zap.Duration("duration", span.Duration),
		zap.String("service", span.Service),
	)
	if span.ParentID != "" {
		fields = append(fields, zap.String("parent_id", string(span.ParentID)))
	}
	for k, v := range span.Tags {
		fields = append(fields, zap.String(k, v))
	}

	if span.Err != nil {
		t.logger.Warn("span completed with error", append(fields, zap.Error(span.Err))...)
		return
	}
	t.logger.Debug("span completed", fields...)
}

type contextKey int

const (
	traceIDKey contextKey = iota
	spanIDKey
)

func withIDs(ctx context.Context, traceID TraceID, spanID SpanID) context.Context {
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if spanID != "" {
		ctx = context.WithValue(ctx, spanIDKey, spanID)
	}
	return ctx
}

// ContextFromHeader continues the trace named by h's propagation headers.
func ContextFromHeader(ctx context.Context, h http.Header) context.Context {
	return withIDs(ctx, TraceID(h.Get(HeaderTraceID)), SpanID(h.Get(HeaderSpanID)))
}

// InjectHeader writes ctx's trace into h.
func InjectHeader(ctx context.Context, h http.Header) {
	if traceID := GetTraceID(ctx); traceID != "" {
		h.Set(HeaderTraceID, string(traceID))
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		h.Set(HeaderSpanID, string(spanID))
	}
}

// GetTraceID retrieves the trace ID from context
func GetTraceID(ctx context.Context) TraceID {
	traceID, _ := ctx.Value(traceIDKey).(TraceID)
	return traceID
}

// GetSpanID retrieves the span ID from context
func GetSpanID(ctx context.Context) SpanID {
	spanID, _ := ctx.Value(spanIDKey).(SpanID)
	return spanID
}
