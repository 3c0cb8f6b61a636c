package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware opens a span per request named after the matched route and
// echoes the trace headers on the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.FullPath()
		if name == "" {
			name = "unmatched"
		}

		ctx := ContextFromHeader(c.Request.Context(), c.Request.Header)
		span, ctx := tracer.StartSpan(ctx, name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}
		span.Finish()
		tracer.Submit(span)
	}
}

// Trace runs fn inside a span named name and submits it. fn's error is
// recorded on the span and returned.
func (t *Tracer) Trace(ctx context.Context, name string, tags map[string]string, fn func(ctx context.Context) error) error {
	span, ctx := t.StartSpan(ctx, name)
	for k, v := range tags {
		span.SetTag(k, v)
	}

	err := fn(ctx)
	if err != nil {
		span.SetError(err)
	}

	span.Finish()
	t.Submit(span)
	return err
}
