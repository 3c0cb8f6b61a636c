/*
Package tracing provides lightweight request tracing for the coordinator.

# Overview

Every HTTP request and every agent request over the WebSocket hub runs inside
a span. Finished spans are logged asynchronously with their trace and span
IDs, so one agent action can be followed through the logs.

# Features

- Trace context propagation via X-Trace-ID and X-Span-ID headers
- Span creation with parent-child relationships
- Automatic trace ID generation
- Gin middleware for automatic instrumentation
- Buffered span collection, flushed on Close

# Usage

	tracer := tracing.New("coordinator", logger.Logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	err := tracer.Trace(ctx, "ws.heartbeat", map[string]string{"tab_id": tab}, func(ctx context.Context) error {
		return handle(ctx)
	})
*/
package tracing
