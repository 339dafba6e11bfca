/*
Package tracing provides distributed tracing for debugging production issues.

# Overview

This package implements lightweight distributed tracing to track requests
from the gateway into the kernel control plane and event stream. It follows OpenTelemetry
concepts but with a minimal implementation tailored to the system's needs.

# Features

- Trace context propagation via HTTP headers and gRPC metadata
- Span creation and management with parent-child relationships
- Automatic trace ID generation
- Gin middleware plus gRPC and resty client hooks
- Structured logging integration
- Low overhead with buffered span collection

# Usage

	// Create tracer
	tracer := tracing.New("execstream", logger)

	// HTTP middleware
	router.Use(tracing.HTTPMiddleware(tracer))

	// gRPC client interceptor
	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)),
	)

	// resty hooks
	client.OnBeforeRequest(tracing.RestyMiddleware(tracer))
	client.OnAfterResponse(tracing.RestyResponseMiddleware(tracer))

	// Manual span creation
	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

	span.SetTag("key", "value")

# Trace Format

Traces use standard HTTP headers for propagation:
- X-Trace-ID: Unique identifier for entire request flow
- X-Span-ID: Identifier for current operation

# Performance

The tracing system is designed for minimal overhead:
- Buffered span collection (1000 spans)
- Async span processing, drained by Close
- Structured logging integration
*/
package tracing
