package tracing

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-resty/resty/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Extract trace context from headers
		headers := map[string]string{
			HeaderTraceID: c.GetHeader(HeaderTraceID),
			HeaderSpanID:  c.GetHeader(HeaderSpanID),
		}
		ctx := withRemoteContext(c.Request.Context(), headers)

		// Start span
		span, ctx := tracer.StartSpan(ctx, c.FullPath())
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())
		span.SetTag("http.host", c.Request.Host)

		// Update request context
		c.Request = c.Request.WithContext(ctx)

		// Inject trace context into response headers
		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		// Process request
		c.Next()

		// Record response
		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))

		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// GRPCClientInterceptor creates a gRPC client interceptor for trace propagation
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		// Start client span
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("rpc.method", method)
		span.SetTag("span.kind", "client")

		// Inject trace context into metadata
		headers := make(map[string]string)
		InjectTraceContext(ctx, headers)
		pairs := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			pairs = append(pairs, strings.ToLower(k), v)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, pairs...)

		// Call remote service
		err := invoker(ctx, method, req, reply, cc, opts...)

		// Record result
		if err != nil {
			span.SetError(err)
		} else {
			span.SetStatus(200)
		}

		span.Finish()
		tracer.Submit(span)

		return err
	}
}

// RestyMiddleware returns a request hook that opens a client span for each
// outgoing resty request and propagates it in headers. The span is
// submitted by the matching response hook from RestyResponseMiddleware.
func RestyMiddleware(tracer *Tracer) resty.RequestMiddleware {
	return func(_ *resty.Client, r *resty.Request) error {
		span, ctx := tracer.StartSpan(r.Context(), r.Method+" "+r.URL)
		span.SetTag("http.method", r.Method)
		span.SetTag("span.kind", "client")

		headers := make(map[string]string)
		InjectTraceContext(ctx, headers)
		r.SetHeaders(headers)
		r.SetContext(context.WithValue(ctx, clientSpanKey, span))
		return nil
	}
}

// RestyResponseMiddleware finishes the span opened by RestyMiddleware.
func RestyResponseMiddleware(tracer *Tracer) resty.ResponseMiddleware {
	return func(_ *resty.Client, resp *resty.Response) error {
		span, ok := resp.Request.Context().Value(clientSpanKey).(*Span)
		if !ok {
			return nil
		}
		span.SetStatus(resp.StatusCode())
		span.SetTag("http.status", strconv.Itoa(resp.StatusCode()))
		span.Finish()
		tracer.Submit(span)
		return nil
	}
}

func withRemoteContext(ctx context.Context, headers map[string]string) context.Context {
	traceID, parentID := ExtractTraceContext(headers)
	if traceID != "" {
		ctx = context.WithValue(ctx, traceIDKey, traceID)
	}
	if parentID != "" {
		ctx = context.WithValue(ctx, spanIDKey, parentID)
	}
	return ctx
}
