package tracing

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing. It continues a
// trace named by the X-Trace-ID and X-Span-ID request headers and echoes the
// new span's identifiers in the response.
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			HeaderTraceID: c.GetHeader(HeaderTraceID),
			HeaderSpanID:  c.GetHeader(HeaderSpanID),
		})

		ctx := c.Request.Context()
		if traceID != "" {
			ctx = context.WithValue(ctx, traceIDKey, traceID)
		}
		if parentID != "" {
			ctx = context.WithValue(ctx, spanIDKey, parentID)
		}

		name := c.FullPath()
		if name == "" {
			name = c.Request.URL.Path
		}
		span, ctx := tracer.StartSpan(ctx, c.Request.Method+" "+name)
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderTraceID, string(span.TraceID))
		c.Header(HeaderSpanID, string(span.SpanID))

		c.Next()

		span.SetStatus(c.Writer.Status())
		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}
