package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanNesting(t *testing.T) {
	tracer := New("test", nil)
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "outer")
	child, childCtx := tracer.StartSpan(ctx, "inner")

	assert.NotEmpty(t, parent.TraceID)
	assert.Empty(t, parent.ParentID)
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))

	headers := map[string]string{}
	InjectTraceContext(childCtx, headers)
	traceID, spanID := ExtractTraceContext(headers)
	assert.Equal(t, parent.TraceID, traceID)
	assert.Equal(t, child.SpanID, spanID)
}

func TestCloseFlushesSpans(t *testing.T) {
	tracer := New("test", nil)

	span, _ := tracer.StartSpan(context.Background(), "work")
	span.SetError(errors.New("failed"))
	span.Finish()
	tracer.Submit(span)
	tracer.Close()

	recent := tracer.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "work", recent[0].Name)
	assert.Equal(t, 500, recent[0].StatusCode)

	// Dropped after close.
	tracer.Submit(span)
	assert.Len(t, tracer.Recent(), 1)
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", nil)

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/api/snapshot/:name", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot/base", nil)
	req.Header.Set(HeaderTraceID, "trace-from-client")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, TraceID("trace-from-client"), seen)
	assert.Equal(t, "trace-from-client", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))

	tracer.Close()
	recent := tracer.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, "GET /api/snapshot/:name", recent[0].Name)
	assert.Equal(t, "204", recent[0].Tags["http.status"])
}
