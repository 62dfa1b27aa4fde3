package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection. Requests are
// labelled by route template so path parameters do not explode the label
// space.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		// Get request size
		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		// Process request
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		// Get response data
		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())
		if respSize < 0 {
			respSize = 0
		}

		// Record metrics
		metrics.RecordHTTPRequest(method, path, status, duration, reqSize, respSize)
	}
}
