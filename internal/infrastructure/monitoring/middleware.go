package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		// Get request size
		reqSize := c.Request.ContentLength
		if reqSize < 0 {
			reqSize = 0
		}

		// Process request
		c.Next()

		// Get response data
		duration := time.Since(start)
		status := strconv.Itoa(c.Writer.Status())
		respSize := int64(c.Writer.Size())

		// Record metrics
		metrics.RecordHTTPRequest(method, path, status, duration, reqSize, respSize)
	}
}

// Timer measures kernel control call duration
type Timer struct {
	start    time.Time
	metrics  *Metrics
	protocol string
	method   string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, protocol, method string) *Timer {
	return &Timer{
		start:    time.Now(),
		metrics:  metrics,
		protocol: protocol,
		method:   method,
	}
}

// Stop stops the timer and records the duration
func (t *Timer) Stop(status string) {
	t.metrics.RecordControlCall(t.protocol, t.method, status, time.Since(t.start))
}
