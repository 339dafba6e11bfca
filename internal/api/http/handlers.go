package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/paths"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
)

// DefaultOpenTimeout bounds how long a stream-bound request waits for a
// freshly subscribed session to open its stream.
const DefaultOpenTimeout = 5 * time.Second

// Handlers contains all HTTP handlers
type Handlers struct {
	registry    *registry.Registry
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	openTimeout time.Duration
	started     time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(reg *registry.Registry, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		registry:    reg,
		metrics:     metrics,
		logger:      logger.Named("http"),
		openTimeout: DefaultOpenTimeout,
		started:     time.Now(),
	}
}

// SetOpenTimeout overrides DefaultOpenTimeout. Non-positive values are ignored.
func (h *Handlers) SetOpenTimeout(d time.Duration) {
	if d > 0 {
		h.openTimeout = d
	}
}

// Root returns service info
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "execstream",
		"status":  "running",
		"version": "1.0.0",
	})
}

// Health returns detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "healthy",
		"sessions":    h.registry.Len(),
		"subscribers": h.registry.Subscribers(),
		"persistence": h.registry.Snapshots() != nil,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"metrics":     h.metrics.Snapshot(),
	})
}

// uuidParam validates the :uuid path parameter, answering 400 on failure.
func uuidParam(c *gin.Context) (string, bool) {
	uuid := c.Param("uuid")
	if err := paths.ValidateUUID(uuid); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return uuid, true
}

// withHandle subscribes a short-lived handle for the duration of fn. The
// session outlives the request for the registry's grace period, so
// back-to-back requests share one stream.
func (h *Handlers) withHandle(c *gin.Context, uuid string, needsStream bool, fn func(context.Context, *registry.Handle) error) bool {
	ctx := c.Request.Context()
	handle, err := h.registry.Subscribe(ctx, uuid)
	if err != nil {
		h.fail(c, err)
		return false
	}
	defer func() {
		if err := handle.Close(); err != nil {
			h.logger.Warn("Failed to release request handle", zap.String("uuid", uuid), zap.Error(err))
		}
	}()

	if needsStream {
		awaitOpen(ctx, handle, h.openTimeout)
	}
	if err := fn(ctx, handle); err != nil {
		h.fail(c, err)
		return false
	}
	return true
}

// awaitOpen waits until the handle's stream is open or the timeout passes.
// Callers proceed either way and surface whatever the operation returns.
func awaitOpen(ctx context.Context, handle *registry.Handle, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for handle.View().Status != types.StateOpen {
		select {
		case <-handle.Updates():
		case <-handle.Done():
			return
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Warn("Session request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{
		"error": err.Error(),
		"kind":  types.KindLabel(err),
	})
}
