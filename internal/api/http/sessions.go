package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/domain/registry"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/utils"
)

// SessionResponse is the JSON form of a View.
type SessionResponse struct {
	types.View
	Errors []string `json:"errors"`
	// Offset is the index of the first event in Events
	Offset int `json:"offset"`
}

// SessionSummary is one row of the session listing.
type SessionSummary struct {
	UUID         string             `json:"uuid"`
	Status       types.StreamState  `json:"status"`
	KernelStatus types.KernelStatus `json:"kernel_status"`
	Events       int                `json:"events"`
	Errors       int                `json:"errors"`
	Loading      bool               `json:"loading"`
}

// ExecuteRequest is the body of POST /sessions/:uuid/execute.
type ExecuteRequest struct {
	Code string `json:"code"`
}

// NewSessionResponse renders v, keeping only the events from offset on.
func NewSessionResponse(v types.View, offset int) SessionResponse {
	if offset < 0 || offset > len(v.Events) {
		offset = len(v.Events)
	}
	v.Events = v.Events[offset:]
	return SessionResponse{View: v, Errors: v.ErrorStrings(), Offset: offset}
}

// ListSessions lists every live session
func (h *Handlers) ListSessions(c *gin.Context) {
	uuids := h.registry.Sessions()
	sessions := make([]SessionSummary, 0, len(uuids))
	for _, uuid := range uuids {
		v, ok := h.registry.Peek(uuid)
		if !ok {
			continue
		}
		sessions = append(sessions, SessionSummary{
			UUID:         uuid,
			Status:       v.Status,
			KernelStatus: v.KernelStatus,
			Events:       len(v.Events),
			Errors:       len(v.Errors),
			Loading:      v.Loading,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions":    sessions,
		"count":       len(sessions),
		"subscribers": h.registry.Subscribers(),
	})
}

// GetSession returns the view of a live session. ?since=N skips the first N
// events for clients that already hold them.
func (h *Handlers) GetSession(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}

	offset := 0
	if raw := c.Query("since"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
			return
		}
		offset = n
	}

	v, ok := h.registry.Peek(uuid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, NewSessionResponse(v, offset))
}

// Execute submits code to the session's kernel
func (h *Handlers) Execute(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid execute request"})
		return
	}
	if err := utils.ValidateCode(req.Code); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var msgID string
	if !h.withHandle(c, uuid, true, func(ctx context.Context, handle *registry.Handle) error {
		var err error
		msgID, err = handle.Execute(ctx, req.Code)
		return err
	}) {
		return
	}

	h.logger.Debug("Execute accepted", zap.String("uuid", uuid), zap.String("msg_id", msgID))
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"msg_id":  msgID,
	})
}

// Interrupt asks the session's kernel to stop the running execution
func (h *Handlers) Interrupt(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}
	if !h.withHandle(c, uuid, false, func(ctx context.Context, handle *registry.Handle) error {
		return handle.Interrupt(ctx)
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Restart restarts the session's kernel
func (h *Handlers) Restart(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}
	if !h.withHandle(c, uuid, false, func(ctx context.Context, handle *registry.Handle) error {
		return handle.Restart(ctx)
	}) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// Send forwards a raw JSON frame over the session's stream
func (h *Handlers) Send(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if err := utils.NewJSONSizeValidator(utils.MaxFrameSize).ValidateJSON(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.withHandle(c, uuid, true, func(ctx context.Context, handle *registry.Handle) error {
		return handle.Send(ctx, data)
	}) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

// DeleteSession tears a session down. ?purge=true also deletes everything
// persisted for it.
func (h *Handlers) DeleteSession(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}

	purge := false
	if raw := c.Query("purge"); raw != "" {
		var err error
		if purge, err = strconv.ParseBool(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "purge must be a boolean"})
			return
		}
	}

	if err := h.registry.Teardown(c.Request.Context(), uuid, registry.TeardownOptions{DeleteSnapshot: purge}); err != nil {
		h.fail(c, err)
		return
	}

	h.logger.Info("Session deleted", zap.String("uuid", uuid), zap.Bool("purged", purge))
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"purged":  purge,
	})
}
