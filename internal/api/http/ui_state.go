package http

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/types"
	"github.com/GriffinCanCode/AgentOS/execstream/internal/shared/utils"
)

// GetUIState returns the persisted UI state of a session together with the
// reload flag. A session without stored state answers with the zero state.
func (h *Handlers) GetUIState(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}
	snaps := h.registry.Snapshots()
	if snaps == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	ctx := c.Request.Context()
	state, found, err := snaps.LoadUIState(ctx, uuid)
	if err != nil {
		h.fail(c, err)
		return
	}
	reloaded, err := snaps.Reloaded(ctx, uuid)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":    state,
		"found":    found,
		"reloaded": reloaded,
	})
}

// PutUIState replaces the persisted UI state of a session
func (h *Handlers) PutUIState(c *gin.Context) {
	uuid, ok := uuidParam(c)
	if !ok {
		return
	}
	snaps := h.registry.Snapshots()
	if snaps == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "persistence disabled"})
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if err := utils.NewJSONSizeValidator(utils.MaxUIStateSize).ValidateSize(data); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	var state types.UIState
	if err := sonic.Unmarshal(data, &state); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ui state"})
		return
	}

	saved, err := snaps.SaveUIState(c.Request.Context(), uuid, state)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"state":   saved,
	})
}
