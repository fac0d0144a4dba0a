package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/service"
)

// AdminHandler exposes operational endpoints.
type AdminHandler struct {
	sweeper service.Sweeper
}

// NewAdminHandler builds an AdminHandler.
func NewAdminHandler(sweeper service.Sweeper) *AdminHandler {
	return &AdminHandler{sweeper: sweeper}
}

// Flush runs a flush sweep now. It shares the single-flight guard with the
// periodic flusher.
func (h *AdminHandler) Flush(c *gin.Context) {
	res, err := h.sweeper.FlushUnpersistedMessages(c.Request.Context())
	if errors.Is(err, service.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "flush already in progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "flush failed"})
		return
	}

	failed := make([]int64, 0, len(res.Failed))
	for roomID := range res.Failed {
		failed = append(failed, roomID)
	}
	c.JSON(http.StatusOK, gin.H{
		"rooms":        res.Rooms,
		"flushed":      res.Flushed,
		"empty":        res.Empty,
		"messages":     res.Messages,
		"failed_rooms": failed,
	})
}
