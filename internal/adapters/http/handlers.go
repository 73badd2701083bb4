package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Call/internal/app"
	"github.com/dkeye/Call/internal/app/orch"
	"github.com/dkeye/Call/internal/core"
	"github.com/dkeye/Call/internal/domain"
	"github.com/gin-gonic/gin"
)

type callHandlers struct {
	orch *orch.Orchestrator
}

type VariantRequest struct {
	Variant string `json:"variant"`
}

func sidOf(c *gin.Context) core.SessionID {
	return core.SessionID(c.GetString("client_token"))
}

func (h *callHandlers) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.Snapshot(sidOf(c)))
}

// start blocks until the session is active or failed. A failed attempt is
// still a 200 with the error status; the message is in the snapshot.
func (h *callHandlers) start(c *gin.Context) {
	var req app.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start request"})
		return
	}
	snap, err := h.orch.Start(c.Request.Context(), sidOf(c), req)
	var callErr *app.CallError
	switch {
	case err == nil, errors.As(err, &callErr):
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, orch.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error(), "state": snap})
	case errors.Is(err, app.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": snap})
	default:
		c.JSON(http.StatusOK, snap)
	}
}

func (h *callHandlers) stop(c *gin.Context) {
	snap, err := h.orch.Stop(c.Request.Context(), sidOf(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *callHandlers) variant(c *gin.Context) {
	var req VariantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid variant"})
		return
	}
	variant, err := domain.ParseVariant(req.Variant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess := h.orch.SwitchVariant(sidOf(c), variant)
	c.JSON(http.StatusOK, sess.Snapshot())
}
