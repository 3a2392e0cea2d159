package handler

import (
	"agentledger/internal/model"
	"agentledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// Recompute folds the journal without comparing it to anything.
// GET /api/v1/shops/:shop_id/reconciliation/recompute?provider_id=&category=
func (h *Handler) Recompute(c *gin.Context) {
	computed, err := h.reconcileService.Recompute(c.Request.Context(), c.Param("shop_id"), c.Query("provider_id"), model.Category(c.Query("category")))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, computed)
}

// Verify
// GET /api/v1/shops/:shop_id/reconciliation/verify
func (h *Handler) Verify(c *gin.Context) {
	drifts, err := h.reconcileService.Verify(c.Request.Context(), c.Param("shop_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"consistent": len(drifts) == 0,
		"drifts":     orEmpty(drifts),
	})
}

type reconcileRequest struct {
	Reason string `json:"reason"`
}

// Reconcile
// POST /api/v1/shops/:shop_id/reconciliation/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	// the body is optional
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}

	drifts, err := h.reconcileService.Reconcile(c.Request.Context(), c.Param("shop_id"), userID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"repaired": len(drifts),
		"drifts":   orEmpty(drifts),
	})
}

// Rebuild
// POST /api/v1/shops/:shop_id/reconciliation/rebuild
func (h *Handler) Rebuild(c *gin.Context) {
	drifts, err := h.reconcileService.Rebuild(c.Request.Context(), c.Param("shop_id"), userID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{
		"repaired": len(drifts),
		"drifts":   orEmpty(drifts),
	})
}

func orEmpty(drifts []model.Drift) []model.Drift {
	if drifts == nil {
		return []model.Drift{}
	}
	return drifts
}
