package handler

import (
	"agentledger/internal/service"
	"agentledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// OutboxStats
// GET /api/v1/audit/outbox
func (h *Handler) OutboxStats(c *gin.Context) {
	stats, err := h.auditService.OutboxStats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, stats)
}

// ListFailedAudit
// GET /api/v1/audit/outbox/failed?limit=50
func (h *Handler) ListFailedAudit(c *gin.Context) {
	q := &queryParser{c: c}
	limit := q.Int("limit")
	if q.err != nil {
		response.ParamError(c, q.err.Error())
		return
	}

	rows, err := h.auditService.ListFailed(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, rows)
}

// RequeueAudit moves FAILED audit events back to PENDING for the relay.
// POST /api/v1/audit/outbox/requeue
func (h *Handler) RequeueAudit(c *gin.Context) {
	var req service.RequeueRequest
	if !bind(c, &req) {
		return
	}
	req.RequestedBy = userID(c)

	n, err := h.auditService.Requeue(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"requeued": n})
}
