package handler

import (
	"agentledger/internal/model"
	"agentledger/internal/repository"
	"agentledger/internal/service"
	"agentledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ============================================================
// Transactions
// ============================================================

// RecordTransaction
// POST /api/v1/shops/:shop_id/transactions
func (h *Handler) RecordTransaction(c *gin.Context) {
	var req service.RecordTransactionRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.RecordedBy = userID(c)

	result, err := h.ledgerService.RecordTransaction(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, result)
}

// ListTransactions
// GET /api/v1/shops/:shop_id/transactions?category=&type=&provider_id=&recorded_by=
// &start_date=&end_date=&min_amount=&max_amount=&search=&sort_by=&sort_order=&page=&limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	q := &queryParser{c: c}
	filter := repository.TransactionFilter{
		ShopID:     c.Param("shop_id"),
		Category:   model.Category(c.Query("category")),
		Type:       model.TransactionType(c.Query("type")),
		ProviderID: c.Query("provider_id"),
		RecordedBy: c.Query("recorded_by"),
		From:       q.Date("start_date", false),
		To:         q.Date("end_date", true),
		MinAmount:  q.Decimal("min_amount"),
		MaxAmount:  q.Decimal("max_amount"),
		Search:     c.Query("search"),
		SortBy:     c.DefaultQuery("sort_by", "transaction_date"),
		SortOrder:  c.DefaultQuery("sort_order", "desc"),
		Page:       q.Int("page"),
		Limit:      q.Int("limit"),
	}
	if q.err != nil {
		response.ParamError(c, q.err.Error())
		return
	}

	page, err := h.ledgerService.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}

// TransactionTypes
// GET /api/v1/transactions/types
func (h *Handler) TransactionTypes(c *gin.Context) {
	response.Success(c, h.ledgerService.TransactionTypes())
}

// GetTransaction
// GET /api/v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	row, err := h.ledgerService.GetTransaction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, row)
}

type reverseRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ReverseTransaction
// POST /api/v1/transactions/:id/reverse
func (h *Handler) ReverseTransaction(c *gin.Context) {
	var req reverseRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.ledgerService.ReverseTransaction(c.Request.Context(), c.Param("id"), userID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, result)
}

// AnnotateTransaction updates notes and receipt_image_url only.
// PATCH /api/v1/transactions/:id
func (h *Handler) AnnotateTransaction(c *gin.Context) {
	var req service.AnnotateRequest
	if !bind(c, &req) {
		return
	}

	row, err := h.ledgerService.AnnotateTransaction(c.Request.Context(), c.Param("id"), userID(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, row)
}

// ============================================================
// Float movements
// ============================================================

// TopUpFloat
// POST /api/v1/shops/:shop_id/float-movements/top-up
func (h *Handler) TopUpFloat(c *gin.Context) {
	h.recordFloatMovement(c, model.FloatOperationTopUp)
}

// WithdrawFloat
// POST /api/v1/shops/:shop_id/float-movements/withdraw
func (h *Handler) WithdrawFloat(c *gin.Context) {
	h.recordFloatMovement(c, model.FloatOperationWithdraw)
}

func (h *Handler) recordFloatMovement(c *gin.Context, op model.FloatOperationType) {
	var req service.RecordFloatMovementRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.RecordedBy = userID(c)
	req.Type = op

	result, err := h.ledgerService.RecordFloatMovement(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, result)
}

// ListFloatMovements
// GET /api/v1/shops/:shop_id/float-movements?type=&category=&provider_id=&super_agent_id=
// &start_date=&end_date=&page=&limit=
func (h *Handler) ListFloatMovements(c *gin.Context) {
	q := &queryParser{c: c}
	filter := repository.FloatMovementFilter{
		ShopID:       c.Param("shop_id"),
		Type:         model.FloatOperationType(c.Query("type")),
		Category:     model.Category(c.Query("category")),
		ProviderID:   c.Query("provider_id"),
		SuperAgentID: c.Query("super_agent_id"),
		From:         q.Date("start_date", false),
		To:           q.Date("end_date", true),
		Page:         q.Int("page"),
		Limit:        q.Int("limit"),
	}
	if q.err != nil {
		response.ParamError(c, q.err.Error())
		return
	}

	page, err := h.ledgerService.ListFloatMovements(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, page)
}

// GetFloatMovement
// GET /api/v1/float-movements/:id
func (h *Handler) GetFloatMovement(c *gin.Context) {
	row, err := h.ledgerService.GetFloatMovement(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, row)
}

// ReverseFloatMovement
// POST /api/v1/float-movements/:id/reverse
func (h *Handler) ReverseFloatMovement(c *gin.Context) {
	var req reverseRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.ledgerService.ReverseFloatMovement(c.Request.Context(), c.Param("id"), userID(c), req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, result)
}

// AnnotateFloatMovement
// PATCH /api/v1/float-movements/:id
func (h *Handler) AnnotateFloatMovement(c *gin.Context) {
	var req service.AnnotateRequest
	if !bind(c, &req) {
		return
	}

	row, err := h.ledgerService.AnnotateFloatMovement(c.Request.Context(), c.Param("id"), userID(c), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, row)
}

// ============================================================
// Balances
// ============================================================

// GetBalances
// GET /api/v1/shops/:shop_id/balances?provider_id=&category=
func (h *Handler) GetBalances(c *gin.Context) {
	snapshot, err := h.ledgerService.GetBalances(c.Request.Context(), c.Param("shop_id"), c.Query("provider_id"), model.Category(c.Query("category")))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, snapshot)
}

// GetCashBalance
// GET /api/v1/shops/:shop_id/balances/cash
func (h *Handler) GetCashBalance(c *gin.Context) {
	cash, err := h.ledgerService.GetCashBalance(c.Request.Context(), c.Param("shop_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, cash)
}

// SetCashOpeningBalance
// PUT /api/v1/shops/:shop_id/balances/cash
func (h *Handler) SetCashOpeningBalance(c *gin.Context) {
	var req service.SetCashOpeningRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.RecordedBy = userID(c)

	result, err := h.ledgerService.SetCashOpeningBalance(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, result)
}

// AdjustCash
// POST /api/v1/shops/:shop_id/balances/cash/adjust
func (h *Handler) AdjustCash(c *gin.Context) {
	var req service.AdjustCashRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.RecordedBy = userID(c)

	result, err := h.ledgerService.AdjustCash(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, result)
}
