package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentledger/internal/service"
	"agentledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// HeaderUserID carries the id of the person recording an operation.
// Authentication happens in front of this service.
const HeaderUserID = "X-User-ID"

// Handler exposes the ledger services over HTTP.
type Handler struct {
	shopService      *service.ShopService
	ledgerService    *service.LedgerService
	reconcileService *service.ReconcileService
	auditService     *service.AuditService
	log              *zap.Logger
}

func NewHandler(shops *service.ShopService, ledger *service.LedgerService, reconcile *service.ReconcileService, audits *service.AuditService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		shopService:      shops,
		ledgerService:    ledger,
		reconcileService: reconcile,
		auditService:     audits,
		log:              log.Named("http"),
	}
}

// fail maps a service error to the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrConcurrency):
		response.BusinessError(c, http.StatusConflict, response.CodeConcurrentUpdate, err.Error())
	case errors.Is(err, service.ErrNegativeBalance):
		response.BusinessError(c, http.StatusUnprocessableEntity, response.CodeNegativeBalance, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		response.Error(c, http.StatusGatewayTimeout, response.CodeServerError, "request timed out")
	default:
		// storage details stay in the log
		h.log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		response.ServerError(c, "internal server error")
	}
}

func userID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(HeaderUserID))
}

// bind decodes the JSON body into req, answering 400 on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// ============================================================
// query parsing
// ============================================================

type queryParser struct {
	c   *gin.Context
	err error
}

func (p *queryParser) Int(name string) int {
	raw := p.c.Query(name)
	if raw == "" || p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = errors.New(name + " must be an integer")
	}
	return v
}

func (p *queryParser) Decimal(name string) *decimal.Decimal {
	raw := p.c.Query(name)
	if raw == "" || p.err != nil {
		return nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		p.err = errors.New(name + " must be a number")
		return nil
	}
	return &v
}

// Date accepts YYYY-MM-DD or RFC 3339. A bare end date covers the whole
// day.
func (p *queryParser) Date(name string, endOfDay bool) *time.Time {
	raw := p.c.Query(name)
	if raw == "" || p.err != nil {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		p.err = errors.New(name + " must be YYYY-MM-DD or RFC 3339")
		return nil
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t
}
