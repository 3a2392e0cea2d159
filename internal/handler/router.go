package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter registers the middleware chain and every route.
func SetupRouter(h *Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("access")))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		api.POST("/shops", h.CreateShop)
		api.GET("/shops", h.ListShops)

		shop := api.Group("/shops/:shop_id")
		{
			shop.GET("", h.GetShop)
			shop.PUT("", h.UpdateShop)

			shop.POST("/providers", h.CreateProvider)
			shop.GET("/providers", h.ListProviders)
			shop.PUT("/providers/:provider_id", h.UpdateProvider)
			shop.POST("/super-agents", h.CreateSuperAgent)
			shop.GET("/super-agents", h.ListSuperAgents)
			shop.GET("/super-agents/:agent_id", h.GetSuperAgent)
			shop.PUT("/super-agents/:agent_id", h.UpdateSuperAgent)

			shop.POST("/transactions", h.RecordTransaction)
			shop.GET("/transactions", h.ListTransactions)

			shop.POST("/float-movements/top-up", h.TopUpFloat)
			shop.POST("/float-movements/withdraw", h.WithdrawFloat)
			shop.GET("/float-movements", h.ListFloatMovements)

			shop.GET("/balances", h.GetBalances)
			shop.GET("/balances/cash", h.GetCashBalance)
			shop.PUT("/balances/cash", h.SetCashOpeningBalance)
			shop.POST("/balances/cash/adjust", h.AdjustCash)

			recon := shop.Group("/reconciliation")
			{
				recon.GET("/recompute", h.Recompute)
				recon.GET("/verify", h.Verify)
				recon.POST("/reconcile", h.Reconcile)
				recon.POST("/rebuild", h.Rebuild)
			}
		}

		txn := api.Group("/transactions")
		{
			txn.GET("/types", h.TransactionTypes)
			txn.GET("/:id", h.GetTransaction)
			txn.PATCH("/:id", h.AnnotateTransaction)
			txn.POST("/:id/reverse", h.ReverseTransaction)
		}

		outbox := api.Group("/audit/outbox")
		{
			outbox.GET("", h.OutboxStats)
			outbox.GET("/failed", h.ListFailedAudit)
			outbox.POST("/requeue", h.RequeueAudit)
		}

		flt := api.Group("/float-movements")
		{
			flt.GET("/:id", h.GetFloatMovement)
			flt.PATCH("/:id", h.AnnotateFloatMovement)
			flt.POST("/:id/reverse", h.ReverseFloatMovement)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
