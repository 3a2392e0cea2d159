package handler

import (
	"agentledger/internal/model"
	"agentledger/internal/service"
	"agentledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// CreateShop
// POST /api/v1/shops
func (h *Handler) CreateShop(c *gin.Context) {
	var req service.CreateShopRequest
	if !bind(c, &req) {
		return
	}
	req.OwnerID = userID(c)

	shop, err := h.shopService.CreateShop(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, shop)
}

// ListShops
// GET /api/v1/shops
func (h *Handler) ListShops(c *gin.Context) {
	shops, err := h.shopService.ListShops(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, shops)
}

// GetShop
// GET /api/v1/shops/:shop_id
func (h *Handler) GetShop(c *gin.Context) {
	shop, err := h.shopService.GetShop(c.Request.Context(), c.Param("shop_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, shop)
}

// CreateProvider
// POST /api/v1/shops/:shop_id/providers
func (h *Handler) CreateProvider(c *gin.Context) {
	var req service.CreateProviderRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.CreatedBy = userID(c)

	provider, err := h.shopService.CreateProvider(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, provider)
}

// ListProviders
// GET /api/v1/shops/:shop_id/providers?category=mobile
func (h *Handler) ListProviders(c *gin.Context) {
	providers, err := h.shopService.ListProviders(c.Request.Context(), c.Param("shop_id"), model.Category(c.Query("category")))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, providers)
}

// CreateSuperAgent
// POST /api/v1/shops/:shop_id/super-agents
func (h *Handler) CreateSuperAgent(c *gin.Context) {
	var req service.CreateSuperAgentRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.CreatedBy = userID(c)

	agent, err := h.shopService.CreateSuperAgent(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Created(c, agent)
}

// ListSuperAgents
// GET /api/v1/shops/:shop_id/super-agents
func (h *Handler) ListSuperAgents(c *gin.Context) {
	agents, err := h.shopService.ListSuperAgents(c.Request.Context(), c.Param("shop_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, agents)
}

// UpdateShop
// PUT /api/v1/shops/:shop_id
func (h *Handler) UpdateShop(c *gin.Context) {
	var req service.UpdateShopRequest
	if !bind(c, &req) {
		return
	}
	req.UpdatedBy = userID(c)

	shop, err := h.shopService.UpdateShop(c.Request.Context(), c.Param("shop_id"), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, shop)
}

// UpdateProvider
// PUT /api/v1/shops/:shop_id/providers/:provider_id
func (h *Handler) UpdateProvider(c *gin.Context) {
	var req service.UpdateProviderRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.ProviderID = c.Param("provider_id")
	req.UpdatedBy = userID(c)

	provider, err := h.shopService.UpdateProvider(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, provider)
}

// GetSuperAgent
// GET /api/v1/shops/:shop_id/super-agents/:agent_id
func (h *Handler) GetSuperAgent(c *gin.Context) {
	agent, err := h.shopService.GetSuperAgent(c.Request.Context(), c.Param("shop_id"), c.Param("agent_id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, agent)
}

// UpdateSuperAgent
// PUT /api/v1/shops/:shop_id/super-agents/:agent_id
func (h *Handler) UpdateSuperAgent(c *gin.Context) {
	var req service.UpdateSuperAgentRequest
	if !bind(c, &req) {
		return
	}
	req.ShopID = c.Param("shop_id")
	req.AgentID = c.Param("agent_id")
	req.UpdatedBy = userID(c)

	agent, err := h.shopService.UpdateSuperAgent(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, agent)
}
