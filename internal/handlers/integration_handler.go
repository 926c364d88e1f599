package handlers

import (
	"errors"
	"net/http"

	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// IntegrationHandler 第三方集成配置接口
type IntegrationHandler struct {
	service *services.IntegrationService
	logger  *logrus.Logger
}

func NewIntegrationHandler(service *services.IntegrationService, logger *logrus.Logger) *IntegrationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &IntegrationHandler{service: service, logger: logger}
}

// ListIntegrations 集成列表
func (h *IntegrationHandler) ListIntegrations(c *gin.Context) {
	integrations, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to list integrations: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list integrations", err.Error())
		return
	}
	respondOK(c, http.StatusOK, integrations)
}

// UpsertIntegration 创建或更新某个 provider 的集成配置
func (h *IntegrationHandler) UpsertIntegration(c *gin.Context) {
	var req services.IntegrationUpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	integration, err := h.service.Upsert(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			respondError(c, http.StatusBadRequest, "Invalid integration", err.Error())
			return
		}
		h.logger.Errorf("Failed to upsert integration: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to save integration", err.Error())
		return
	}
	respondOK(c, http.StatusOK, integration)
}

// RegisterIntegrationRoutes 注册路由
func RegisterIntegrationRoutes(r *gin.RouterGroup, handler *IntegrationHandler) {
	integrations := r.Group("/integrations")
	{
		integrations.GET("", handler.ListIntegrations)
		integrations.PUT("", handler.UpsertIntegration)
	}
}
