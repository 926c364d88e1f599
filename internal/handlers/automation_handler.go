package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AutomationHandler 自动化引擎的管理接口
type AutomationHandler struct {
	service *services.AutomationService
	logger  *logrus.Logger
}

func NewAutomationHandler(service *services.AutomationService, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{service: service, logger: logger}
}

// GetConfig 读取全局自动化配置
func (h *AutomationHandler) GetConfig(c *gin.Context) {
	cfg, err := h.service.GetConfig(c.Request.Context())
	if err != nil {
		h.logger.Errorf("Failed to load automation config: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to load config", err.Error())
		return
	}
	respondOK(c, http.StatusOK, cfg)
}

// UpdateConfig 部分更新全局自动化配置
func (h *AutomationHandler) UpdateConfig(c *gin.Context) {
	var req services.AutomationConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	cfg, err := h.service.UpdateConfig(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			respondError(c, http.StatusBadRequest, "Invalid config", err.Error())
			return
		}
		h.logger.Errorf("Failed to update automation config: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to update config", err.Error())
		return
	}
	respondOK(c, http.StatusOK, cfg)
}

// TriggerRun 同步执行一次完整检查。检查项失败时返回的运行记录
// 自带 failed 状态和错误文本，HTTP 层面仍是 200。
func (h *AutomationHandler) TriggerRun(c *gin.Context) {
	run, err := h.service.TriggerRun(c.Request.Context())
	if err != nil {
		if errors.Is(err, services.ErrRunInProgress) {
			respondError(c, http.StatusConflict, "Run in progress", err.Error())
			return
		}
		h.logger.Errorf("Automation run failed to persist: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to execute run", err.Error())
		return
	}
	respondOK(c, http.StatusOK, run)
}

// ListRuns 返回最近的运行历史，新的在前
func (h *AutomationHandler) ListRuns(c *gin.Context) {
	limit := 20
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "Invalid limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.service.ListRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Errorf("Failed to list automation runs: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list runs", err.Error())
		return
	}
	respondOK(c, http.StatusOK, runs)
}

// ListActions 返回动作列表，可按 status/type 过滤
func (h *AutomationHandler) ListActions(c *gin.Context) {
	actions, err := h.service.ListActions(c.Request.Context(), c.Query("status"), c.Query("type"))
	if err != nil {
		h.logger.Errorf("Failed to list automation actions: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list actions", err.Error())
		return
	}
	respondOK(c, http.StatusOK, actions)
}

// ApproveAction 人工批准一个 pending 动作
func (h *AutomationHandler) ApproveAction(c *gin.Context) {
	h.resolveAction(c, true)
}

// RejectAction 人工拒绝一个 pending 动作
func (h *AutomationHandler) RejectAction(c *gin.Context) {
	h.resolveAction(c, false)
}

func (h *AutomationHandler) resolveAction(c *gin.Context, approve bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid id", "ID must be a valid number")
		return
	}

	resolvedBy := c.GetString("username")

	var action interface{}
	if approve {
		action, err = h.service.ApproveAction(c.Request.Context(), uint(id), resolvedBy)
	} else {
		action, err = h.service.RejectAction(c.Request.Context(), uint(id), resolvedBy)
	}
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(c, http.StatusNotFound, "Action not found", err.Error())
		case errors.Is(err, services.ErrActionNotPending):
			respondError(c, http.StatusConflict, "Action already resolved", err.Error())
		default:
			h.logger.Errorf("Failed to resolve action %d: %v", id, err)
			respondError(c, http.StatusInternalServerError, "Failed to resolve action", err.Error())
		}
		return
	}
	respondOK(c, http.StatusOK, action)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, handler *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.GET("/config", handler.GetConfig)
		auto.PUT("/config", handler.UpdateConfig)
		auto.POST("/run", handler.TriggerRun)
		auto.GET("/runs", handler.ListRuns)
		auto.GET("/actions", handler.ListActions)
		auto.POST("/actions/:id/approve", handler.ApproveAction)
		auto.POST("/actions/:id/reject", handler.RejectAction)
	}
}
