package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"questboard/internal/config"
	appmetrics "questboard/internal/metrics"
	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config *config.Config
	db     *gorm.DB
	hub    *services.DashboardHub
	logger *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cfg *config.Config, db *gorm.DB, hub *services.DashboardHub) *HealthHandler {
	return &HealthHandler{
		config: cfg,
		db:     db,
		hub:    hub,
		logger: logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
	GoVersion string        `json:"go_version"`
}

var startTime = time.Now()

const appVersion = "1.0.0"

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   appVersion,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime),
			Version:   appVersion,
			GoVersion: runtime.Version(),
		},
	}

	allHealthy := true

	// 检查数据库
	h.checkDatabase(ctx, &response, &allHealthy)

	// WebSocket 推送只报状态，不影响整体健康
	if h.hub != nil {
		response.Services["dashboard_hub"] = ServiceInfo{
			Status: "healthy",
			Details: map[string]interface{}{
				"clients": h.hub.GetClientCount(),
			},
		}
	}

	if !allHealthy {
		response.Status = "unhealthy"
	}

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// Ready 就绪检查端点
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string)

	if err := h.pingDatabase(ctx); err != nil {
		checks["database"] = "not_ready"
		ready = false
	} else {
		checks["database"] = "ready"
	}

	response := map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  checks,
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

// checkDatabase 检查数据库状态
func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse, allHealthy *bool) {
	start := time.Now()

	serviceInfo := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]interface{}{
			"driver": h.config.Database.Driver,
		},
	}

	if err := h.pingDatabase(ctx); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		*allHealthy = false
	} else {
		serviceInfo.Status = "healthy"
		serviceInfo.Latency = time.Since(start).String()
	}

	response.Services["database"] = serviceInfo
}

func (h *HealthHandler) pingDatabase(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// MetricsHandler 以 JSON 形式导出内部计数器
type MetricsHandler struct{}

func NewMetricsHandler() *MetricsHandler {
	return &MetricsHandler{}
}

// Metrics 指标端点
func (h *MetricsHandler) Metrics(c *gin.Context) {
	rlTotal, rlByPrefix := appmetrics.RateLimitSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"timestamp":  time.Now(),
		"automation": appmetrics.AutomationSnapshot(),
		"rate_limit": gin.H{
			"dropped_total":     rlTotal,
			"dropped_by_prefix": rlByPrefix,
		},
	})
}

// WebSocketHandler 仪表盘实时推送入口
type WebSocketHandler struct {
	hub    *services.DashboardHub
	logger *logrus.Logger
}

func NewWebSocketHandler(hub *services.DashboardHub, logger *logrus.Logger) *WebSocketHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &WebSocketHandler{hub: hub, logger: logger}
}

// Connect 升级为 WebSocket 连接并交给 hub 管理
func (h *WebSocketHandler) Connect(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}
