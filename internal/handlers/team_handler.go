package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TeamHandler 团队成员与活动记录接口
type TeamHandler struct {
	teamService *services.TeamService
	logger      *logrus.Logger
}

func NewTeamHandler(teamService *services.TeamService, logger *logrus.Logger) *TeamHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TeamHandler{teamService: teamService, logger: logger}
}

// CreateMember 创建成员
func (h *TeamHandler) CreateMember(c *gin.Context) {
	var req services.MemberCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	member, err := h.teamService.CreateMember(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			respondError(c, http.StatusBadRequest, "Invalid member", err.Error())
			return
		}
		h.logger.Errorf("Failed to create team member: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to create member", err.Error())
		return
	}
	respondOK(c, http.StatusCreated, member)
}

// ListMembers 成员列表
func (h *TeamHandler) ListMembers(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	members, err := h.teamService.ListMembers(c.Request.Context(), activeOnly)
	if err != nil {
		h.logger.Errorf("Failed to list team members: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list members", err.Error())
		return
	}
	respondOK(c, http.StatusOK, members)
}

// UpdateMember 更新成员
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid member ID", "ID must be a valid number")
		return
	}

	var req services.MemberUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	member, err := h.teamService.UpdateMember(c.Request.Context(), uint(id), &req)
	if err != nil {
		switch {
		case services.IsNotFound(err):
			respondError(c, http.StatusNotFound, "Member not found", "")
		case errors.Is(err, services.ErrValidation):
			respondError(c, http.StatusBadRequest, "Invalid member", err.Error())
		default:
			h.logger.Errorf("Failed to update member %d: %v", id, err)
			respondError(c, http.StatusInternalServerError, "Failed to update member", err.Error())
		}
		return
	}
	respondOK(c, http.StatusOK, member)
}

// activityCreateRequest 活动写入请求（同步任务调用）
type activityCreateRequest struct {
	Kind       string    `json:"kind" binding:"required"`
	Source     string    `json:"source"`
	Ref        string    `json:"ref"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RecordActivity 写入活动记录
func (h *TeamHandler) RecordActivity(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid member ID", "ID must be a valid number")
		return
	}

	var req activityCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	record, err := h.teamService.RecordActivity(c.Request.Context(), uint(id), req.Kind, req.Source, req.Ref, req.OccurredAt)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			respondError(c, http.StatusBadRequest, "Invalid activity", err.Error())
			return
		}
		h.logger.Errorf("Failed to record activity for member %d: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to record activity", err.Error())
		return
	}
	respondOK(c, http.StatusCreated, record)
}

// ListActivity 成员活动记录
func (h *TeamHandler) ListActivity(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid member ID", "ID must be a valid number")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	records, err := h.teamService.ListActivity(c.Request.Context(), uint(id), limit)
	if err != nil {
		h.logger.Errorf("Failed to list activity for member %d: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to list activity", err.Error())
		return
	}
	respondOK(c, http.StatusOK, records)
}

// RegisterTeamRoutes 注册路由
func RegisterTeamRoutes(r *gin.RouterGroup, handler *TeamHandler) {
	team := r.Group("/team")
	{
		team.POST("/members", handler.CreateMember)
		team.GET("/members", handler.ListMembers)
		team.PUT("/members/:id", handler.UpdateMember)
		team.POST("/members/:id/activity", handler.RecordActivity)
		team.GET("/members/:id/activity", handler.ListActivity)
	}
}
