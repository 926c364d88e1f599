package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"questboard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TicketHandler 工单处理器
type TicketHandler struct {
	ticketService *services.TicketService
	logger        *logrus.Logger
}

func NewTicketHandler(ticketService *services.TicketService, logger *logrus.Logger) *TicketHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketHandler{ticketService: ticketService, logger: logger}
}

// CreateTicket 创建工单
func (h *TicketHandler) CreateTicket(c *gin.Context) {
	var req services.TicketCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	ticket, err := h.ticketService.CreateTicket(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			respondError(c, http.StatusBadRequest, "Invalid ticket", err.Error())
			return
		}
		h.logger.Errorf("Failed to create ticket: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to create ticket", err.Error())
		return
	}
	respondOK(c, http.StatusCreated, ticket)
}

// GetTicket 获取工单详情
func (h *TicketHandler) GetTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid ticket ID", "ID must be a valid number")
		return
	}

	ticket, err := h.ticketService.GetTicketByID(c.Request.Context(), uint(id))
	if err != nil {
		if services.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "Ticket not found", "")
			return
		}
		h.logger.Errorf("Failed to get ticket %d: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to get ticket", err.Error())
		return
	}
	respondOK(c, http.StatusOK, ticket)
}

// UpdateTicket 更新工单
func (h *TicketHandler) UpdateTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid ticket ID", "ID must be a valid number")
		return
	}

	var req services.TicketUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	ticket, err := h.ticketService.UpdateTicket(c.Request.Context(), uint(id), &req)
	if err != nil {
		switch {
		case services.IsNotFound(err):
			respondError(c, http.StatusNotFound, "Ticket not found", "")
		case errors.Is(err, services.ErrValidation):
			respondError(c, http.StatusBadRequest, "Invalid ticket", err.Error())
		default:
			h.logger.Errorf("Failed to update ticket %d: %v", id, err)
			respondError(c, http.StatusInternalServerError, "Failed to update ticket", err.Error())
		}
		return
	}
	respondOK(c, http.StatusOK, ticket)
}

// ListTickets 工单列表
func (h *TicketHandler) ListTickets(c *gin.Context) {
	var req services.TicketListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid query", err.Error())
		return
	}

	tickets, total, err := h.ticketService.ListTickets(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list tickets: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list tickets", err.Error())
		return
	}
	respondOK(c, http.StatusOK, PaginatedResponse{
		Items:    tickets,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
}

// DeleteTicket 删除工单
func (h *TicketHandler) DeleteTicket(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid ticket ID", "ID must be a valid number")
		return
	}

	if err := h.ticketService.DeleteTicket(c.Request.Context(), uint(id)); err != nil {
		if services.IsNotFound(err) {
			respondError(c, http.StatusNotFound, "Ticket not found", "")
			return
		}
		h.logger.Errorf("Failed to delete ticket %d: %v", id, err)
		respondError(c, http.StatusInternalServerError, "Failed to delete ticket", err.Error())
		return
	}
	respondOK(c, http.StatusOK, gin.H{"deleted": true})
}

// RegisterTicketRoutes 注册路由
func RegisterTicketRoutes(r *gin.RouterGroup, handler *TicketHandler) {
	tickets := r.Group("/tickets")
	{
		tickets.POST("", handler.CreateTicket)
		tickets.GET("", handler.ListTickets)
		tickets.GET(":id", handler.GetTicket)
		tickets.PUT(":id", handler.UpdateTicket)
		tickets.DELETE(":id", handler.DeleteTicket)
	}
}
