package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"questboard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var validTicketStatuses = map[string]bool{
	"open": true, "in_progress": true, "blocked": true, "done": true,
}

var validTicketPriorities = map[string]bool{
	"low": true, "normal": true, "high": true, "urgent": true,
}

// TicketService 工单的本地数据面（检查项读取的状态来源）
type TicketService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTicketService(db *gorm.DB, logger *logrus.Logger) *TicketService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TicketService{db: db, logger: logger}
}

// TicketCreateRequest 创建工单请求
type TicketCreateRequest struct {
	Key         string `json:"key" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	AssigneeID  *uint  `json:"assignee_id"`
	SprintID    *uint  `json:"sprint_id"`
	StoryPoints int    `json:"story_points"`
	Source      string `json:"source"`
}

// TicketUpdateRequest 更新工单请求
type TicketUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssigneeID  *uint   `json:"assignee_id"`
	SprintID    *uint   `json:"sprint_id"`
	StoryPoints *int    `json:"story_points"`
}

// TicketListRequest 查询条件
type TicketListRequest struct {
	Page       int    `form:"page,default=1"`
	PageSize   int    `form:"page_size,default=20"`
	Status     string `form:"status"`
	Priority   string `form:"priority"`
	AssigneeID *uint  `form:"assignee_id"`
	SprintID   *uint  `form:"sprint_id"`
}

// CreateTicket 创建工单
func (s *TicketService) CreateTicket(ctx context.Context, req *TicketCreateRequest) (*models.Ticket, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	priority := req.Priority
	if priority == "" {
		priority = "normal"
	}
	if !validTicketPriorities[priority] {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, priority)
	}
	source := req.Source
	if source == "" {
		source = "local"
	}

	ticket := &models.Ticket{
		Key:         req.Key,
		Title:       req.Title,
		Description: req.Description,
		Status:      "open",
		Priority:    priority,
		AssigneeID:  req.AssigneeID,
		SprintID:    req.SprintID,
		StoryPoints: req.StoryPoints,
		Source:      source,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(ticket).Error; err != nil {
		s.logger.Errorf("Failed to create ticket %s: %v", req.Key, err)
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}
	return ticket, nil
}

// GetTicketByID 获取工单详情
func (s *TicketService) GetTicketByID(ctx context.Context, id uint) (*models.Ticket, error) {
	var ticket models.Ticket
	if err := s.db.WithContext(ctx).Preload("Assignee").Preload("Sprint").First(&ticket, id).Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicket 部分更新工单
func (s *TicketService) UpdateTicket(ctx context.Context, id uint, req *TicketUpdateRequest) (*models.Ticket, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	if req.Status != nil && !validTicketStatuses[*req.Status] {
		return nil, fmt.Errorf("%w: invalid status %q", ErrValidation, *req.Status)
	}
	if req.Priority != nil && !validTicketPriorities[*req.Priority] {
		return nil, fmt.Errorf("%w: invalid priority %q", ErrValidation, *req.Priority)
	}

	var ticket models.Ticket
	if err := s.db.WithContext(ctx).First(&ticket, id).Error; err != nil {
		return nil, err
	}

	if req.Title != nil {
		ticket.Title = *req.Title
	}
	if req.Description != nil {
		ticket.Description = *req.Description
	}
	if req.Status != nil {
		ticket.Status = *req.Status
	}
	if req.Priority != nil {
		ticket.Priority = *req.Priority
	}
	if req.AssigneeID != nil {
		ticket.AssigneeID = req.AssigneeID
	}
	if req.SprintID != nil {
		ticket.SprintID = req.SprintID
	}
	if req.StoryPoints != nil {
		ticket.StoryPoints = *req.StoryPoints
	}
	ticket.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&ticket).Error; err != nil {
		return nil, fmt.Errorf("failed to update ticket: %w", err)
	}
	return &ticket, nil
}

// ListTickets 按条件分页查询
func (s *TicketService) ListTickets(ctx context.Context, req *TicketListRequest) ([]models.Ticket, int64, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}

	query := s.db.WithContext(ctx).Model(&models.Ticket{})
	if req.Status != "" {
		query = query.Where("status = ?", req.Status)
	}
	if req.Priority != "" {
		query = query.Where("priority = ?", req.Priority)
	}
	if req.AssigneeID != nil {
		query = query.Where("assignee_id = ?", *req.AssigneeID)
	}
	if req.SprintID != nil {
		query = query.Where("sprint_id = ?", *req.SprintID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tickets: %w", err)
	}

	var tickets []models.Ticket
	offset := (req.Page - 1) * req.PageSize
	if err := query.Order("updated_at DESC").Offset(offset).Limit(req.PageSize).Find(&tickets).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list tickets: %w", err)
	}
	return tickets, total, nil
}

// DeleteTicket 软删除工单
func (s *TicketService) DeleteTicket(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Ticket{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete ticket: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// IsNotFound reports whether err is a missing-record error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
