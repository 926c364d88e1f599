package services

import (
	"context"
	"fmt"
	"time"

	"questboard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TeamService 团队成员与活动记录
type TeamService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTeamService(db *gorm.DB, logger *logrus.Logger) *TeamService {
	if logger == nil {
		logger = logrus.New()
	}
	return &TeamService{db: db, logger: logger}
}

// MemberCreateRequest 创建成员请求
type MemberCreateRequest struct {
	Name           string `json:"name" binding:"required"`
	Email          string `json:"email" binding:"required,email"`
	Role           string `json:"role"`
	SlackHandle    string `json:"slack_handle"`
	CapacityPoints int    `json:"capacity_points"`
}

// MemberUpdateRequest 更新成员请求
type MemberUpdateRequest struct {
	Name           *string `json:"name"`
	Role           *string `json:"role"`
	SlackHandle    *string `json:"slack_handle"`
	CapacityPoints *int    `json:"capacity_points"`
	Active         *bool   `json:"active"`
}

// CreateMember 创建团队成员
func (s *TeamService) CreateMember(ctx context.Context, req *MemberCreateRequest) (*models.TeamMember, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	role := req.Role
	if role == "" {
		role = "engineer"
	}
	if role != "engineer" && role != "pm" {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, role)
	}
	capacity := req.CapacityPoints
	if capacity <= 0 {
		capacity = 8
	}

	member := &models.TeamMember{
		Name:           req.Name,
		Email:          req.Email,
		Role:           role,
		SlackHandle:    req.SlackHandle,
		CapacityPoints: capacity,
		Level:          1,
		Active:         true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(member).Error; err != nil {
		return nil, fmt.Errorf("failed to create team member: %w", err)
	}
	return member, nil
}

// GetMember 获取成员详情
func (s *TeamService) GetMember(ctx context.Context, id uint) (*models.TeamMember, error) {
	var member models.TeamMember
	if err := s.db.WithContext(ctx).First(&member, id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// ListMembers 返回成员列表
func (s *TeamService) ListMembers(ctx context.Context, activeOnly bool) ([]models.TeamMember, error) {
	query := s.db.WithContext(ctx).Model(&models.TeamMember{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var members []models.TeamMember
	if err := query.Order("id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list team members: %w", err)
	}
	return members, nil
}

// UpdateMember 部分更新成员
func (s *TeamService) UpdateMember(ctx context.Context, id uint, req *MemberUpdateRequest) (*models.TeamMember, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	if req.Role != nil && *req.Role != "engineer" && *req.Role != "pm" {
		return nil, fmt.Errorf("%w: invalid role %q", ErrValidation, *req.Role)
	}

	var member models.TeamMember
	if err := s.db.WithContext(ctx).First(&member, id).Error; err != nil {
		return nil, err
	}

	if req.Name != nil {
		member.Name = *req.Name
	}
	if req.Role != nil {
		member.Role = *req.Role
	}
	if req.SlackHandle != nil {
		member.SlackHandle = *req.SlackHandle
	}
	if req.CapacityPoints != nil && *req.CapacityPoints > 0 {
		member.CapacityPoints = *req.CapacityPoints
	}
	if req.Active != nil {
		member.Active = *req.Active
	}
	member.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&member).Error; err != nil {
		return nil, fmt.Errorf("failed to update team member: %w", err)
	}
	return &member, nil
}

// RecordActivity 写入一条活动记录（同步任务使用）
func (s *TeamService) RecordActivity(ctx context.Context, memberID uint, kind, source, ref string, occurredAt time.Time) (*models.ActivityRecord, error) {
	if memberID == 0 || kind == "" {
		return nil, fmt.Errorf("%w: member_id and kind required", ErrValidation)
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	record := &models.ActivityRecord{
		MemberID:   memberID,
		Kind:       kind,
		Source:     source,
		Ref:        ref,
		OccurredAt: occurredAt,
		CreatedAt:  time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}
	return record, nil
}

// ListActivity 返回某成员最近的活动记录
func (s *TeamService) ListActivity(ctx context.Context, memberID uint, limit int) ([]models.ActivityRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var records []models.ActivityRecord
	if err := s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Order("occurred_at DESC").Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	return records, nil
}

// AwardXP 给成员增加经验值并按阈值升级（仪表盘游戏化元素）
func (s *TeamService) AwardXP(ctx context.Context, memberID uint, amount int) (*models.TeamMember, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	var member models.TeamMember
	if err := s.db.WithContext(ctx).First(&member, memberID).Error; err != nil {
		return nil, err
	}
	member.XP += amount
	// 每 100 XP 升一级
	for member.XP >= member.Level*100 {
		member.XP -= member.Level * 100
		member.Level++
	}
	member.UpdatedAt = time.Now()
	if err := s.db.WithContext(ctx).Save(&member).Error; err != nil {
		return nil, fmt.Errorf("failed to award xp: %w", err)
	}
	s.logger.Infof("Awarded %d XP to member %d (level %d)", amount, memberID, member.Level)
	return &member, nil
}
