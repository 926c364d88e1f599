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

var validProviders = map[string]bool{"jira": true, "bitbucket": true, "slack": true}

// IntegrationService 管理第三方集成连接（Jira / Bitbucket / Slack）。
// 真正的同步任务在进程外运行，通过 MarkSynced / MarkSyncFailed 回写状态。
type IntegrationService struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewIntegrationService(db *gorm.DB, logger *logrus.Logger) *IntegrationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &IntegrationService{db: db, logger: logger}
}

// IntegrationUpsertRequest 创建/更新集成连接
type IntegrationUpsertRequest struct {
	Provider  string `json:"provider" binding:"required"`
	Enabled   *bool  `json:"enabled"`
	BaseURL   string `json:"base_url"`
	Workspace string `json:"workspace"`
}

// Upsert 按 provider 创建或更新连接配置
func (s *IntegrationService) Upsert(ctx context.Context, req *IntegrationUpsertRequest) (*models.Integration, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	if !validProviders[req.Provider] {
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrValidation, req.Provider)
	}

	var integ models.Integration
	err := s.db.WithContext(ctx).Where("provider = ?", req.Provider).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		integ = models.Integration{Provider: req.Provider, CreatedAt: time.Now()}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load integration: %w", err)
	}

	if req.Enabled != nil {
		integ.Enabled = *req.Enabled
	}
	if req.BaseURL != "" {
		integ.BaseURL = req.BaseURL
	}
	if req.Workspace != "" {
		integ.Workspace = req.Workspace
	}
	integ.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(&integ).Error; err != nil {
		return nil, fmt.Errorf("failed to save integration: %w", err)
	}
	s.logger.Infof("Integration %s saved (enabled=%v)", integ.Provider, integ.Enabled)
	return &integ, nil
}

// List 返回全部集成连接
func (s *IntegrationService) List(ctx context.Context) ([]models.Integration, error) {
	var list []models.Integration
	if err := s.db.WithContext(ctx).Order("provider ASC").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	return list, nil
}

// MarkSynced 同步任务成功后回写时间戳
func (s *IntegrationService) MarkSynced(ctx context.Context, provider string) error {
	result := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("provider = ?", provider).
		Updates(map[string]interface{}{
			"last_synced_at": time.Now(),
			"last_error":     "",
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark synced: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkSyncFailed 同步任务失败后记录错误文本
func (s *IntegrationService) MarkSyncFailed(ctx context.Context, provider, errMsg string) error {
	result := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("provider = ?", provider).
		Updates(map[string]interface{}{
			"last_error": errMsg,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark sync failed: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
