package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"questboard/internal/metrics"
	"questboard/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

var (
	// ErrRunInProgress is returned when a run is triggered while another
	// run is still executing. Runs are serialized so the same condition
	// cannot be double-counted by overlapping runs.
	ErrRunInProgress = errors.New("automation run already in progress")

	// ErrActionNotPending is returned when approving or rejecting an
	// action that has already been resolved.
	ErrActionNotPending = errors.New("action is not pending")

	// ErrValidation wraps rejected config values.
	ErrValidation = errors.New("validation failed")
)

// ActionNotifier receives newly proposed actions for dashboard push.
type ActionNotifier interface {
	NotifyNewAction(action *models.AutomationAction)
}

// AutomationService persists runs/actions, applies the auto-approval
// policy and exposes the human approve/reject operations.
type AutomationService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	tracer   trace.Tracer
	registry *CheckRegistry
	notifier ActionNotifier
	timeout  time.Duration
	running  atomic.Bool
}

func NewAutomationService(db *gorm.DB, logger *logrus.Logger) *AutomationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationService{
		db:       db,
		logger:   logger,
		tracer:   otel.Tracer("questboard.automation"),
		registry: DefaultCheckRegistry(),
	}
}

// SetRegistry 替换检查项集合（测试或定制部署用）
func (s *AutomationService) SetRegistry(r *CheckRegistry) {
	if r != nil {
		s.registry = r
	}
}

// SetNotifier 注入仪表盘推送（可选）
func (s *AutomationService) SetNotifier(n ActionNotifier) {
	s.notifier = n
}

// SetRunTimeout 限制单次运行的整体时长，0 表示不限制
func (s *AutomationService) SetRunTimeout(d time.Duration) {
	s.timeout = d
}

// AutomationConfigUpdateRequest 部分更新全局自动化配置
type AutomationConfigUpdateRequest struct {
	Enabled              *bool `json:"enabled"`
	CheckIntervalMinutes *int  `json:"check_interval_minutes"`
	AutoApproveThreshold *int  `json:"auto_approve_threshold"`
	NotifyOnNewActions   *bool `json:"notify_on_new_actions"`
}

// GetConfig returns the singleton automation config, creating the default
// row on first use.
func (s *AutomationService) GetConfig(ctx context.Context) (*models.AutomationConfig, error) {
	var cfg models.AutomationConfig
	err := s.db.WithContext(ctx).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.AutomationConfig{
			Enabled:              true,
			CheckIntervalMinutes: 30,
			AutoApproveThreshold: 80,
			NotifyOnNewActions:   true,
			UpdatedAt:            time.Now(),
		}
		if err := s.db.WithContext(ctx).Create(&cfg).Error; err != nil {
			return nil, fmt.Errorf("failed to create automation config: %w", err)
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load automation config: %w", err)
	}
	return &cfg, nil
}

// UpdateConfig merges the provided fields into the singleton config.
// Out-of-range values are rejected before anything is persisted.
func (s *AutomationService) UpdateConfig(ctx context.Context, req *AutomationConfigUpdateRequest) (*models.AutomationConfig, error) {
	ctx, span := s.tracer.Start(ctx, "automation.update_config")
	defer span.End()

	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrValidation)
	}
	if req.AutoApproveThreshold != nil && (*req.AutoApproveThreshold < 0 || *req.AutoApproveThreshold > 100) {
		return nil, fmt.Errorf("%w: auto_approve_threshold must be within [0,100], got %d", ErrValidation, *req.AutoApproveThreshold)
	}
	if req.CheckIntervalMinutes != nil && *req.CheckIntervalMinutes < 1 {
		return nil, fmt.Errorf("%w: check_interval_minutes must be >= 1, got %d", ErrValidation, *req.CheckIntervalMinutes)
	}

	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	if req.Enabled != nil {
		cfg.Enabled = *req.Enabled
	}
	if req.CheckIntervalMinutes != nil {
		cfg.CheckIntervalMinutes = *req.CheckIntervalMinutes
	}
	if req.AutoApproveThreshold != nil {
		cfg.AutoApproveThreshold = *req.AutoApproveThreshold
	}
	if req.NotifyOnNewActions != nil {
		cfg.NotifyOnNewActions = *req.NotifyOnNewActions
	}
	cfg.UpdatedAt = time.Now()

	if err := s.db.WithContext(ctx).Save(cfg).Error; err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to update automation config: %w", err)
	}

	s.logger.Infof("Automation config updated: enabled=%v interval=%dm threshold=%d notify=%v",
		cfg.Enabled, cfg.CheckIntervalMinutes, cfg.AutoApproveThreshold, cfg.NotifyOnNewActions)
	return cfg, nil
}

// StartRun creates a run record with status "running" and returns it
// immediately so callers can reference it while checks execute.
func (s *AutomationService) StartRun(ctx context.Context) (*models.AutomationRun, error) {
	run := &models.AutomationRun{
		StartedAt: time.Now(),
		ChecksRun: "[]",
		Status:    models.RunStatusRunning,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("failed to create automation run: %w", err)
	}
	return run, nil
}

// RecordProposedAction persists one proposed action for the run and applies
// the auto-approval policy in the same creation write: if confidence meets
// the threshold the action is born approved with resolved_by="system", so
// it is never visible as pending.
func (s *AutomationService) RecordProposedAction(ctx context.Context, run *models.AutomationRun, cfg *models.AutomationConfig, checkModule string, pa ProposedAction) (*models.AutomationAction, error) {
	conf := pa.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 100 {
		conf = 100
	}

	metaJSON := "{}"
	if pa.Metadata != nil {
		b, err := json.Marshal(pa.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode action metadata: %w", err)
		}
		metaJSON = string(b)
	}

	now := time.Now()
	action := &models.AutomationAction{
		RunID:       run.ID,
		Type:        pa.Type,
		CheckModule: checkModule,
		Title:       pa.Title,
		Description: pa.Description,
		Confidence:  conf,
		Status:      models.ActionStatusPending,
		Metadata:    metaJSON,
		CreatedAt:   now,
	}
	autoApproved := conf >= cfg.AutoApproveThreshold
	if autoApproved {
		action.Status = models.ActionStatusApproved
		action.ResolvedAt = &now
		action.ResolvedBy = models.ResolvedBySystem
	}

	if err := s.db.WithContext(ctx).Create(action).Error; err != nil {
		return nil, fmt.Errorf("failed to create automation action: %w", err)
	}

	run.ActionsProposed++
	if autoApproved {
		run.ActionsAutoApproved++
	}
	metrics.IncActionProposed(autoApproved)

	if cfg.NotifyOnNewActions && s.notifier != nil {
		s.notifier.NotifyNewAction(action)
	}
	return action, nil
}

// CompleteRun seals the run: final status, counts and completion time.
// Runs are never reopened afterwards.
func (s *AutomationService) CompleteRun(ctx context.Context, run *models.AutomationRun, checksRun []string, runErr error) error {
	names, err := json.Marshal(checksRun)
	if err != nil {
		return fmt.Errorf("failed to encode checks_run: %w", err)
	}

	now := time.Now()
	run.CompletedAt = &now
	run.ChecksRun = string(names)
	run.Status = models.RunStatusCompleted
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
	}

	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to complete automation run: %w", err)
	}
	metrics.IncRunCompleted(runErr != nil)
	return nil
}

// TriggerRun executes the full check registry once: start a run, execute
// checks in registration order, persist every proposed action through the
// threshold policy, and seal the run. Checks are fail-fast: the first
// check error aborts the remaining checks, but actions recorded by earlier
// checks stay persisted. A failed check yields a "failed" run, not an
// error; only storage failures return an error.
func (s *AutomationService) TriggerRun(ctx context.Context) (*models.AutomationRun, error) {
	ctx, span := s.tracer.Start(ctx, "automation.trigger_run")
	defer span.End()

	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer s.running.Store(false)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return nil, err
	}

	run, err := s.StartRun(ctx)
	if err != nil {
		return nil, err
	}
	metrics.IncRunTriggered()
	span.SetAttributes(attribute.Int64("automation.run.id", int64(run.ID)))

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		span.RecordError(err)
		if cerr := s.CompleteRun(ctx, run, nil, err); cerr != nil {
			return nil, cerr
		}
		return run, nil
	}

	var (
		executed []string
		checkErr error
	)
	for _, check := range s.registry.Checks() {
		executed = append(executed, check.Name)
		actions, err := check.Run(ctx, snap)
		if err != nil {
			checkErr = fmt.Errorf("check %s: %w", check.Name, err)
			s.logger.Warnf("Automation check %s failed, aborting run %d: %v", check.Name, run.ID, err)
			break
		}
		for _, pa := range actions {
			if _, err := s.RecordProposedAction(ctx, run, cfg, check.Name, pa); err != nil {
				span.RecordError(err)
				_ = s.CompleteRun(ctx, run, executed, err)
				return nil, err
			}
		}
	}

	if err := s.CompleteRun(ctx, run, executed, checkErr); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.Infof("Automation run %d %s: checks=%d proposed=%d auto_approved=%d",
		run.ID, run.Status, len(executed), run.ActionsProposed, run.ActionsAutoApproved)
	span.SetAttributes(
		attribute.Int("automation.run.actions_proposed", run.ActionsProposed),
		attribute.Int("automation.run.actions_auto_approved", run.ActionsAutoApproved),
		attribute.String("automation.run.status", run.Status),
	)
	return run, nil
}

// ApproveAction resolves a pending action as approved on behalf of a human.
func (s *AutomationService) ApproveAction(ctx context.Context, id uint, resolvedBy string) (*models.AutomationAction, error) {
	return s.resolveAction(ctx, id, models.ActionStatusApproved, resolvedBy)
}

// RejectAction resolves a pending action as rejected on behalf of a human.
func (s *AutomationService) RejectAction(ctx context.Context, id uint, resolvedBy string) (*models.AutomationAction, error) {
	return s.resolveAction(ctx, id, models.ActionStatusRejected, resolvedBy)
}

func (s *AutomationService) resolveAction(ctx context.Context, id uint, status, resolvedBy string) (*models.AutomationAction, error) {
	ctx, span := s.tracer.Start(ctx, "automation.resolve_action")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("automation.action.id", int64(id)),
		attribute.String("automation.action.target_status", status),
	)

	var action models.AutomationAction
	if err := s.db.WithContext(ctx).First(&action, id).Error; err != nil {
		return nil, err
	}
	if action.Status != models.ActionStatusPending {
		return nil, fmt.Errorf("%w: action %d is %s", ErrActionNotPending, id, action.Status)
	}

	if resolvedBy == "" {
		resolvedBy = "dashboard"
	}
	now := time.Now()

	// Guard on status so a racing second resolution loses cleanly.
	result := s.db.WithContext(ctx).Model(&models.AutomationAction{}).
		Where("id = ? AND status = ?", id, models.ActionStatusPending).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_at": now,
			"resolved_by": resolvedBy,
		})
	if result.Error != nil {
		span.RecordError(result.Error)
		return nil, fmt.Errorf("failed to resolve action: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: action %d was resolved concurrently", ErrActionNotPending, id)
	}

	action.Status = status
	action.ResolvedAt = &now
	action.ResolvedBy = resolvedBy
	metrics.IncActionResolved()

	s.logger.Infof("Automation action %d %s by %s", id, status, resolvedBy)
	return &action, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *AutomationService) ListRuns(ctx context.Context, limit int) ([]models.AutomationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	var runs []models.AutomationRun
	if err := s.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list automation runs: %w", err)
	}
	return runs, nil
}

// ListActions returns actions, optionally filtered by status and type,
// newest first.
func (s *AutomationService) ListActions(ctx context.Context, status, actionType string) ([]models.AutomationAction, error) {
	query := s.db.WithContext(ctx).Model(&models.AutomationAction{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if actionType != "" {
		query = query.Where("type = ?", actionType)
	}
	var actions []models.AutomationAction
	if err := query.Order("id DESC").Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("failed to list automation actions: %w", err)
	}
	return actions, nil
}

// RecoverOrphanedRuns marks runs still "running" after the staleness
// window as failed. A crash between StartRun and CompleteRun otherwise
// leaves the run open forever. Called once at startup.
func (s *AutomationService) RecoverOrphanedRuns(ctx context.Context, staleness time.Duration) (int64, error) {
	cutoff := time.Now().Add(-staleness)
	result := s.db.WithContext(ctx).Model(&models.AutomationRun{}).
		Where("status = ? AND started_at < ?", models.RunStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":       models.RunStatusFailed,
			"error":        "run interrupted: process restarted before completion",
			"completed_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to recover orphaned runs: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		s.logger.Warnf("Recovered %d orphaned automation runs", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// StartScheduler runs the background trigger loop until ctx is cancelled.
// Each tick it reloads the config and triggers a run when automation is
// enabled and the configured interval has elapsed since the last run.
func (s *AutomationService) StartScheduler(ctx context.Context, tick time.Duration) {
	if tick <= 0 {
		tick = time.Minute
	}
	s.logger.Info("Starting automation scheduler")

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Automation scheduler stopped")
			return
		case <-ticker.C:
			if err := s.tickScheduler(ctx); err != nil {
				s.logger.Errorf("Automation scheduler error: %v", err)
			}
		}
	}
}

func (s *AutomationService) tickScheduler(ctx context.Context) error {
	cfg, err := s.GetConfig(ctx)
	if err != nil {
		return err
	}
	if !cfg.Enabled {
		return nil
	}

	var lastRun models.AutomationRun
	err = s.db.WithContext(ctx).Order("started_at DESC").First(&lastRun).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	if err == nil {
		due := lastRun.StartedAt.Add(time.Duration(cfg.CheckIntervalMinutes) * time.Minute)
		if time.Now().Before(due) {
			return nil
		}
	}

	_, err = s.TriggerRun(ctx)
	if errors.Is(err, ErrRunInProgress) {
		return nil
	}
	return err
}

func (s *AutomationService) loadSnapshot(ctx context.Context) (*CheckSnapshot, error) {
	snap := &CheckSnapshot{Now: time.Now()}
	if err := s.db.WithContext(ctx).Find(&snap.Tickets).Error; err != nil {
		return nil, fmt.Errorf("failed to load tickets: %w", err)
	}
	if err := s.db.WithContext(ctx).Find(&snap.Members).Error; err != nil {
		return nil, fmt.Errorf("failed to load team members: %w", err)
	}
	if err := s.db.WithContext(ctx).Find(&snap.Sprints).Error; err != nil {
		return nil, fmt.Errorf("failed to load sprints: %w", err)
	}
	if err := s.db.WithContext(ctx).Find(&snap.Activity).Error; err != nil {
		return nil, fmt.Errorf("failed to load activity records: %w", err)
	}
	if err := s.db.WithContext(ctx).Find(&snap.SlackMessages).Error; err != nil {
		return nil, fmt.Errorf("failed to load slack messages: %w", err)
	}
	return snap, nil
}
