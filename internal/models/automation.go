package models

import "time"

// AutomationRun 状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// AutomationAction 状态
const (
	ActionStatusPending  = "pending"
	ActionStatusApproved = "approved"
	ActionStatusRejected = "rejected"
)

// AutomationAction 类型（与检查项一一对应）
const (
	ActionTypeStaleTicket        = "stale_ticket"
	ActionTypePMAlert            = "pm_alert"
	ActionTypeSprintGapWarning   = "sprint_gap_warning"
	ActionTypeAccountabilityFlag = "accountability_flag"
	ActionTypePMSuggestion       = "pm_suggestion"
	ActionTypeAssignTicket       = "assign_ticket"
	ActionTypeSlackInsight       = "slack_insight"
)

// 系统自动批准时写入 resolved_by 的标识
const ResolvedBySystem = "system"

// AutomationConfig 自动化引擎全局配置（单行）
type AutomationConfig struct {
	ID                   uint      `gorm:"primaryKey" json:"id"`
	Enabled              bool      `gorm:"default:true" json:"enabled"`
	CheckIntervalMinutes int       `gorm:"default:30" json:"check_interval_minutes"` // >= 1
	AutoApproveThreshold int       `gorm:"default:80" json:"auto_approve_threshold"` // [0,100]
	NotifyOnNewActions   bool      `gorm:"default:true" json:"notify_on_new_actions"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// AutomationRun 一次完整检查执行的审计记录（只追加）
type AutomationRun struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	ChecksRun           string     `gorm:"type:text" json:"checks_run"` // JSON: 按执行顺序的检查项名称
	ActionsProposed     int        `gorm:"default:0" json:"actions_proposed"`
	ActionsAutoApproved int        `gorm:"default:0" json:"actions_auto_approved"`
	Status              string     `gorm:"index;default:'running'" json:"status"` // running, completed, failed
	Error               string     `gorm:"type:text" json:"error"`
}

// AutomationAction 一条待审批（或已自动批准）的提议动作
type AutomationAction struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	RunID       uint       `gorm:"index" json:"run_id"`
	Type        string     `gorm:"index" json:"type"`
	CheckModule string     `json:"check_module"`
	Title       string     `gorm:"not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Confidence  int        `json:"confidence"`                            // [0,100]
	Status      string     `gorm:"index;default:'pending'" json:"status"` // pending, approved, rejected
	Metadata    string     `gorm:"type:text" json:"metadata"`             // JSON，形状随 Type 而定
	CreatedAt   time.Time  `json:"created_at"`
	ResolvedAt  *time.Time `json:"resolved_at"`
	ResolvedBy  string     `json:"resolved_by"` // "system" 或人工账号，pending 时为空

	Run AutomationRun `gorm:"foreignKey:RunID" json:"run,omitempty"`
}
