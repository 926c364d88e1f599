package models

import (
	"time"

	"gorm.io/gorm"
)

// 团队成员模型（工程师 / PM）
type TeamMember struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Name           string         `gorm:"not null" json:"name"`
	Email          string         `gorm:"unique;not null" json:"email"`
	Role           string         `gorm:"default:'engineer'" json:"role"` // engineer, pm
	SlackHandle    string         `json:"slack_handle"`
	CapacityPoints int            `gorm:"default:8" json:"capacity_points"` // 每个冲刺的容量（故事点）
	XP             int            `gorm:"default:0" json:"xp"`
	Level          int            `gorm:"default:1" json:"level"`
	Active         bool           `gorm:"default:true" json:"active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	Tickets []Ticket `gorm:"foreignKey:AssigneeID" json:"tickets,omitempty"`
}

// 工单模型（从 Jira 同步或本地创建）
type Ticket struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Key         string         `gorm:"unique;not null" json:"key"` // 例如 QB-123
	Title       string         `gorm:"not null" json:"title"`
	Description string         `gorm:"type:text" json:"description"`
	Status      string         `gorm:"default:'open';index" json:"status"`   // open, in_progress, blocked, done
	Priority    string         `gorm:"default:'normal'" json:"priority"`     // low, normal, high, urgent
	AssigneeID  *uint          `gorm:"index" json:"assignee_id"`
	SprintID    *uint          `gorm:"index" json:"sprint_id"`
	StoryPoints int            `gorm:"default:0" json:"story_points"`
	Source      string         `gorm:"default:'local'" json:"source"` // jira, local
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Assignee *TeamMember `gorm:"foreignKey:AssigneeID" json:"assignee,omitempty"`
	Sprint   *Sprint     `gorm:"foreignKey:SprintID" json:"sprint,omitempty"`
}

// 冲刺模型
type Sprint struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Name            string    `gorm:"unique;not null" json:"name"`
	StartDate       time.Time `json:"start_date"`
	EndDate         time.Time `json:"end_date"`
	CommittedPoints int       `gorm:"default:0" json:"committed_points"`
	Active          bool      `gorm:"default:false;index" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Tickets []Ticket `gorm:"foreignKey:SprintID" json:"tickets,omitempty"`
}

// 活动记录（由 Bitbucket/Jira/Slack 同步任务写入）
type ActivityRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MemberID   uint      `gorm:"index" json:"member_id"`
	Kind       string    `gorm:"index" json:"kind"` // commit, pr_opened, pr_merged, review, comment
	Source     string    `json:"source"`            // bitbucket, jira, slack
	Ref        string    `json:"ref"`               // commit hash, PR id, ticket key...
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`

	Member TeamMember `gorm:"foreignKey:MemberID" json:"member,omitempty"`
}

// Slack 消息快照（同步任务落库，供检查项离线分析）
type SlackMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Channel   string    `gorm:"index" json:"channel"`
	Author    string    `json:"author"`
	Text      string    `gorm:"type:text" json:"text"`
	TicketKey string    `gorm:"index" json:"ticket_key"` // 消息中引用的工单 key，可为空
	PostedAt  time.Time `gorm:"index" json:"posted_at"`
	CreatedAt time.Time `json:"created_at"`
}

// 第三方集成连接配置（Jira / Bitbucket / Slack）
type Integration struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Provider     string     `gorm:"unique;not null" json:"provider"` // jira, bitbucket, slack
	Enabled      bool       `gorm:"default:false" json:"enabled"`
	BaseURL      string     `json:"base_url"`
	Workspace    string     `json:"workspace"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastError    string     `gorm:"type:text" json:"last_error"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
