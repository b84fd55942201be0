package entity

import (
	"time"

	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"gorm.io/datatypes"
)

// 优先级
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Assignment 委托（一个工作单元）
type Assignment struct {
	ID         string          `json:"id" gorm:"primaryKey;size:36"`
	TenantID   string          `json:"tenant_id" gorm:"size:36;not null;index"`
	Code       string          `json:"code" gorm:"size:32;not null"`
	Title      string          `json:"title" gorm:"size:256;not null"`
	Stage      lifecycle.Stage `json:"stage" gorm:"size:32;not null;index"`
	Status     string          `json:"status" gorm:"size:32;not null"`
	Priority   string          `json:"priority" gorm:"size:16;not null;default:normal"`
	FeeMinor   *int64          `json:"fee_minor"`
	DueDate    *time.Time      `json:"due_date" gorm:"type:date"`
	BankID     *string         `json:"bank_id" gorm:"size:36"`
	BranchID   *string         `json:"branch_id" gorm:"size:36"`
	ClientID   *string         `json:"client_id" gorm:"size:36"`
	PropertyID *string         `json:"property_id" gorm:"size:36"`
	ContactID  *string         `json:"contact_id" gorm:"size:36"`
	ChannelID  *string         `json:"channel_id" gorm:"size:36"`
	CreatedBy  string          `json:"created_by" gorm:"size:36;not null"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	DeletedAt  *time.Time      `json:"deleted_at" gorm:"index"`
}

func (Assignment) TableName() string {
	return "assignments"
}

// Deleted 软删除后不允许任何修改
func (a *Assignment) Deleted() bool {
	return a.DeletedAt != nil
}

// AssignmentAssignee 委托执行人
type AssignmentAssignee struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string    `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string    `json:"assignment_id" gorm:"size:36;not null;uniqueIndex:uq_assignment_assignee"`
	UserID       string    `json:"user_id" gorm:"size:36;not null;uniqueIndex:uq_assignment_assignee"`
	Role         string    `json:"role" gorm:"size:32"`
	AddedBy      string    `json:"added_by" gorm:"size:36"`
	CreatedAt    time.Time `json:"created_at"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (AssignmentAssignee) TableName() string {
	return "assignment_assignees"
}

// 任务状态
const (
	TaskStatusOpen = "open"
	TaskStatusDone = "done"
)

// 任务类型
const (
	TaskKindGeneral  = "general"
	TaskKindQCReview = "qc_review"
)

// QCReviewTaskTitle QC评审任务标题
const QCReviewTaskTitle = "QC review"

// AssignmentTask 委托下的任务。同一委托最多一个未完成的 QC 评审任务（部分唯一索引）
type AssignmentTask struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string     `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string     `json:"assignment_id" gorm:"size:36;not null;index;uniqueIndex:uq_assignment_open_qc_task,where:kind = 'qc_review' AND status = 'open'"`
	Kind         string     `json:"kind" gorm:"size:32;not null;default:general"`
	Title        string     `json:"title" gorm:"size:256;not null"`
	Status       string     `json:"status" gorm:"size:16;not null;default:open"`
	AssigneeID   *string    `json:"assignee_id" gorm:"size:36"`
	DueDate      *time.Time `json:"due_date" gorm:"type:date"`
	CompletedAt  *time.Time `json:"completed_at"`
	CompletedBy  *string    `json:"completed_by" gorm:"size:36"`
	CreatedBy    string     `json:"created_by" gorm:"size:36;not null"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (AssignmentTask) TableName() string {
	return "assignment_tasks"
}

// AssignmentMessage 委托留言
type AssignmentMessage struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string    `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string    `json:"assignment_id" gorm:"size:36;not null;index"`
	AuthorID     string    `json:"author_id" gorm:"size:36;not null"`
	Body         string    `json:"body" gorm:"type:text;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (AssignmentMessage) TableName() string {
	return "assignment_messages"
}

// 操作日志类型
const (
	ActivityCreated             = "created"
	ActivityStatusChanged       = "status_changed"
	ActivityStageTransitioned   = "stage_transitioned"
	ActivityAssigneeAdded       = "assignee_added"
	ActivityTaskDone            = "task_done"
	ActivityMessagePosted       = "message_posted"
	ActivityFieldsUpdated       = "fields_updated"
	ActivityCancelled           = "cancelled"
	ActivityReportQueued        = "report_queued"
	ActivityReportFinalized     = "report_finalized"
	ActivityReservationReleased = "reservation_released"
)

// AssignmentActivity 委托操作日志（只追加）
type AssignmentActivity struct {
	ID           string            `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string            `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string            `json:"assignment_id" gorm:"size:36;not null;index:idx_assignment_activity,priority:1"`
	Type         string            `json:"type" gorm:"size:40;not null"`
	ActorID      string            `json:"actor_id" gorm:"size:36"`
	Payload      datatypes.JSONMap `json:"payload" gorm:"type:jsonb"`
	CreatedAt    time.Time         `json:"created_at" gorm:"index:idx_assignment_activity,priority:2"`
}

func (AssignmentActivity) TableName() string {
	return "assignment_activities"
}

// AssignmentStageTransition 阶段迁移日志（只追加，不更新不删除）
type AssignmentStageTransition struct {
	ID           string          `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string          `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string          `json:"assignment_id" gorm:"size:36;not null;index"`
	FromStage    lifecycle.Stage `json:"from_stage" gorm:"size:32;not null"`
	ToStage      lifecycle.Stage `json:"to_stage" gorm:"size:32;not null"`
	Reason       string          `json:"reason" gorm:"type:text"`
	ActorID      string          `json:"actor_id" gorm:"size:36;not null"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (AssignmentStageTransition) TableName() string {
	return "assignment_stage_transitions"
}

// AssignmentStatusHistory 对外状态历史，保持与旧版API兼容
type AssignmentStatusHistory struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string    `json:"tenant_id" gorm:"size:36;not null"`
	AssignmentID string    `json:"assignment_id" gorm:"size:36;not null;index"`
	FromStatus   string    `json:"from_status" gorm:"size:32;not null"`
	ToStatus     string    `json:"to_status" gorm:"size:32;not null"`
	Reason       string    `json:"reason" gorm:"type:text"`
	ActorID      string    `json:"actor_id" gorm:"size:36;not null"`
	CreatedAt    time.Time `json:"created_at"`
}

func (AssignmentStatusHistory) TableName() string {
	return "assignment_status_histories"
}

// AssignmentSignal 派生信号，由重算 worker 维护
type AssignmentSignal struct {
	AssignmentID string          `json:"assignment_id" gorm:"primaryKey;size:36"`
	TenantID     string          `json:"tenant_id" gorm:"size:36;not null;index"`
	Stage        lifecycle.Stage `json:"stage" gorm:"size:32;not null"`
	Overdue      bool            `json:"overdue" gorm:"not null;default:false"`
	StuckInQC    bool            `json:"stuck_in_qc" gorm:"not null;default:false"`
	DateBucket   string          `json:"date_bucket" gorm:"size:10"`
	ComputedAt   time.Time       `json:"computed_at"`
}

func (AssignmentSignal) TableName() string {
	return "assignment_signals"
}

// AssignmentDetail 委托详情（聚合）
type AssignmentDetail struct {
	Assignment
	Assignees []AssignmentAssignee `json:"assignees"`
	Tasks     []AssignmentTask     `json:"tasks"`
	Messages  []AssignmentMessage  `json:"messages"`
}
