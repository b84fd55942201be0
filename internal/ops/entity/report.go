package entity

import "time"

// 报告申请状态
const (
	ReportRequestStatusRequested = "requested"
	ReportRequestStatusQueued    = "queued"
	ReportRequestStatusFinalized = "finalized"
	ReportRequestStatusRejected  = "rejected"
)

// 报告申请来源
const (
	ReportSourceInternal = "internal"
	ReportSourcePartner  = "partner"
)

// ReportRequest 报告申请
type ReportRequest struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID     string     `json:"tenant_id" gorm:"size:36;not null;index"`
	AssignmentID *string    `json:"assignment_id" gorm:"size:36;index"`
	Source       string     `json:"source" gorm:"size:16;not null;default:internal"`
	Status       string     `json:"status" gorm:"size:16;not null;default:requested"`
	RequestedBy  string     `json:"requested_by" gorm:"size:36;not null"`
	FinalizedAt  *time.Time `json:"finalized_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"deleted_at" gorm:"index"`
}

func (ReportRequest) TableName() string {
	return "report_requests"
}

// 报告任务状态
const (
	ReportJobStatusPending = "pending"
)

// ReportJob 报告生成任务。按创建时间取最新一条未删除的作为当前任务
type ReportJob struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID        string     `json:"tenant_id" gorm:"size:36;not null"`
	ReportRequestID string     `json:"report_request_id" gorm:"size:36;not null;index"`
	Status          string     `json:"status" gorm:"size:16;not null;default:pending"`
	QueuedAt        time.Time  `json:"queued_at"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at" gorm:"index"`
}

func (ReportJob) TableName() string {
	return "report_jobs"
}

// 额度流水状态，只能前进：reserved → consumed 或 reserved → released
const (
	LedgerStatusReserved = "reserved"
	LedgerStatusConsumed = "consumed"
	LedgerStatusReleased = "released"
)

// CreditLedgerEntry 计费额度流水。idempotency_key 唯一；同一报告申请同时最多一条 reserved
type CreditLedgerEntry struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID        string    `json:"tenant_id" gorm:"size:36;not null;index"`
	ReportRequestID string    `json:"report_request_id" gorm:"size:36;not null;index;uniqueIndex:uq_credit_ledger_one_reserved,where:status = 'reserved'"`
	Delta           int       `json:"delta" gorm:"not null"`
	Status          string    `json:"status" gorm:"size:16;not null"`
	IdempotencyKey  string    `json:"idempotency_key" gorm:"size:200;not null;uniqueIndex"`
	ReportJobID     *string   `json:"report_job_id" gorm:"size:36"`
	Reason          string    `json:"reason" gorm:"size:64"`
	CreatedBy       string    `json:"created_by" gorm:"size:36"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (CreditLedgerEntry) TableName() string {
	return "credit_ledger_entries"
}
