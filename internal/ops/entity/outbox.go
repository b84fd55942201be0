package entity

import (
	"time"

	"gorm.io/datatypes"
)

// 通知事件类型
const (
	EventAssignmentTransitioned = "assignment.stage_transitioned"
	EventAssignmentCancelled    = "assignment.cancelled"
	EventReportQueued           = "report.queued"
	EventReportFinalized        = "report.finalized"
	EventReportRejected         = "report.rejected"
)

// NotificationOutbox 通知发件箱，idempotency_key 唯一，由外部分发器投递
type NotificationOutbox struct {
	ID             string            `json:"id" gorm:"primaryKey;size:36"`
	TenantID       string            `json:"tenant_id" gorm:"size:36;not null;index"`
	EventType      string            `json:"event_type" gorm:"size:64;not null"`
	IdempotencyKey string            `json:"idempotency_key" gorm:"size:200;not null;uniqueIndex"`
	Payload        datatypes.JSONMap `json:"payload" gorm:"type:jsonb"`
	DispatchedAt   *time.Time        `json:"dispatched_at"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (NotificationOutbox) TableName() string {
	return "notification_outbox"
}
