package service

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event 待分发的通知事件
type Event struct {
	TenantID       string
	EventType      string
	IdempotencyKey string
	Payload        map[string]interface{}
}

// EventOutbox 通知发件箱。事件与业务写入同事务落库，由外部分发器投递
type EventOutbox struct{}

// NewEventOutbox 创建发件箱
func NewEventOutbox() *EventOutbox {
	return &EventOutbox{}
}

// EnqueueEvent 写入事件，幂等键重复时静默跳过。返回是否新写入
func (o *EventOutbox) EnqueueEvent(ctx context.Context, tx *gorm.DB, ev Event) (bool, error) {
	return repository.NewOutboxRepository(tx).Enqueue(ctx, &entity.NotificationOutbox{
		ID:             newID(),
		TenantID:       ev.TenantID,
		EventType:      ev.EventType,
		IdempotencyKey: ev.IdempotencyKey,
		Payload:        datatypes.JSONMap(ev.Payload),
	})
}
