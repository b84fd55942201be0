package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OutboxRepository 通知发件箱仓库
type OutboxRepository struct {
	db *gorm.DB
}

// NewOutboxRepository 创建发件箱仓库
func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue 写入事件，幂等键已存在时不写入并返回 false
func (r *OutboxRepository) Enqueue(ctx context.Context, ev *entity.NotificationOutbox) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true}).
		Create(ev)
	return result.RowsAffected > 0, result.Error
}

// ListPending 未投递的事件
func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]entity.NotificationOutbox, error) {
	var items []entity.NotificationOutbox
	err := r.db.WithContext(ctx).
		Where("dispatched_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

// CountByKeyPrefix 统计幂等键前缀匹配的事件数
func (r *OutboxRepository) CountByKeyPrefix(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.NotificationOutbox{}).
		Where("idempotency_key LIKE ?", prefix+"%").
		Count(&n).Error
	return n, err
}
