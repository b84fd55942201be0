package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
)

// LedgerRepository 额度流水仓库
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建额度流水仓库
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// FindLatestByStatus 报告申请下最近一条指定状态的流水
func (r *LedgerRepository) FindLatestByStatus(ctx context.Context, reportRequestID, status string) (*entity.CreditLedgerEntry, error) {
	var e entity.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("report_request_id = ? AND status = ?", reportRequestID, status).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// FindReservedForUpdate 加锁读取 reserved 流水，并发 finalize 在此串行
func (r *LedgerRepository) FindReservedForUpdate(ctx context.Context, reportRequestID string) (*entity.CreditLedgerEntry, error) {
	var e entity.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Clauses(forUpdate).
		Where("report_request_id = ? AND status = ?", reportRequestID, entity.LedgerStatusReserved).
		Order("created_at DESC").
		First(&e).Error
	if err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// FindByIdempotencyKey 根据幂等键查找
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, key string) (*entity.CreditLedgerEntry, error) {
	var e entity.CreditLedgerEntry
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// FindByID 根据ID查找
func (r *LedgerRepository) FindByID(ctx context.Context, id string) (*entity.CreditLedgerEntry, error) {
	var e entity.CreditLedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&e).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

// Create 插入流水。幂等键冲突时返回数据库错误，由调用方用 IsUniqueViolation 判断
func (r *LedgerRepository) Create(ctx context.Context, e *entity.CreditLedgerEntry) error {
	return r.db.WithContext(ctx).Create(e).Error
}

// Advance 把流水从 from 状态推进到 to 状态并改写幂等键。
// 条件更新：返回 false 表示该行已不处于 from 状态（被并发调用推进过）
func (r *LedgerRepository) Advance(ctx context.Context, id, from, to, idempotencyKey, reason string, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":          to,
		"idempotency_key": idempotencyKey,
		"updated_at":      now,
	}
	if reason != "" {
		updates["reason"] = reason
	}
	result := r.db.WithContext(ctx).Model(&entity.CreditLedgerEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// LinkJob 关联报告任务（仅在尚未关联时）
func (r *LedgerRepository) LinkJob(ctx context.Context, id, jobID string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.CreditLedgerEntry{}).
		Where("id = ? AND report_job_id IS NULL", id).
		Updates(map[string]interface{}{
			"report_job_id": jobID,
			"updated_at":    now,
		}).Error
}

// ListByReportRequest 报告申请的全部流水
func (r *LedgerRepository) ListByReportRequest(ctx context.Context, reportRequestID string) ([]entity.CreditLedgerEntry, error) {
	var items []entity.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("report_request_id = ?", reportRequestID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// ListByTenant 租户流水（导出用）
func (r *LedgerRepository) ListByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]entity.CreditLedgerEntry, error) {
	var items []entity.CreditLedgerEntry
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND created_at >= ? AND created_at < ?", tenantID, from, to).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// CountByStatus 统计报告申请下某状态的流水条数
func (r *LedgerRepository) CountByStatus(ctx context.Context, reportRequestID, status string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.CreditLedgerEntry{}).
		Where("report_request_id = ? AND status = ?", reportRequestID, status).
		Count(&n).Error
	return n, err
}
