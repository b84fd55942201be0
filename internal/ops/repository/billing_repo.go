package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingRepository 账单仓库
type BillingRepository struct {
	db *gorm.DB
}

// NewBillingRepository 创建账单仓库
func NewBillingRepository(db *gorm.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

// EnsureInvoice 取租户某账期的草稿账单，不存在则创建（并发安全：ON CONFLICT DO NOTHING 后重读）
func (r *BillingRepository) EnsureInvoice(ctx context.Context, inv *entity.Invoice) (*entity.Invoice, error) {
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(inv).Error; err != nil {
		return nil, err
	}
	var out entity.Invoice
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND period = ?", inv.TenantID, inv.Period).
		First(&out).Error; err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// CreateLine 插入用量行，报告申请已有用量行时返回 false
func (r *BillingRepository) CreateLine(ctx context.Context, line *entity.InvoiceLine) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(line)
	return result.RowsAffected > 0, result.Error
}

// FindLineByReportRequest 查找报告申请的用量行
func (r *BillingRepository) FindLineByReportRequest(ctx context.Context, tenantID, reportRequestID string) (*entity.InvoiceLine, error) {
	var line entity.InvoiceLine
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND report_request_id = ?", tenantID, reportRequestID).
		First(&line).Error
	if err != nil {
		return nil, translate(err)
	}
	return &line, nil
}

// AddToTotal 累加账单金额
func (r *BillingRepository) AddToTotal(ctx context.Context, invoiceID string, amountMinor int64) error {
	return r.db.WithContext(ctx).Model(&entity.Invoice{}).
		Where("id = ?", invoiceID).
		Update("total_minor", gorm.Expr("total_minor + ?", amountMinor)).Error
}

// FindInvoice 根据ID查找账单
func (r *BillingRepository) FindInvoice(ctx context.Context, id string) (*entity.Invoice, error) {
	var inv entity.Invoice
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&inv).Error; err != nil {
		return nil, translate(err)
	}
	return &inv, nil
}
