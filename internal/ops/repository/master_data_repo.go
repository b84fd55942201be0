package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
)

// MasterDataRepository 主数据仓库，所有查询都限定租户且排除软删除
type MasterDataRepository struct {
	db *gorm.DB
}

// NewMasterDataRepository 创建主数据仓库
func NewMasterDataRepository(db *gorm.DB) *MasterDataRepository {
	return &MasterDataRepository{db: db}
}

func (r *MasterDataRepository) find(ctx context.Context, out interface{}, tenantID, id string) error {
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tenantID).
		First(out).Error
	return translate(err)
}

// FindBank 查找银行
func (r *MasterDataRepository) FindBank(ctx context.Context, tenantID, id string) (*entity.Bank, error) {
	var v entity.Bank
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindBranch 查找网点
func (r *MasterDataRepository) FindBranch(ctx context.Context, tenantID, id string) (*entity.Branch, error) {
	var v entity.Branch
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindClient 查找客户
func (r *MasterDataRepository) FindClient(ctx context.Context, tenantID, id string) (*entity.Client, error) {
	var v entity.Client
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindProperty 查找物业
func (r *MasterDataRepository) FindProperty(ctx context.Context, tenantID, id string) (*entity.Property, error) {
	var v entity.Property
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindContact 查找联系人
func (r *MasterDataRepository) FindContact(ctx context.Context, tenantID, id string) (*entity.Contact, error) {
	var v entity.Contact
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindChannel 查找渠道
func (r *MasterDataRepository) FindChannel(ctx context.Context, tenantID, id string) (*entity.Channel, error) {
	var v entity.Channel
	if err := r.find(ctx, &v, tenantID, id); err != nil {
		return nil, err
	}
	return &v, nil
}
