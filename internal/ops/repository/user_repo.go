package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
)

// UserRepository 用户仓库
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository 创建用户仓库
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID 根据ID查找租户内用户
func (r *UserRepository) FindByID(ctx context.Context, tenantID, id string) (*entity.User, error) {
	var u entity.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ? AND deleted_at IS NULL", id, tenantID).
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

// FindFirstByRole 租户内最早创建的某角色在职用户
func (r *UserRepository) FindFirstByRole(ctx context.Context, tenantID, role string) (*entity.User, error) {
	var u entity.User
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND role = ? AND status = ? AND deleted_at IS NULL", tenantID, role, "active").
		Order("created_at ASC").
		First(&u).Error
	if err != nil {
		return nil, translate(err)
	}
	return &u, nil
}
