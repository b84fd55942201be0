package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ActivityRepository 委托操作日志仓库
type ActivityRepository struct {
	db *gorm.DB
}

func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create 创建操作日志
func (r *ActivityRepository) Create(ctx context.Context, log *entity.AssignmentActivity) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(log).Error
}

// LogActivity 便捷记录操作日志。与事务同生共死，写失败会让调用方回滚
func (r *ActivityRepository) LogActivity(ctx context.Context, tenantID, assignmentID, activityType, actorID string, payload map[string]interface{}) error {
	return r.Create(ctx, &entity.AssignmentActivity{
		TenantID:     tenantID,
		AssignmentID: assignmentID,
		Type:         activityType,
		ActorID:      actorID,
		Payload:      datatypes.JSONMap(payload),
	})
}

// FindByAssignment 查询委托的操作日志
func (r *ActivityRepository) FindByAssignment(ctx context.Context, assignmentID string, page, pageSize int) ([]entity.AssignmentActivity, int64, error) {
	var items []entity.AssignmentActivity
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.AssignmentActivity{}).
		Where("assignment_id = ?", assignmentID)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// CountByType 统计某类型日志条数
func (r *ActivityRepository) CountByType(ctx context.Context, assignmentID, activityType string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.AssignmentActivity{}).
		Where("assignment_id = ? AND type = ?", assignmentID, activityType).
		Count(&n).Error
	return n, err
}
