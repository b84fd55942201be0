package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"gorm.io/gorm"
)

// AssignmentRepository 委托仓库
type AssignmentRepository struct {
	db *gorm.DB
}

// NewAssignmentRepository 创建委托仓库
func NewAssignmentRepository(db *gorm.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// FindByID 根据ID查找委托（包含已软删除的，由调用方判断）
func (r *AssignmentRepository) FindByID(ctx context.Context, id string) (*entity.Assignment, error) {
	var a entity.Assignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// FindByIDForUpdate 加行锁读取，串行化同一委托上的并发写
func (r *AssignmentRepository) FindByIDForUpdate(ctx context.Context, id string) (*entity.Assignment, error) {
	var a entity.Assignment
	if err := r.db.WithContext(ctx).Clauses(forUpdate).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// Create 创建委托
func (r *AssignmentRepository) Create(ctx context.Context, a *entity.Assignment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// UpdateStage 更新阶段及对外状态
func (r *AssignmentRepository) UpdateStage(ctx context.Context, id string, stage lifecycle.Stage, now time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.Assignment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"stage":      stage,
			"status":     string(stage.Status()),
			"updated_at": now,
		}).Error
}

// UpdateFields 更新普通字段
func (r *AssignmentRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).Model(&entity.Assignment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(fields).Error
}

// SoftDelete 软删除
func (r *AssignmentRepository) SoftDelete(ctx context.Context, id string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&entity.Assignment{}).
		Where("id = ? AND deleted_at IS NULL", id).
		Updates(map[string]interface{}{
			"deleted_at": now,
			"updated_at": now,
		}).Error
}

// FindSignalCandidates 分批遍历需要定期重算信号的未删除委托：
// 处于 qc_pending，或设置了截止日期且尚未开票
func (r *AssignmentRepository) FindSignalCandidates(ctx context.Context, batchSize int, fn func([]entity.Assignment) error) error {
	var batch []entity.Assignment
	return r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Where("stage = ? OR (due_date IS NOT NULL AND stage NOT IN ?)",
			string(lifecycle.StageQCPending),
			[]string{string(lifecycle.StageBilled), string(lifecycle.StagePaid), string(lifecycle.StageClosed)},
		).
		FindInBatches(&batch, batchSize, func(_ *gorm.DB, _ int) error {
			return fn(batch)
		}).Error
}

// ListByTenant 租户下的委托列表
func (r *AssignmentRepository) ListByTenant(ctx context.Context, tenantID string, filters map[string]interface{}, page, pageSize int) ([]entity.Assignment, int64, error) {
	var items []entity.Assignment
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Assignment{}).
		Where("tenant_id = ? AND deleted_at IS NULL", tenantID)

	if stage, ok := filters["stage"].(string); ok && stage != "" {
		query = query.Where("stage = ?", stage)
	}
	if status, ok := filters["status"].(string); ok && status != "" {
		query = query.Where("status = ?", status)
	}
	if priority, ok := filters["priority"].(string); ok && priority != "" {
		query = query.Where("priority = ?", priority)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&items).Error
	return items, total, err
}

// LoadDetail 加载委托聚合的子记录
func (r *AssignmentRepository) LoadDetail(ctx context.Context, a *entity.Assignment) (*entity.AssignmentDetail, error) {
	detail := &entity.AssignmentDetail{Assignment: *a}

	if err := r.db.WithContext(ctx).
		Preload("User").
		Where("assignment_id = ?", a.ID).
		Order("created_at ASC").
		Find(&detail.Assignees).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", a.ID).
		Order("created_at ASC").
		Find(&detail.Tasks).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ?", a.ID).
		Order("created_at ASC").
		Find(&detail.Messages).Error; err != nil {
		return nil, err
	}
	return detail, nil
}

// CreateStageTransition 追加阶段迁移日志
func (r *AssignmentRepository) CreateStageTransition(ctx context.Context, t *entity.AssignmentStageTransition) error {
	return r.db.WithContext(ctx).Create(t).Error
}

// CreateStatusHistory 追加状态历史
func (r *AssignmentRepository) CreateStatusHistory(ctx context.Context, h *entity.AssignmentStatusHistory) error {
	return r.db.WithContext(ctx).Create(h).Error
}

// ListStageTransitions 阶段迁移日志
func (r *AssignmentRepository) ListStageTransitions(ctx context.Context, assignmentID string) ([]entity.AssignmentStageTransition, error) {
	var items []entity.AssignmentStageTransition
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// ListStatusHistory 状态历史
func (r *AssignmentRepository) ListStatusHistory(ctx context.Context, assignmentID string) ([]entity.AssignmentStatusHistory, error) {
	var items []entity.AssignmentStatusHistory
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// FindAssignee 查找执行人
func (r *AssignmentRepository) FindAssignee(ctx context.Context, assignmentID, userID string) (*entity.AssignmentAssignee, error) {
	var a entity.AssignmentAssignee
	if err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND user_id = ?", assignmentID, userID).
		First(&a).Error; err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// AddAssignee 添加执行人
func (r *AssignmentRepository) AddAssignee(ctx context.Context, a *entity.AssignmentAssignee) error {
	return r.db.WithContext(ctx).Create(a).Error
}

// CreateMessage 添加留言
func (r *AssignmentRepository) CreateMessage(ctx context.Context, m *entity.AssignmentMessage) error {
	return r.db.WithContext(ctx).Create(m).Error
}
