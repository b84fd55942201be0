package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
)

// TaskRepository 委托任务仓库
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建任务仓库
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// FindByID 根据ID查找任务
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*entity.AssignmentTask, error) {
	var task entity.AssignmentTask
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error; err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// FindOpenByKind 查找某类型的未完成任务
func (r *TaskRepository) FindOpenByKind(ctx context.Context, assignmentID, kind string) (*entity.AssignmentTask, error) {
	var task entity.AssignmentTask
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND kind = ? AND status = ?", assignmentID, kind, entity.TaskStatusOpen).
		Order("created_at ASC").
		First(&task).Error
	if err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *entity.AssignmentTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// MarkDone 完成任务，返回是否实际发生了状态变化
func (r *TaskRepository) MarkDone(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.AssignmentTask{}).
		Where("id = ? AND status = ?", id, entity.TaskStatusOpen).
		Updates(map[string]interface{}{
			"status":       entity.TaskStatusDone,
			"completed_at": now,
			"completed_by": userID,
			"updated_at":   now,
		})
	return result.RowsAffected > 0, result.Error
}

// ListByAssignment 委托下的任务
func (r *TaskRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]entity.AssignmentTask, error) {
	var tasks []entity.AssignmentTask
	err := r.db.WithContext(ctx).
		Where("assignment_id = ?", assignmentID).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}
