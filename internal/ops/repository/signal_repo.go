package repository

import (
	"context"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SignalRepository 派生信号仓库
type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// Upsert 写入或覆盖委托的派生信号
func (r *SignalRepository) Upsert(ctx context.Context, s *entity.AssignmentSignal) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "assignment_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stage", "overdue", "stuck_in_qc", "date_bucket", "computed_at"}),
		}).
		Create(s).Error
}

// Find 查询委托的派生信号
func (r *SignalRepository) Find(ctx context.Context, assignmentID string) (*entity.AssignmentSignal, error) {
	var s entity.AssignmentSignal
	if err := r.db.WithContext(ctx).Where("assignment_id = ?", assignmentID).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// LastStageEntry 委托最近一次进入某阶段的时间（无记录返回 ErrNotFound）
func (r *SignalRepository) LastStageEntry(ctx context.Context, assignmentID, stage string) (*entity.AssignmentStageTransition, error) {
	var t entity.AssignmentStageTransition
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND to_stage = ?", assignmentID, stage).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}
