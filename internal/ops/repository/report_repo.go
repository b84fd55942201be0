package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"gorm.io/gorm"
)

// ReportRepository 报告申请与报告任务仓库
type ReportRepository struct {
	db *gorm.DB
}

// NewReportRepository 创建报告仓库
func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// FindRequest 根据ID查找报告申请
func (r *ReportRepository) FindRequest(ctx context.Context, id string) (*entity.ReportRequest, error) {
	var req entity.ReportRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// FindRequestForUpdate 加锁读取报告申请，同一申请上的排队/定稿在此串行
func (r *ReportRepository) FindRequestForUpdate(ctx context.Context, id string) (*entity.ReportRequest, error) {
	var req entity.ReportRequest
	if err := r.db.WithContext(ctx).Clauses(forUpdate).Where("id = ?", id).First(&req).Error; err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// CreateRequest 创建报告申请
func (r *ReportRepository) CreateRequest(ctx context.Context, req *entity.ReportRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

// UpdateRequestStatus 更新报告申请状态（幂等）
func (r *ReportRepository) UpdateRequestStatus(ctx context.Context, id, status string, now time.Time) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": now,
	}
	if status == entity.ReportRequestStatusFinalized {
		updates["finalized_at"] = gorm.Expr("COALESCE(finalized_at, ?)", now)
	}
	return r.db.WithContext(ctx).Model(&entity.ReportRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ListActiveByAssignment 委托下未删除的报告申请
func (r *ReportRepository) ListActiveByAssignment(ctx context.Context, assignmentID string) ([]entity.ReportRequest, error) {
	var items []entity.ReportRequest
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND deleted_at IS NULL", assignmentID).
		Order("created_at ASC").
		Find(&items).Error
	return items, err
}

// FindCurrentJob 当前报告任务：最新创建的未删除任务
func (r *ReportRepository) FindCurrentJob(ctx context.Context, reportRequestID string) (*entity.ReportJob, error) {
	var job entity.ReportJob
	err := r.db.WithContext(ctx).
		Where("report_request_id = ? AND deleted_at IS NULL", reportRequestID).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// FindJob 根据ID查找报告任务
func (r *ReportRepository) FindJob(ctx context.Context, id string) (*entity.ReportJob, error) {
	var job entity.ReportJob
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		return nil, translate(err)
	}
	return &job, nil
}

// CreateJob 创建报告任务
func (r *ReportRepository) CreateJob(ctx context.Context, job *entity.ReportJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// CountJobs 报告申请下未删除的任务数
func (r *ReportRepository) CountJobs(ctx context.Context, reportRequestID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entity.ReportJob{}).
		Where("report_request_id = ? AND deleted_at IS NULL", reportRequestID).
		Count(&n).Error
	return n, err
}
