package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 释放预留的原因
const (
	ReleaseReasonCancelled = "cancelled"
	ReleaseReasonRejected  = "rejected"
)

// ReportService 报告排队/定稿编排
type ReportService struct {
	db      *gorm.DB
	ledger  *LedgerService
	biller  UsageBiller
	outbox  *EventOutbox
	effects *sideEffects
	logger  *zap.Logger
}

// NewReportService 创建报告服务
func NewReportService(db *gorm.DB, ledger *LedgerService, biller UsageBiller, outbox *EventOutbox, effects *sideEffects, logger *zap.Logger) *ReportService {
	return &ReportService{
		db:      db,
		ledger:  ledger,
		biller:  biller,
		outbox:  outbox,
		effects: effects,
		logger:  logger,
	}
}

// CreateReportRequestInput 创建报告申请
type CreateReportRequestInput struct {
	AssignmentID string `json:"assignment_id"`
}

// QueueResult 排队结果。AlreadyQueued 表示预留与任务在本次调用前均已存在
type QueueResult struct {
	ReportRequestID string `json:"report_request_id"`
	ReportJobID     string `json:"report_job_id"`
	TenantID        string `json:"tenant_id"`
	AlreadyQueued   bool   `json:"already_queued"`
}

// FinalizeResult 定稿结果
type FinalizeResult struct {
	ReportRequest      *entity.ReportRequest     `json:"report_request"`
	LedgerEntry        *entity.CreditLedgerEntry `json:"ledger_entry"`
	CreatedInvoiceLine bool                      `json:"created_invoice_line"`
}

// CreateRequest 创建报告申请，来自合作方的申请标记为 partner
func (s *ReportService) CreateRequest(ctx context.Context, claims *capability.Claims, input CreateReportRequestInput) (*entity.ReportRequest, error) {
	tenantID, err := capability.Require(claims, capability.ReportRequest)
	if err != nil {
		return nil, err
	}

	rr := &entity.ReportRequest{
		ID:          newID(),
		TenantID:    tenantID,
		Source:      entity.ReportSourceInternal,
		Status:      entity.ReportRequestStatusRequested,
		RequestedBy: claims.UserID,
	}
	if claims.Audience == capability.AudiencePartner {
		rr.Source = entity.ReportSourcePartner
	}

	err = withTx(ctx, s.db, func(tx *gorm.DB, _ *afterCommit) error {
		repos := repository.NewRepositories(tx)
		if input.AssignmentID != "" {
			a, err := loadLiveAssignment(ctx, repos, tenantID, input.AssignmentID, false)
			if err != nil {
				return err
			}
			rr.AssignmentID = &a.ID
		}
		return repos.Report.CreateRequest(ctx, rr)
	})
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// QueueDraft 报告申请排队：预留额度并创建报告任务，可安全重复调用
func (s *ReportService) QueueDraft(ctx context.Context, claims *capability.Claims, reportRequestID string) (*QueueResult, error) {
	tenantID, err := capability.Require(claims, capability.ReportQueue)
	if err != nil {
		return nil, err
	}

	var result *QueueResult
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		var qerr error
		result, qerr = s.QueueDraftTx(ctx, tx, tenantID, claims.UserID, reportRequestID)
		if qerr != nil {
			return qerr
		}
		after.add(func() {
			s.effects.reportUpdate(result.TenantID, result.ReportRequestID, entity.ReportRequestStatusQueued)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// QueueDraftTx 在调用方事务内排队
func (s *ReportService) QueueDraftTx(ctx context.Context, tx *gorm.DB, tenantID, actorID, reportRequestID string) (*QueueResult, error) {
	repos := repository.NewRepositories(tx)

	rr, err := s.loadLiveRequest(ctx, repos, tenantID, reportRequestID)
	if err != nil {
		return nil, err
	}
	switch rr.Status {
	case entity.ReportRequestStatusFinalized, entity.ReportRequestStatusRejected:
		return nil, apperr.Conflict("report request %s is %s", rr.ID, rr.Status)
	}
	// 锁住所属委托，与取消互斥
	parent, err := s.parentAssignment(ctx, repos, rr, true)
	if err != nil {
		return nil, err
	}
	if parent != nil && parent.Deleted() {
		return nil, apperr.Conflict("assignment %s of report request %s is cancelled", parent.ID, rr.ID)
	}

	reservation, err := repos.Ledger.FindLatestByStatus(ctx, rr.ID, entity.LedgerStatusReserved)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	job, err := repos.Report.FindCurrentJob(ctx, rr.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	alreadyQueued := reservation != nil && job != nil

	if reservation == nil {
		reservation, _, err = s.ledger.Reserve(ctx, tx, rr.TenantID, rr.ID, actorID)
		if err != nil {
			return nil, err
		}
	}

	at := now()
	if job == nil && reservation.ReportJobID != nil {
		linked, err := repos.Report.FindJob(ctx, *reservation.ReportJobID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if linked != nil && linked.DeletedAt == nil {
			job = linked
		}
	}
	if job == nil {
		job = &entity.ReportJob{
			ID:              newID(),
			TenantID:        rr.TenantID,
			ReportRequestID: rr.ID,
			Status:          entity.ReportJobStatusPending,
			QueuedAt:        at,
		}
		if err := repos.Report.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create report job: %w", err)
		}
	}

	if reservation.ReportJobID == nil {
		if err := repos.Ledger.LinkJob(ctx, reservation.ID, job.ID, at); err != nil {
			return nil, err
		}
		reservation.ReportJobID = &job.ID
	}

	if err := repos.Report.UpdateRequestStatus(ctx, rr.ID, entity.ReportRequestStatusQueued, at); err != nil {
		return nil, err
	}

	if parent != nil {
		if err := repos.Activity.LogActivity(ctx, rr.TenantID, parent.ID, entity.ActivityReportQueued, actorID, map[string]interface{}{
			"report_request_id": rr.ID,
			"report_job_id":     job.ID,
			"already_queued":    alreadyQueued,
		}); err != nil {
			return nil, err
		}
	}

	if _, err := s.outbox.EnqueueEvent(ctx, tx, Event{
		TenantID:       rr.TenantID,
		EventType:      entity.EventReportQueued,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", entity.EventReportQueued, rr.ID, job.ID),
		Payload: map[string]interface{}{
			"report_request_id": rr.ID,
			"report_job_id":     job.ID,
		},
	}); err != nil {
		return nil, err
	}

	return &QueueResult{
		ReportRequestID: rr.ID,
		ReportJobID:     job.ID,
		TenantID:        rr.TenantID,
		AlreadyQueued:   alreadyQueued,
	}, nil
}

// Finalize 报告定稿：消耗额度并计费，重复调用不重复计费
func (s *ReportService) Finalize(ctx context.Context, claims *capability.Claims, reportRequestID string) (*FinalizeResult, error) {
	tenantID, err := capability.Require(claims, capability.ReportFinalize)
	if err != nil {
		return nil, err
	}

	var result *FinalizeResult
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		var ferr error
		result, ferr = s.FinalizeTx(ctx, tx, tenantID, claims.UserID, reportRequestID)
		if ferr != nil {
			return ferr
		}
		rr := result.ReportRequest
		after.add(func() {
			s.effects.reportUpdate(rr.TenantID, rr.ID, entity.ReportRequestStatusFinalized)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FinalizeTx 在调用方事务内定稿
func (s *ReportService) FinalizeTx(ctx context.Context, tx *gorm.DB, tenantID, actorID, reportRequestID string) (*FinalizeResult, error) {
	repos := repository.NewRepositories(tx)

	rr, err := s.loadLiveRequest(ctx, repos, tenantID, reportRequestID)
	if err != nil {
		return nil, err
	}
	if rr.Status == entity.ReportRequestStatusRejected {
		return nil, apperr.Conflict("report request %s is rejected", rr.ID)
	}

	at := now()
	entry, changed, err := s.ledger.Consume(ctx, tx, rr.TenantID, rr.ID, actorID, at)
	if err != nil {
		return nil, err
	}

	if err := repos.Report.UpdateRequestStatus(ctx, rr.ID, entity.ReportRequestStatusFinalized, at); err != nil {
		return nil, err
	}

	usage, err := s.biller.AddUsageLineForFinalize(ctx, tx, UsageLineInput{
		TenantID:        rr.TenantID,
		ReportRequestID: rr.ID,
		AssignmentID:    rr.AssignmentID,
		Now:             at,
	})
	if err != nil {
		return nil, err
	}

	if usage.CreatedInvoiceLine {
		parent, err := s.parentAssignment(ctx, repos, rr, false)
		if err != nil {
			return nil, err
		}
		// 已取消的委托不再追加日志
		if parent != nil && !parent.Deleted() {
			if err := repos.Activity.LogActivity(ctx, rr.TenantID, parent.ID, entity.ActivityReportFinalized, actorID, map[string]interface{}{
				"report_request_id": rr.ID,
				"ledger_entry_id":   entry.ID,
				"invoice_id":        usage.Invoice.ID,
				"amount_minor":      usage.InvoiceLine.AmountMinor,
			}); err != nil {
				return nil, err
			}
		}
		if _, err := s.outbox.EnqueueEvent(ctx, tx, Event{
			TenantID:       rr.TenantID,
			EventType:      entity.EventReportFinalized,
			IdempotencyKey: entity.EventReportFinalized + ":" + rr.ID,
			Payload: map[string]interface{}{
				"report_request_id": rr.ID,
				"invoice_id":        usage.Invoice.ID,
			},
		}); err != nil {
			return nil, err
		}
	}

	s.logger.Info("Report request finalized",
		zap.String("report_request_id", rr.ID),
		zap.Bool("ledger_changed", changed),
		zap.Bool("created_invoice_line", usage.CreatedInvoiceLine),
	)

	rr.Status = entity.ReportRequestStatusFinalized
	if rr.FinalizedAt == nil {
		rr.FinalizedAt = &at
	}
	rr.UpdatedAt = at
	return &FinalizeResult{
		ReportRequest:      rr,
		LedgerEntry:        entry,
		CreatedInvoiceLine: usage.CreatedInvoiceLine,
	}, nil
}

// ReleaseReservation 释放报告申请的预留额度，没有预留时返回 nil
func (s *ReportService) ReleaseReservation(ctx context.Context, tx *gorm.DB, reportRequestID, reason, actorID string) (*entity.CreditLedgerEntry, error) {
	repos := repository.NewRepositories(tx)

	entry, err := s.ledger.Release(ctx, tx, reportRequestID, reason, now())
	if err != nil || entry == nil {
		return entry, err
	}

	rr, err := repos.Report.FindRequest(ctx, reportRequestID)
	if err != nil {
		return nil, err
	}
	if rr.AssignmentID != nil {
		if err := repos.Activity.LogActivity(ctx, rr.TenantID, *rr.AssignmentID, entity.ActivityReservationReleased, actorID, map[string]interface{}{
			"report_request_id": rr.ID,
			"ledger_entry_id":   entry.ID,
			"reason":            reason,
		}); err != nil {
			return nil, err
		}
	}
	return entry, nil
}

// RejectPartnerRequest 拒绝合作方报告申请并释放预留
func (s *ReportService) RejectPartnerRequest(ctx context.Context, claims *capability.Claims, reportRequestID, note string) (*entity.ReportRequest, error) {
	tenantID, err := capability.Require(claims, capability.ReportReject)
	if err != nil {
		return nil, err
	}

	var rr *entity.ReportRequest
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		var lerr error
		rr, lerr = s.loadLiveRequest(ctx, repos, tenantID, reportRequestID)
		if lerr != nil {
			return lerr
		}
		if rr.Source != entity.ReportSourcePartner {
			return apperr.BadInput("report request %s did not come from a partner channel", rr.ID)
		}
		switch rr.Status {
		case entity.ReportRequestStatusRejected:
			return nil
		case entity.ReportRequestStatusFinalized:
			return apperr.Conflict("report request %s is already finalized", rr.ID)
		}

		if _, err := s.ReleaseReservation(ctx, tx, rr.ID, ReleaseReasonRejected, claims.UserID); err != nil {
			return err
		}
		at := now()
		if err := repos.Report.UpdateRequestStatus(ctx, rr.ID, entity.ReportRequestStatusRejected, at); err != nil {
			return err
		}
		if _, err := s.outbox.EnqueueEvent(ctx, tx, Event{
			TenantID:       rr.TenantID,
			EventType:      entity.EventReportRejected,
			IdempotencyKey: entity.EventReportRejected + ":" + rr.ID,
			Payload: map[string]interface{}{
				"report_request_id": rr.ID,
				"note":              note,
			},
		}); err != nil {
			return err
		}
		rr.Status = entity.ReportRequestStatusRejected
		rr.UpdatedAt = at
		after.add(func() {
			s.effects.reportUpdate(rr.TenantID, rr.ID, entity.ReportRequestStatusRejected)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rr, nil
}

// ListLedger 报告申请的额度流水
func (s *ReportService) ListLedger(ctx context.Context, claims *capability.Claims, reportRequestID string) ([]entity.CreditLedgerEntry, error) {
	tenantID, err := capability.Require(claims, capability.LedgerRead)
	if err != nil {
		return nil, err
	}
	repos := repository.NewRepositories(s.db)
	rr, err := repos.Report.FindRequest(ctx, reportRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("report request", reportRequestID)
	}
	if err != nil {
		return nil, err
	}
	if err := capability.SameTenant(tenantID, rr.TenantID); err != nil {
		return nil, err
	}
	return repos.Ledger.ListByReportRequest(ctx, rr.ID)
}

var ledgerExportHeaders = []string{"流水ID", "报告申请", "报告任务", "额度", "状态", "幂等键", "原因", "创建时间", "更新时间"}

// ExportLedger 导出租户某区间的额度流水
func (s *ReportService) ExportLedger(ctx context.Context, claims *capability.Claims, from, to time.Time) (*excelize.File, string, error) {
	tenantID, err := capability.Require(claims, capability.LedgerRead)
	if err != nil {
		return nil, "", err
	}
	if !to.After(from) {
		return nil, "", apperr.BadInput("export range is empty")
	}

	items, err := repository.NewLedgerRepository(s.db).ListByTenant(ctx, tenantID, from, to)
	if err != nil {
		return nil, "", fmt.Errorf("list ledger: %w", err)
	}

	f := excelize.NewFile()
	sheet := "Ledger"
	f.SetSheetName("Sheet1", sheet)

	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	for i, h := range ledgerExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	var consumed int
	for idx, e := range items {
		row := idx + 2
		jobID := ""
		if e.ReportJobID != nil {
			jobID = *e.ReportJobID
		}
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.ID)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.ReportRequestID)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), jobID)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), e.Delta)
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), e.Status)
		f.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.IdempotencyKey)
		f.SetCellValue(sheet, fmt.Sprintf("G%d", row), e.Reason)
		f.SetCellValue(sheet, fmt.Sprintf("H%d", row), e.CreatedAt.UTC().Format(time.RFC3339))
		f.SetCellValue(sheet, fmt.Sprintf("I%d", row), e.UpdatedAt.UTC().Format(time.RFC3339))
		if e.Status == entity.LedgerStatusConsumed {
			consumed++
		}
	}

	summaryRow := len(items) + 2
	summaryStyle, _ := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	f.SetCellValue(sheet, fmt.Sprintf("A%d", summaryRow), "汇总")
	f.SetCellValue(sheet, fmt.Sprintf("E%d", summaryRow), fmt.Sprintf("已消耗: %d", consumed))
	f.SetCellStyle(sheet, fmt.Sprintf("A%d", summaryRow), fmt.Sprintf("I%d", summaryRow), summaryStyle)

	colWidths := []float64{38, 38, 38, 6, 10, 48, 12, 22, 22}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("ledger_%s_%s.xlsx", from.UTC().Format("20060102"), to.UTC().Format("20060102"))
	return f, filename, nil
}

// parentAssignment 报告申请所属委托（含已软删除），未关联时返回 nil
func (s *ReportService) parentAssignment(ctx context.Context, repos *repository.Repositories, rr *entity.ReportRequest, lock bool) (*entity.Assignment, error) {
	if rr.AssignmentID == nil {
		return nil, nil
	}
	var a *entity.Assignment
	var err error
	if lock {
		a, err = repos.Assignment.FindByIDForUpdate(ctx, *rr.AssignmentID)
	} else {
		a, err = repos.Assignment.FindByID(ctx, *rr.AssignmentID)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// loadLiveRequest 加锁读取未删除且属于调用方租户的报告申请
func (s *ReportService) loadLiveRequest(ctx context.Context, repos *repository.Repositories, tenantID, id string) (*entity.ReportRequest, error) {
	rr, err := repos.Report.FindRequestForUpdate(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("report request", id)
	}
	if err != nil {
		return nil, err
	}
	if err := capability.SameTenant(tenantID, rr.TenantID); err != nil {
		return nil, err
	}
	if rr.DeletedAt != nil {
		return nil, apperr.NotFound("report request", id)
	}
	return rr, nil
}
