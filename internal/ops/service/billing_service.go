package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"gorm.io/gorm"
)

// UsageLineInput 定稿计费输入
type UsageLineInput struct {
	TenantID        string
	ReportRequestID string
	AssignmentID    *string
	Now             time.Time
}

// UsageLineResult 定稿计费结果。CreatedInvoiceLine 只在首次写入用量行时为 true
type UsageLineResult struct {
	Invoice            *entity.Invoice
	InvoiceLine        *entity.InvoiceLine
	CreatedInvoiceLine bool
}

// UsageBiller 报告定稿后的计费副作用，与定稿同事务
type UsageBiller interface {
	AddUsageLineForFinalize(ctx context.Context, tx *gorm.DB, in UsageLineInput) (*UsageLineResult, error)
}

// BillingService 默认计费：每个报告申请在当月草稿账单上记一行
type BillingService struct {
	unitPriceMinor int64
	currency       string
}

// NewBillingService 创建计费服务
func NewBillingService(unitPriceMinor int64, currency string) *BillingService {
	return &BillingService{unitPriceMinor: unitPriceMinor, currency: currency}
}

// AddUsageLineForFinalize 写入用量行，重复调用返回已有行且 CreatedInvoiceLine=false
func (s *BillingService) AddUsageLineForFinalize(ctx context.Context, tx *gorm.DB, in UsageLineInput) (*UsageLineResult, error) {
	repo := repository.NewBillingRepository(tx)

	inv, err := repo.EnsureInvoice(ctx, &entity.Invoice{
		ID:       newID(),
		TenantID: in.TenantID,
		Period:   in.Now.UTC().Format("2006-01"),
		Status:   entity.InvoiceStatusDraft,
		Currency: s.currency,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure invoice: %w", err)
	}

	line := &entity.InvoiceLine{
		ID:              newID(),
		TenantID:        in.TenantID,
		InvoiceID:       inv.ID,
		ReportRequestID: in.ReportRequestID,
		AssignmentID:    in.AssignmentID,
		Quantity:        1,
		UnitPriceMinor:  s.unitPriceMinor,
		AmountMinor:     s.unitPriceMinor,
	}
	created, err := repo.CreateLine(ctx, line)
	if err != nil {
		return nil, fmt.Errorf("create invoice line: %w", err)
	}
	if !created {
		existing, err := repo.FindLineByReportRequest(ctx, in.TenantID, in.ReportRequestID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return &UsageLineResult{Invoice: inv, InvoiceLine: existing}, nil
	}

	if err := repo.AddToTotal(ctx, inv.ID, line.AmountMinor); err != nil {
		return nil, fmt.Errorf("update invoice total: %w", err)
	}
	inv.TotalMinor += line.AmountMinor
	return &UsageLineResult{Invoice: inv, InvoiceLine: line, CreatedInvoiceLine: true}, nil
}
