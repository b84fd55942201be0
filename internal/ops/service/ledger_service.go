package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"gorm.io/gorm"
)

// ReserveKey 预留幂等键
func ReserveKey(reportRequestID string) string {
	return "reserve:" + reportRequestID
}

// ConsumeKey 消耗幂等键
func ConsumeKey(reportRequestID string) string {
	return "consume:" + reportRequestID
}

// ReleaseKey 释放幂等键
func ReleaseKey(reportRequestID, reason string) string {
	return fmt.Sprintf("release:%s:%s", reportRequestID, reason)
}

// LedgerService 额度流水原语。全部在调用方传入的事务上执行；
// 幂等键冲突在 SAVEPOINT 内吸收，随后重读胜出方的行
type LedgerService struct{}

// NewLedgerService 创建额度流水服务
func NewLedgerService() *LedgerService {
	return &LedgerService{}
}

// Reserve 为报告申请预留一个额度，已有预留时直接返回。created 表示本次新建
func (l *LedgerService) Reserve(ctx context.Context, tx *gorm.DB, tenantID, reportRequestID, actorID string) (entry *entity.CreditLedgerEntry, created bool, err error) {
	repo := repository.NewLedgerRepository(tx)

	existing, err := repo.FindLatestByStatus(ctx, reportRequestID, entity.LedgerStatusReserved)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	entry = &entity.CreditLedgerEntry{
		ID:              newID(),
		TenantID:        tenantID,
		ReportRequestID: reportRequestID,
		Delta:           -1,
		Status:          entity.LedgerStatusReserved,
		IdempotencyKey:  ReserveKey(reportRequestID),
		CreatedBy:       actorID,
	}
	err = tx.Transaction(func(sp *gorm.DB) error {
		return repository.NewLedgerRepository(sp).Create(ctx, entry)
	})
	if err == nil {
		return entry, true, nil
	}
	if !repository.IsUniqueViolation(err) {
		return nil, false, fmt.Errorf("create reservation: %w", err)
	}

	winner, err := repo.FindLatestByStatus(ctx, reportRequestID, entity.LedgerStatusReserved)
	if err != nil {
		return nil, false, fmt.Errorf("reload reservation: %w", err)
	}
	return winner, false, nil
}

// Consume 把额度记为已消耗。已消耗时不写流水；有预留则推进预留；
// 从未预留时直接写一条 consumed 流水。changed 表示本次写了流水
func (l *LedgerService) Consume(ctx context.Context, tx *gorm.DB, tenantID, reportRequestID, actorID string, at time.Time) (entry *entity.CreditLedgerEntry, changed bool, err error) {
	repo := repository.NewLedgerRepository(tx)
	key := ConsumeKey(reportRequestID)

	consumed, err := repo.FindLatestByStatus(ctx, reportRequestID, entity.LedgerStatusConsumed)
	if err == nil {
		return consumed, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	reserved, err := repo.FindReservedForUpdate(ctx, reportRequestID)
	switch {
	case err == nil:
		var advanced bool
		err = tx.Transaction(func(sp *gorm.DB) error {
			var aerr error
			advanced, aerr = repository.NewLedgerRepository(sp).
				Advance(ctx, reserved.ID, entity.LedgerStatusReserved, entity.LedgerStatusConsumed, key, "", at)
			return aerr
		})
		if err != nil && !repository.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("consume reservation: %w", err)
		}
		if err == nil && advanced {
			reserved.Status = entity.LedgerStatusConsumed
			reserved.IdempotencyKey = key
			reserved.UpdatedAt = at
			return reserved, true, nil
		}
	case errors.Is(err, repository.ErrNotFound):
		entry = &entity.CreditLedgerEntry{
			ID:              newID(),
			TenantID:        tenantID,
			ReportRequestID: reportRequestID,
			Delta:           -1,
			Status:          entity.LedgerStatusConsumed,
			IdempotencyKey:  key,
			CreatedBy:       actorID,
		}
		err = tx.Transaction(func(sp *gorm.DB) error {
			return repository.NewLedgerRepository(sp).Create(ctx, entry)
		})
		if err == nil {
			return entry, true, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, false, fmt.Errorf("create consumed entry: %w", err)
		}
	default:
		return nil, false, err
	}

	// 并发调用已先完成消耗
	winner, err := repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("reload consumed entry: %w", err)
	}
	return winner, false, nil
}

// Release 释放最近一条预留。没有预留时返回 nil, nil
func (l *LedgerService) Release(ctx context.Context, tx *gorm.DB, reportRequestID, reason string, at time.Time) (*entity.CreditLedgerEntry, error) {
	repo := repository.NewLedgerRepository(tx)

	reserved, err := repo.FindReservedForUpdate(ctx, reportRequestID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	key := ReleaseKey(reportRequestID, reason)
	var advanced bool
	err = tx.Transaction(func(sp *gorm.DB) error {
		var aerr error
		advanced, aerr = repository.NewLedgerRepository(sp).
			Advance(ctx, reserved.ID, entity.LedgerStatusReserved, entity.LedgerStatusReleased, key, reason, at)
		return aerr
	})
	if err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("release reservation: %w", err)
		}
		// 同一原因已释放过另一条预留
		current, rerr := repo.FindByID(ctx, reserved.ID)
		if rerr != nil {
			return nil, rerr
		}
		if current.Status != entity.LedgerStatusReserved {
			return current, nil
		}
		return nil, apperr.Conflict("reservation for %s already released with reason %q", reportRequestID, reason)
	}
	if !advanced {
		return repo.FindByID(ctx, reserved.ID)
	}

	reserved.Status = entity.LedgerStatusReleased
	reserved.IdempotencyKey = key
	reserved.Reason = reason
	reserved.UpdatedAt = at
	return reserved, nil
}
