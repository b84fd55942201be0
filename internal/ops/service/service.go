package service

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/zenops/internal/config"
	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/ops/signal"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Stage      *StageService
	Assignment *AssignmentService
	Ledger     *LedgerService
	Report     *ReportService
	Billing    *BillingService
	Outbox     *EventOutbox
}

// Publisher 提交后推送给在线客户端
type Publisher interface {
	PublishAssignmentUpdate(tenantID, assignmentID, action string)
	PublishReportUpdate(tenantID, reportRequestID, action string)
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, enq signal.Enqueuer, pub Publisher, logger *zap.Logger, cfg *config.Config) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}
	if enq == nil {
		enq = signal.NopEnqueuer{}
	}
	effects := &sideEffects{enq: enq, pub: pub, logger: logger}

	outbox := NewEventOutbox()
	ledger := NewLedgerService()
	billing := NewBillingService(cfg.Billing.UnitPriceMinor, cfg.Billing.Currency)

	reports := NewReportService(db, ledger, billing, outbox, effects, logger)

	return &Services{
		Stage:      NewStageService(db, outbox, effects, logger),
		Assignment: NewAssignmentService(db, reports, outbox, effects, logger),
		Ledger:     ledger,
		Report:     reports,
		Billing:    billing,
		Outbox:     outbox,
	}
}

// afterCommit 事务提交后才执行的回调
type afterCommit struct {
	fns []func()
}

func (a *afterCommit) add(fn func()) {
	a.fns = append(a.fns, fn)
}

// withTx 一个请求一个事务。fn 返回错误时整体回滚且不执行提交后回调
func withTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB, after *afterCommit) error) error {
	after := &afterCommit{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(tx, after)
	})
	if err != nil {
		return err
	}
	for _, f := range after.fns {
		f()
	}
	return nil
}

// sideEffects 提交后的尽力而为副作用，失败只记日志
type sideEffects struct {
	enq    signal.Enqueuer
	pub    Publisher
	logger *zap.Logger
}

const enqueueTimeout = 5 * time.Second

func (s *sideEffects) recompute(req signal.RecomputeRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
		defer cancel()
		if err := s.enq.Enqueue(ctx, req); err != nil {
			s.logger.Warn("Enqueue signal recompute failed",
				zap.String("assignment_id", req.AssignmentID),
				zap.String("correlation_id", req.CorrelationID),
				zap.Error(err),
			)
		}
	}()
}

func (s *sideEffects) assignmentUpdate(tenantID, assignmentID, action string) {
	if s.pub != nil {
		s.pub.PublishAssignmentUpdate(tenantID, assignmentID, action)
	}
}

func (s *sideEffects) reportUpdate(tenantID, reportRequestID, action string) {
	if s.pub != nil {
		s.pub.PublishReportUpdate(tenantID, reportRequestID, action)
	}
}

func newID() string {
	return uuid.New().String()
}

func now() time.Time {
	return time.Now().UTC()
}

// loadLiveAssignment 读取未删除且属于调用方租户的委托
func loadLiveAssignment(ctx context.Context, repos *repository.Repositories, tenantID, id string, lock bool) (*entity.Assignment, error) {
	var (
		a   *entity.Assignment
		err error
	)
	if lock {
		a, err = repos.Assignment.FindByIDForUpdate(ctx, id)
	} else {
		a, err = repos.Assignment.FindByID(ctx, id)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("assignment", id)
	}
	if err != nil {
		return nil, err
	}
	if err := capability.SameTenant(tenantID, a.TenantID); err != nil {
		return nil, err
	}
	if a.Deleted() {
		return nil, apperr.NotFound("assignment", id)
	}
	return a, nil
}
