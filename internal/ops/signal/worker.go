package signal

import (
	"context"
	"errors"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Worker 消费重算队列并写入 assignment_signals，另按 sweepEvery 定期扫描候选委托
type Worker struct {
	queue      *RedisQueue
	db         *gorm.DB
	logger     *zap.Logger
	stuckAfter time.Duration
	block      time.Duration
	sweepEvery time.Duration
}

// NewWorker 创建重算 worker，sweepEvery 为 0 时不做定期扫描
func NewWorker(queue *RedisQueue, db *gorm.DB, logger *zap.Logger, stuckAfter, block, sweepEvery time.Duration) *Worker {
	return &Worker{
		queue:      queue,
		db:         db,
		logger:     logger,
		stuckAfter: stuckAfter,
		block:      block,
		sweepEvery: sweepEvery,
	}
}

// Run 循环消费直到 ctx 取消
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Signal recompute worker started", zap.Duration("sweep_every", w.sweepEvery))

	var sweepTick <-chan time.Time
	if w.sweepEvery > 0 {
		ticker := time.NewTicker(w.sweepEvery)
		defer ticker.Stop()
		sweepTick = ticker.C
		w.sweep(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Signal recompute worker stopped")
			return
		case <-sweepTick:
			w.sweep(ctx)
		default:
		}

		req, err := w.queue.Dequeue(ctx, w.block)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Warn("Dequeue recompute request failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if req == nil {
			continue
		}
		if err := Recompute(ctx, w.db, *req, time.Now().UTC(), w.stuckAfter); err != nil {
			w.logger.Warn("Recompute signals failed",
				zap.String("assignment_id", req.AssignmentID),
				zap.String("correlation_id", req.CorrelationID),
				zap.Error(err),
			)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	start := time.Now()
	n, err := Sweep(ctx, w.db, start.UTC(), w.stuckAfter)
	if err != nil {
		w.logger.Warn("Signal sweep failed", zap.Int("recomputed", n), zap.Error(err))
		return
	}
	w.logger.Info("Signal sweep done",
		zap.Int("recomputed", n),
		zap.Duration("took", time.Since(start)),
	)
}

const sweepBatchSize = 200

// Sweep 重算所有候选委托的信号，返回已重算数量
func Sweep(ctx context.Context, db *gorm.DB, now time.Time, stuckAfter time.Duration) (int, error) {
	bucket := DateBucket(now)
	n := 0
	err := repository.NewAssignmentRepository(db).FindSignalCandidates(ctx, sweepBatchSize, func(items []entity.Assignment) error {
		for _, a := range items {
			if err := Recompute(ctx, db, RecomputeRequest{
				AssignmentID: a.ID,
				TenantID:     a.TenantID,
				Stage:        string(a.Stage),
				DateBucket:   bucket,
			}, now, stuckAfter); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// Recompute 重算单个委托的派生信号
func Recompute(ctx context.Context, db *gorm.DB, req RecomputeRequest, now time.Time, stuckAfter time.Duration) error {
	repos := repository.NewRepositories(db)

	a, err := repos.Assignment.FindByID(ctx, req.AssignmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if a.TenantID != req.TenantID {
		return nil
	}

	var qcEnteredAt *time.Time
	if last, err := repos.Signal.LastStageEntry(ctx, a.ID, "qc_pending"); err == nil {
		qcEnteredAt = &last.CreatedAt
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	overdue, stuck := Evaluate(a, qcEnteredAt, now, stuckAfter)
	if a.Deleted() {
		overdue, stuck = false, false
	}

	return repos.Signal.Upsert(ctx, &entity.AssignmentSignal{
		AssignmentID: a.ID,
		TenantID:     a.TenantID,
		Stage:        a.Stage,
		Overdue:      overdue,
		StuckInQC:    stuck,
		DateBucket:   req.DateBucket,
		ComputedAt:   now,
	})
}
