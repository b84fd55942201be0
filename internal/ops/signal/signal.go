// Package signal 派生信号（逾期、QC滞留）的异步重算。
// 阶段迁移提交后投递重算请求，投递失败不影响主事务。
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/redis/go-redis/v9"
)

// RecomputeRequest 重算请求
type RecomputeRequest struct {
	AssignmentID  string `json:"assignment_id"`
	TenantID      string `json:"tenant_id"`
	Stage         string `json:"stage"`
	DateBucket    string `json:"date_bucket"`
	CorrelationID string `json:"correlation_id"`
}

// DateBucket 迁移时间所在的 UTC 日期
func DateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Enqueuer 重算请求投递
type Enqueuer interface {
	Enqueue(ctx context.Context, req RecomputeRequest) error
}

// NopEnqueuer Redis 未配置时使用
type NopEnqueuer struct{}

func (NopEnqueuer) Enqueue(context.Context, RecomputeRequest) error { return nil }

// RedisQueue 基于 Redis list 的重算队列：LPUSH 入队，BRPOP 出队
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue 创建 Redis 队列
func NewRedisQueue(rdb *redis.Client, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

// Enqueue 入队
func (q *RedisQueue) Enqueue(ctx context.Context, req RecomputeRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal recompute request: %w", err)
	}
	return q.rdb.LPush(ctx, q.key, body).Err()
}

// Dequeue 阻塞出队，超时返回 nil, nil
func (q *RedisQueue) Dequeue(ctx context.Context, block time.Duration) (*RecomputeRequest, error) {
	res, err := q.rdb.BRPop(ctx, block, q.key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP 返回 [key, value]
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply: %v", res)
	}
	var req RecomputeRequest
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		return nil, fmt.Errorf("decode recompute request: %w", err)
	}
	return &req, nil
}

// closedStages 已交付收款的阶段不再算逾期
var closedStages = map[lifecycle.Stage]bool{
	lifecycle.StageBilled: true,
	lifecycle.StagePaid:   true,
	lifecycle.StageClosed: true,
}

// Evaluate 计算派生信号。qcEnteredAt 为最近一次进入 qc_pending 的时间
func Evaluate(a *entity.Assignment, qcEnteredAt *time.Time, now time.Time, stuckAfter time.Duration) (overdue, stuckInQC bool) {
	if a.DueDate != nil && !closedStages[a.Stage] {
		u := now.UTC()
		today := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
		overdue = a.DueDate.Before(today)
	}
	if a.Stage == lifecycle.StageQCPending && qcEnteredAt != nil {
		stuckInQC = now.Sub(*qcEnteredAt) > stuckAfter
	}
	return overdue, stuckInQC
}
