package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bitfantasy/zenops/internal/config"
	"github.com/bitfantasy/zenops/internal/ops/signal"
	"github.com/bitfantasy/zenops/internal/ops/testutil"
	"gorm.io/gorm"
)

const testUnitPrice = 250000

// recordingEnqueuer 记录提交后投递的重算请求
type recordingEnqueuer struct {
	ch chan signal.RecomputeRequest
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, req signal.RecomputeRequest) error {
	r.ch <- req
	return nil
}

func (r *recordingEnqueuer) wait(t *testing.T) signal.RecomputeRequest {
	t.Helper()
	select {
	case req := <-r.ch:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("recompute request was not enqueued")
	}
	return signal.RecomputeRequest{}
}

// recordingPublisher 记录 SSE 推送
type recordingPublisher struct {
	mu      sync.Mutex
	actions []string
}

func (p *recordingPublisher) PublishAssignmentUpdate(_, _, action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
}

func (p *recordingPublisher) PublishReportUpdate(_, _, action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, action)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.actions)
}

type testEnv struct {
	db       *gorm.DB
	svc      *Services
	enq      *recordingEnqueuer
	pub      *recordingPublisher
	tenantID string
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Billing.UnitPriceMinor = testUnitPrice
	cfg.Billing.Currency = "INR"

	enq := &recordingEnqueuer{ch: make(chan signal.RecomputeRequest, 16)}
	pub := &recordingPublisher{}
	return &testEnv{
		db:       db,
		svc:      NewServices(db, enq, pub, nil, cfg),
		enq:      enq,
		pub:      pub,
		tenantID: testutil.NewTenantID(),
	}
}
