package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/bitfantasy/zenops/internal/ops/testutil"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"gorm.io/gorm"
)

func ledgerCount(t *testing.T, db *gorm.DB, reportRequestID, status string) int64 {
	t.Helper()
	return testutil.Count(t, db, &entity.CreditLedgerEntry{}, "report_request_id = ? AND status = ?", reportRequestID, status)
}

func TestQueueDraft_Idempotent(t *testing.T) {
	env := setupServices(t)
	a := testutil.SeedAssignment(t, env.db, env.tenantID, lifecycle.StageQCApproved)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, a.ID, entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")
	ctx := context.Background()

	first, err := env.svc.Report.QueueDraft(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if first.AlreadyQueued {
		t.Fatal("first call must not report already_queued")
	}
	if first.TenantID != env.tenantID || first.ReportRequestID != rr.ID {
		t.Fatalf("unexpected result %+v", first)
	}

	second, err := env.svc.Report.QueueDraft(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !second.AlreadyQueued {
		t.Fatal("second call must report already_queued")
	}
	if second.ReportJobID != first.ReportJobID {
		t.Fatalf("job id changed: %s -> %s", first.ReportJobID, second.ReportJobID)
	}

	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusReserved); n != 1 {
		t.Fatalf("expected 1 reservation, got %d", n)
	}
	if n := testutil.Count(t, env.db, &entity.ReportJob{}, "report_request_id = ?", rr.ID); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}

	var entry entity.CreditLedgerEntry
	env.db.Where("report_request_id = ?", rr.ID).First(&entry)
	if entry.IdempotencyKey != ReserveKey(rr.ID) || entry.Delta != -1 {
		t.Fatalf("unexpected reservation %+v", entry)
	}
	if entry.ReportJobID == nil || *entry.ReportJobID != first.ReportJobID {
		t.Fatal("reservation must be linked to the job")
	}

	var reloaded entity.ReportRequest
	env.db.First(&reloaded, "id = ?", rr.ID)
	if reloaded.Status != entity.ReportRequestStatusQueued {
		t.Fatalf("expected queued, got %s", reloaded.Status)
	}

	// 活动日志不去重，每次调用一条
	if n := testutil.Count(t, env.db, &entity.AssignmentActivity{}, "assignment_id = ? AND type = ?", a.ID, entity.ActivityReportQueued); n != 2 {
		t.Fatalf("expected 2 report_queued activities, got %d", n)
	}
}

func TestQueueDraft_ConcurrentCallsShareJob(t *testing.T) {
	env := setupServices(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")

	const workers = 4
	var wg sync.WaitGroup
	results := make([]*QueueResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Report.QueueDraft(context.Background(), claims, rr.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
	}
	for i := 1; i < workers; i++ {
		if results[i].ReportJobID != results[0].ReportJobID {
			t.Fatalf("job ids differ: %s vs %s", results[0].ReportJobID, results[i].ReportJobID)
		}
	}
	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusReserved); n != 1 {
		t.Fatalf("expected 1 reservation, got %d", n)
	}
	if n := testutil.Count(t, env.db, &entity.ReportJob{}, "report_request_id = ?", rr.ID); n != 1 {
		t.Fatalf("expected 1 job, got %d", n)
	}
}

func TestQueueDraft_Guards(t *testing.T) {
	env := setupServices(t)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")
	ctx := context.Background()

	if _, err := env.svc.Report.QueueDraft(ctx, claims, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}

	deleted := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	env.db.Model(&entity.ReportRequest{}).Where("id = ?", deleted.ID).Update("deleted_at", gorm.Expr("NOW()"))
	if _, err := env.svc.Report.QueueDraft(ctx, claims, deleted.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NotFound for deleted request, got %v", err)
	}

	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	other := testutil.InternalClaims(testutil.NewTenantID(), "staff-2")
	if _, err := env.svc.Report.QueueDraft(ctx, other, rr.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected Forbidden, got %v", err)
	}

	if _, err := env.svc.Report.Finalize(ctx, claims, rr.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Report.QueueDraft(ctx, claims, rr.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict when queueing a finalized request, got %v", err)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	env := setupServices(t)
	a := testutil.SeedAssignment(t, env.db, env.tenantID, lifecycle.StageQCApproved)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, a.ID, entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")
	ctx := context.Background()

	queued, err := env.svc.Report.QueueDraft(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}

	first, err := env.svc.Report.Finalize(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !first.CreatedInvoiceLine {
		t.Fatal("first finalize must create the invoice line")
	}
	if first.ReportRequest.Status != entity.ReportRequestStatusFinalized || first.ReportRequest.FinalizedAt == nil {
		t.Fatalf("unexpected request %+v", first.ReportRequest)
	}
	if first.LedgerEntry.Status != entity.LedgerStatusConsumed || first.LedgerEntry.IdempotencyKey != ConsumeKey(rr.ID) {
		t.Fatalf("unexpected ledger entry %+v", first.LedgerEntry)
	}
	if first.LedgerEntry.ReportJobID == nil || *first.LedgerEntry.ReportJobID != queued.ReportJobID {
		t.Fatal("consumed entry must be the queued reservation")
	}

	var before entity.CreditLedgerEntry
	env.db.First(&before, "id = ?", first.LedgerEntry.ID)

	second, err := env.svc.Report.Finalize(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if second.CreatedInvoiceLine {
		t.Fatal("second finalize must not create another invoice line")
	}

	var after entity.CreditLedgerEntry
	env.db.First(&after, "id = ?", first.LedgerEntry.ID)
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatal("second finalize must not write the ledger")
	}
	if n := testutil.Count(t, env.db, &entity.CreditLedgerEntry{}, "report_request_id = ?", rr.ID); n != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", n)
	}
	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusConsumed); n != 1 {
		t.Fatalf("expected 1 consumed entry, got %d", n)
	}
	if n := testutil.Count(t, env.db, &entity.InvoiceLine{}, "report_request_id = ?", rr.ID); n != 1 {
		t.Fatalf("expected 1 invoice line, got %d", n)
	}
	var inv entity.Invoice
	env.db.Where("tenant_id = ?", env.tenantID).First(&inv)
	if inv.TotalMinor != testUnitPrice {
		t.Fatalf("expected invoice total %d, got %d", testUnitPrice, inv.TotalMinor)
	}
	if n := testutil.Count(t, env.db, &entity.AssignmentActivity{}, "assignment_id = ? AND type = ?", a.ID, entity.ActivityReportFinalized); n != 1 {
		t.Fatalf("expected 1 report_finalized activity, got %d", n)
	}
	if n := testutil.Count(t, env.db, &entity.NotificationOutbox{}, "event_type = ?", entity.EventReportFinalized); n != 1 {
		t.Fatalf("expected 1 finalized outbox event, got %d", n)
	}
}

func TestFinalize_ConcurrentCallsConsumeOnce(t *testing.T) {
	env := setupServices(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")

	if _, err := env.svc.Report.QueueDraft(context.Background(), claims, rr.ID); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	created := make(chan bool, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.svc.Report.Finalize(context.Background(), claims, rr.ID)
			if err != nil {
				t.Error(err)
				return
			}
			created <- res.CreatedInvoiceLine
		}()
	}
	wg.Wait()
	close(created)

	var lines int
	for c := range created {
		if c {
			lines++
		}
	}
	if lines != 1 {
		t.Fatalf("expected exactly one call to create the invoice line, got %d", lines)
	}
	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusConsumed); n != 1 {
		t.Fatalf("expected 1 consumed entry, got %d", n)
	}
}

func TestFinalize_WithoutQueueCreatesConsumedEntry(t *testing.T) {
	env := setupServices(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")

	res, err := env.svc.Report.Finalize(context.Background(), claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if res.LedgerEntry.Status != entity.LedgerStatusConsumed || res.LedgerEntry.IdempotencyKey != ConsumeKey(rr.ID) {
		t.Fatalf("unexpected entry %+v", res.LedgerEntry)
	}
	if res.LedgerEntry.Delta != -1 || res.LedgerEntry.ReportJobID != nil {
		t.Fatalf("direct consume must be an unlinked -1 entry, got %+v", res.LedgerEntry)
	}
	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusReserved); n != 0 {
		t.Fatalf("expected no reservation, got %d", n)
	}
	if !res.CreatedInvoiceLine {
		t.Fatal("expected invoice line on first finalize")
	}
}

func TestFinalize_RequiresCapability(t *testing.T) {
	env := setupServices(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourcePartner)
	partner := testutil.ClaimsWith(capability.AudiencePartner, env.tenantID, "partner-1", capability.Wildcard)

	_, err := env.svc.Report.Finalize(context.Background(), partner, rr.ID)
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindForbidden || appErr.Details["capability"] != string(capability.ReportFinalize) {
		t.Fatalf("expected Forbidden naming report.finalize, got %v", err)
	}
	if n := testutil.Count(t, env.db, &entity.CreditLedgerEntry{}, "report_request_id = ?", rr.ID); n != 0 {
		t.Fatalf("forbidden finalize wrote %d ledger rows", n)
	}
}

func TestRejectPartnerRequest_ReleasesReservation(t *testing.T) {
	env := setupServices(t)
	partner := testutil.ClaimsWith(capability.AudiencePartner, env.tenantID, "partner-1", capability.ReportRequest)
	staff := testutil.InternalClaims(env.tenantID, "staff-1")
	ctx := context.Background()

	rr, err := env.svc.Report.CreateRequest(ctx, partner, CreateReportRequestInput{})
	if err != nil {
		t.Fatal(err)
	}
	if rr.Source != entity.ReportSourcePartner {
		t.Fatalf("expected partner source, got %s", rr.Source)
	}
	if _, err := env.svc.Report.QueueDraft(ctx, staff, rr.ID); err != nil {
		t.Fatal(err)
	}

	rejected, err := env.svc.Report.RejectPartnerRequest(ctx, staff, rr.ID, "duplicate")
	if err != nil {
		t.Fatal(err)
	}
	if rejected.Status != entity.ReportRequestStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if n := ledgerCount(t, env.db, rr.ID, entity.LedgerStatusReserved); n != 0 {
		t.Fatalf("expected reservation released, %d still reserved", n)
	}
	var released entity.CreditLedgerEntry
	env.db.Where("report_request_id = ? AND status = ?", rr.ID, entity.LedgerStatusReleased).First(&released)
	if released.IdempotencyKey != ReleaseKey(rr.ID, ReleaseReasonRejected) || released.Reason != ReleaseReasonRejected {
		t.Fatalf("unexpected released entry %+v", released)
	}

	// 重复拒绝是空操作
	if _, err := env.svc.Report.RejectPartnerRequest(ctx, staff, rr.ID, "again"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.svc.Report.QueueDraft(ctx, staff, rr.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected Conflict when queueing a rejected request, got %v", err)
	}

	internal := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	if _, err := env.svc.Report.RejectPartnerRequest(ctx, staff, internal.ID, ""); !errors.Is(err, apperr.ErrBadInput) {
		t.Fatalf("expected BadInput for internal request, got %v", err)
	}
}

func TestListLedger(t *testing.T) {
	env := setupServices(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	claims := testutil.InternalClaims(env.tenantID, "staff-1")
	ctx := context.Background()

	if _, err := env.svc.Report.QueueDraft(ctx, claims, rr.ID); err != nil {
		t.Fatal(err)
	}
	items, err := env.svc.Report.ListLedger(ctx, claims, rr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Status != entity.LedgerStatusReserved {
		t.Fatalf("unexpected ledger %+v", items)
	}

	portal := testutil.ClaimsWith(capability.AudiencePortal, env.tenantID, "client-1", capability.Wildcard)
	if _, err := env.svc.Report.ListLedger(ctx, portal, rr.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected Forbidden for portal, got %v", err)
	}
}
