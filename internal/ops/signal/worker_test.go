package signal

import (
	"context"
	"testing"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/ops/testutil"
	"gorm.io/gorm"
)

func seedQCEntry(t *testing.T, db *gorm.DB, a *entity.Assignment, at time.Time) {
	t.Helper()
	testutil.SeedRecord(t, db, &entity.AssignmentStageTransition{
		ID:           "tr-" + a.ID[:8],
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		FromStage:    lifecycle.StageDataCollected,
		ToStage:      lifecycle.StageQCPending,
		ActorID:      "staff-1",
		CreatedAt:    at,
	})
}

func loadSignal(t *testing.T, db *gorm.DB, assignmentID string) *entity.AssignmentSignal {
	t.Helper()
	s, err := repository.NewSignalRepository(db).Find(context.Background(), assignmentID)
	if err != nil {
		t.Fatalf("load signal for %s: %v", assignmentID, err)
	}
	return s
}

func TestRecompute_StuckInQCFlipsAfterThreshold(t *testing.T) {
	db := testutil.SetupTestDB(t)
	tenantID := testutil.NewTenantID()
	a := testutil.SeedAssignment(t, db, tenantID, lifecycle.StageQCPending)
	entered := time.Now().UTC().Add(-72 * time.Hour)
	seedQCEntry(t, db, a, entered)
	req := RecomputeRequest{AssignmentID: a.ID, TenantID: tenantID}
	ctx := context.Background()

	// 进入 QC 后立刻重算
	if err := Recompute(ctx, db, req, entered.Add(time.Minute), 48*time.Hour); err != nil {
		t.Fatal(err)
	}
	if loadSignal(t, db, a.ID).StuckInQC {
		t.Fatal("stuck_in_qc must be false right after entering qc_pending")
	}

	if err := Recompute(ctx, db, req, time.Now().UTC(), 48*time.Hour); err != nil {
		t.Fatal(err)
	}
	if !loadSignal(t, db, a.ID).StuckInQC {
		t.Fatal("stuck_in_qc must be true after 72h in qc_pending")
	}
}

func TestSweep_RecomputesTimeDependentSignals(t *testing.T) {
	db := testutil.SetupTestDB(t)
	tenantID := testutil.NewTenantID()
	now := time.Now().UTC()
	pastDue := now.AddDate(0, 0, -3)

	stuck := testutil.SeedAssignment(t, db, tenantID, lifecycle.StageQCPending)
	seedQCEntry(t, db, stuck, now.Add(-72*time.Hour))

	late := testutil.SeedAssignment(t, db, tenantID, lifecycle.StageDataCollected)
	db.Model(&entity.Assignment{}).Where("id = ?", late.ID).Update("due_date", pastDue)

	billed := testutil.SeedAssignment(t, db, tenantID, lifecycle.StageBilled)
	db.Model(&entity.Assignment{}).Where("id = ?", billed.ID).Update("due_date", pastDue)

	cancelled := testutil.SeedAssignment(t, db, tenantID, lifecycle.StageQCPending)
	db.Model(&entity.Assignment{}).Where("id = ?", cancelled.ID).Update("deleted_at", now)

	testutil.SeedAssignment(t, db, tenantID, lifecycle.StageDraftCreated)

	n, err := Sweep(context.Background(), db, now, 48*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 candidates, got %d", n)
	}

	if s := loadSignal(t, db, stuck.ID); !s.StuckInQC || s.DateBucket != DateBucket(now) {
		t.Fatalf("unexpected signal for stuck assignment %+v", s)
	}
	if s := loadSignal(t, db, late.ID); !s.Overdue || s.StuckInQC {
		t.Fatalf("unexpected signal for late assignment %+v", s)
	}
	for _, id := range []string{billed.ID, cancelled.ID} {
		if n := testutil.Count(t, db, &entity.AssignmentSignal{}, "assignment_id = ?", id); n != 0 {
			t.Fatalf("assignment %s must not be swept", id)
		}
	}
}
