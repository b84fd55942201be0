package lifecycle

import "testing"

func TestLegalEdges(t *testing.T) {
	legal := [][2]Stage{
		{StageDraftCreated, StageDataCollected},
		{StageDataCollected, StageQCPending},
		{StageQCPending, StageQCChangesRequested},
		{StageQCPending, StageQCApproved},
		{StageQCChangesRequested, StageDataCollected},
		{StageQCApproved, StageFinalized},
		{StageQCApproved, StageSentToClient},
		{StageFinalized, StageSentToClient},
		{StageSentToClient, StageBilled},
		{StageBilled, StagePaid},
		{StagePaid, StageClosed},
	}
	allowed := make(map[[2]Stage]bool)
	for _, e := range legal {
		allowed[e] = true
		if !CanTransition(e[0], e[1]) {
			t.Errorf("expected %s -> %s to be legal", e[0], e[1])
		}
	}

	// every other pair is illegal, including self loops
	for _, from := range Stages() {
		for _, to := range Stages() {
			if allowed[[2]Stage{from, to}] {
				continue
			}
			if CanTransition(from, to) {
				t.Errorf("expected %s -> %s to be illegal", from, to)
			}
		}
	}
}

func TestDraftCannotJumpToQC(t *testing.T) {
	if CanTransition(StageDraftCreated, StageQCPending) {
		t.Fatal("draft_created -> qc_pending must be illegal")
	}
}

func TestUnknownStageHasNoEdges(t *testing.T) {
	if CanTransition("archived", StageClosed) {
		t.Fatal("unknown stages must have no edges")
	}
	if _, err := ParseStage("archived"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStatusMapping(t *testing.T) {
	for _, s := range Stages() {
		status := s.Status()
		if status == "" {
			t.Fatalf("stage %s has no status", s)
		}
		back, err := ParseStatus(string(status))
		if err != nil {
			t.Fatalf("status %s does not parse: %v", status, err)
		}
		if back.Status() != status {
			t.Fatalf("round trip of %s gave %s", status, back.Status())
		}
	}
	if StageFinalized.Status() != StatusDelivered || StageSentToClient.Status() != StatusDelivered {
		t.Fatal("finalized and sent_to_client both present as DELIVERED")
	}
	if st, _ := ParseStatus("DELIVERED"); st != StageSentToClient {
		t.Fatalf("DELIVERED should map back to sent_to_client, got %s", st)
	}
}

func TestTerminalAndNext(t *testing.T) {
	if !StageClosed.Terminal() {
		t.Fatal("closed is terminal")
	}
	next := Next(StageQCPending)
	if len(next) != 2 {
		t.Fatalf("expected two exits from qc_pending, got %v", next)
	}
	next[0] = StageClosed
	if Next(StageQCPending)[0] == StageClosed {
		t.Fatal("Next must return a copy")
	}
}
