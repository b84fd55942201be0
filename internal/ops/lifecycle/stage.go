// Package lifecycle 委托（assignment）阶段迁移表。
//
// 迁移只在阶段空间内校验；对外的 status 词汇只是展示映射。
package lifecycle

import "fmt"

// Stage 内部阶段
type Stage string

const (
	StageDraftCreated       Stage = "draft_created"
	StageDataCollected      Stage = "data_collected"
	StageQCPending          Stage = "qc_pending"
	StageQCChangesRequested Stage = "qc_changes_requested"
	StageQCApproved         Stage = "qc_approved"
	StageFinalized          Stage = "finalized"
	StageSentToClient       Stage = "sent_to_client"
	StageBilled             Stage = "billed"
	StagePaid               Stage = "paid"
	StageClosed             Stage = "closed"
)

// Status 对外状态
type Status string

const (
	StatusDraft            Status = "DRAFT"
	StatusCollecting       Status = "COLLECTING"
	StatusQCPending        Status = "QC_PENDING"
	StatusChangesRequested Status = "CHANGES_REQUESTED"
	StatusQCApproved       Status = "QC_APPROVED"
	StatusDelivered        Status = "DELIVERED"
	StatusBilled           Status = "BILLED"
	StatusPaid             Status = "PAID"
	StatusClosed           Status = "CLOSED"
)

// transitions 合法迁移边，未列出的边均非法，且不含自环
var transitions = map[Stage][]Stage{
	StageDraftCreated:       {StageDataCollected},
	StageDataCollected:      {StageQCPending},
	StageQCPending:          {StageQCChangesRequested, StageQCApproved},
	StageQCChangesRequested: {StageDataCollected},
	StageQCApproved:         {StageFinalized, StageSentToClient},
	StageFinalized:          {StageSentToClient},
	StageSentToClient:       {StageBilled},
	StageBilled:             {StagePaid},
	StagePaid:               {StageClosed},
	StageClosed:             nil,
}

var stageStatus = map[Stage]Status{
	StageDraftCreated:       StatusDraft,
	StageDataCollected:      StatusCollecting,
	StageQCPending:          StatusQCPending,
	StageQCChangesRequested: StatusChangesRequested,
	StageQCApproved:         StatusQCApproved,
	StageFinalized:          StatusDelivered,
	StageSentToClient:       StatusDelivered,
	StageBilled:             StatusBilled,
	StagePaid:               StatusPaid,
	StageClosed:             StatusClosed,
}

// DELIVERED 对应两个阶段，反向映射取 sent_to_client
var statusStage = map[Status]Stage{
	StatusDraft:            StageDraftCreated,
	StatusCollecting:       StageDataCollected,
	StatusQCPending:        StageQCPending,
	StatusChangesRequested: StageQCChangesRequested,
	StatusQCApproved:       StageQCApproved,
	StatusDelivered:        StageSentToClient,
	StatusBilled:           StageBilled,
	StatusPaid:             StagePaid,
	StatusClosed:           StageClosed,
}

// Stages 全部阶段，按流程顺序
func Stages() []Stage {
	return []Stage{
		StageDraftCreated, StageDataCollected, StageQCPending, StageQCChangesRequested,
		StageQCApproved, StageFinalized, StageSentToClient, StageBilled, StagePaid, StageClosed,
	}
}

// Valid 是否为已知阶段
func (s Stage) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Status 阶段对应的对外状态
func (s Stage) Status() Status {
	return stageStatus[s]
}

// Terminal 是否为终态（无出边）
func (s Stage) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition 边 (from, to) 是否在迁移表中
func CanTransition(from, to Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Next 从某阶段出发的合法目标阶段
func Next(from Stage) []Stage {
	out := make([]Stage, len(transitions[from]))
	copy(out, transitions[from])
	return out
}

// ParseStage 解析阶段字符串
func ParseStage(v string) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", v)
	}
	return s, nil
}

// ParseStatus 解析对外状态，返回对应阶段
func ParseStatus(v string) (Stage, error) {
	s, ok := statusStage[Status(v)]
	if !ok {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}
