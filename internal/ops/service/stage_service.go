package service

import (
	"context"
	"errors"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/ops/signal"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StageService 阶段迁移引擎
type StageService struct {
	db      *gorm.DB
	outbox  *EventOutbox
	effects *sideEffects
	logger  *zap.Logger
}

// NewStageService 创建阶段迁移服务
func NewStageService(db *gorm.DB, outbox *EventOutbox, effects *sideEffects, logger *zap.Logger) *StageService {
	return &StageService{db: db, outbox: outbox, effects: effects, logger: logger}
}

// TransitionRequest 阶段迁移请求。Stage 与 Status 二选一，Status 为对外词汇
type TransitionRequest struct {
	Stage         string `json:"stage"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"-"`
}

func (r TransitionRequest) targetStage() (lifecycle.Stage, error) {
	var (
		s   lifecycle.Stage
		err error
	)
	switch {
	case r.Stage != "":
		s, err = lifecycle.ParseStage(r.Stage)
	case r.Status != "":
		s, err = lifecycle.ParseStatus(r.Status)
	default:
		return "", apperr.BadInput("stage or status is required")
	}
	if err != nil {
		return "", apperr.BadInput("%v", err)
	}
	return s, nil
}

// TransitionResult 迁移结果。Changed=false 表示目标阶段与当前相同，未写任何记录
type TransitionResult struct {
	Detail     *entity.AssignmentDetail
	Changed    bool
	DateBucket string
}

// Transition 迁移委托阶段
func (s *StageService) Transition(ctx context.Context, claims *capability.Claims, assignmentID string, req TransitionRequest) (*entity.AssignmentDetail, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentTransition)
	if err != nil {
		return nil, err
	}
	to, err := req.targetStage()
	if err != nil {
		return nil, err
	}

	var result *TransitionResult
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		var terr error
		result, terr = s.TransitionTx(ctx, tx, tenantID, claims.UserID, assignmentID, to, req.Reason)
		if terr != nil || !result.Changed {
			return terr
		}
		a := result.Detail.Assignment
		after.add(func() {
			s.effects.recompute(signal.RecomputeRequest{
				AssignmentID:  a.ID,
				TenantID:      a.TenantID,
				Stage:         string(a.Stage),
				DateBucket:    result.DateBucket,
				CorrelationID: req.CorrelationID,
			})
			s.effects.assignmentUpdate(a.TenantID, a.ID, entity.ActivityStageTransitioned)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result.Detail, nil
}

// TransitionTx 在调用方事务内执行迁移。非法边返回 IllegalTransition，调用方须回滚
func (s *StageService) TransitionTx(ctx context.Context, tx *gorm.DB, tenantID, actorID, assignmentID string, to lifecycle.Stage, reason string) (*TransitionResult, error) {
	repos := repository.NewRepositories(tx)

	a, err := loadLiveAssignment(ctx, repos, tenantID, assignmentID, true)
	if err != nil {
		return nil, err
	}

	from := a.Stage
	if from == to {
		detail, err := repos.Assignment.LoadDetail(ctx, a)
		if err != nil {
			return nil, err
		}
		return &TransitionResult{Detail: detail}, nil
	}
	if !lifecycle.CanTransition(from, to) {
		return nil, apperr.IllegalTransition(string(from), string(to))
	}

	at := now()
	if err := repos.Assignment.UpdateStage(ctx, a.ID, to, at); err != nil {
		return nil, err
	}

	transition := &entity.AssignmentStageTransition{
		ID:           newID(),
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		FromStage:    from,
		ToStage:      to,
		Reason:       reason,
		ActorID:      actorID,
		CreatedAt:    at,
	}
	if err := repos.Assignment.CreateStageTransition(ctx, transition); err != nil {
		return nil, err
	}
	if err := repos.Assignment.CreateStatusHistory(ctx, &entity.AssignmentStatusHistory{
		ID:           newID(),
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		FromStatus:   string(from.Status()),
		ToStatus:     string(to.Status()),
		Reason:       reason,
		ActorID:      actorID,
		CreatedAt:    at,
	}); err != nil {
		return nil, err
	}
	if err := repos.Activity.LogActivity(ctx, a.TenantID, a.ID, entity.ActivityStageTransitioned, actorID, map[string]interface{}{
		"from_stage":  string(from),
		"to_stage":    string(to),
		"from_status": string(from.Status()),
		"to_status":   string(to.Status()),
		"reason":      reason,
	}); err != nil {
		return nil, err
	}

	if to == lifecycle.StageQCPending {
		if err := s.ensureQCReviewTask(ctx, tx, a, actorID); err != nil {
			return nil, err
		}
	}

	if _, err := s.outbox.EnqueueEvent(ctx, tx, Event{
		TenantID:       a.TenantID,
		EventType:      entity.EventAssignmentTransitioned,
		IdempotencyKey: entity.EventAssignmentTransitioned + ":" + transition.ID,
		Payload: map[string]interface{}{
			"assignment_id": a.ID,
			"from_stage":    string(from),
			"to_stage":      string(to),
			"actor_id":      actorID,
		},
	}); err != nil {
		return nil, err
	}

	a.Stage = to
	a.Status = string(to.Status())
	a.UpdatedAt = at
	detail, err := repos.Assignment.LoadDetail(ctx, a)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Assignment stage transitioned",
		zap.String("assignment_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("actor_id", actorID),
	)
	return &TransitionResult{Detail: detail, Changed: true, DateBucket: signal.DateBucket(at)}, nil
}

// ensureQCReviewTask 保证委托有且只有一个未完成的 QC 评审任务
func (s *StageService) ensureQCReviewTask(ctx context.Context, tx *gorm.DB, a *entity.Assignment, actorID string) error {
	repos := repository.NewRepositories(tx)

	_, err := repos.Task.FindOpenByKind(ctx, a.ID, entity.TaskKindQCReview)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	task := &entity.AssignmentTask{
		ID:           newID(),
		TenantID:     a.TenantID,
		AssignmentID: a.ID,
		Kind:         entity.TaskKindQCReview,
		Title:        entity.QCReviewTaskTitle,
		Status:       entity.TaskStatusOpen,
		CreatedBy:    actorID,
	}
	// 没有运营角色用户时任务不指派
	if ops, err := repos.User.FindFirstByRole(ctx, a.TenantID, entity.RoleOps); err == nil {
		task.AssigneeID = &ops.ID
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	err = tx.Transaction(func(sp *gorm.DB) error {
		return repository.NewTaskRepository(sp).Create(ctx, task)
	})
	if err != nil && !repository.IsUniqueViolation(err) {
		return err
	}
	return nil
}
