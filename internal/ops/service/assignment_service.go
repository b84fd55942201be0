package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/bitfantasy/zenops/internal/ops/repository"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssignmentService 委托服务
type AssignmentService struct {
	db      *gorm.DB
	reports *ReportService
	outbox  *EventOutbox
	effects *sideEffects
	logger  *zap.Logger
}

// NewAssignmentService 创建委托服务
func NewAssignmentService(db *gorm.DB, reports *ReportService, outbox *EventOutbox, effects *sideEffects, logger *zap.Logger) *AssignmentService {
	return &AssignmentService{
		db:      db,
		reports: reports,
		outbox:  outbox,
		effects: effects,
		logger:  logger,
	}
}

// References 主数据引用。Update 中空字符串表示清空
type References struct {
	BankID     *string `json:"bank_id"`
	BranchID   *string `json:"branch_id"`
	ClientID   *string `json:"client_id"`
	PropertyID *string `json:"property_id"`
	ContactID  *string `json:"contact_id"`
	ChannelID  *string `json:"channel_id"`
}

// CreateAssignmentInput 创建委托请求
type CreateAssignmentInput struct {
	Title    string     `json:"title" binding:"required"`
	Priority string     `json:"priority"`
	FeeMinor *int64     `json:"fee_minor"`
	DueDate  *time.Time `json:"due_date"`
	References
}

// UpdateAssignmentInput 更新委托请求，nil 字段不修改
type UpdateAssignmentInput struct {
	Title    *string    `json:"title"`
	Priority *string    `json:"priority"`
	FeeMinor *int64     `json:"fee_minor"`
	DueDate  *time.Time `json:"due_date"`
	References
}

// ListAssignmentsFilter 列表过滤
type ListAssignmentsFilter struct {
	Stage    string
	Status   string
	Priority string
	Page     int
	PageSize int
}

var validPriorities = map[string]bool{
	entity.PriorityLow:    true,
	entity.PriorityNormal: true,
	entity.PriorityHigh:   true,
	entity.PriorityUrgent: true,
}

// Create 委托录入，初始阶段 draft_created
func (s *AssignmentService) Create(ctx context.Context, claims *capability.Claims, input CreateAssignmentInput) (*entity.AssignmentDetail, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentCreate)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperr.BadInput("title is required")
	}
	priority := input.Priority
	if priority == "" {
		priority = entity.PriorityNormal
	}
	if !validPriorities[priority] {
		return nil, apperr.BadInput("unknown priority %q", priority)
	}
	if input.FeeMinor != nil && *input.FeeMinor < 0 {
		return nil, apperr.BadInput("fee_minor must not be negative")
	}

	at := now()
	a := &entity.Assignment{
		ID:         newID(),
		TenantID:   tenantID,
		Code:       assignmentCode(at),
		Title:      title,
		Stage:      lifecycle.StageDraftCreated,
		Status:     string(lifecycle.StageDraftCreated.Status()),
		Priority:   priority,
		FeeMinor:   input.FeeMinor,
		DueDate:    input.DueDate,
		BankID:     nonEmpty(input.BankID),
		BranchID:   nonEmpty(input.BranchID),
		ClientID:   nonEmpty(input.ClientID),
		PropertyID: nonEmpty(input.PropertyID),
		ContactID:  nonEmpty(input.ContactID),
		ChannelID:  nonEmpty(input.ChannelID),
		CreatedBy:  claims.UserID,
		CreatedAt:  at,
		UpdatedAt:  at,
	}

	var detail *entity.AssignmentDetail
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		if err := validateReferences(ctx, repos, tenantID, a); err != nil {
			return err
		}
		if err := repos.Assignment.Create(ctx, a); err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityCreated, claims.UserID, map[string]interface{}{
			"code":     a.Code,
			"title":    a.Title,
			"audience": string(claims.Audience),
		}); err != nil {
			return err
		}
		var derr error
		detail, derr = repos.Assignment.LoadDetail(ctx, a)
		if derr != nil {
			return derr
		}
		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityCreated)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Get 委托详情
func (s *AssignmentService) Get(ctx context.Context, claims *capability.Claims, id string) (*entity.AssignmentDetail, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentRead)
	if err != nil {
		return nil, err
	}
	repos := repository.NewRepositories(s.db)
	a, err := loadLiveAssignment(ctx, repos, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	return repos.Assignment.LoadDetail(ctx, a)
}

// List 租户委托列表
func (s *AssignmentService) List(ctx context.Context, claims *capability.Claims, filter ListAssignmentsFilter) ([]entity.Assignment, int64, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentRead)
	if err != nil {
		return nil, 0, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize < 1 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	return repository.NewAssignmentRepository(s.db).ListByTenant(ctx, tenantID, map[string]interface{}{
		"stage":    filter.Stage,
		"status":   filter.Status,
		"priority": filter.Priority,
	}, filter.Page, filter.PageSize)
}

// Update 更新委托字段。主数据引用先整体校验，任一失败则不写入
func (s *AssignmentService) Update(ctx context.Context, claims *capability.Claims, id string, input UpdateAssignmentInput) (*entity.AssignmentDetail, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentUpdate)
	if err != nil {
		return nil, err
	}

	var detail *entity.AssignmentDetail
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		a, err := loadLiveAssignment(ctx, repos, tenantID, id, true)
		if err != nil {
			return err
		}

		updated := *a
		changed, err := applyUpdate(&updated, input)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			return apperr.BadInput("no fields changed")
		}
		if err := validateReferences(ctx, repos, tenantID, &updated); err != nil {
			return err
		}

		at := now()
		fields := map[string]interface{}{"updated_at": at}
		names := make([]string, 0, len(changed))
		for col, v := range changed {
			fields[col] = v
			names = append(names, col)
		}
		sort.Strings(names)
		if err := repos.Assignment.UpdateFields(ctx, a.ID, fields); err != nil {
			return err
		}
		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityFieldsUpdated, claims.UserID, map[string]interface{}{
			"fields": names,
		}); err != nil {
			return err
		}

		updated.UpdatedAt = at
		var derr error
		detail, derr = repos.Assignment.LoadDetail(ctx, &updated)
		if derr != nil {
			return derr
		}
		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityFieldsUpdated)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// Cancel 取消委托：软删除并释放其报告申请上的预留额度
func (s *AssignmentService) Cancel(ctx context.Context, claims *capability.Claims, id, reason string) error {
	tenantID, err := capability.Require(claims, capability.AssignmentCancel)
	if err != nil {
		return err
	}

	return withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		a, err := loadLiveAssignment(ctx, repos, tenantID, id, true)
		if err != nil {
			return err
		}

		requests, err := repos.Report.ListActiveByAssignment(ctx, a.ID)
		if err != nil {
			return err
		}
		released := make([]string, 0, len(requests))
		for _, rr := range requests {
			entry, err := s.reports.ReleaseReservation(ctx, tx, rr.ID, ReleaseReasonCancelled, claims.UserID)
			if err != nil {
				return fmt.Errorf("release reservation for %s: %w", rr.ID, err)
			}
			if entry != nil {
				released = append(released, entry.ID)
			}
		}

		at := now()
		if err := repos.Assignment.SoftDelete(ctx, a.ID, at); err != nil {
			return err
		}
		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityCancelled, claims.UserID, map[string]interface{}{
			"reason":            reason,
			"stage":             string(a.Stage),
			"released_entry_id": released,
		}); err != nil {
			return err
		}
		if _, err := s.outbox.EnqueueEvent(ctx, tx, Event{
			TenantID:       tenantID,
			EventType:      entity.EventAssignmentCancelled,
			IdempotencyKey: entity.EventAssignmentCancelled + ":" + a.ID,
			Payload: map[string]interface{}{
				"assignment_id": a.ID,
				"reason":        reason,
			},
		}); err != nil {
			return err
		}

		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityCancelled)
		})
		s.logger.Info("Assignment cancelled",
			zap.String("assignment_id", a.ID),
			zap.Int("released_reservations", len(released)),
		)
		return nil
	})
}

// AddAssigneeInput 添加执行人
type AddAssigneeInput struct {
	UserID string `json:"user_id" binding:"required"`
	Role   string `json:"role"`
}

// AddAssignee 添加执行人，已存在时直接返回
func (s *AssignmentService) AddAssignee(ctx context.Context, claims *capability.Claims, id string, input AddAssigneeInput) (*entity.AssignmentAssignee, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentAssign)
	if err != nil {
		return nil, err
	}

	var assignee *entity.AssignmentAssignee
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		a, err := loadLiveAssignment(ctx, repos, tenantID, id, true)
		if err != nil {
			return err
		}
		user, err := repos.User.FindByID(ctx, tenantID, input.UserID)
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("user", input.UserID)
		}
		if err != nil {
			return err
		}

		existing, err := repos.Assignment.FindAssignee(ctx, a.ID, user.ID)
		if err == nil {
			assignee = existing
			return nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		role := input.Role
		if role == "" {
			role = user.Role
		}
		assignee = &entity.AssignmentAssignee{
			ID:           newID(),
			TenantID:     tenantID,
			AssignmentID: a.ID,
			UserID:       user.ID,
			Role:         role,
			AddedBy:      claims.UserID,
		}
		if err := repos.Assignment.AddAssignee(ctx, assignee); err != nil {
			return err
		}
		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityAssigneeAdded, claims.UserID, map[string]interface{}{
			"user_id": user.ID,
			"role":    role,
		}); err != nil {
			return err
		}
		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityAssigneeAdded)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return assignee, nil
}

// PostMessageInput 留言
type PostMessageInput struct {
	Body string `json:"body" binding:"required"`
}

// PostMessage 发表留言
func (s *AssignmentService) PostMessage(ctx context.Context, claims *capability.Claims, id string, input PostMessageInput) (*entity.AssignmentMessage, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentMessage)
	if err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, apperr.BadInput("message body is required")
	}

	var msg *entity.AssignmentMessage
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		a, err := loadLiveAssignment(ctx, repos, tenantID, id, false)
		if err != nil {
			return err
		}
		msg = &entity.AssignmentMessage{
			ID:           newID(),
			TenantID:     tenantID,
			AssignmentID: a.ID,
			AuthorID:     claims.UserID,
			Body:         body,
		}
		if err := repos.Assignment.CreateMessage(ctx, msg); err != nil {
			return err
		}
		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityMessagePosted, claims.UserID, map[string]interface{}{
			"message_id": msg.ID,
			"audience":   string(claims.Audience),
		}); err != nil {
			return err
		}
		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityMessagePosted)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// CompleteTask 完成任务，重复完成不再记录日志
func (s *AssignmentService) CompleteTask(ctx context.Context, claims *capability.Claims, assignmentID, taskID string) (*entity.AssignmentTask, error) {
	tenantID, err := capability.Require(claims, capability.TaskComplete)
	if err != nil {
		return nil, err
	}

	var task *entity.AssignmentTask
	err = withTx(ctx, s.db, func(tx *gorm.DB, after *afterCommit) error {
		repos := repository.NewRepositories(tx)
		a, err := loadLiveAssignment(ctx, repos, tenantID, assignmentID, true)
		if err != nil {
			return err
		}
		task, err = repos.Task.FindByID(ctx, taskID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && task.AssignmentID != a.ID) {
			return apperr.NotFound("task", taskID)
		}
		if err != nil {
			return err
		}

		at := now()
		done, err := repos.Task.MarkDone(ctx, task.ID, claims.UserID, at)
		if err != nil {
			return err
		}
		if !done {
			return nil
		}
		task.Status = entity.TaskStatusDone
		task.CompletedAt = &at
		task.CompletedBy = &claims.UserID
		task.UpdatedAt = at

		if err := repos.Activity.LogActivity(ctx, tenantID, a.ID, entity.ActivityTaskDone, claims.UserID, map[string]interface{}{
			"task_id": task.ID,
			"kind":    task.Kind,
			"title":   task.Title,
		}); err != nil {
			return err
		}
		after.add(func() {
			s.effects.assignmentUpdate(tenantID, a.ID, entity.ActivityTaskDone)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListActivity 委托操作日志
func (s *AssignmentService) ListActivity(ctx context.Context, claims *capability.Claims, id string, page, pageSize int) ([]entity.AssignmentActivity, int64, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentRead)
	if err != nil {
		return nil, 0, err
	}
	repos := repository.NewRepositories(s.db)
	if _, err := loadLiveAssignment(ctx, repos, tenantID, id, false); err != nil {
		return nil, 0, err
	}
	return repos.Activity.FindByAssignment(ctx, id, page, pageSize)
}

// History 阶段迁移日志与对外状态历史
type History struct {
	Transitions   []entity.AssignmentStageTransition `json:"transitions"`
	StatusHistory []entity.AssignmentStatusHistory   `json:"status_history"`
}

// GetHistory 委托阶段历史
func (s *AssignmentService) GetHistory(ctx context.Context, claims *capability.Claims, id string) (*History, error) {
	tenantID, err := capability.Require(claims, capability.AssignmentRead)
	if err != nil {
		return nil, err
	}
	repos := repository.NewRepositories(s.db)
	if _, err := loadLiveAssignment(ctx, repos, tenantID, id, false); err != nil {
		return nil, err
	}
	transitions, err := repos.Assignment.ListStageTransitions(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := repos.Assignment.ListStatusHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return &History{Transitions: transitions, StatusHistory: history}, nil
}

// applyUpdate 把输入合并到委托上，返回实际变化的列
func applyUpdate(a *entity.Assignment, in UpdateAssignmentInput) (map[string]interface{}, error) {
	changed := map[string]interface{}{}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, apperr.BadInput("title must not be empty")
		}
		if title != a.Title {
			a.Title = title
			changed["title"] = title
		}
	}
	if in.Priority != nil && *in.Priority != a.Priority {
		if !validPriorities[*in.Priority] {
			return nil, apperr.BadInput("unknown priority %q", *in.Priority)
		}
		a.Priority = *in.Priority
		changed["priority"] = a.Priority
	}
	if in.FeeMinor != nil {
		if *in.FeeMinor < 0 {
			return nil, apperr.BadInput("fee_minor must not be negative")
		}
		if a.FeeMinor == nil || *a.FeeMinor != *in.FeeMinor {
			fee := *in.FeeMinor
			a.FeeMinor = &fee
			changed["fee_minor"] = fee
		}
	}
	if in.DueDate != nil && (a.DueDate == nil || !a.DueDate.Equal(*in.DueDate)) {
		due := *in.DueDate
		a.DueDate = &due
		changed["due_date"] = due
	}

	refs := []struct {
		col string
		in  *string
		cur **string
	}{
		{"bank_id", in.BankID, &a.BankID},
		{"branch_id", in.BranchID, &a.BranchID},
		{"client_id", in.ClientID, &a.ClientID},
		{"property_id", in.PropertyID, &a.PropertyID},
		{"contact_id", in.ContactID, &a.ContactID},
		{"channel_id", in.ChannelID, &a.ChannelID},
	}
	for _, ref := range refs {
		if ref.in == nil {
			continue
		}
		next := nonEmpty(ref.in)
		if sameRef(*ref.cur, next) {
			continue
		}
		*ref.cur = next
		if next == nil {
			changed[ref.col] = nil
		} else {
			changed[ref.col] = *next
		}
	}
	return changed, nil
}

// validateReferences 校验委托上的主数据引用：存在于本租户且彼此一致
func validateReferences(ctx context.Context, repos *repository.Repositories, tenantID string, a *entity.Assignment) error {
	md := repos.MasterData

	if a.BankID != nil {
		if _, err := md.FindBank(ctx, tenantID, *a.BankID); err != nil {
			return refError("bank", *a.BankID, err)
		}
	}
	if a.BranchID != nil {
		if a.BankID == nil {
			return apperr.BadInput("branch_id requires bank_id")
		}
		branch, err := md.FindBranch(ctx, tenantID, *a.BranchID)
		if err != nil {
			return refError("branch", *a.BranchID, err)
		}
		if branch.BankID != *a.BankID {
			return apperr.BadInput("branch %s does not belong to bank %s", branch.ID, *a.BankID)
		}
	}
	if a.ClientID != nil {
		if _, err := md.FindClient(ctx, tenantID, *a.ClientID); err != nil {
			return refError("client", *a.ClientID, err)
		}
	}
	if a.PropertyID != nil {
		property, err := md.FindProperty(ctx, tenantID, *a.PropertyID)
		if err != nil {
			return refError("property", *a.PropertyID, err)
		}
		if a.ClientID != nil && property.ClientID != nil && *property.ClientID != *a.ClientID {
			return apperr.BadInput("property %s does not belong to client %s", property.ID, *a.ClientID)
		}
	}
	if a.ContactID != nil {
		if a.ClientID == nil {
			return apperr.BadInput("contact_id requires client_id")
		}
		contact, err := md.FindContact(ctx, tenantID, *a.ContactID)
		if err != nil {
			return refError("contact", *a.ContactID, err)
		}
		if contact.ClientID == nil || *contact.ClientID != *a.ClientID {
			return apperr.BadInput("contact %s does not belong to client %s", contact.ID, *a.ClientID)
		}
	}
	if a.ChannelID != nil {
		if _, err := md.FindChannel(ctx, tenantID, *a.ChannelID); err != nil {
			return refError("channel", *a.ChannelID, err)
		}
	}
	return nil
}

func refError(kind, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(kind, id)
	}
	return err
}

func nonEmpty(v *string) *string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil
	}
	s := strings.TrimSpace(*v)
	return &s
}

func sameRef(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// assignmentCode 委托编号 ASG-YYYYMMDD-XXXXXX
func assignmentCode(at time.Time) string {
	return fmt.Sprintf("ASG-%s-%s", at.Format("20060102"), strings.ToUpper(newID()[:6]))
}
