package handler

import (
	"github.com/bitfantasy/zenops/internal/ops/service"
	"github.com/gin-gonic/gin"
)

// AssignmentHandler 委托处理器
type AssignmentHandler struct {
	svc   *service.AssignmentService
	stage *service.StageService
}

// NewAssignmentHandler 创建委托处理器
func NewAssignmentHandler(svc *service.AssignmentService, stage *service.StageService) *AssignmentHandler {
	return &AssignmentHandler{svc: svc, stage: stage}
}

// Create 委托录入
// POST /api/v1/assignments
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req service.CreateAssignmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	detail, err := h.svc.Create(c.Request.Context(), GetClaims(c), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, detail)
}

// List 委托列表
// GET /api/v1/assignments?stage=&status=&priority=
func (h *AssignmentHandler) List(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.List(c.Request.Context(), GetClaims(c), service.ListAssignmentsFilter{
		Stage:    c.Query("stage"),
		Status:   c.Query("status"),
		Priority: c.Query("priority"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// Get 委托详情
// GET /api/v1/assignments/:id
func (h *AssignmentHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), GetClaims(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, detail)
}

// Update 更新委托字段
// PATCH /api/v1/assignments/:id
func (h *AssignmentHandler) Update(c *gin.Context) {
	var req service.UpdateAssignmentInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	detail, err := h.svc.Update(c.Request.Context(), GetClaims(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, detail)
}

// Transition 阶段迁移
// POST /api/v1/assignments/:id/transition
func (h *AssignmentHandler) Transition(c *gin.Context) {
	var req service.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	req.CorrelationID = GetRequestID(c)
	detail, err := h.stage.Transition(c.Request.Context(), GetClaims(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, detail)
}

// Cancel 取消委托
// POST /api/v1/assignments/:id/cancel
func (h *AssignmentHandler) Cancel(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := h.svc.Cancel(c.Request.Context(), GetClaims(c), c.Param("id"), req.Reason); err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"id": c.Param("id"), "cancelled": true})
}

// AddAssignee 添加执行人
// POST /api/v1/assignments/:id/assignees
func (h *AssignmentHandler) AddAssignee(c *gin.Context) {
	var req service.AddAssigneeInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	assignee, err := h.svc.AddAssignee(c.Request.Context(), GetClaims(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, assignee)
}

// PostMessage 发表留言
// POST /api/v1/assignments/:id/messages
func (h *AssignmentHandler) PostMessage(c *gin.Context) {
	var req service.PostMessageInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	msg, err := h.svc.PostMessage(c.Request.Context(), GetClaims(c), c.Param("id"), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, msg)
}

// CompleteTask 完成任务
// POST /api/v1/assignments/:id/tasks/:taskId/done
func (h *AssignmentHandler) CompleteTask(c *gin.Context) {
	task, err := h.svc.CompleteTask(c.Request.Context(), GetClaims(c), c.Param("id"), c.Param("taskId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, task)
}

// ListActivity 操作日志
// GET /api/v1/assignments/:id/activity
func (h *AssignmentHandler) ListActivity(c *gin.Context) {
	page, pageSize := GetPagination(c)
	items, total, err := h.svc.ListActivity(c.Request.Context(), GetClaims(c), c.Param("id"), page, pageSize)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, ListResponse{Items: items, Pagination: newPagination(page, pageSize, total)})
}

// History 阶段迁移历史
// GET /api/v1/assignments/:id/history
func (h *AssignmentHandler) History(c *gin.Context) {
	history, err := h.svc.GetHistory(c.Request.Context(), GetClaims(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, history)
}
