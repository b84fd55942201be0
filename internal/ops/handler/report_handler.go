package handler

import (
	"time"

	"github.com/bitfantasy/zenops/internal/ops/service"
	"github.com/gin-gonic/gin"
)

// ReportHandler 报告申请处理器
type ReportHandler struct {
	svc *service.ReportService
}

// NewReportHandler 创建报告申请处理器
func NewReportHandler(svc *service.ReportService) *ReportHandler {
	return &ReportHandler{svc: svc}
}

// Create 创建报告申请
// POST /api/v1/report-requests
func (h *ReportHandler) Create(c *gin.Context) {
	var req service.CreateReportRequestInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "参数错误: "+err.Error())
		return
	}
	rr, err := h.svc.CreateRequest(c.Request.Context(), GetClaims(c), req)
	if err != nil {
		HandleError(c, err)
		return
	}
	Created(c, rr)
}

// Queue 报告排队
// POST /api/v1/report-requests/:id/queue
func (h *ReportHandler) Queue(c *gin.Context) {
	result, err := h.svc.QueueDraft(c.Request.Context(), GetClaims(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}

// Finalize 报告定稿
// POST /api/v1/report-requests/:id/finalize
func (h *ReportHandler) Finalize(c *gin.Context) {
	result, err := h.svc.Finalize(c.Request.Context(), GetClaims(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, result)
}

// Reject 拒绝合作方报告申请
// POST /api/v1/report-requests/:id/reject
func (h *ReportHandler) Reject(c *gin.Context) {
	var req struct {
		Note string `json:"note"`
	}
	_ = c.ShouldBindJSON(&req)
	rr, err := h.svc.RejectPartnerRequest(c.Request.Context(), GetClaims(c), c.Param("id"), req.Note)
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, rr)
}

// Ledger 报告申请的额度流水
// GET /api/v1/report-requests/:id/ledger
func (h *ReportHandler) Ledger(c *gin.Context) {
	items, err := h.svc.ListLedger(c.Request.Context(), GetClaims(c), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	Success(c, gin.H{"items": items})
}

// ExportLedger 导出额度流水
// GET /api/v1/ledger/export?from=2026-01-01&to=2026-02-01
func (h *ReportHandler) ExportLedger(c *gin.Context) {
	from, to, err := parseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		BadRequest(c, "日期格式错误: "+err.Error())
		return
	}

	f, filename, err := h.svc.ExportLedger(c.Request.Context(), GetClaims(c), from, to)
	if err != nil {
		HandleError(c, err)
		return
	}
	defer f.Close()

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=\""+filename+"\"")
	c.Header("Content-Transfer-Encoding", "binary")

	if err := f.Write(c.Writer); err != nil {
		InternalError(c, "write excel: "+err.Error())
		return
	}
}

// parseRange 默认导出当月
func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	if fromStr != "" {
		v, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = v
		if toStr == "" {
			to = from.AddDate(0, 1, 0)
		}
	}
	if toStr != "" {
		v, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = v
	}
	return from, to, nil
}
