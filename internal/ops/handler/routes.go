package handler

import (
	"github.com/bitfantasy/zenops/internal/middleware"
	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册 /api/v1 业务路由
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string) {
	v1 := r.Group("/api/v1")
	v1.Use(middleware.JWTAuth(jwtSecret))
	{
		assignments := v1.Group("/assignments")
		{
			assignments.POST("", h.Assignment.Create)
			assignments.GET("", h.Assignment.List)
			assignments.GET("/:id", h.Assignment.Get)
			assignments.PATCH("/:id", h.Assignment.Update)
			assignments.POST("/:id/transition", h.Assignment.Transition)
			assignments.POST("/:id/cancel", h.Assignment.Cancel)
			assignments.POST("/:id/assignees", h.Assignment.AddAssignee)
			assignments.POST("/:id/messages", h.Assignment.PostMessage)
			assignments.POST("/:id/tasks/:taskId/done", h.Assignment.CompleteTask)
			assignments.GET("/:id/activity", h.Assignment.ListActivity)
			assignments.GET("/:id/history", h.Assignment.History)
		}

		reports := v1.Group("/report-requests")
		{
			reports.POST("", h.Report.Create)
			reports.POST("/:id/queue", h.Report.Queue)
			reports.POST("/:id/finalize", h.Report.Finalize)
			reports.POST("/:id/reject", h.Report.Reject)
			reports.GET("/:id/ledger", h.Report.Ledger)
		}

		v1.GET("/ledger/export", h.Report.ExportLedger)
		v1.GET("/events", middleware.RequireCapability(capability.EventsSubscribe), h.SSE.Stream)
	}
}
