package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/bitfantasy/zenops/internal/middleware"
	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/service"
	"github.com/bitfantasy/zenops/internal/ops/sse"
	"github.com/bitfantasy/zenops/internal/shared/apperr"
	"github.com/gin-gonic/gin"
)

// Handlers 处理器集合
type Handlers struct {
	Assignment *AssignmentHandler
	Report     *ReportHandler
	SSE        *SSEHandler
}

// NewHandlers 创建处理器集合
func NewHandlers(svc *service.Services, hub *sse.Hub) *Handlers {
	return &Handlers{
		Assignment: NewAssignmentHandler(svc.Assignment, svc.Stage),
		Report:     NewReportHandler(svc.Report),
		SSE:        NewSSEHandler(hub),
	}
}

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ListResponse 列表响应结构
type ListResponse struct {
	Items      interface{} `json:"items"`
	Pagination *Pagination `json:"pagination"`
}

// Pagination 分页信息
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 创建成功响应
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int, message string) {
	ErrorWithData(c, code, message, nil)
}

// ErrorWithData 带诊断信息的错误响应
func ErrorWithData(c *gin.Context, code int, message string, data interface{}) {
	statusCode := code / 100
	if statusCode < 100 || statusCode > 599 {
		statusCode = http.StatusInternalServerError
	}
	c.JSON(statusCode, Response{
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// BadRequest 参数错误响应
func BadRequest(c *gin.Context, message string) {
	Error(c, 40000, message)
}

// Forbidden 禁止访问响应
func Forbidden(c *gin.Context, message string) {
	Error(c, 40300, message)
}

// NotFound 资源不存在响应
func NotFound(c *gin.Context, message string) {
	Error(c, 40400, message)
}

// InternalError 服务器错误响应
func InternalError(c *gin.Context, message string) {
	Error(c, 50000, message)
}

// 业务错误类别到响应码
var kindCodes = map[apperr.Kind]int{
	apperr.KindBadInput:          40000,
	apperr.KindForbidden:         40300,
	apperr.KindNotFound:          40400,
	apperr.KindIllegalTransition: 40900,
	apperr.KindConflict:          40901,
}

// HandleError 把服务层错误转换为响应，非业务错误按 500 处理
func HandleError(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		code, ok := kindCodes[appErr.Kind]
		if !ok {
			code = 50000
		}
		var data interface{}
		if len(appErr.Details) > 0 {
			data = appErr.Details
		}
		ErrorWithData(c, code, appErr.Message, data)
		return
	}
	InternalError(c, err.Error())
}

// GetClaims 从上下文获取调用方身份
func GetClaims(c *gin.Context) *capability.Claims {
	return middleware.GetClaims(c)
}

// GetRequestID 当前请求ID
func GetRequestID(c *gin.Context) string {
	return c.GetString("request_id")
}

// GetPagination 从请求获取分页参数
func GetPagination(c *gin.Context) (page, pageSize int) {
	page = 1
	pageSize = 20

	if p := c.Query("page"); p != "" {
		if v, err := strconv.Atoi(p); err == nil && v > 0 {
			page = v
		}
	}

	if ps := c.Query("page_size"); ps != "" {
		if v, err := strconv.Atoi(ps); err == nil && v > 0 && v <= 100 {
			pageSize = v
		}
	}

	return page, pageSize
}

func newPagination(page, pageSize int, total int64) *Pagination {
	totalPages := int(total) / pageSize
	if int(total)%pageSize != 0 {
		totalPages++
	}
	return &Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      int(total),
		TotalPages: totalPages,
	}
}
