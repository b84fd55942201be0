// Package apperr 业务错误分类。所有错误在事务内同步抛出并导致整体回滚，
// 由 handler 层映射为对调用方可见的结构化响应。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误类别
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindIllegalTransition Kind = "illegal_transition"
	KindConflict          Kind = "conflict"
	KindBadInput          Kind = "bad_input"
)

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	return e.Message
}

// Is 同类别的错误视为相等，方便 errors.Is(err, apperr.ErrNotFound) 判断
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// 类别哨兵，仅用于 errors.Is 比较
var (
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrForbidden         = &Error{Kind: KindForbidden}
	ErrIllegalTransition = &Error{Kind: KindIllegalTransition}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrBadInput          = &Error{Kind: KindBadInput}
)

// NotFound 实体不存在或已软删除
func NotFound(entity, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %s not found", entity, id),
		Details: map[string]string{"entity": entity, "id": id},
	}
}

// Forbidden 缺少能力时只暴露所需的能力名
func Forbidden(capability string) *Error {
	return &Error{
		Kind:    KindForbidden,
		Message: fmt.Sprintf("missing capability %s", capability),
		Details: map[string]string{"capability": capability},
	}
}

// CrossTenant 跨租户写入
func CrossTenant() *Error {
	return &Error{
		Kind:    KindForbidden,
		Message: "cross-tenant access denied",
	}
}

// IllegalTransition 阶段迁移不在迁移表中
func IllegalTransition(from, to string) *Error {
	return &Error{
		Kind:    KindIllegalTransition,
		Message: fmt.Sprintf("illegal stage transition %s -> %s", from, to),
		Details: map[string]string{"from_stage": from, "to_stage": to},
	}
}

// Conflict 乐观前置条件不匹配
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// BadInput 参数错误
func BadInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBadInput, Message: fmt.Sprintf(format, args...)}
}

// KindOf 提取错误类别，非业务错误返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
