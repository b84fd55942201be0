// Package capability 能力校验：根据调用方已验证的身份解析租户并判断是否允许某操作。
// 所有函数都是 Claims 的纯函数。
package capability

import (
	"github.com/bitfantasy/zenops/internal/shared/apperr"
)

// Audience 调用方来源
type Audience string

const (
	AudienceInternal Audience = "internal" // 内部员工
	AudiencePortal   Audience = "portal"   // 客户门户
	AudiencePartner  Audience = "partner"  // 渠道合作方
)

// Capability 操作能力
type Capability string

const (
	AssignmentCreate     Capability = "assignment.create"
	AssignmentRead       Capability = "assignment.read"
	AssignmentUpdate     Capability = "assignment.update"
	AssignmentTransition Capability = "assignment.transition"
	AssignmentCancel     Capability = "assignment.cancel"
	AssignmentAssign     Capability = "assignment.assign"
	AssignmentMessage    Capability = "assignment.message"
	TaskComplete         Capability = "task.complete"
	ReportRequest        Capability = "report.request"
	ReportQueue          Capability = "report.queue"
	ReportFinalize       Capability = "report.finalize"
	ReportReject         Capability = "report.reject"
	LedgerRead           Capability = "ledger.read"
	EventsSubscribe      Capability = "events.subscribe" // 租户级事件流，仅内部受众

	Wildcard Capability = "*"
)

// 外部受众即使持有通配符也只能执行白名单内的操作
var audienceAllow = map[Audience]map[Capability]bool{
	AudiencePortal: {
		AssignmentRead:    true,
		AssignmentMessage: true,
		ReportRequest:     true,
	},
	AudiencePartner: {
		AssignmentCreate:  true,
		AssignmentRead:    true,
		AssignmentMessage: true,
		ReportRequest:     true,
	},
}

// Claims 已验证的调用方身份
type Claims struct {
	UserID          string
	Name            string
	Audience        Audience
	TenantID        string
	PartnerTenantID string
	Roles           []string
	Capabilities    []string
}

// ResolveTenant 解析调用方代表的租户
func ResolveTenant(c *Claims) (string, error) {
	if c == nil {
		return "", apperr.CrossTenant()
	}
	var tenantID string
	switch c.Audience {
	case AudienceInternal, AudiencePortal, "":
		tenantID = c.TenantID
	case AudiencePartner:
		tenantID = c.PartnerTenantID
	}
	if tenantID == "" {
		return "", apperr.CrossTenant()
	}
	return tenantID, nil
}

// HasCapability 调用方是否具备某能力
func HasCapability(c *Claims, capability Capability) bool {
	if c == nil {
		return false
	}
	if allow, restricted := audienceAllow[c.Audience]; restricted && !allow[capability] {
		return false
	}
	for _, p := range c.Capabilities {
		if Capability(p) == capability || Capability(p) == Wildcard {
			return true
		}
	}
	return false
}

// Require 操作入口守卫：校验能力并返回调用方租户
func Require(c *Claims, capability Capability) (string, error) {
	if !HasCapability(c, capability) {
		return "", apperr.Forbidden(string(capability))
	}
	return ResolveTenant(c)
}

// SameTenant 拒绝跨租户访问
func SameTenant(callerTenant, ownerTenant string) error {
	if callerTenant == "" || callerTenant != ownerTenant {
		return apperr.CrossTenant()
	}
	return nil
}

// HasRole 调用方是否具备某角色
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
