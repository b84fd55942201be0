package entity

import "time"

// 账单状态
const (
	InvoiceStatusDraft = "draft"
)

// Invoice 租户月度账单（草稿期间累计用量行）
type Invoice struct {
	ID         string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID   string    `json:"tenant_id" gorm:"size:36;not null;uniqueIndex:uq_invoice_period"`
	Period     string    `json:"period" gorm:"size:7;not null;uniqueIndex:uq_invoice_period"` // YYYY-MM
	Status     string    `json:"status" gorm:"size:16;not null;default:draft"`
	Currency   string    `json:"currency" gorm:"size:8;not null"`
	TotalMinor int64     `json:"total_minor" gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	Lines []InvoiceLine `json:"lines,omitempty" gorm:"foreignKey:InvoiceID"`
}

func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceLine 报告用量行，每个报告申请最多一行
type InvoiceLine struct {
	ID              string    `json:"id" gorm:"primaryKey;size:36"`
	TenantID        string    `json:"tenant_id" gorm:"size:36;not null;uniqueIndex:uq_invoice_line_report"`
	InvoiceID       string    `json:"invoice_id" gorm:"size:36;not null;index"`
	ReportRequestID string    `json:"report_request_id" gorm:"size:36;not null;uniqueIndex:uq_invoice_line_report"`
	AssignmentID    *string   `json:"assignment_id" gorm:"size:36"`
	Quantity        int       `json:"quantity" gorm:"not null;default:1"`
	UnitPriceMinor  int64     `json:"unit_price_minor" gorm:"not null"`
	AmountMinor     int64     `json:"amount_minor" gorm:"not null"`
	CreatedAt       time.Time `json:"created_at"`
}

func (InvoiceLine) TableName() string {
	return "invoice_lines"
}
