package entity

import "time"

// 用户角色
const (
	RoleOps     = "ops"
	RoleFieldQC = "qc"
	RoleAdmin   = "admin"
)

// User 租户用户
type User struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	Name      string     `json:"name" gorm:"size:64;not null"`
	Email     string     `json:"email" gorm:"size:128"`
	Role      string     `json:"role" gorm:"size:32;not null;index"`
	Status    string     `json:"status" gorm:"size:16;not null;default:active"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (User) TableName() string {
	return "users"
}

// Bank 银行
type Bank struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	Name      string     `json:"name" gorm:"size:128;not null"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Bank) TableName() string {
	return "banks"
}

// Branch 银行网点，必须属于某个银行
type Branch struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	BankID    string     `json:"bank_id" gorm:"size:36;not null;index"`
	Name      string     `json:"name" gorm:"size:128;not null"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Branch) TableName() string {
	return "branches"
}

// Client 客户
type Client struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	Name      string     `json:"name" gorm:"size:128;not null"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Client) TableName() string {
	return "clients"
}

// Property 标的物业
type Property struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	ClientID  *string    `json:"client_id" gorm:"size:36"`
	Address   string     `json:"address" gorm:"type:text"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Property) TableName() string {
	return "properties"
}

// Contact 客户联系人
type Contact struct {
	ID        string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID  string     `json:"tenant_id" gorm:"size:36;not null;index"`
	ClientID  *string    `json:"client_id" gorm:"size:36"`
	Name      string     `json:"name" gorm:"size:128;not null"`
	Phone     string     `json:"phone" gorm:"size:32"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at" gorm:"index"`
}

func (Contact) TableName() string {
	return "contacts"
}

// Channel 渠道合作方
type Channel struct {
	ID              string     `json:"id" gorm:"primaryKey;size:36"`
	TenantID        string     `json:"tenant_id" gorm:"size:36;not null;index"`
	PartnerTenantID string     `json:"partner_tenant_id" gorm:"size:36"`
	Name            string     `json:"name" gorm:"size:128;not null"`
	CreatedAt       time.Time  `json:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at" gorm:"index"`
}

func (Channel) TableName() string {
	return "channels"
}
