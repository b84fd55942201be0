// Package entity 委托生命周期与计费流水的持久化模型
package entity

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Bank{},
		&Branch{},
		&Client{},
		&Property{},
		&Contact{},
		&Channel{},
		&Assignment{},
		&AssignmentAssignee{},
		&AssignmentTask{},
		&AssignmentMessage{},
		&AssignmentActivity{},
		&AssignmentStageTransition{},
		&AssignmentStatusHistory{},
		&AssignmentSignal{},
		&ReportRequest{},
		&ReportJob{},
		&CreditLedgerEntry{},
		&Invoice{},
		&InvoiceLine{},
		&NotificationOutbox{},
	}
}
