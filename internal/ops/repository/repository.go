package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 错误定义
var (
	ErrNotFound = errors.New("record not found")
)

// pgUniqueViolation postgres SQLSTATE unique_violation
const pgUniqueViolation = "23505"

// forUpdate 行级锁
var forUpdate = clause.Locking{Strength: "UPDATE"}

// Repositories 仓库集合。传入的 db 可以是事务句柄，集合内所有仓库共享同一事务
type Repositories struct {
	Assignment *AssignmentRepository
	Task       *TaskRepository
	Activity   *ActivityRepository
	Ledger     *LedgerRepository
	Report     *ReportRepository
	Billing    *BillingRepository
	Outbox     *OutboxRepository
	MasterData *MasterDataRepository
	User       *UserRepository
	Signal     *SignalRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Assignment: NewAssignmentRepository(db),
		Task:       NewTaskRepository(db),
		Activity:   NewActivityRepository(db),
		Ledger:     NewLedgerRepository(db),
		Report:     NewReportRepository(db),
		Billing:    NewBillingRepository(db),
		Outbox:     NewOutboxRepository(db),
		MasterData: NewMasterDataRepository(db),
		User:       NewUserRepository(db),
		Signal:     NewSignalRepository(db),
	}
}

// IsUniqueViolation 是否为唯一约束冲突（幂等键碰撞）
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
