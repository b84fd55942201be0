package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TestSchema = "test_zenops"
	JWTSecret  = "zenops-test-jwt-secret"
)

var schemaSeq int64

// projectRoot 向上查找 go.mod 所在目录
func projectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	dir := filepath.Dir(filename)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func loadEnv() {
	if root := projectRoot(); root != "" {
		godotenv.Load(filepath.Join(root, ".env"))
	}
}

// SetupTestDB 每个测试使用独立 schema，测试结束后删除。数据库不可达时跳过测试
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	loadEnv()

	host := getEnv("DB_HOST", "127.0.0.1")
	port := getEnv("DB_PORT", "5432")
	user := getEnv("DB_USER", "zenops")
	password := getEnv("DB_PASSWORD", "zenops")
	dbname := getEnv("DB_NAME", "zenops")

	baseDSN := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	schemaName := fmt.Sprintf("%s_%d_%d", TestSchema, time.Now().UnixNano()%1000000, atomic.AddInt64(&schemaSeq, 1))

	setupDB, err := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Skipf("postgres not reachable, skipping: %v", err)
	}
	if err := setupDB.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schemaName)).Error; err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}
	sqlSetup, _ := setupDB.DB()
	sqlSetup.Close()

	// search_path 写进 DSN，连接池里的每个连接都落在测试 schema
	testDSN := fmt.Sprintf("%s search_path=%s", baseDSN, schemaName)
	db, err := gorm.Open(postgres.Open(testDSN), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	if err := db.AutoMigrate(entity.AllModels()...); err != nil {
		t.Fatalf("Failed to migrate test tables: %v", err)
	}

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		cleanDB, cleanErr := gorm.Open(postgres.Open(baseDSN), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if cleanErr == nil {
			cleanDB.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
			if sqlClean, _ := cleanDB.DB(); sqlClean != nil {
				sqlClean.Close()
			}
		}
	})

	return db
}

// SetupRouter 测试用 gin 路由
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return r
}

// InternalClaims 内部员工身份，持有全部能力
func InternalClaims(tenantID, userID string) *capability.Claims {
	return &capability.Claims{
		UserID:       userID,
		Name:         "Test Staff",
		Audience:     capability.AudienceInternal,
		TenantID:     tenantID,
		Roles:        []string{entity.RoleOps},
		Capabilities: []string{string(capability.Wildcard)},
	}
}

// ClaimsWith 指定受众与能力的身份
func ClaimsWith(audience capability.Audience, tenantID, userID string, caps ...capability.Capability) *capability.Claims {
	c := &capability.Claims{
		UserID:   userID,
		Audience: audience,
		TenantID: tenantID,
	}
	if audience == capability.AudiencePartner {
		c.PartnerTenantID = tenantID
	}
	for _, cp := range caps {
		c.Capabilities = append(c.Capabilities, string(cp))
	}
	return c
}

// GenerateTestToken 生成测试 JWT
func GenerateTestToken(userID, tenantID string, audience capability.Audience, caps []string) string {
	if caps == nil {
		caps = []string{}
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       userID,
		"uid":       userID,
		"name":      "Test " + userID,
		"audience":  string(audience),
		"tenant_id": tenantID,
		"roles":     []string{entity.RoleOps},
		"caps":      caps,
		"iss":       "zenops",
		"iat":       now.Unix(),
		"exp":       now.Add(24 * time.Hour).Unix(),
		"jti":       fmt.Sprintf("test-jti-%d", now.UnixNano()),
	}
	if audience == capability.AudiencePartner {
		claims["partner_tenant_id"] = tenantID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, _ := token.SignedString([]byte(JWTSecret))
	return tokenString
}

// DefaultTestToken 内部员工通配符 token
func DefaultTestToken(tenantID string) string {
	return GenerateTestToken("test-user-001", tenantID, capability.AudienceInternal, []string{"*"})
}

// DoRequest 对测试路由发起请求
func DoRequest(r *gin.Engine, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ParseResponse 解析响应体
func ParseResponse(w *httptest.ResponseRecorder) map[string]interface{} {
	var result map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &result)
	return result
}

// NewTenantID 生成隔离的租户ID
func NewTenantID() string {
	return "tenant-" + uuid.New().String()[:8]
}

// SeedUser 创建租户用户
func SeedUser(t *testing.T, db *gorm.DB, tenantID, id, role string) *entity.User {
	t.Helper()
	user := &entity.User{
		ID:       id,
		TenantID: tenantID,
		Name:     "User " + id,
		Email:    id + "@test.local",
		Role:     role,
		Status:   "active",
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to seed user: %v", err)
	}
	return user
}

// SeedAssignment 创建处于指定阶段的委托
func SeedAssignment(t *testing.T, db *gorm.DB, tenantID string, stage lifecycle.Stage) *entity.Assignment {
	t.Helper()
	id := uuid.New().String()
	a := &entity.Assignment{
		ID:        id,
		TenantID:  tenantID,
		Code:      "ASG-TEST-" + id[:6],
		Title:     "Valuation " + id[:6],
		Stage:     stage,
		Status:    string(stage.Status()),
		Priority:  entity.PriorityNormal,
		CreatedBy: "test-user-001",
	}
	if err := db.Create(a).Error; err != nil {
		t.Fatalf("Failed to seed assignment: %v", err)
	}
	return a
}

// SeedReportRequest 创建报告申请，assignmentID 为空时不关联委托
func SeedReportRequest(t *testing.T, db *gorm.DB, tenantID, assignmentID, source string) *entity.ReportRequest {
	t.Helper()
	rr := &entity.ReportRequest{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Source:      source,
		Status:      entity.ReportRequestStatusRequested,
		RequestedBy: "test-user-001",
	}
	if assignmentID != "" {
		rr.AssignmentID = &assignmentID
	}
	if err := db.Create(rr).Error; err != nil {
		t.Fatalf("Failed to seed report request: %v", err)
	}
	return rr
}

// SeedRecord 写入任意主数据记录
func SeedRecord(t *testing.T, db *gorm.DB, record interface{}) {
	t.Helper()
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("Failed to seed %T: %v", record, err)
	}
}

// Count 统计满足条件的行数
func Count(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Where(query, args...).Count(&n).Error; err != nil {
		t.Fatalf("Failed to count %T: %v", model, err)
	}
	return n
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
