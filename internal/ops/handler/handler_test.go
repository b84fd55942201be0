package handler

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/bitfantasy/zenops/internal/config"
	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/bitfantasy/zenops/internal/ops/entity"
	"github.com/bitfantasy/zenops/internal/ops/lifecycle"
	"github.com/bitfantasy/zenops/internal/ops/service"
	"github.com/bitfantasy/zenops/internal/ops/sse"
	"github.com/bitfantasy/zenops/internal/ops/testutil"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type handlerEnv struct {
	router   *gin.Engine
	db       *gorm.DB
	tenantID string
	token    string
}

func setupHandlerTest(t *testing.T) *handlerEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Billing.UnitPriceMinor = 250000
	cfg.Billing.Currency = "INR"

	hub := sse.NewHub(nil)
	svc := service.NewServices(db, nil, hub, nil, cfg)
	r := testutil.SetupRouter()
	RegisterRoutes(r, NewHandlers(svc, hub), testutil.JWTSecret)

	tenantID := testutil.NewTenantID()
	return &handlerEnv{
		router:   r,
		db:       db,
		tenantID: tenantID,
		token:    testutil.DefaultTestToken(tenantID),
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/assignments", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
	w = testutil.DoRequest(env.router, "GET", "/api/v1/assignments", nil, "not-a-jwt")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", w.Code)
	}
}

func TestHandler_CreateAndTransition(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/assignments", map[string]interface{}{
		"title": "Plot 44 valuation",
	}, env.token)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	data := resp["data"].(map[string]interface{})
	id := data["id"].(string)
	if data["stage"] != string(lifecycle.StageDraftCreated) {
		t.Fatalf("unexpected stage %v", data["stage"])
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/assignments/"+id+"/transition", map[string]interface{}{
		"stage": string(lifecycle.StageDataCollected),
	}, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("transition: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["stage"] != string(lifecycle.StageDataCollected) {
		t.Fatalf("unexpected stage after transition %v", data["stage"])
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/assignments/"+id+"/history", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", w.Code)
	}
	data = testutil.ParseResponse(w)["data"].(map[string]interface{})
	if n := len(data["transitions"].([]interface{})); n != 1 {
		t.Fatalf("expected 1 transition, got %d", n)
	}
}

func TestHandler_IllegalTransitionIs409(t *testing.T) {
	env := setupHandlerTest(t)
	a := testutil.SeedAssignment(t, env.db, env.tenantID, lifecycle.StageDraftCreated)

	w := testutil.DoRequest(env.router, "POST", "/api/v1/assignments/"+a.ID+"/transition", map[string]interface{}{
		"stage": string(lifecycle.StagePaid),
	}, env.token)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	resp := testutil.ParseResponse(w)
	if resp["code"].(float64) != 40900 {
		t.Fatalf("expected code 40900, got %v", resp["code"])
	}
	details := resp["data"].(map[string]interface{})
	if details["from_stage"] != string(lifecycle.StageDraftCreated) || details["to_stage"] != string(lifecycle.StagePaid) {
		t.Fatalf("unexpected details %v", details)
	}

	w = testutil.DoRequest(env.router, "POST", "/api/v1/assignments/"+a.ID+"/transition", map[string]interface{}{}, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without target, got %d", w.Code)
	}
}

func TestHandler_MissingCapabilityIs403(t *testing.T) {
	env := setupHandlerTest(t)
	a := testutil.SeedAssignment(t, env.db, env.tenantID, lifecycle.StageDraftCreated)
	token := testutil.GenerateTestToken("client-1", env.tenantID, capability.AudiencePortal, []string{"*"})

	w := testutil.DoRequest(env.router, "POST", "/api/v1/assignments/"+a.ID+"/transition", map[string]interface{}{
		"stage": string(lifecycle.StageDataCollected),
	}, token)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
	details := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if details["capability"] != string(capability.AssignmentTransition) {
		t.Fatalf("expected capability detail, got %v", details)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/assignments/"+a.ID, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("portal read: expected 200, got %d", w.Code)
	}
}

func TestHandler_EventStreamIsInternalOnly(t *testing.T) {
	env := setupHandlerTest(t)

	for _, aud := range []capability.Audience{capability.AudiencePortal, capability.AudiencePartner} {
		token := testutil.GenerateTestToken("ext-1", env.tenantID, aud, []string{"*"})
		w := testutil.DoRequest(env.router, "GET", "/api/v1/events", nil, token)
		if w.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d: %s", aud, w.Code, w.Body.String())
		}
		details := testutil.ParseResponse(w)["data"].(map[string]interface{})
		if details["capability"] != string(capability.EventsSubscribe) {
			t.Fatalf("%s: expected capability detail, got %v", aud, details)
		}
	}

	staff := testutil.GenerateTestToken("staff-1", env.tenantID, capability.AudienceInternal, []string{string(capability.AssignmentRead)})
	w := testutil.DoRequest(env.router, "GET", "/api/v1/events", nil, staff)
	if w.Code != http.StatusForbidden {
		t.Fatalf("staff without events.subscribe: expected 403, got %d", w.Code)
	}
}

func TestHandler_NotFoundIs404(t *testing.T) {
	env := setupHandlerTest(t)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/assignments/missing", nil, env.token)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestHandler_QueueAndFinalize(t *testing.T) {
	env := setupHandlerTest(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	base := fmt.Sprintf("/api/v1/report-requests/%s", rr.ID)

	w := testutil.DoRequest(env.router, "POST", base+"/queue", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("queue: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	data := testutil.ParseResponse(w)["data"].(map[string]interface{})
	if data["already_queued"] != false || data["report_job_id"] == "" {
		t.Fatalf("unexpected queue result %v", data)
	}

	for i, wantCreated := range []bool{true, false} {
		w = testutil.DoRequest(env.router, "POST", base+"/finalize", nil, env.token)
		if w.Code != http.StatusOK {
			t.Fatalf("finalize %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
		data = testutil.ParseResponse(w)["data"].(map[string]interface{})
		if data["created_invoice_line"] != wantCreated {
			t.Fatalf("finalize %d: expected created_invoice_line=%v, got %v", i, wantCreated, data["created_invoice_line"])
		}
	}

	w = testutil.DoRequest(env.router, "POST", base+"/queue", nil, env.token)
	if w.Code != http.StatusConflict {
		t.Fatalf("queue after finalize: expected 409, got %d", w.Code)
	}

	w = testutil.DoRequest(env.router, "GET", base+"/ledger", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("ledger: expected 200, got %d", w.Code)
	}
	items := testutil.ParseResponse(w)["data"].(map[string]interface{})["items"].([]interface{})
	if len(items) != 1 || items[0].(map[string]interface{})["status"] != entity.LedgerStatusConsumed {
		t.Fatalf("unexpected ledger %v", items)
	}
}

func TestHandler_ExportLedger(t *testing.T) {
	env := setupHandlerTest(t)
	rr := testutil.SeedReportRequest(t, env.db, env.tenantID, "", entity.ReportSourceInternal)
	testutil.DoRequest(env.router, "POST", "/api/v1/report-requests/"+rr.ID+"/queue", nil, env.token)

	w := testutil.DoRequest(env.router, "GET", "/api/v1/ledger/export", nil, env.token)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %s", ct)
	}

	w = testutil.DoRequest(env.router, "GET", "/api/v1/ledger/export?from=yesterday", nil, env.token)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestParseRange(t *testing.T) {
	from, to, err := parseRange("2026-03-01", "2026-03-15")
	if err != nil {
		t.Fatal(err)
	}
	if from.Format("2006-01-02") != "2026-03-01" || to.Format("2006-01-02") != "2026-03-15" {
		t.Fatalf("unexpected range %s - %s", from, to)
	}

	from, to, err = parseRange("", "")
	if err != nil {
		t.Fatal(err)
	}
	if from.Day() != 1 || to.Sub(from).Hours() < 24*28 {
		t.Fatalf("default range should cover the current month, got %s - %s", from, to)
	}
}
