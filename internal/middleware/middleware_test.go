package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "middleware-test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"uid":       "user-1",
		"name":      "Asha",
		"audience":  "portal",
		"tenant_id": "tenant-1",
		"caps":      []string{"*"},
		"exp":       time.Now().Add(time.Hour).Unix(),
	}
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID())
	r.GET("/me", JWTAuth(testSecret), func(c *gin.Context) {
		claims := GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"user": claims.UserID, "audience": string(claims.Audience), "tenant": claims.TenantID})
	})
	r.GET("/transition", JWTAuth(testSecret), RequireCapability(capability.AssignmentTransition), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func serve(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	r := newRouter()
	good := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())

	if w := serve(r, "/me", good); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	// SSE 通过 query 传 token
	if w := serve(r, "/me?token="+good, ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", w.Code)
	}

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), validClaims())
	noUser := validClaims()
	delete(noUser, "uid")

	cases := map[string]string{
		"missing":   "",
		"expired":   signToken(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"wrong key": wrongKey,
		"no uid":    signToken(t, jwt.SigningMethodHS256, []byte(testSecret), noUser),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			if w := serve(r, "/me", token); w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
		})
	}
}

func TestRequireCapability_PortalWildcardIsRestricted(t *testing.T) {
	r := newRouter()
	portal := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())
	if w := serve(r, "/transition", portal); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	internal := validClaims()
	internal["audience"] = "internal"
	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), internal)
	if w := serve(r, "/transition", token); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id to be echoed, got %q", got)
	}

	w = serve(r, "/me", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}
