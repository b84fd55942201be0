package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bitfantasy/zenops/internal/ops/capability"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const claimsKey = "claims"

// Logger 日志中间件
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.String("ip", c.ClientIP()),
			zap.String("user-agent", c.Request.UserAgent()),
			zap.Duration("latency", latency),
			zap.String("request_id", c.GetString("request_id")),
		}

		if claims := GetClaims(c); claims != nil {
			fields = append(fields,
				zap.String("user_id", claims.UserID),
				zap.String("audience", string(claims.Audience)),
			)
		}

		if status >= 500 {
			logger.Error("Server error", fields...)
		} else if status >= 400 {
			logger.Warn("Client error", fields...)
		} else {
			logger.Info("Request", fields...)
		}
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestID 请求ID中间件，同时作为副作用的 correlation id
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.Request.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Next()
	}
}

// JWTClaims JWT claims
type JWTClaims struct {
	UserID          string   `json:"uid"`
	Name            string   `json:"name"`
	AudienceType    string   `json:"audience"`
	TenantID        string   `json:"tenant_id"`
	PartnerTenantID string   `json:"partner_tenant_id,omitempty"`
	Roles           []string `json:"roles"`
	Capabilities    []string `json:"caps"`
	jwt.RegisteredClaims
}

// ToCapabilityClaims 转为能力校验使用的身份
func (c *JWTClaims) ToCapabilityClaims() *capability.Claims {
	return &capability.Claims{
		UserID:          c.UserID,
		Name:            c.Name,
		Audience:        capability.Audience(c.AudienceType),
		TenantID:        c.TenantID,
		PartnerTenantID: c.PartnerTenantID,
		Roles:           c.Roles,
		Capabilities:    c.Capabilities,
	}
}

// JWTAuth JWT认证中间件
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		authHeader := c.GetHeader("Authorization")
		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}

		// 回退到 query param（SSE 场景使用）
		if tokenString == "" {
			tokenString = c.Query("token")
		}

		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    40100,
				"message": "Authorization is required",
			})
			c.Abort()
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})

		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    40102,
				"message": "Invalid or expired token",
			})
			c.Abort()
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || !token.Valid || claims.UserID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"code":    40103,
				"message": "Invalid token claims",
			})
			c.Abort()
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_name", claims.Name)
		c.Set(claimsKey, claims.ToCapabilityClaims())
		c.Next()
	}
}

// GetClaims 当前请求的调用方身份，未认证时返回 nil
func GetClaims(c *gin.Context) *capability.Claims {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil
	}
	claims, _ := v.(*capability.Claims)
	return claims
}

// RequireCapability 能力检查中间件，用于不经过服务层的路由
func RequireCapability(required capability.Capability) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    40300,
				"message": "No claims found",
			})
			c.Abort()
			return
		}

		if _, err := capability.Require(claims, required); err != nil {
			c.JSON(http.StatusForbidden, gin.H{
				"code":    40302,
				"message": err.Error(),
				"data":    gin.H{"capability": string(required)},
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
