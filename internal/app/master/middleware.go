/**
 * 中间件:HTTP横切关注点
 * @description: CORS/安全响应头/访问日志/panic恢复
 */
package master

import (
	"fmt"
	"net/http"
	"time"

	"reachmaster/internal/pkg/logger"
	"reachmaster/internal/pkg/utils"

	"github.com/gin-gonic/gin"
)

// MiddlewareManager 中间件管理器
type MiddlewareManager struct{}

// NewMiddlewareManager 创建中间件管理器实例
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// GinCORSMiddleware Gin跨域中间件
func (m *MiddlewareManager) GinCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// GinSecurityHeadersMiddleware Gin安全响应头中间件
func (m *MiddlewareManager) GinSecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Next()
	}
}

// GinLoggingMiddleware Gin日志中间件
// 记录所有HTTP请求的访问日志；客户端IP标准化后存入Gin上下文供handler使用
func (m *MiddlewareManager) GinLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		clientIP := utils.GetClientIP(c)
		requestID := c.GetHeader("X-Request-ID")
		c.Set("client_ip", clientIP)

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		entry := logger.WithFields(map[string]interface{}{
			"operation":    "http_request",
			"method":       c.Request.Method,
			"url":          c.Request.URL.String(),
			"status_code":  statusCode,
			"duration_ms":  duration.Milliseconds(),
			"client_ip":    clientIP,
			"X-Request-ID": requestID,
		})
		if statusCode >= 400 {
			errMsg := http.StatusText(statusCode)
			if len(c.Errors) > 0 {
				errMsg = c.Errors.String()
			}
			entry.Warn(fmt.Sprintf("HTTP %d: %s", statusCode, errMsg))
			return
		}
		entry.Info("API Request")
	}
}

// GinRecoveryMiddleware Gin panic恢复中间件
func (m *MiddlewareManager) GinRecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(map[string]interface{}{
			"operation": "panic_recovery",
			"method":    c.Request.Method,
			"url":       c.Request.URL.String(),
			"panic":     fmt.Sprintf("%v", recovered),
		}).Error("request handler panicked")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}
