// 通用的工具包
package utils

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GenerateUUID 生成UUID字符串(任务ID/租约ID)
func GenerateUUID() string {
	return uuid.NewString()
}

// Clamp01 将浮点值截断到 [0,1]
// 用于声誉评分和 LLM 自报置信度
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// NormalizeIP 标准化IP地址：
// - 若是带端口的地址，去掉端口
// - 若是 X-Forwarded-For 列表，取第一个
// - 若是 IPv4-mapped IPv6 (::ffff:192.0.2.1)，转成纯 IPv4
func NormalizeIP(input string) string {
	s := strings.TrimSpace(input)
	if s == "" {
		return s
	}
	if idx := strings.Index(s, ","); idx >= 0 {
		s = strings.TrimSpace(s[:idx])
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	if ip := net.ParseIP(s); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			return v4.String()
		}
		return ip.String()
	}
	return s
}

// GetClientIP 从 Gin 请求中提取标准化的客户端IP
// 优先使用 X-Forwarded-For，其次 X-Real-IP，最后远端地址
func GetClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return NormalizeIP(xff)
	}
	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return NormalizeIP(xri)
	}
	return NormalizeIP(c.Request.RemoteAddr)
}
