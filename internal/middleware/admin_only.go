package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminKeyHeader 管理接口的 API key 请求头
const AdminKeyHeader = "X-Admin-Key"

// AdminOnly 管理接口鉴权，满足任一条件即放行：
// X-Admin-Key 与配置一致；adminId 参数在管理员 Telegram ID 列表中；本地访问（127.0.0.1 或 ::1）
func AdminOnly(apiKey string, adminIDs []string) gin.HandlerFunc {
	ids := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id != "" {
			ids[id] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		if apiKey != "" {
			got := c.GetHeader(AdminKeyHeader)
			if got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) == 1 {
				c.Next()
				return
			}
		}

		if id := c.Query("adminId"); id != "" {
			if _, ok := ids[id]; ok {
				c.Next()
				return
			}
		}

		if isLoopback(c.ClientIP()) {
			c.Next()
			return
		}

		c.JSON(http.StatusForbidden, gin.H{"error": "禁止访问：需要管理员权限"})
		c.Abort()
	}
}

func isLoopback(clientIP string) bool {
	ip := net.ParseIP(clientIP)
	return ip != nil && ip.IsLoopback()
}
