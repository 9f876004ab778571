// Package httpx は全ルート共通の HTTP ミドルウェアとエラーページを提供します。
package httpx

import "github.com/gin-gonic/gin"

// SecurityHeaders はすべての応答にセキュリティ関連ヘッダーを付与します。
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
