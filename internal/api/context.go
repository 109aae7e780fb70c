package api

import "github.com/gin-gonic/gin"

// userIDFromContext 读取 AuthMiddleware 注入的用户 ID。
func userIDFromContext(c *gin.Context) (uint, bool) {
	value, ok := c.Get("userID")
	if !ok {
		return 0, false
	}
	id, ok := value.(uint)
	return id, ok
}

func userEmailFromContext(c *gin.Context) string {
	if value, ok := c.Get("userEmail"); ok {
		if email, ok := value.(string); ok {
			return email
		}
	}
	return ""
}
