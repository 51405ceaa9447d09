package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"seckill/internal/auth"

	"github.com/gin-gonic/gin"
)

const ctxUserID = "user_id"

type TokenParser interface {
	Parse(tokenStr string) (*auth.Claims, error)
}

// RequireUser 校验 Bearer 令牌，把 user_id 放进 gin.Context。
func RequireUser(p TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "缺少访问令牌"})
			return
		}
		claims, err := p.Parse(strings.TrimPrefix(h, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "访问令牌无效"})
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Next()
	}
}

// UserID 取出 RequireUser 写入的用户 ID。
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok && id > 0
}

// RequireAdmin 管理接口的简单令牌校验。
func RequireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Admin-Token")
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "msg": "admin token 无效"})
			return
		}
		c.Next()
	}
}
