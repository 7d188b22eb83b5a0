package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"webtestflow/replayer/pkg/auth"
	"webtestflow/replayer/pkg/response"
)

// TabIDKey is the gin context key holding the authenticated tab id.
const TabIDKey = "tab_id"

// TabAuthMiddleware requires a valid tab token, read from the Authorization
// header or, for websocket upgrades, the token query parameter.
func TabAuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = strings.TrimSpace(c.Query("token"))
		}
		if token == "" {
			response.Unauthorized(c, "missing tab token")
			c.Abort()
			return
		}
		tabID, err := auth.ParseTabToken(secret, token)
		if err != nil {
			response.Unauthorized(c, "invalid tab token")
			c.Abort()
			return
		}
		c.Set(TabIDKey, tabID)
		c.Next()
	}
}
