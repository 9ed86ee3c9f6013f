package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the caller's identity when no upstream auth layer
// has set one in the Gin context. Authentication itself happens in front of
// this service.
const HeaderUserID = "X-User-ID"

// ctxKeyUserID is the Gin context key upstream auth middleware uses.
const ctxKeyUserID = "userID"

// UserID returns the caller's identity from the Gin context, falling back to
// the X-User-ID header. It returns "" when neither is present.
func UserID(c *gin.Context) string {
	if c == nil {
		return ""
	}
	if v, ok := c.Get(ctxKeyUserID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c.Request != nil {
		return strings.TrimSpace(c.GetHeader(HeaderUserID))
	}
	return ""
}

// RequireUser rejects requests without an identity with 401 and stores the
// resolved identity under "userID" for everything downstream.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := UserID(c)
		if uid == "" {
			rid, _ := c.Get(requestIDKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": asString(rid),
				"code":       "unauthorized",
				"message":    "missing user identity",
			})
			return
		}
		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}
