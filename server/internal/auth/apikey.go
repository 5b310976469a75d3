package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// DefaultHeader carries the admin key.
const DefaultHeader = "X-Sofa-Admin-Key"

// APIKey returns gin middleware that enforces an admin key.
//
// Behaviour:
//   - If key == "", every request is allowed (pass-through).
//   - Otherwise the value of header must equal key.
//   - A missing or incorrect key aborts with 401 and a CouchDB-style error
//     body.
func APIKey(header, key string) gin.HandlerFunc {
	if header == "" {
		header = DefaultHeader
	}
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(header)
		if got == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthorized",
				"reason": "missing admin key",
			})
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":  "unauthorized",
				"reason": "invalid admin key",
			})
			return
		}
		c.Next()
	}
}
