package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const ctxWriterClaims = "auth.writer_claims"

// RequireWriter returns a Gin middleware that enforces a valid writer Bearer
// token. A nil issuer disables the check.
func RequireWriter(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer writer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid writer token: " + err.Error(),
			})
			return
		}

		c.Set(ctxWriterClaims, claims)
		c.Next()
	}
}

// ClaimsFromCtx returns the writer claims stored by RequireWriter, or nil.
func ClaimsFromCtx(c *gin.Context) *WriterClaims {
	v, _ := c.Get(ctxWriterClaims)
	claims, _ := v.(*WriterClaims)
	return claims
}
