// Package middleware provides gin.HandlerFunc guards for the HTTP
// surface, currently a bearer-JWT (HMAC-signed) check for the keyword-admin
// routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// claimsContextKey is the gin context key the verified claims are stashed
// under for downstream handlers that want the caller's identity.
const claimsContextKey = "admin_claims"

// AdminAuth returns a gin.HandlerFunc that rejects requests without a
// valid HMAC-signed (HS256, HS384 or HS512) bearer token signed with secret. enabled gates the whole
// check off for deployments that haven't configured admin auth yet
// (config.AdminAuthEnabled defaults to false).
func AdminAuth(enabled bool, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enabled {
			c.Next()
			return
		}

		tokenString := extractBearer(c.GetHeader("Authorization"))
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims := jwt.MapClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrTokenSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
			return
		}

		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

func extractBearer(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
