package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// Context keys for caller data
	ContextKeySubject = "auth_subject"
	ContextKeyIsAdmin = "auth_is_admin"
	ContextKeyClaims  = "auth_claims"
)

func bearerToken(c *gin.Context) (string, bool) {
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func setClaims(c *gin.Context, claims *UserClaims) {
	c.Set(ContextKeySubject, claims.Subject)
	c.Set(ContextKeyIsAdmin, claims.IsAdmin)
	c.Set(ContextKeyClaims, claims)
}

// OptionalMiddleware sets caller claims when a valid token is present. With
// auth disabled every caller is admin.
func OptionalMiddleware(service *Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !service.Enabled() {
			setClaims(c, &UserClaims{Subject: AdminSubject, IsAdmin: true})
			c.Next()
			return
		}

		if token, ok := bearerToken(c); ok {
			if claims, err := service.JWT().ValidateAccessToken(token); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// RequireAdmin aborts requests from non-admin callers. It must run after
// OptionalMiddleware.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   ErrForbidden.Code,
				"message": "admin access required",
			})
			return
		}
		c.Next()
	}
}

// IsAdmin checks if the current caller is an admin
func IsAdmin(c *gin.Context) bool {
	if isAdmin, exists := c.Get(ContextKeyIsAdmin); exists {
		v, _ := isAdmin.(bool)
		return v
	}
	return false
}

// GetUserClaims extracts the caller claims from the Gin context
func GetUserClaims(c *gin.Context) *UserClaims {
	if claims, exists := c.Get(ContextKeyClaims); exists {
		v, _ := claims.(*UserClaims)
		return v
	}
	return nil
}
