package middleware

import (
	"net/http"

	"github.com/edukita/examhall-backend/internal/model"
	"github.com/edukita/examhall-backend/internal/response"
	"github.com/gin-gonic/gin"
)

// RequireRole checks that the staff JWT carries one of the given roles.
func RequireRole(roles ...model.StaffRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		for _, role := range roles {
			if claims.Role == role {
				c.Next()
				return
			}
		}

		response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
	}
}

// RequireAdministrative checks that the staff JWT carries a role allowed
// to manage accounts and invigilator assignments.
func RequireAdministrative() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		if !claims.Role.Administrative() {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}

		c.Next()
	}
}
