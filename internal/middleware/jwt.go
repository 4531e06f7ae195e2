package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	// ContextKeyClaims is the Gin context key for JWT claims.
	ContextKeyClaims = "claims"
)

// TokenValidator turns a bearer token into claims.
type TokenValidator interface {
	ValidateToken(tokenStr string) (*service.Claims, error)
}

// tokenSource extracts the raw token from a request.
type tokenSource func(c *gin.Context) string

// fromHeaderOrQuery reads "Authorization: Bearer" and falls back to
// ?token= for EventSource, which cannot send headers.
func fromHeaderOrQuery(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "bearer") && token != "" {
		return token
	}
	return c.Query("token")
}

// fromQuery reads ?token=, the only option for browser WebSocket upgrades.
func fromQuery(c *gin.Context) string {
	return c.Query("token")
}

func requireToken(v TokenValidator, want service.TokenType, source tokenSource) gin.HandlerFunc {
	denied := response.ErrStudentAccessOnly
	if want == service.TokenTypeAdmin {
		denied = response.ErrAdminAccessOnly
	}

	return func(c *gin.Context) {
		tokenStr := source(c)
		if tokenStr == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		claims, err := v.ValidateToken(tokenStr)
		if err != nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}

		if claims.TokenType != want {
			response.AbortFail(c, http.StatusForbidden, denied)
			return
		}

		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// RequireStudentJWT validates a student JWT from the Authorization header.
func RequireStudentJWT(v TokenValidator) gin.HandlerFunc {
	return requireToken(v, service.TokenTypeStudent, fromHeaderOrQuery)
}

// RequireAdminJWT validates an admin JWT from the Authorization header or,
// for SSE, the token query parameter.
func RequireAdminJWT(v TokenValidator) gin.HandlerFunc {
	return requireToken(v, service.TokenTypeAdmin, fromHeaderOrQuery)
}

// RequireStudentWSAuth validates a student JWT from the query param ?token=...
// Used for WebSocket upgrade requests.
func RequireStudentWSAuth(v TokenValidator) gin.HandlerFunc {
	return requireToken(v, service.TokenTypeStudent, fromQuery)
}

// GetClaims retrieves the JWT claims from the Gin context.
func GetClaims(c *gin.Context) *service.Claims {
	val, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil
	}
	claims, _ := val.(*service.Claims)
	return claims
}
