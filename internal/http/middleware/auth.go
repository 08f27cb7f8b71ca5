// README: Bearer-token auth middleware; stores an explicit Session per request.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/infra"
	"tripmatch/internal/types"
)

const sessionKey = "tripmatch.session"

type ctxKey struct{}

// Session is the authenticated caller for one request.
type Session struct {
	UserID types.ID
	Role   types.Role
}

func (s Session) Caller() types.Caller {
	return types.Caller{ID: s.UserID, Role: s.Role}
}

// Auth verifies the bearer token and attaches the Session to both the gin
// context and the request context. Missing or invalid tokens get 401.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		raw = strings.TrimSpace(raw)
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing bearer token", Code: "unauthenticated"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), raw)
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid token", Code: "unauthenticated"})
			return
		}
		s := Session{UserID: types.ID(token.UID), Role: types.Role(token.Role())}
		c.Set(sessionKey, s)
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), s))
		c.Next()
	}
}

// RequireRole rejects callers whose session role is not one of roles.
func RequireRole(roles ...types.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "role not permitted", Code: "unauthorized"})
	}
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}

func CurrentSession(c *gin.Context) Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(Session); ok {
			return s
		}
	}
	s, _ := SessionFrom(c.Request.Context())
	return s
}

// CallerUID returns the authenticated user id, or "" outside Auth.
func CallerUID(c *gin.Context) types.ID {
	return CurrentSession(c).UserID
}

func CallerRole(c *gin.Context) types.Role {
	return CurrentSession(c).Role
}
