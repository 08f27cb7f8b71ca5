// README: Tests for bearer auth, role gating, logging and recovery middleware.
package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"tripmatch/internal/http/middleware"
	"tripmatch/internal/infra"
	"tripmatch/internal/types"
)

// stubVerifier is a test double for infra.TokenVerifier.
type stubVerifier struct {
	token *infra.Token
	err   error
}

func (s *stubVerifier) VerifyIDToken(_ context.Context, _ string) (*infra.Token, error) {
	return s.token, s.err
}

func newTestRouter(verifier infra.TokenVerifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.Auth(verifier))
	r.GET("/test", func(c *gin.Context) {
		s, ok := middleware.SessionFrom(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"uid":       middleware.CallerUID(c),
			"role":      middleware.CallerRole(c),
			"ctxUID":    s.UserID,
			"inContext": ok,
		})
	})
	r.GET("/drivers", middleware.RequireRole(types.RoleDriver), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth_MissingHeader(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	w := get(r, "/test", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_InvalidBearerPrefix(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	w := get(r, "/test", "Token sometoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_EmptyBearer(t *testing.T) {
	r := newTestRouter(&stubVerifier{token: &infra.Token{UID: "user1"}})
	w := get(r, "/test", "Bearer   ")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestAuth_VerifierError(t *testing.T) {
	r := newTestRouter(&stubVerifier{err: errors.New("bad token")})
	w := get(r, "/test", "Bearer invalidtoken")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	assert.Contains(t, w.Body.String(), "unauthenticated")
}

func TestAuth_ValidToken_SessionPopulated(t *testing.T) {
	token := &infra.Token{
		UID:    "driver123",
		Claims: map[string]interface{}{"role": "driver"},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	assert.Contains(t, body, `"uid":"driver123"`)
	assert.Contains(t, body, `"role":"driver"`)
	assert.Contains(t, body, `"ctxUID":"driver123"`)
	assert.Contains(t, body, `"inContext":true`)
}

func TestAuth_ValidToken_NoRoleClaim(t *testing.T) {
	token := &infra.Token{
		UID:    "owner456",
		Claims: map[string]interface{}{},
	}
	r := newTestRouter(&stubVerifier{token: token})
	w := get(r, "/test", "Bearer validtoken")
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "owner456") {
		t.Errorf("expected uid owner456 in body")
	}
}

func TestRequireRole(t *testing.T) {
	driver := newTestRouter(&stubVerifier{token: &infra.Token{UID: "d1", Claims: map[string]interface{}{"role": "driver"}}})
	assert.Equal(t, http.StatusNoContent, get(driver, "/drivers", "Bearer x").Code)

	owner := newTestRouter(&stubVerifier{token: &infra.Token{UID: "o1", Claims: map[string]interface{}{"role": "owner"}}})
	w := get(owner, "/drivers", "Bearer x")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	noRole := newTestRouter(&stubVerifier{token: &infra.Token{UID: "u1"}})
	assert.Equal(t, http.StatusForbidden, get(noRole, "/drivers", "Bearer x").Code)
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)
	r := gin.New()
	r.Use(middleware.Recovery(zap.New(core)))
	r.GET("/boom", func(*gin.Context) { panic("kaboom") })

	w := get(r, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestLogging_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(middleware.Logging(zap.New(core)))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/ok", "")
	rid := w.Header().Get(middleware.RequestIDHeader)
	assert.NotEmpty(t, rid)

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(middleware.RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(middleware.RequestIDHeader))

	entries := logs.FilterMessage("request").All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "abc", entries[1].ContextMap()["request_id"])
		assert.EqualValues(t, http.StatusOK, entries[1].ContextMap()["status"])
	}
}
