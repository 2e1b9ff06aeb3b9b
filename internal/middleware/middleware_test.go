package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

type validatorStub struct {
	tokens map[string]*models.JWTClaims
	seen   []string
}

func (v *validatorStub) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	v.seen = append(v.seen, token)
	claims, ok := v.tokens[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return claims, nil
}

func newGuardedRouter(validator TokenValidator, guards ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(validator)}, guards...)
	handlers = append(handlers, func(c *gin.Context) {
		c.String(http.StatusOK, Claims(c).Email)
	})
	router.GET("/protected", handlers...)
	return router
}

func serve(router *gin.Engine, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestJWTAcceptsHeaderOrQueryToken(t *testing.T) {
	validator := &validatorStub{tokens: map[string]*models.JWTClaims{
		"good": {Email: "g@x.com", Roles: []models.Role{models.RoleUser}},
	}}
	router := newGuardedRouter(validator)

	rec := serve(router, "/protected", "Bearer good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "g@x.com", rec.Body.String())

	rec = serve(router, "/protected?access_token=good", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusUnauthorized, serve(router, "/protected", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/protected", "Token good").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, "/protected", "Bearer bad").Code)
	assert.Equal(t, []string{"good", "good", "bad"}, validator.seen)
}

func TestRequireRole(t *testing.T) {
	validator := &validatorStub{tokens: map[string]*models.JWTClaims{
		"guardian": {Email: "g@x.com", Roles: []models.Role{models.RoleUser}},
		"driver":   {Email: "d@x.com", Roles: []models.Role{models.RoleDriver}},
		"admin":    {Email: "a@x.com", Roles: []models.Role{models.RoleAdmin}},
		"pending":  {Email: "p@x.com"},
	}}
	router := newGuardedRouter(validator, RequireRole(models.RoleUser))

	assert.Equal(t, http.StatusOK, serve(router, "/protected", "Bearer guardian").Code)
	assert.Equal(t, http.StatusOK, serve(router, "/protected", "Bearer admin").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "/protected", "Bearer driver").Code)
	assert.Equal(t, http.StatusForbidden, serve(router, "/protected", "Bearer pending").Code)

	adminOnly := newGuardedRouter(validator, RequireAdmin())
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, "/protected", "Bearer guardian").Code)
	assert.Equal(t, http.StatusOK, serve(adminOnly, "/protected", "Bearer admin").Code)
}

func TestResponseMetaRecordsCacheHit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	var meta map[string]interface{}
	router.GET("/stats", WithResponseMeta(), func(c *gin.Context) {
		SetCacheHit(c, true)
		meta = ExtractMeta(c)
		c.Status(http.StatusOK)
	})

	serve(router, "/stats", "")
	assert.Equal(t, true, meta[cacheHitKey])
	assert.Contains(t, meta, "processing_time_ms")
}
