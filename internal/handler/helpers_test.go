package handler

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"

	"github.com/gin-gonic/gin"

	"github.com/ridesafe/ridesafe-api/internal/middleware"
	"github.com/ridesafe/ridesafe-api/internal/models"
)

type envelope struct {
	Data  json.RawMessage        `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta map[string]interface{} `json:"meta"`
}

func decodeEnvelope(rec *httptest.ResponseRecorder) envelope {
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return env
}

// testContext builds a gin context for method/target with an optional JSON body and claims.
func testContext(method, target string, body interface{}, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	c.Request = httptest.NewRequest(method, target, reader)
	if body != nil {
		c.Request.Header.Set("Content-Type", "application/json")
	}
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, rec
}

func guardianClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "id-1", Email: "g@x.com", EmailVerified: true, Roles: []models.Role{models.RoleUser}}
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "id-9", Email: "admin@x.com", EmailVerified: true, Roles: []models.Role{models.RoleAdmin}}
}

func ginParam(key, value string) gin.Param {
	return gin.Param{Key: key, Value: value}
}
