package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/ridesafe/ridesafe-api/internal/middleware"
	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// requireClaims writes a 401 and returns nil when the request carries no claims.
func requireClaims(c *gin.Context) *models.JWTClaims {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil
	}
	return claims
}
