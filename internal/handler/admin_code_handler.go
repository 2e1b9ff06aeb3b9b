package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

type adminCodeService interface {
	Validate(ctx context.Context, code string) bool
	Add(ctx context.Context, code, createdBy string) (*models.AdminCode, error)
	Deactivate(ctx context.Context, code, actor string) error
	Delete(ctx context.Context, code, actor string) error
	ListAll(ctx context.Context) ([]models.AdminCode, error)
}

// AdminCodeHandler manages the admin invitation registry.
type AdminCodeHandler struct {
	codes adminCodeService
}

// NewAdminCodeHandler constructs an admin code handler.
func NewAdminCodeHandler(codes adminCodeService) *AdminCodeHandler {
	return &AdminCodeHandler{codes: codes}
}

// Validate godoc
// @Summary Check an admin code
// @Description Reports whether a code would be accepted at registration without consuming it
// @Tags Admin Codes
// @Accept json
// @Produce json
// @Param payload body dto.ValidateAdminCodeRequest true "Code"
// @Success 200 {object} response.Envelope
// @Router /admin-codes/validate [post]
func (h *AdminCodeHandler) Validate(c *gin.Context) {
	var req dto.ValidateAdminCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	response.JSON(c, http.StatusOK, dto.ValidateAdminCodeResponse{Valid: h.codes.Validate(c.Request.Context(), req.Code)}, nil)
}

// List godoc
// @Summary List admin codes
// @Tags Admin Codes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/admin-codes [get]
func (h *AdminCodeHandler) List(c *gin.Context) {
	codes, err := h.codes.ListAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, codes, nil)
}

// Create godoc
// @Summary Add an admin code
// @Tags Admin Codes
// @Accept json
// @Produce json
// @Param payload body dto.CreateAdminCodeRequest true "Code"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admin/admin-codes [post]
func (h *AdminCodeHandler) Create(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.CreateAdminCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	code, err := h.codes.Add(c.Request.Context(), req.Code, claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, code)
}

// Deactivate godoc
// @Summary Deactivate an admin code
// @Tags Admin Codes
// @Produce json
// @Param code path string true "Code"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/admin-codes/{code}/deactivate [post]
func (h *AdminCodeHandler) Deactivate(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.codes.Deactivate(c.Request.Context(), c.Param("code"), claims.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete an admin code
// @Description Codes are retained as inactive records
// @Tags Admin Codes
// @Produce json
// @Param code path string true "Code"
// @Success 204 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/admin-codes/{code} [delete]
func (h *AdminCodeHandler) Delete(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	if err := h.codes.Delete(c.Request.Context(), c.Param("code"), claims.Email); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
