package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/service"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

type admissionService interface {
	Submit(ctx context.Context, userEmail string, req dto.SubmitAdmissionRequest) (*models.AdmissionForm, error)
	ListAll(ctx context.Context) ([]models.AdmissionForm, error)
	ListByStatus(ctx context.Context, status models.ReviewStatus) ([]models.AdmissionForm, error)
	ListByEmail(ctx context.Context, email string) ([]models.AdmissionForm, error)
	Approve(ctx context.Context, id, reviewerEmail string, req dto.ApproveAdmissionRequest) (*service.AdmissionOutcome, error)
	Reject(ctx context.Context, id, reviewerEmail, reason string) (*service.AdmissionOutcome, error)
}

// AdmissionHandler exposes the admission workflow.
type AdmissionHandler struct {
	admissions admissionService
}

// NewAdmissionHandler constructs an admission handler.
func NewAdmissionHandler(admissions admissionService) *AdmissionHandler {
	return &AdmissionHandler{admissions: admissions}
}

// Submit godoc
// @Summary Submit an admission form
// @Tags Admissions
// @Accept json
// @Produce json
// @Param payload body dto.SubmitAdmissionRequest true "Admission form"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /admissions [post]
func (h *AdmissionHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.SubmitAdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid admission payload"))
		return
	}

	form, err := h.admissions.Submit(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, form)
}

// Mine godoc
// @Summary List own admission forms
// @Tags Admissions
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admissions/me [get]
func (h *AdmissionHandler) Mine(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	forms, err := h.admissions.ListByEmail(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, nil)
}

// List godoc
// @Summary List admission forms
// @Tags Admin
// @Produce json
// @Param status query string false "pending, approved or rejected"
// @Success 200 {object} response.Envelope
// @Router /admin/admissions [get]
func (h *AdmissionHandler) List(c *gin.Context) {
	query := dto.AdmissionQuery{Status: models.ReviewStatus(c.Query("status"))}

	var (
		forms []models.AdmissionForm
		err   error
	)
	if query.Status == "" {
		forms, err = h.admissions.ListAll(c.Request.Context())
	} else {
		forms, err = h.admissions.ListByStatus(c.Request.Context(), query.Status)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, forms, nil)
}

// Approve godoc
// @Summary Approve an admission form
// @Description Sets the monthly fee and copies the student data onto the guardian profile
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.ApproveAdmissionRequest true "Approval"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/admissions/{id}/approve [post]
func (h *AdmissionHandler) Approve(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ApproveAdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
		return
	}

	outcome, err := h.admissions.Approve(c.Request.Context(), c.Param("id"), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Reject godoc
// @Summary Reject an admission form
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Form ID"
// @Param payload body dto.RejectRequest true "Rejection"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/admissions/{id}/reject [post]
func (h *AdmissionHandler) Reject(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}

	outcome, err := h.admissions.Reject(c.Request.Context(), c.Param("id"), claims.Email, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
