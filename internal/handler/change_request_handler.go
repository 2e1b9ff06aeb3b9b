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

type changeRequestService interface {
	Submit(ctx context.Context, userEmail string, req dto.SubmitChangeRequest) (*models.ChangeRequest, error)
	ListAll(ctx context.Context) ([]models.ChangeRequest, error)
	ListByEmail(ctx context.Context, email string) ([]models.ChangeRequest, error)
	Approve(ctx context.Context, id, reviewerEmail, adminResponse string) (*service.ChangeRequestOutcome, error)
	Reject(ctx context.Context, id, reviewerEmail, reason string) (*service.ChangeRequestOutcome, error)
}

// ChangeRequestHandler exposes profile change requests.
type ChangeRequestHandler struct {
	requests changeRequestService
}

// NewChangeRequestHandler constructs a change request handler.
func NewChangeRequestHandler(requests changeRequestService) *ChangeRequestHandler {
	return &ChangeRequestHandler{requests: requests}
}

// Submit godoc
// @Summary Request a profile change
// @Tags Change Requests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitChangeRequest true "Change request"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /change-requests [post]
func (h *ChangeRequestHandler) Submit(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.SubmitChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid change request payload"))
		return
	}

	request, err := h.requests.Submit(c.Request.Context(), claims.Email, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// Mine godoc
// @Summary List own change requests
// @Tags Change Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /change-requests/me [get]
func (h *ChangeRequestHandler) Mine(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	requests, err := h.requests.ListByEmail(c.Request.Context(), claims.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// List godoc
// @Summary List change requests
// @Tags Admin
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /admin/change-requests [get]
func (h *ChangeRequestHandler) List(c *gin.Context) {
	requests, err := h.requests.ListAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Approve godoc
// @Summary Approve a change request
// @Description Applies the new value to the guardian profile when the field is mapped
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.ApproveChangeRequest false "Approval"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/change-requests/{id}/approve [post]
func (h *ChangeRequestHandler) Approve(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.ApproveChangeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid approval payload"))
			return
		}
	}

	outcome, err := h.requests.Approve(c.Request.Context(), c.Param("id"), claims.Email, req.AdminResponse)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}

// Reject godoc
// @Summary Reject a change request
// @Tags Admin
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.RejectRequest true "Rejection"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/change-requests/{id}/reject [post]
func (h *ChangeRequestHandler) Reject(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	var req dto.RejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid rejection payload"))
		return
	}

	outcome, err := h.requests.Reject(c.Request.Context(), c.Param("id"), claims.Email, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, outcome, nil)
}
