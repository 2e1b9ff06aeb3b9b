package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/repository"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

// defaultApprovalResponse is stored when an admin approves without a message.
const defaultApprovalResponse = "Approved"

type admissionLister interface {
	List(ctx context.Context, filter repository.AdmissionFilter) ([]models.AdmissionForm, error)
}

type admissionWriter interface {
	SubmitAdmissionWithSync(ctx context.Context, form *models.AdmissionForm) (*models.AdmissionForm, error)
	UpdateAdmissionStatusWithSync(ctx context.Context, decision AdmissionDecision) (*AdmissionOutcome, error)
}

// AdmissionService implements the guardian admission workflow.
type AdmissionService struct {
	forms     admissionLister
	writer    admissionWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewAdmissionService constructs the admission workflow.
func NewAdmissionService(forms admissionLister, writer admissionWriter, validate *validator.Validate, logger *zap.Logger) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{forms: forms, writer: writer, validator: validate, logger: logger}
}

// Submit stores a new pending admission form for the guardian.
func (s *AdmissionService) Submit(ctx context.Context, userEmail string, req dto.SubmitAdmissionRequest) (*models.AdmissionForm, error) {
	if strings.TrimSpace(userEmail) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "sign in to submit an admission form")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid admission form")
	}
	form, err := s.writer.SubmitAdmissionWithSync(ctx, req.ToModel(userEmail))
	if err != nil {
		return nil, err
	}
	s.logger.Info("admission form submitted", zap.String("form_id", form.ID), zap.String("email", userEmail))
	return form, nil
}

// ListAll returns every admission form, newest first.
func (s *AdmissionService) ListAll(ctx context.Context) ([]models.AdmissionForm, error) {
	return s.list(ctx, repository.AdmissionFilter{})
}

// ListByStatus returns forms with one status, newest first.
func (s *AdmissionService) ListByStatus(ctx context.Context, status models.ReviewStatus) ([]models.AdmissionForm, error) {
	if !status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown admission status")
	}
	return s.list(ctx, repository.AdmissionFilter{Status: status})
}

// ListByEmail returns a guardian's own forms, newest first.
func (s *AdmissionService) ListByEmail(ctx context.Context, email string) ([]models.AdmissionForm, error) {
	return s.list(ctx, repository.AdmissionFilter{UserEmail: email})
}

func (s *AdmissionService) list(ctx context.Context, filter repository.AdmissionFilter) ([]models.AdmissionForm, error) {
	forms, err := s.forms.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list admission forms")
	}
	if forms == nil {
		forms = []models.AdmissionForm{}
	}
	return forms, nil
}

// Approve accepts a pending form and copies its details onto the guardian profile.
func (s *AdmissionService) Approve(ctx context.Context, id, reviewerEmail string, req dto.ApproveAdmissionRequest) (*AdmissionOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	response := strings.TrimSpace(req.AdminResponse)
	if response == "" {
		response = defaultApprovalResponse
	}
	return s.writer.UpdateAdmissionStatusWithSync(ctx, AdmissionDecision{
		FormID:        id,
		Status:        models.StatusApproved,
		ReviewerEmail: reviewerEmail,
		MonthlyAmount: req.MonthlyAmount,
		AdminResponse: response,
	})
}

// Reject declines a pending form. A reason is required.
func (s *AdmissionService) Reject(ctx context.Context, id, reviewerEmail, reason string) (*AdmissionOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	return s.writer.UpdateAdmissionStatusWithSync(ctx, AdmissionDecision{
		FormID:          id,
		Status:          models.StatusRejected,
		ReviewerEmail:   reviewerEmail,
		RejectionReason: reason,
	})
}
