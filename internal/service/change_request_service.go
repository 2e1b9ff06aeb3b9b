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

type changeRequestLister interface {
	List(ctx context.Context, filter repository.ChangeRequestFilter) ([]models.ChangeRequest, error)
}

type changeRequestWriter interface {
	SubmitChangeRequestWithSync(ctx context.Context, request *models.ChangeRequest) (*models.ChangeRequest, error)
	UpdateChangeRequestWithSync(ctx context.Context, decision ChangeRequestDecision) (*ChangeRequestOutcome, error)
}

// ChangeRequestService implements guardian requests to edit approved profile data.
type ChangeRequestService struct {
	requests  changeRequestLister
	writer    changeRequestWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewChangeRequestService constructs the change-request workflow.
func NewChangeRequestService(requests changeRequestLister, writer changeRequestWriter, validate *validator.Validate, logger *zap.Logger) *ChangeRequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeRequestService{requests: requests, writer: writer, validator: validate, logger: logger}
}

// Submit stores a pending request for one of the editable fields.
func (s *ChangeRequestService) Submit(ctx context.Context, userEmail string, req dto.SubmitChangeRequest) (*models.ChangeRequest, error) {
	if strings.TrimSpace(userEmail) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "sign in to request a change")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change request")
	}
	if _, ok := models.ProfileColumnForField(req.Field); !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "field "+req.Field+" cannot be changed")
	}
	request, err := s.writer.SubmitChangeRequestWithSync(ctx, &models.ChangeRequest{
		UserEmail: userEmail,
		Field:     req.Field,
		OldValue:  req.OldValue,
		NewValue:  req.NewValue,
		Reason:    req.Reason,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("change request submitted", zap.String("request_id", request.ID), zap.String("field", request.Field))
	return request, nil
}

// ListAll returns every change request, newest first.
func (s *ChangeRequestService) ListAll(ctx context.Context) ([]models.ChangeRequest, error) {
	return s.list(ctx, repository.ChangeRequestFilter{})
}

// ListByEmail returns a guardian's own requests, newest first.
func (s *ChangeRequestService) ListByEmail(ctx context.Context, email string) ([]models.ChangeRequest, error) {
	return s.list(ctx, repository.ChangeRequestFilter{UserEmail: email})
}

func (s *ChangeRequestService) list(ctx context.Context, filter repository.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	requests, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list change requests")
	}
	if requests == nil {
		requests = []models.ChangeRequest{}
	}
	return requests, nil
}

// Approve accepts a pending request and writes the new value to the guardian profile.
func (s *ChangeRequestService) Approve(ctx context.Context, id, reviewerEmail, response string) (*ChangeRequestOutcome, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		response = defaultApprovalResponse
	}
	return s.writer.UpdateChangeRequestWithSync(ctx, ChangeRequestDecision{
		RequestID:     id,
		Status:        models.StatusApproved,
		ReviewerEmail: reviewerEmail,
		AdminResponse: response,
	})
}

// Reject declines a pending request. A reason is required.
func (s *ChangeRequestService) Reject(ctx context.Context, id, reviewerEmail, reason string) (*ChangeRequestOutcome, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "rejection reason is required")
	}
	return s.writer.UpdateChangeRequestWithSync(ctx, ChangeRequestDecision{
		RequestID:       id,
		Status:          models.StatusRejected,
		ReviewerEmail:   reviewerEmail,
		RejectionReason: reason,
	})
}
