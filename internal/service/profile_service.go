package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

type profileReader interface {
	ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error)
	FindByID(ctx context.Context, id string) (*models.UserProfile, error)
	FindByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error)
	List(ctx context.Context, filter models.ProfileFilter) ([]models.UserProfile, int, error)
	MarkVerified(ctx context.Context, id string) error
	DeleteUnverified(ctx context.Context, email string) (int64, error)
}

type userDataWriter interface {
	UpdateUserDataWithSync(ctx context.Context, userID string, fields models.ProfileFields, adminEmail string) (*models.UserProfile, error)
}

// ProfileService exposes the user record store.
type ProfileService struct {
	profiles  profileReader
	writer    userDataWriter
	validator *validator.Validate
	logger    *zap.Logger
}

// NewProfileService constructs the profile service.
func NewProfileService(profiles profileReader, writer userDataWriter, validate *validator.Validate, logger *zap.Logger) *ProfileService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{profiles: profiles, writer: writer, validator: validate, logger: logger}
}

// GetByEmail returns every role profile registered for an email.
func (s *ProfileService) GetByEmail(ctx context.Context, email string) ([]models.UserProfile, error) {
	profiles, err := s.profiles.ListByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load profiles")
	}
	if profiles == nil {
		profiles = []models.UserProfile{}
	}
	return profiles, nil
}

// GetByEmailAndRole returns the profile for one role.
func (s *ProfileService) GetByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error) {
	if !role.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	profile, err := s.profiles.FindByEmailAndRole(ctx, normalizeEmail(email), role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Persistence(err, "failed to load profile")
	}
	return profile, nil
}

// Get returns a profile by id.
func (s *ProfileService) Get(ctx context.Context, id string) (*models.UserProfile, error) {
	profile, err := s.profiles.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return nil, appErrors.Persistence(err, "failed to load profile")
	}
	return profile, nil
}

// List returns a page of profiles for the admin directory.
func (s *ProfileService) List(ctx context.Context, filter models.ProfileFilter) ([]models.UserProfile, *models.Pagination, error) {
	if filter.Role != "" && !filter.Role.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}
	profiles, total, err := s.profiles.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Persistence(err, "failed to list profiles")
	}
	if profiles == nil {
		profiles = []models.UserProfile{}
	}
	return profiles, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// UpdateStudent applies an admin edit through the sync path and returns the persisted profile.
func (s *ProfileService) UpdateStudent(ctx context.Context, id string, req dto.UpdateProfileRequest, adminEmail string) (*models.UserProfile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	fields := req.Fields()
	if len(fields) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no profile fields to update")
	}
	return s.writer.UpdateUserDataWithSync(ctx, id, models.ProfileFields(fields), adminEmail)
}

// MarkVerified flags one profile verified.
func (s *ProfileService) MarkVerified(ctx context.Context, id string) error {
	if err := s.profiles.MarkVerified(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "profile not found")
		}
		return appErrors.Persistence(err, "failed to verify profile")
	}
	return nil
}

// DeleteUnverified removes every unverified profile for email.
func (s *ProfileService) DeleteUnverified(ctx context.Context, email string) (int64, error) {
	removed, err := s.profiles.DeleteUnverified(ctx, normalizeEmail(email))
	if err != nil {
		return 0, appErrors.Persistence(err, "failed to delete unverified profiles")
	}
	return removed, nil
}
