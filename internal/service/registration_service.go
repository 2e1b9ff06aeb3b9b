package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

type registrationProfileStore interface {
	DeleteUnverified(ctx context.Context, email string) (int64, error)
	FindByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error)
	Create(ctx context.Context, exec sqlx.ExtContext, profile *models.UserProfile) error
}

type registrationIdentity interface {
	Register(ctx context.Context, email, password string) (*models.Identity, error)
	Authenticate(ctx context.Context, email, password string) (*models.Identity, error)
	SendVerificationEmail(ctx context.Context, identityID string) error
	IssueSession(ctx context.Context, identity *models.Identity) (*models.Session, error)
}

type adminCodeChecker interface {
	Validate(ctx context.Context, code string) bool
	Consume(ctx context.Context, code, usedBy string) bool
}

// RegistrationService creates a role profile, creating the identity on first registration.
type RegistrationService struct {
	profiles   registrationProfileStore
	identity   registrationIdentity
	adminCodes adminCodeChecker
	publisher  changePublisher
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewRegistrationService constructs the registration flow.
func NewRegistrationService(profiles registrationProfileStore, identity registrationIdentity, adminCodes adminCodeChecker, publisher changePublisher, validate *validator.Validate, logger *zap.Logger) *RegistrationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegistrationService{
		profiles:   profiles,
		identity:   identity,
		adminCodes: adminCodes,
		publisher:  publisher,
		validator:  validate,
		logger:     logger,
	}
}

// Register runs the registration sequence: unverified cleanup, duplicate check, admin code
// check, identity creation or sign-in, code consumption, profile creation and verification mail.
func (s *RegistrationService) Register(ctx context.Context, req models.RegisterRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	email := normalizeEmail(req.Email)

	if removed, err := s.profiles.DeleteUnverified(ctx, email); err != nil {
		return nil, appErrors.Persistence(err, "failed to clean up unverified profiles")
	} else if removed > 0 {
		s.logger.Info("removed unverified profiles", zap.Int64("count", removed))
	}

	if _, err := s.profiles.FindByEmailAndRole(ctx, email, req.Role); err == nil {
		return nil, appErrors.Clone(appErrors.ErrDuplicateProfile, "this email is already registered as "+string(req.Role))
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Persistence(err, "failed to check existing profile")
	}

	if req.Role == models.RoleAdmin && !s.adminCodes.Validate(ctx, req.AdminCode) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid admin code")
	}

	identity, err := s.identity.Register(ctx, email, req.Password)
	if errors.Is(err, appErrors.ErrEmailInUse) {
		identity, err = s.identity.Authenticate(ctx, email, req.Password)
	}
	if err != nil {
		return nil, err
	}

	// The code is claimed before the profile exists; a lost claim aborts registration.
	if req.Role == models.RoleAdmin && !s.adminCodes.Consume(ctx, req.AdminCode, identity.ID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid admin code")
	}

	profile := &models.UserProfile{
		UID:           identity.ID,
		Email:         email,
		Role:          req.Role,
		Name:          req.Name,
		Phone:         req.Phone,
		EmailVerified: identity.EmailVerified,
	}
	switch req.Role {
	case models.RoleDriver:
		profile.LicenseNumber = req.LicenseNumber
		profile.VehicleNumber = req.VehicleNumber
		profile.Experience = req.Experience
	case models.RoleAdmin:
		profile.AdminCode = req.AdminCode
	}
	if err := s.profiles.Create(ctx, nil, profile); err != nil {
		return nil, appErrors.Persistence(err, "failed to create profile")
	}

	if !identity.EmailVerified {
		if err := s.identity.SendVerificationEmail(ctx, identity.ID); err != nil {
			s.logger.Warn("failed to send verification email", zap.String("identity_id", identity.ID), zap.Error(err))
		}
	}

	if s.publisher != nil {
		c := change(models.CollectionUsers, models.ChangeAdded, profile.ID, profile.Email, profile)
		if err := s.publisher.Publish(ctx, c); err != nil {
			s.logger.Warn("failed to publish new profile", zap.Error(err))
		}
	}

	s.logger.Info("profile registered", zap.String("identity_id", identity.ID), zap.String("role", string(req.Role)))
	return s.identity.IssueSession(ctx, identity)
}
