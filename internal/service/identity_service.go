package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/mail"
)

const (
	minPasswordLength  = 6
	loginAttemptPrefix = "auth:attempts:"
	revokedTokenPrefix = "auth:revoked:"
)

type identityStore interface {
	FindByEmail(ctx context.Context, email string) (*models.Identity, error)
	FindByID(ctx context.Context, id string) (*models.Identity, error)
	Create(ctx context.Context, identity *models.Identity) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	MarkVerified(ctx context.Context, id string, updatedAt time.Time) error
	CreateActionCode(ctx context.Context, code *models.ActionCode) error
	FindActionCode(ctx context.Context, code string) (*models.ActionCode, error)
	UseActionCode(ctx context.Context, code string, usedAt time.Time) (bool, error)
}

type identityProfileStore interface {
	ListByIdentity(ctx context.Context, uid string) ([]models.UserProfile, error)
	ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error)
	MarkVerifiedByIdentity(ctx context.Context, uid string) (int64, error)
}

// sessionStore backs the login attempt limiter and the logout denylist.
type sessionStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
	Counter(ctx context.Context, key string) (int64, error)
}

type mailSender interface {
	Send(ctx context.Context, msg mail.Message) error
}

// IdentityConfig defines configuration for authentication flows.
type IdentityConfig struct {
	AccessTokenSecret   string
	AccessTokenExpiry   time.Duration
	Issuer              string
	MaxLoginAttempts    int
	LoginAttemptWindow  time.Duration
	VerificationCodeTTL time.Duration
	ResetCodeTTL        time.Duration
	VerifyURL           string
	ResetURL            string
}

// AuthState is pushed to listeners on every sign-in, verification and sign-out. Principal is
// nil when UID signed out.
type AuthState struct {
	UID       string
	Principal *models.Principal
}

// IdentityService registers, authenticates and verifies identities.
type IdentityService struct {
	identities identityStore
	profiles   identityProfileStore
	sessions   sessionStore
	mailer     mailSender
	validator  *validator.Validate
	logger     *zap.Logger
	config     IdentityConfig
	now        func() time.Time

	listenersMu sync.RWMutex
	listeners   map[uint64]func(AuthState)
	nextID      uint64
}

// NewIdentityService constructs an IdentityService instance.
func NewIdentityService(identities identityStore, profiles identityProfileStore, sessions sessionStore, mailer mailSender, validate *validator.Validate, logger *zap.Logger, config IdentityConfig) *IdentityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.VerificationCodeTTL <= 0 {
		config.VerificationCodeTTL = 24 * time.Hour
	}
	if config.ResetCodeTTL <= 0 {
		config.ResetCodeTTL = time.Hour
	}
	if config.LoginAttemptWindow <= 0 {
		config.LoginAttemptWindow = 15 * time.Minute
	}
	return &IdentityService{
		identities: identities,
		profiles:   profiles,
		sessions:   sessions,
		mailer:     mailer,
		validator:  validate,
		logger:     logger,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
		listeners:  map[uint64]func(AuthState){},
	}
}

// Register creates an unverified identity.
func (s *IdentityService) Register(ctx context.Context, email, password string) (*models.Identity, error) {
	email = normalizeEmail(email)
	if err := s.validator.Var(email, "required,email"); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weak password: use at least %d characters", minPasswordLength))
	}

	if _, err := s.identities.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.ErrEmailInUse
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Persistence(err, "failed to check existing identity")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	identity := &models.Identity{Email: email, PasswordHash: string(hash)}
	if err := s.identities.Create(ctx, identity); err != nil {
		return nil, appErrors.Persistence(err, "failed to create identity")
	}
	s.logger.Info("identity registered", zap.String("identity_id", identity.ID))
	return identity, nil
}

// Authenticate checks credentials against the attempt limiter and the stored hash.
func (s *IdentityService) Authenticate(ctx context.Context, email, password string) (*models.Identity, error) {
	email = normalizeEmail(email)
	attemptKey := loginAttemptPrefix + email
	if s.sessions != nil && s.config.MaxLoginAttempts > 0 {
		count, err := s.sessions.Counter(ctx, attemptKey)
		if err != nil {
			s.logger.Warn("failed to read login attempts", zap.Error(err))
		} else if count >= int64(s.config.MaxLoginAttempts) {
			return nil, appErrors.ErrTooManyAttempts
		}
	}

	identity, err := s.identities.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrUserNotFound
		}
		return nil, appErrors.Persistence(err, "failed to fetch identity")
	}
	if identity.Disabled {
		return nil, appErrors.ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		s.recordFailedAttempt(ctx, attemptKey)
		return nil, appErrors.ErrInvalidCredentials
	}

	if s.sessions != nil {
		if err := s.sessions.Delete(ctx, attemptKey); err != nil {
			s.logger.Warn("failed to reset login attempts", zap.Error(err))
		}
	}
	return identity, nil
}

func (s *IdentityService) recordFailedAttempt(ctx context.Context, key string) {
	if s.sessions == nil || s.config.MaxLoginAttempts <= 0 {
		return
	}
	if _, err := s.sessions.Increment(ctx, key, s.config.LoginAttemptWindow); err != nil {
		s.logger.Warn("failed to record login attempt", zap.Error(err))
	}
}

// Login authenticates an identity for a panel and issues an access token.
func (s *IdentityService) Login(ctx context.Context, req models.LoginRequest) (*models.Session, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	if req.Role != "" {
		profiles, err := s.profiles.ListByEmail(ctx, normalizeEmail(req.Email))
		if err != nil {
			return nil, appErrors.Persistence(err, "failed to load profiles")
		}
		if !hasPanelAccess(profiles, req.Role) {
			return nil, appErrors.Clone(appErrors.ErrUserNotFound, fmt.Sprintf("this email is not registered as %s", req.Role))
		}
	}

	identity, err := s.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}
	if err := s.identities.UpdateLastLogin(ctx, identity.ID, s.now()); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	session, err := s.IssueSession(ctx, identity)
	if err != nil {
		return nil, err
	}
	s.notify(AuthState{UID: identity.ID, Principal: &session.Principal})
	return session, nil
}

// IssueSession signs an access token carrying the identity's verified roles.
func (s *IdentityService) IssueSession(ctx context.Context, identity *models.Identity) (*models.Session, error) {
	profiles, err := s.profiles.ListByIdentity(ctx, identity.ID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load profiles")
	}
	principal := principalFor(identity, profiles)
	token, err := s.generateAccessToken(principal)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	if profiles == nil {
		profiles = []models.UserProfile{}
	}
	return &models.Session{
		AccessToken: token,
		ExpiresIn:   int64(s.config.AccessTokenExpiry.Seconds()),
		IssuedAt:    s.now(),
		Principal:   *principal,
		Profiles:    profiles,
	}, nil
}

// Logout revokes the token and tells listeners the identity signed out.
func (s *IdentityService) Logout(ctx context.Context, claims *models.JWTClaims) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if s.sessions != nil && claims.ID != "" && claims.ExpiresAt != nil {
		if ttl := time.Until(claims.ExpiresAt.Time); ttl > 0 {
			if err := s.sessions.Set(ctx, revokedTokenPrefix+claims.ID, true, ttl); err != nil {
				s.logger.Warn("failed to revoke token", zap.Error(err))
			}
		}
	}
	s.notify(AuthState{UID: claims.UserID})
	return nil
}

// SendVerificationEmail issues a verification code for an unverified identity.
func (s *IdentityService) SendVerificationEmail(ctx context.Context, identityID string) error {
	identity, err := s.identities.FindByID(ctx, identityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrUserNotFound
		}
		return appErrors.Persistence(err, "failed to fetch identity")
	}
	if identity.EmailVerified {
		return nil
	}
	return s.sendActionCode(ctx, identity, models.PurposeVerifyEmail)
}

// VerifyEmail consumes a verification code and marks the identity and all its profiles verified.
func (s *IdentityService) VerifyEmail(ctx context.Context, code string) (*models.Principal, error) {
	actionCode, err := s.consumeActionCode(ctx, code, models.PurposeVerifyEmail)
	if err != nil {
		return nil, err
	}
	if err := s.identities.MarkVerified(ctx, actionCode.IdentityID, s.now()); err != nil {
		return nil, appErrors.Persistence(err, "failed to verify identity")
	}
	if _, err := s.profiles.MarkVerifiedByIdentity(ctx, actionCode.IdentityID); err != nil {
		return nil, appErrors.Persistence(err, "failed to verify profiles")
	}

	identity, err := s.identities.FindByID(ctx, actionCode.IdentityID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to reload identity")
	}
	profiles, err := s.profiles.ListByIdentity(ctx, identity.ID)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to load profiles")
	}
	principal := principalFor(identity, profiles)
	s.notify(AuthState{UID: identity.ID, Principal: principal})
	s.logger.Info("email verified", zap.String("identity_id", identity.ID))
	return principal, nil
}

// SendPasswordReset mails a reset code. Unknown addresses are ignored silently.
func (s *IdentityService) SendPasswordReset(ctx context.Context, email string) error {
	identity, err := s.identities.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Persistence(err, "failed to fetch identity")
	}
	if identity.Disabled {
		return nil
	}
	return s.sendActionCode(ctx, identity, models.PurposeResetPassword)
}

// ResetPassword consumes a reset code and stores the new password.
func (s *IdentityService) ResetPassword(ctx context.Context, req models.ConfirmResetPasswordRequest) error {
	if len(req.NewPassword) < minPasswordLength {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("weak password: use at least %d characters", minPasswordLength))
	}
	actionCode, err := s.consumeActionCode(ctx, req.Code, models.PurposeResetPassword)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.identities.UpdatePassword(ctx, actionCode.IdentityID, string(hash), s.now()); err != nil {
		return appErrors.Persistence(err, "failed to update password")
	}
	identity, err := s.identities.FindByID(ctx, actionCode.IdentityID)
	if err == nil && s.sessions != nil {
		_ = s.sessions.Delete(ctx, loginAttemptPrefix+identity.Email)
	}
	return nil
}

// OnAuthStateChanged registers fn for auth state changes and returns its unsubscribe function.
func (s *IdentityService) OnAuthStateChanged(fn func(AuthState)) func() {
	s.listenersMu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.listenersMu.Lock()
			delete(s.listeners, id)
			s.listenersMu.Unlock()
		})
	}
}

func (s *IdentityService) notify(state AuthState) {
	s.listenersMu.RLock()
	listeners := make([]func(AuthState), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(state)
	}
}

// ValidateToken parses and validates a JWT access token, rejecting revoked tokens.
func (s *IdentityService) ValidateToken(ctx context.Context, token string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil || !parsed.Valid {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired token")
	}

	if s.sessions != nil && claims.ID != "" {
		var revoked bool
		if err := s.sessions.Get(ctx, revokedTokenPrefix+claims.ID, &revoked); err == nil && revoked {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "token has been revoked")
		}
	}
	return claims, nil
}

func (s *IdentityService) generateAccessToken(principal *models.Principal) (string, error) {
	now := s.now()
	claims := models.JWTClaims{
		UserID:        principal.UID,
		Email:         principal.Email,
		EmailVerified: principal.EmailVerified,
		Roles:         principal.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   principal.UID,
			Issuer:    s.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.config.AccessTokenExpiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.AccessTokenSecret))
}

func (s *IdentityService) sendActionCode(ctx context.Context, identity *models.Identity, purpose models.ActionCodePurpose) error {
	code, err := generateCode()
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate code")
	}
	ttl, base, template, subject := s.config.VerificationCodeTTL, s.config.VerifyURL, mail.TemplateVerifyEmail, "Verify your RideSafe email"
	if purpose == models.PurposeResetPassword {
		ttl, base, template, subject = s.config.ResetCodeTTL, s.config.ResetURL, mail.TemplateResetPassword, "Reset your RideSafe password"
	}
	actionCode := &models.ActionCode{
		Code:       code,
		IdentityID: identity.ID,
		Purpose:    purpose,
		ExpiresAt:  s.now().Add(ttl),
		CreatedAt:  s.now(),
	}
	if err := s.identities.CreateActionCode(ctx, actionCode); err != nil {
		return appErrors.Persistence(err, "failed to store code")
	}
	if s.mailer == nil {
		s.logger.Warn("mailer not configured, code not delivered", zap.String("purpose", string(purpose)))
		return nil
	}
	msg := mail.Message{
		To:       identity.Email,
		Template: template,
		Subject:  subject,
		Data: map[string]string{
			"code":       code,
			"link":       actionLink(base, code),
			"expires_at": actionCode.ExpiresAt.Format(time.RFC3339),
		},
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue mail")
	}
	return nil
}

func (s *IdentityService) consumeActionCode(ctx context.Context, code string, purpose models.ActionCodePurpose) (*models.ActionCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.ErrInvalidCode
	}
	actionCode, err := s.identities.FindActionCode(ctx, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrInvalidCode
		}
		return nil, appErrors.Persistence(err, "failed to load code")
	}
	if actionCode.Purpose != purpose || actionCode.UsedAt != nil {
		return nil, appErrors.ErrInvalidCode
	}
	if s.now().After(actionCode.ExpiresAt) {
		return nil, appErrors.ErrExpiredCode
	}
	used, err := s.identities.UseActionCode(ctx, code, s.now())
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to consume code")
	}
	if !used {
		return nil, appErrors.ErrInvalidCode
	}
	return actionCode, nil
}

func principalFor(identity *models.Identity, profiles []models.UserProfile) *models.Principal {
	principal := &models.Principal{
		UID:           identity.ID,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Roles:         []models.Role{},
	}
	for _, p := range profiles {
		if p.EmailVerified {
			principal.Roles = append(principal.Roles, p.Role)
		}
	}
	return principal
}

func hasPanelAccess(profiles []models.UserProfile, role models.Role) bool {
	for _, p := range profiles {
		if p.Role == role || p.Role == models.RoleAdmin {
			return true
		}
	}
	return false
}

func actionLink(base, code string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String()
}

func generateCode() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
