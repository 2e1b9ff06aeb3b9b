package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

// systemActor is recorded as the creator of seeded codes.
const systemActor = "system"

type adminCodeStore interface {
	FindByCode(ctx context.Context, code string) (*models.AdminCode, error)
	List(ctx context.Context) ([]models.AdminCode, error)
	Count(ctx context.Context) (int, error)
	Upsert(ctx context.Context, code *models.AdminCode) error
	InsertMissing(ctx context.Context, codes []models.AdminCode) error
	Deactivate(ctx context.Context, code string) (bool, error)
	Consume(ctx context.Context, code, usedBy string, usedAt time.Time) (bool, error)
}

type adminActionRecorder interface {
	RecordAdminAction(ctx context.Context, adminEmail, action string, details map[string]interface{})
}

// AdminCodeService guards admin registration behind invitation codes.
type AdminCodeService struct {
	store    adminCodeStore
	bypass   map[string]struct{}
	recorder adminActionRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewAdminCodeService constructs the registry. bypassCodes are accepted without a lookup and
// never consumed.
func NewAdminCodeService(store adminCodeStore, bypassCodes []string, recorder adminActionRecorder, logger *zap.Logger) *AdminCodeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	bypass := make(map[string]struct{}, len(bypassCodes))
	for _, code := range bypassCodes {
		if code = strings.TrimSpace(code); code != "" {
			bypass[code] = struct{}{}
		}
	}
	return &AdminCodeService{
		store:    store,
		bypass:   bypass,
		recorder: recorder,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AdminCodeService) isBypass(code string) bool {
	_, ok := s.bypass[code]
	return ok
}

// Validate reports whether code may be used to register an admin. Store failures count as invalid.
func (s *AdminCodeService) Validate(ctx context.Context, code string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if s.isBypass(code) {
		return true
	}
	stored, err := s.store.FindByCode(ctx, code)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("admin code lookup failed", zap.Error(err))
		}
		return false
	}
	return stored.IsActive
}

// Consume marks a registry code used by usedBy. Bypass codes are only logged.
func (s *AdminCodeService) Consume(ctx context.Context, code, usedBy string) bool {
	code = strings.TrimSpace(code)
	if code == "" {
		return false
	}
	if s.isBypass(code) {
		s.logger.Info("bypass admin code used", zap.String("used_by", usedBy))
		return true
	}
	consumed, err := s.store.Consume(ctx, code, usedBy, s.now())
	if err != nil {
		s.logger.Warn("admin code consume failed", zap.Error(err))
		return false
	}
	return consumed
}

// Add stores code as active, reactivating it when it already exists.
func (s *AdminCodeService) Add(ctx context.Context, code, createdBy string) (*models.AdminCode, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "code is required")
	}
	entry := &models.AdminCode{Code: code, CreatedBy: createdBy, CreatedAt: s.now()}
	if err := s.store.Upsert(ctx, entry); err != nil {
		return nil, appErrors.Persistence(err, "failed to add admin code")
	}
	s.record(ctx, createdBy, "admin_code_added", code)
	return entry, nil
}

// Deactivate disables a registry code.
func (s *AdminCodeService) Deactivate(ctx context.Context, code, actor string) error {
	changed, err := s.store.Deactivate(ctx, strings.TrimSpace(code))
	if err != nil {
		return appErrors.Persistence(err, "failed to deactivate admin code")
	}
	if !changed {
		return appErrors.Clone(appErrors.ErrNotFound, "admin code not found")
	}
	s.record(ctx, actor, "admin_code_deactivated", code)
	return nil
}

// Delete is the same as Deactivate; codes are kept for the audit trail.
func (s *AdminCodeService) Delete(ctx context.Context, code, actor string) error {
	return s.Deactivate(ctx, code, actor)
}

// ListAll returns every registry code. An empty registry lists the bypass set as active.
func (s *AdminCodeService) ListAll(ctx context.Context) ([]models.AdminCode, error) {
	codes, err := s.store.List(ctx)
	if err != nil {
		return nil, appErrors.Persistence(err, "failed to list admin codes")
	}
	if len(codes) > 0 {
		return codes, nil
	}
	return s.bypassCodes(), nil
}

// InitializeDefaults seeds the bypass set into an empty registry.
func (s *AdminCodeService) InitializeDefaults(ctx context.Context) error {
	count, err := s.store.Count(ctx)
	if err != nil {
		return appErrors.Persistence(err, "failed to count admin codes")
	}
	if count > 0 || len(s.bypass) == 0 {
		return nil
	}
	if err := s.store.InsertMissing(ctx, s.bypassCodes()); err != nil {
		return appErrors.Persistence(err, "failed to seed admin codes")
	}
	s.logger.Info("seeded admin codes", zap.Int("count", len(s.bypass)))
	return nil
}

func (s *AdminCodeService) bypassCodes() []models.AdminCode {
	codes := make([]models.AdminCode, 0, len(s.bypass))
	now := s.now()
	for code := range s.bypass {
		codes = append(codes, models.AdminCode{Code: code, IsActive: true, CreatedBy: systemActor, CreatedAt: now})
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i].Code < codes[j].Code })
	return codes
}

func (s *AdminCodeService) record(ctx context.Context, actor, action, code string) {
	if s.recorder == nil {
		return
	}
	s.recorder.RecordAdminAction(ctx, actor, action, map[string]interface{}{"code": code})
}
