package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/realtime"
	"github.com/ridesafe/ridesafe-api/internal/repository"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

// statsCachePattern matches every cached admin statistics entry.
const statsCachePattern = "stats:*"

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type syncProfileStore interface {
	FindByID(ctx context.Context, id string) (*models.UserProfile, error)
	UpdateFields(ctx context.Context, exec sqlx.ExtContext, id string, fields models.ProfileFields) (*models.UserProfile, error)
	UpdateFieldsByEmailRole(ctx context.Context, exec sqlx.ExtContext, email string, role models.Role, fields models.ProfileFields) (*models.UserProfile, error)
	PromoteAdmissionStatus(ctx context.Context, exec sqlx.ExtContext, email string, status models.AdmissionStatus, from ...models.AdmissionStatus) (*models.UserProfile, error)
}

type syncAdmissionStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, form *models.AdmissionForm) error
	FindByID(ctx context.Context, id string) (*models.AdmissionForm, error)
	Review(ctx context.Context, exec sqlx.ExtContext, params repository.ReviewParams) (*models.AdmissionForm, error)
}

type syncChangeRequestStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, request *models.ChangeRequest) error
	FindByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	Review(ctx context.Context, exec sqlx.ExtContext, params repository.ReviewParams) (*models.ChangeRequest, error)
}

type syncEventStore interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, event *models.SyncEvent) error
}

type changePublisher interface {
	Publish(ctx context.Context, changes ...realtime.Change) error
}

// SyncStores groups the stores written by batched sync operations.
type SyncStores struct {
	Profiles       syncProfileStore
	Admissions     syncAdmissionStore
	ChangeRequests syncChangeRequestStore
	Events         syncEventStore
}

// AdmissionDecision is an approve or reject of one admission form.
type AdmissionDecision struct {
	FormID          string
	Status          models.ReviewStatus
	ReviewerEmail   string
	MonthlyAmount   float64
	AdminResponse   string
	RejectionReason string
}

// AdmissionOutcome is the persisted result of an admission decision. Profile is nil when the
// guardian has no user profile.
type AdmissionOutcome struct {
	Form    *models.AdmissionForm `json:"form"`
	Profile *models.UserProfile   `json:"profile,omitempty"`
}

// ChangeRequestDecision is an approve or reject of one change request.
type ChangeRequestDecision struct {
	RequestID       string
	Status          models.ReviewStatus
	ReviewerEmail   string
	AdminResponse   string
	RejectionReason string
}

// ChangeRequestOutcome is the persisted result of a change-request decision. Profile is set only
// when an approved field was applied.
type ChangeRequestOutcome struct {
	Request *models.ChangeRequest `json:"request"`
	Profile *models.UserProfile   `json:"profile,omitempty"`
}

// SyncService runs every admin-visible write as one transaction that also appends a sync
// event, then announces the committed documents on the change feed.
type SyncService struct {
	db        txProvider
	stores    SyncStores
	publisher changePublisher
	cache     *CacheService
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService constructs the sync service.
func NewSyncService(db txProvider, stores SyncStores, publisher changePublisher, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *SyncService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		db:        db,
		stores:    stores,
		publisher: publisher,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpdateUserDataWithSync applies a partial profile update and records a user_data_updated event.
func (s *SyncService) UpdateUserDataWithSync(ctx context.Context, userID string, fields models.ProfileFields, adminEmail string) (*models.UserProfile, error) {
	if len(fields) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no fields to update")
	}
	for column := range fields {
		if !models.IsUpdatableProfileColumn(column) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "field "+column+" cannot be updated")
		}
	}

	var profile *models.UserProfile
	err := s.inTx(ctx, "update_user_data", func(tx *sqlx.Tx) error {
		updated, err := s.stores.Profiles.UpdateFields(ctx, tx, userID, fields)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrNotFound, "user not found")
			}
			return appErrors.Persistence(err, "failed to update user data")
		}
		profile = updated
		return s.appendEvent(ctx, tx, models.SyncUserDataUpdated, profile.ID, profile.Email, adminEmail, fields)
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, change(models.CollectionUsers, models.ChangeModified, profile.ID, profile.Email, profile))
	s.invalidateStats(ctx)
	return profile, nil
}

// SubmitAdmissionWithSync stores a new pending form and moves the guardian's profile to
// pending when it was none or rejected.
func (s *SyncService) SubmitAdmissionWithSync(ctx context.Context, form *models.AdmissionForm) (*models.AdmissionForm, error) {
	var profile *models.UserProfile
	err := s.inTx(ctx, "submit_admission", func(tx *sqlx.Tx) error {
		form.SubmittedAt = s.now()
		if err := s.stores.Admissions.Create(ctx, tx, form); err != nil {
			return appErrors.Persistence(err, "failed to submit admission form")
		}
		promoted, err := s.stores.Profiles.PromoteAdmissionStatus(ctx, tx, form.UserEmail, models.AdmissionPending,
			models.AdmissionNone, models.AdmissionRejected)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Persistence(err, "failed to update admission status")
		}
		profile = promoted
		return nil
	})
	if err != nil {
		return nil, err
	}

	changes := []realtime.Change{change(models.CollectionAdmissionForms, models.ChangeAdded, form.ID, form.UserEmail, form)}
	if profile != nil {
		changes = append(changes, change(models.CollectionUsers, models.ChangeModified, profile.ID, profile.Email, profile))
	}
	s.announce(ctx, changes...)
	s.invalidateStats(ctx)
	return form, nil
}

// UpdateAdmissionStatusWithSync decides a pending form, copies the outcome onto the guardian's
// user profile and records an admission_status_changed event in one transaction.
func (s *SyncService) UpdateAdmissionStatusWithSync(ctx context.Context, decision AdmissionDecision) (*AdmissionOutcome, error) {
	params := repository.ReviewParams{
		ID:         decision.FormID,
		Status:     decision.Status,
		ReviewedBy: decision.ReviewerEmail,
		ReviewedAt: s.now(),
	}
	switch decision.Status {
	case models.StatusApproved:
		params.MonthlyAmount = &decision.MonthlyAmount
		params.AdminResponse = &decision.AdminResponse
	case models.StatusRejected:
		params.RejectionReason = &decision.RejectionReason
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must approve or reject")
	}

	outcome := &AdmissionOutcome{}
	err := s.inTx(ctx, "review_admission", func(tx *sqlx.Tx) error {
		form, err := s.stores.Admissions.Review(ctx, tx, params)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return s.admissionReviewConflict(ctx, decision.FormID)
			}
			return appErrors.Persistence(err, "failed to review admission form")
		}
		outcome.Form = form

		fields := models.ProfileFields{
			"admission_status": string(models.AdmissionRejected),
			"rejection_reason": decision.RejectionReason,
		}
		if decision.Status == models.StatusApproved {
			fields = form.ApprovedProfileFields(decision.MonthlyAmount, decision.AdminResponse)
		}
		profile, err := s.stores.Profiles.UpdateFieldsByEmailRole(ctx, tx, form.UserEmail, models.RoleUser, fields)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			s.logger.Warn("admission reviewed without user profile", zap.String("form_id", form.ID), zap.String("email", form.UserEmail))
		case err != nil:
			return appErrors.Persistence(err, "failed to update user profile")
		default:
			outcome.Profile = profile
		}

		payload := map[string]interface{}{"formId": form.ID, "status": form.Status}
		if decision.Status == models.StatusApproved {
			payload["monthlyAmount"] = decision.MonthlyAmount
			payload["adminResponse"] = decision.AdminResponse
		} else {
			payload["rejectionReason"] = decision.RejectionReason
		}
		return s.appendEvent(ctx, tx, models.SyncAdmissionStatusChanged, profileID(outcome.Profile), form.UserEmail, decision.ReviewerEmail, payload)
	})
	if err != nil {
		return nil, err
	}

	changes := []realtime.Change{change(models.CollectionAdmissionForms, models.ChangeModified, outcome.Form.ID, outcome.Form.UserEmail, outcome.Form)}
	if outcome.Profile != nil {
		changes = append(changes, change(models.CollectionUsers, models.ChangeModified, outcome.Profile.ID, outcome.Profile.Email, outcome.Profile))
	}
	s.announce(ctx, changes...)
	s.invalidateStats(ctx)
	s.metrics.RecordReview(ReviewKindAdmission, decision.Status)
	return outcome, nil
}

// SubmitChangeRequestWithSync stores a pending change request and records a
// change_request_submitted event.
func (s *SyncService) SubmitChangeRequestWithSync(ctx context.Context, request *models.ChangeRequest) (*models.ChangeRequest, error) {
	err := s.inTx(ctx, "submit_change_request", func(tx *sqlx.Tx) error {
		request.Status = models.StatusPending
		request.RequestDate = s.now()
		if err := s.stores.ChangeRequests.Create(ctx, tx, request); err != nil {
			return appErrors.Persistence(err, "failed to submit change request")
		}
		payload := map[string]interface{}{"requestId": request.ID, "field": request.Field, "newValue": request.NewValue}
		return s.appendEvent(ctx, tx, models.SyncChangeRequestSubmitted, "", request.UserEmail, "", payload)
	})
	if err != nil {
		return nil, err
	}

	s.announce(ctx, change(models.CollectionChangeRequests, models.ChangeAdded, request.ID, request.UserEmail, request))
	s.invalidateStats(ctx)
	return request, nil
}

// UpdateChangeRequestWithSync decides a pending change request. Approval writes the mapped
// profile column; a label without a mapping is approved without touching the profile.
func (s *SyncService) UpdateChangeRequestWithSync(ctx context.Context, decision ChangeRequestDecision) (*ChangeRequestOutcome, error) {
	params := repository.ReviewParams{
		ID:         decision.RequestID,
		Status:     decision.Status,
		ReviewedBy: decision.ReviewerEmail,
		ReviewedAt: s.now(),
	}
	eventType := models.SyncChangeRequestApproved
	switch decision.Status {
	case models.StatusApproved:
		params.AdminResponse = &decision.AdminResponse
	case models.StatusRejected:
		params.RejectionReason = &decision.RejectionReason
		eventType = models.SyncChangeRequestRejected
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "decision must approve or reject")
	}

	outcome := &ChangeRequestOutcome{}
	err := s.inTx(ctx, "review_change_request", func(tx *sqlx.Tx) error {
		request, err := s.stores.ChangeRequests.Review(ctx, tx, params)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return s.changeRequestReviewConflict(ctx, decision.RequestID)
			}
			return appErrors.Persistence(err, "failed to review change request")
		}
		outcome.Request = request

		payload := map[string]interface{}{"requestId": request.ID, "field": request.Field, "status": request.Status}
		if decision.Status == models.StatusApproved {
			payload["newValue"] = request.NewValue
			if column, ok := models.ProfileColumnForField(request.Field); ok {
				profile, err := s.stores.Profiles.UpdateFieldsByEmailRole(ctx, tx, request.UserEmail, models.RoleUser,
					models.ProfileFields{column: request.NewValue})
				switch {
				case errors.Is(err, sql.ErrNoRows):
					s.logger.Warn("change request approved without user profile", zap.String("request_id", request.ID))
				case err != nil:
					return appErrors.Persistence(err, "failed to apply change request")
				default:
					outcome.Profile = profile
				}
			} else {
				s.logger.Warn("change request field has no profile column", zap.String("request_id", request.ID), zap.String("field", request.Field))
			}
		} else {
			payload["rejectionReason"] = decision.RejectionReason
		}
		return s.appendEvent(ctx, tx, eventType, profileID(outcome.Profile), request.UserEmail, decision.ReviewerEmail, payload)
	})
	if err != nil {
		return nil, err
	}

	changes := []realtime.Change{change(models.CollectionChangeRequests, models.ChangeModified, outcome.Request.ID, outcome.Request.UserEmail, outcome.Request)}
	if outcome.Profile != nil {
		changes = append(changes, change(models.CollectionUsers, models.ChangeModified, outcome.Profile.ID, outcome.Profile.Email, outcome.Profile))
	}
	s.announce(ctx, changes...)
	s.invalidateStats(ctx)
	s.metrics.RecordReview(ReviewKindChangeRequest, decision.Status)
	return outcome, nil
}

// RecordAdminAction appends an admin_action_performed event outside of any document write.
func (s *SyncService) RecordAdminAction(ctx context.Context, adminEmail, action string, details map[string]interface{}) {
	payload := map[string]interface{}{"action": action}
	for k, v := range details {
		payload[k] = v
	}
	if err := s.appendEvent(ctx, nil, models.SyncAdminActionPerformed, "", "", adminEmail, payload); err != nil {
		s.logger.Warn("failed to record admin action", zap.String("action", action), zap.Error(err))
	}
}

func (s *SyncService) inTx(ctx context.Context, label string, fn func(tx *sqlx.Tx) error) (err error) {
	start := time.Now()
	defer func() { s.metrics.ObserveDBQuery(label, time.Since(start)) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Persistence(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Persistence(err, "failed to commit transaction")
	}
	return nil
}

func (s *SyncService) appendEvent(ctx context.Context, exec sqlx.ExtContext, eventType models.SyncEventType, userID, userEmail, adminEmail string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode sync event")
	}
	event := &models.SyncEvent{
		Type:      eventType,
		UserID:    userID,
		UserEmail: userEmail,
		Payload:   types.JSONText(raw),
		CreatedAt: s.now(),
	}
	if admin := strings.TrimSpace(adminEmail); admin != "" {
		event.AdminEmail = &admin
	}
	if err := s.stores.Events.Insert(ctx, exec, event); err != nil {
		return appErrors.Persistence(err, "failed to record sync event")
	}
	return nil
}

func (s *SyncService) admissionReviewConflict(ctx context.Context, id string) error {
	if _, err := s.stores.Admissions.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "admission form not found")
		}
		return appErrors.Persistence(err, "failed to load admission form")
	}
	return appErrors.Clone(appErrors.ErrAlreadyReviewed, "admission form already reviewed")
}

func (s *SyncService) changeRequestReviewConflict(ctx context.Context, id string) error {
	if _, err := s.stores.ChangeRequests.FindByID(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "change request not found")
		}
		return appErrors.Persistence(err, "failed to load change request")
	}
	return appErrors.Clone(appErrors.ErrAlreadyReviewed, "change request already reviewed")
}

// announce publishes committed changes. A failure here cannot undo the commit, so it is logged.
func (s *SyncService) announce(ctx context.Context, changes ...realtime.Change) {
	if s.publisher == nil {
		return
	}
	valid := changes[:0]
	for _, c := range changes {
		if c.Collection != "" {
			valid = append(valid, c)
		}
	}
	if err := s.publisher.Publish(ctx, valid...); err != nil {
		s.logger.Warn("failed to publish changes", zap.Int("count", len(valid)), zap.Error(err))
	}
}

func (s *SyncService) invalidateStats(ctx context.Context) {
	_ = s.cache.Invalidate(ctx, statsCachePattern)
}

// change builds a feed change, returning an empty change when the document cannot be encoded.
func change(collection string, changeType models.ChangeType, id, owner string, doc interface{}) realtime.Change {
	c, err := realtime.NewChange(collection, changeType, id, owner, doc)
	if err != nil {
		return realtime.Change{}
	}
	return c
}

func profileID(profile *models.UserProfile) string {
	if profile == nil {
		return ""
	}
	return profile.ID
}
