package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
)

// registrationProfileStub shares its rows with the identity fixture so sessions see new profiles.
type registrationProfileStub struct {
	store *identityProfileStub
}

func (s *registrationProfileStub) DeleteUnverified(ctx context.Context, email string) (int64, error) {
	kept := s.store.profiles[:0]
	var removed int64
	for _, p := range s.store.profiles {
		if p.Email == email && !p.EmailVerified {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.store.profiles = kept
	return removed, nil
}

func (s *registrationProfileStub) FindByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error) {
	for _, p := range s.store.profiles {
		if p.Email == email && p.Role == role {
			cp := p
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *registrationProfileStub) Create(ctx context.Context, exec sqlx.ExtContext, profile *models.UserProfile) error {
	if profile.ID == "" {
		profile.ID = "p-" + string(profile.Role)
	}
	s.store.profiles = append(s.store.profiles, *profile)
	return nil
}

type registrationFixture struct {
	service   *RegistrationService
	identity  *identityFixture
	codes     *adminCodeStoreStub
	publisher *publisherStub
}

func newRegistrationFixture() *registrationFixture {
	identity := newIdentityFixture()
	codes := newAdminCodeStoreStub(models.AdminCode{Code: "INVITE1", IsActive: true})
	publisher := &publisherStub{}
	return &registrationFixture{
		service: NewRegistrationService(&registrationProfileStub{store: identity.profiles}, identity.service,
			NewAdminCodeService(codes, nil, nil, nil), publisher, nil, nil),
		identity:  identity,
		codes:     codes,
		publisher: publisher,
	}
}

func TestRegisterCreatesIdentityProfileAndSendsVerification(t *testing.T) {
	f := newRegistrationFixture()

	session, err := f.service.Register(context.Background(), models.RegisterRequest{
		Email: "G@x.com", Password: "secret1", Name: "Sara", Role: models.RoleUser,
	})
	require.NoError(t, err)
	assert.False(t, session.Principal.EmailVerified)
	assert.Empty(t, session.Principal.Roles)
	require.Len(t, session.Profiles, 1)
	assert.Equal(t, "g@x.com", session.Profiles[0].Email)

	assert.Len(t, f.identity.mailer.sent, 1)
	require.Len(t, f.publisher.changes, 1)
	assert.Equal(t, models.CollectionUsers, f.publisher.changes[0].Collection)
}

func TestRegisterSecondRoleAuthenticatesExistingIdentity(t *testing.T) {
	f := newRegistrationFixture()
	identity := f.identity.identities.add(t, "g@x.com", "secret1", true)
	f.identity.profiles.profiles = []models.UserProfile{{ID: "p-0", UID: identity.ID, Email: "g@x.com", Role: models.RoleUser, EmailVerified: true}}

	_, err := f.service.Register(context.Background(), models.RegisterRequest{Email: "g@x.com", Password: "wrong1", Name: "Sara", Role: models.RoleDriver})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	session, err := f.service.Register(context.Background(), models.RegisterRequest{
		Email: "g@x.com", Password: "secret1", Name: "Sara", Role: models.RoleDriver, LicenseNumber: "L-1",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []models.Role{models.RoleUser, models.RoleDriver}, session.Principal.Roles)
	assert.Empty(t, f.identity.mailer.sent)
}

func TestRegisterDuplicateVerifiedProfile(t *testing.T) {
	f := newRegistrationFixture()
	f.identity.profiles.profiles = []models.UserProfile{{Email: "g@x.com", Role: models.RoleUser, EmailVerified: true}}

	_, err := f.service.Register(context.Background(), models.RegisterRequest{Email: "g@x.com", Password: "secret1", Name: "Sara", Role: models.RoleUser})
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateProfile))
}

func TestRegisterReplacesUnverifiedProfile(t *testing.T) {
	f := newRegistrationFixture()
	f.identity.profiles.profiles = []models.UserProfile{{ID: "stale", Email: "g@x.com", Role: models.RoleUser}}

	_, err := f.service.Register(context.Background(), models.RegisterRequest{Email: "g@x.com", Password: "secret1", Name: "Sara", Role: models.RoleUser})
	require.NoError(t, err)
	require.Len(t, f.identity.profiles.profiles, 1)
	assert.NotEqual(t, "stale", f.identity.profiles.profiles[0].ID)
}

func TestRegisterAdminRequiresAndConsumesCode(t *testing.T) {
	f := newRegistrationFixture()
	ctx := context.Background()

	_, err := f.service.Register(ctx, models.RegisterRequest{Email: "a@x.com", Password: "secret1", Name: "Ops", Role: models.RoleAdmin, AdminCode: "WRONG"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.service.Register(ctx, models.RegisterRequest{Email: "a@x.com", Password: "secret1", Name: "Ops", Role: models.RoleAdmin, AdminCode: "INVITE1"})
	require.NoError(t, err)
	assert.False(t, f.codes.codes["INVITE1"].IsActive)
	assert.NotNil(t, f.codes.codes["INVITE1"].UsedBy)

	_, err = f.service.Register(ctx, models.RegisterRequest{Email: "b@x.com", Password: "secret1", Name: "Ops", Role: models.RoleAdmin, AdminCode: "INVITE1"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

type racedCodeChecker struct{}

func (racedCodeChecker) Validate(ctx context.Context, code string) bool { return true }

func (racedCodeChecker) Consume(ctx context.Context, code, usedBy string) bool { return false }

func TestRegisterAdminFailsWhenCodeAlreadyClaimed(t *testing.T) {
	identity := newIdentityFixture()
	svc := NewRegistrationService(&registrationProfileStub{store: identity.profiles}, identity.service, racedCodeChecker{}, &publisherStub{}, nil, nil)

	session, err := svc.Register(context.Background(), models.RegisterRequest{Email: "second@x.com", Password: "secret1", Name: "Ops", Role: models.RoleAdmin, AdminCode: "INVITE1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Nil(t, session)
	assert.Empty(t, identity.profiles.profiles)
}
