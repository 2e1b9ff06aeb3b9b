package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ridesafe/ridesafe-api/internal/models"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/mail"
)

type identityStoreStub struct {
	mu         sync.Mutex
	identities map[string]*models.Identity
	codes      map[string]*models.ActionCode
	seq        int
}

func newIdentityStoreStub() *identityStoreStub {
	return &identityStoreStub{identities: map[string]*models.Identity{}, codes: map[string]*models.ActionCode{}}
}

func (s *identityStoreStub) add(t *testing.T, email, password string, verified bool) *models.Identity {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	identity := &models.Identity{Email: email, PasswordHash: string(hash), EmailVerified: verified}
	require.NoError(t, s.Create(context.Background(), identity))
	return identity
}

func (s *identityStoreStub) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.Email == strings.ToLower(email) {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *identityStoreStub) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, ok := s.identities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *identity
	return &cp, nil
}

func (s *identityStoreStub) Create(ctx context.Context, identity *models.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	if identity.ID == "" {
		identity.ID = "id-" + string(rune('0'+s.seq))
	}
	cp := *identity
	s.identities[identity.ID] = &cp
	return nil
}

func (s *identityStoreStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	return nil
}

func (s *identityStoreStub) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id].PasswordHash = passwordHash
	return nil
}

func (s *identityStoreStub) MarkVerified(ctx context.Context, id string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[id].EmailVerified = true
	return nil
}

func (s *identityStoreStub) CreateActionCode(ctx context.Context, code *models.ActionCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.codes[code.Code] = &cp
	return nil
}

func (s *identityStoreStub) FindActionCode(ctx context.Context, code string) (*models.ActionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *c
	return &cp, nil
}

func (s *identityStoreStub) UseActionCode(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok || c.UsedAt != nil {
		return false, nil
	}
	c.UsedAt = &usedAt
	return true, nil
}

type identityProfileStub struct {
	profiles []models.UserProfile
}

func (s *identityProfileStub) ListByIdentity(ctx context.Context, uid string) ([]models.UserProfile, error) {
	var out []models.UserProfile
	for _, p := range s.profiles {
		if p.UID == uid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *identityProfileStub) ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error) {
	var out []models.UserProfile
	for _, p := range s.profiles {
		if p.Email == email {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *identityProfileStub) MarkVerifiedByIdentity(ctx context.Context, uid string) (int64, error) {
	var n int64
	for i := range s.profiles {
		if s.profiles[i].UID == uid && !s.profiles[i].EmailVerified {
			s.profiles[i].EmailVerified = true
			n++
		}
	}
	return n, nil
}

type sessionStoreStub struct {
	mu       sync.Mutex
	values   map[string][]byte
	counters map[string]int64
}

func newSessionStoreStub() *sessionStoreStub {
	return &sessionStoreStub{values: map[string][]byte{}, counters: map[string]int64{}}
}

func (s *sessionStoreStub) Get(ctx context.Context, key string, dest interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (s *sessionStoreStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, _ := json.Marshal(value)
	s.values[key] = raw
	return nil
}

func (s *sessionStoreStub) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
		delete(s.counters, key)
	}
	return nil
}

func (s *sessionStoreStub) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[key]++
	return s.counters[key], nil
}

func (s *sessionStoreStub) Counter(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key], nil
}

type mailerStub struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *mailerStub) Send(ctx context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mailerStub) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type identityFixture struct {
	service    *IdentityService
	identities *identityStoreStub
	profiles   *identityProfileStub
	sessions   *sessionStoreStub
	mailer     *mailerStub
}

func newIdentityFixture() *identityFixture {
	f := &identityFixture{
		identities: newIdentityStoreStub(),
		profiles:   &identityProfileStub{},
		sessions:   newSessionStoreStub(),
		mailer:     &mailerStub{},
	}
	f.service = NewIdentityService(f.identities, f.profiles, f.sessions, f.mailer, nil, nil, IdentityConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "ridesafe-test",
		MaxLoginAttempts:  3,
		VerifyURL:         "http://app/verify-email",
		ResetURL:          "http://app/reset-password",
	})
	return f
}

func TestRegisterValidation(t *testing.T) {
	f := newIdentityFixture()
	ctx := context.Background()

	_, err := f.service.Register(ctx, "bad-email", "secret1")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = f.service.Register(ctx, "g@x.com", "123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Contains(t, err.Error(), "weak password")

	identity, err := f.service.Register(ctx, "G@X.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "g@x.com", identity.Email)
	assert.False(t, identity.EmailVerified)

	_, err = f.service.Register(ctx, "g@x.com", "secret1")
	assert.True(t, errors.Is(err, appErrors.ErrEmailInUse))
	assert.True(t, appErrors.IsAuthError(err))
}

func TestLoginErrorKinds(t *testing.T) {
	f := newIdentityFixture()
	f.identities.add(t, "g@x.com", "secret1", true)
	disabled := f.identities.add(t, "d@x.com", "secret1", true)
	f.identities.identities[disabled.ID].Disabled = true
	ctx := context.Background()

	_, err := f.service.Login(ctx, models.LoginRequest{Email: "nobody@x.com", Password: "secret1"})
	assert.True(t, errors.Is(err, appErrors.ErrUserNotFound))

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "wrong"})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))

	_, err = f.service.Login(ctx, models.LoginRequest{Email: "d@x.com", Password: "secret1"})
	assert.True(t, errors.Is(err, appErrors.ErrAccountDisabled))
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	f := newIdentityFixture()
	f.identities.add(t, "g@x.com", "secret1", true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "wrong"})
		assert.True(t, errors.Is(err, appErrors.ErrInvalidCredentials))
	}
	_, err := f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "secret1"})
	assert.True(t, errors.Is(err, appErrors.ErrTooManyAttempts))

	require.NoError(t, f.sessions.Delete(ctx, loginAttemptPrefix+"g@x.com"))
	_, err = f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "secret1"})
	assert.NoError(t, err)
}

func TestLoginIssuesTokenWithVerifiedRoles(t *testing.T) {
	f := newIdentityFixture()
	identity := f.identities.add(t, "g@x.com", "secret1", true)
	f.profiles.profiles = []models.UserProfile{
		{ID: "p-1", UID: identity.ID, Email: "g@x.com", Role: models.RoleUser, EmailVerified: true},
		{ID: "p-2", UID: identity.ID, Email: "g@x.com", Role: models.RoleDriver, EmailVerified: false},
	}

	var states []AuthState
	unsubscribe := f.service.OnAuthStateChanged(func(state AuthState) { states = append(states, state) })
	defer unsubscribe()

	session, err := f.service.Login(context.Background(), models.LoginRequest{Email: "g@x.com", Password: "secret1", Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleUser}, session.Principal.Roles)
	assert.Len(t, session.Profiles, 2)

	claims, err := f.service.ValidateToken(context.Background(), session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, identity.ID, claims.UserID)
	assert.True(t, claims.EmailVerified)

	require.Len(t, states, 1)
	assert.Equal(t, identity.ID, states[0].Principal.UID)
}

func TestLoginRejectsUnregisteredPanel(t *testing.T) {
	f := newIdentityFixture()
	identity := f.identities.add(t, "g@x.com", "secret1", true)
	f.profiles.profiles = []models.UserProfile{{UID: identity.ID, Email: "g@x.com", Role: models.RoleUser, EmailVerified: true}}

	_, err := f.service.Login(context.Background(), models.LoginRequest{Email: "g@x.com", Password: "secret1", Role: models.RoleDriver})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUserNotFound))
	assert.Contains(t, err.Error(), "driver")

	f.profiles.profiles = append(f.profiles.profiles, models.UserProfile{UID: identity.ID, Email: "g@x.com", Role: models.RoleAdmin, EmailVerified: true})
	_, err = f.service.Login(context.Background(), models.LoginRequest{Email: "g@x.com", Password: "secret1", Role: models.RoleDriver})
	assert.NoError(t, err)
}

func TestLogoutRevokesTokenAndNotifies(t *testing.T) {
	f := newIdentityFixture()
	f.identities.add(t, "g@x.com", "secret1", true)
	ctx := context.Background()

	session, err := f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "secret1"})
	require.NoError(t, err)
	claims, err := f.service.ValidateToken(ctx, session.AccessToken)
	require.NoError(t, err)

	var last AuthState
	unsubscribe := f.service.OnAuthStateChanged(func(state AuthState) { last = state })
	require.NoError(t, f.service.Logout(ctx, claims))
	assert.Equal(t, claims.UserID, last.UID)
	assert.Nil(t, last.Principal)

	_, err = f.service.ValidateToken(ctx, session.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	unsubscribe()
	unsubscribe()
	last = AuthState{}
	_, err = f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Empty(t, last.UID)
}

func TestValidateTokenRejectsForeignIssuer(t *testing.T) {
	f := newIdentityFixture()
	other := NewIdentityService(f.identities, f.profiles, nil, nil, nil, nil, IdentityConfig{AccessTokenSecret: "secret", Issuer: "someone-else"})
	identity := f.identities.add(t, "g@x.com", "secret1", true)
	session, err := other.IssueSession(context.Background(), identity)
	require.NoError(t, err)

	_, err = f.service.ValidateToken(context.Background(), session.AccessToken)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestVerifyEmailFlow(t *testing.T) {
	f := newIdentityFixture()
	identity := f.identities.add(t, "g@x.com", "secret1", false)
	f.profiles.profiles = []models.UserProfile{
		{UID: identity.ID, Email: "g@x.com", Role: models.RoleUser},
		{UID: identity.ID, Email: "g@x.com", Role: models.RoleDriver},
	}
	ctx := context.Background()

	require.NoError(t, f.service.SendVerificationEmail(ctx, identity.ID))
	msg := f.mailer.last()
	assert.Equal(t, mail.TemplateVerifyEmail, msg.Template)
	assert.Contains(t, msg.Data["link"], "http://app/verify-email?code=")
	code := msg.Data["code"]

	principal, err := f.service.VerifyEmail(ctx, code)
	require.NoError(t, err)
	assert.True(t, principal.EmailVerified)
	assert.ElementsMatch(t, []models.Role{models.RoleUser, models.RoleDriver}, principal.Roles)

	_, err = f.service.VerifyEmail(ctx, code)
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCode))

	require.NoError(t, f.service.SendVerificationEmail(ctx, identity.ID))
	assert.Len(t, f.mailer.sent, 1)
}

func TestVerifyEmailRejectsExpiredAndWrongPurpose(t *testing.T) {
	f := newIdentityFixture()
	identity := f.identities.add(t, "g@x.com", "secret1", false)
	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.identities.CreateActionCode(ctx, &models.ActionCode{Code: "old", IdentityID: identity.ID, Purpose: models.PurposeVerifyEmail, ExpiresAt: past}))
	require.NoError(t, f.identities.CreateActionCode(ctx, &models.ActionCode{Code: "reset", IdentityID: identity.ID, Purpose: models.PurposeResetPassword, ExpiresAt: time.Now().Add(time.Hour)}))

	_, err := f.service.VerifyEmail(ctx, "old")
	assert.True(t, errors.Is(err, appErrors.ErrExpiredCode))
	_, err = f.service.VerifyEmail(ctx, "reset")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCode))
	_, err = f.service.VerifyEmail(ctx, "unknown")
	assert.True(t, errors.Is(err, appErrors.ErrInvalidCode))
}

func TestPasswordResetFlow(t *testing.T) {
	f := newIdentityFixture()
	f.identities.add(t, "g@x.com", "secret1", true)
	ctx := context.Background()

	require.NoError(t, f.service.SendPasswordReset(ctx, "nobody@x.com"))
	assert.Empty(t, f.mailer.sent)

	require.NoError(t, f.service.SendPasswordReset(ctx, "g@x.com"))
	code := f.mailer.last().Data["code"]

	err := f.service.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Code: code, NewPassword: "123"})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	require.NoError(t, f.service.ResetPassword(ctx, models.ConfirmResetPasswordRequest{Code: code, NewPassword: "newsecret"}))
	_, err = f.service.Login(ctx, models.LoginRequest{Email: "g@x.com", Password: "newsecret"})
	assert.NoError(t, err)
}
