package realtime

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/repository"
)

type profileSourceStub struct {
	profiles []models.UserProfile
	err      error
}

func (s *profileSourceStub) ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error) {
	return s.profiles, s.err
}

type admissionSourceStub struct {
	mu     sync.Mutex
	latest *models.AdmissionForm
	forms  []models.AdmissionForm
}

func (s *admissionSourceStub) LatestByEmail(ctx context.Context, email string) (*models.AdmissionForm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return nil, sql.ErrNoRows
	}
	form := *s.latest
	return &form, nil
}

func (s *admissionSourceStub) List(ctx context.Context, filter repository.AdmissionFilter) ([]models.AdmissionForm, error) {
	return s.forms, nil
}

func (s *admissionSourceStub) setLatest(form *models.AdmissionForm) {
	s.mu.Lock()
	s.latest = form
	s.mu.Unlock()
}

type changeRequestSourceStub struct {
	requests []models.ChangeRequest
}

func (s *changeRequestSourceStub) List(ctx context.Context, filter repository.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	return s.requests, nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) waitFor(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.snapshot()) >= n }, time.Second, 5*time.Millisecond)
	return r.snapshot()
}

type observerStub struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (o *observerStub) SessionOpened(scope string) {
	o.mu.Lock()
	o.opened++
	o.mu.Unlock()
}

func (o *observerStub) SessionClosed(scope string) {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
}

func newTestManager(feed *Feed, admissions *admissionSourceStub, observer sessionObserver) *SessionManager {
	return NewSessionManager(feed, Sources{
		Profiles: &profileSourceStub{profiles: []models.UserProfile{
			{ID: "d-1", Email: "p@example.com", Role: models.RoleDriver},
			{ID: "u-1", Email: "p@example.com", Role: models.RoleUser, AdmissionStatus: models.AdmissionPending},
		}},
		Admissions: admissions,
		ChangeRequests: &changeRequestSourceStub{requests: []models.ChangeRequest{
			{ID: "cr-2", UserEmail: "p@example.com", Status: models.StatusPending},
			{ID: "cr-1", UserEmail: "p@example.com", Status: models.StatusApproved},
		}},
	}, nil, observer)
}

func userRecorder(rec *recorder, prefix string) UserCallbacks {
	return UserCallbacks{
		OnUserDataUpdate: func(profile models.UserProfile) {
			rec.add(prefix + "profile:" + profile.ID + ":" + string(profile.AdmissionStatus))
		},
		OnAdmissionStatusChange: func(email string, status models.ReviewStatus) {
			rec.add(prefix + "admission:" + string(status))
		},
		OnChangeRequestUpdate: func(email string, request models.ChangeRequest) {
			rec.add(prefix + "request:" + request.ID + ":" + string(request.Status))
		},
	}
}

func TestSubscribeUserDeliversSnapshotThenChanges(t *testing.T) {
	feed := NewFeed(nil)
	admissions := &admissionSourceStub{latest: &models.AdmissionForm{ID: "f-1", Status: models.StatusPending}}
	observer := &observerStub{}
	manager := newTestManager(feed, admissions, observer)
	defer manager.Close()

	rec := &recorder{}
	require.NoError(t, manager.SubscribeUser(context.Background(), "p@example.com", userRecorder(rec, "")))

	assert.Equal(t, []string{
		"profile:u-1:pending",
		"admission:pending",
		"request:cr-2:pending",
		"request:cr-1:approved",
	}, rec.snapshot())

	admissions.setLatest(&models.AdmissionForm{ID: "f-1", Status: models.StatusApproved})
	formChange, err := NewChange(models.CollectionAdmissionForms, models.ChangeModified, "f-1", "p@example.com", admissions.latest)
	require.NoError(t, err)
	profileChange, err := NewChange(models.CollectionUsers, models.ChangeModified, "u-1", "p@example.com",
		models.UserProfile{ID: "u-1", Email: "p@example.com", Role: models.RoleUser, AdmissionStatus: models.AdmissionApproved})
	require.NoError(t, err)
	driverChange, err := NewChange(models.CollectionUsers, models.ChangeModified, "d-1", "p@example.com",
		models.UserProfile{ID: "d-1", Email: "p@example.com", Role: models.RoleDriver})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), formChange, driverChange, profileChange))

	events := rec.waitFor(t, 6)
	assert.ElementsMatch(t, []string{"admission:approved", "profile:u-1:approved"}, events[4:])
	assert.Equal(t, []string{UserKey("p@example.com")}, manager.Keys())
	assert.Equal(t, 1, observer.opened)
}

func TestSubscribeUserTwiceReplacesCallbacks(t *testing.T) {
	feed := NewFeed(nil)
	admissions := &admissionSourceStub{}
	manager := newTestManager(feed, admissions, nil)
	defer manager.Close()

	first := &recorder{}
	second := &recorder{}
	require.NoError(t, manager.SubscribeUser(context.Background(), "p@example.com", userRecorder(first, "first:")))
	before := feed.Subscribers()
	require.NoError(t, manager.SubscribeUser(context.Background(), "p@example.com", userRecorder(second, "second:")))
	assert.Equal(t, before, feed.Subscribers())
	assert.Empty(t, second.snapshot())

	change, err := NewChange(models.CollectionChangeRequests, models.ChangeAdded, "cr-3", "p@example.com", models.ChangeRequest{ID: "cr-3", Status: models.StatusPending})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), change))

	assert.Equal(t, []string{"second:request:cr-3:pending"}, second.waitFor(t, 1))
	for _, event := range first.snapshot() {
		assert.NotContains(t, event, "cr-3")
	}
}

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	feed := NewFeed(nil)
	observer := &observerStub{}
	manager := newTestManager(feed, &admissionSourceStub{}, observer)

	rec := &recorder{}
	require.NoError(t, manager.SubscribeUser(context.Background(), "p@example.com", userRecorder(rec, "")))
	seen := len(rec.snapshot())
	manager.UnsubscribeUser("p@example.com")
	assert.Equal(t, 0, feed.Subscribers())
	assert.Empty(t, manager.Keys())

	change, err := NewChange(models.CollectionChangeRequests, models.ChangeAdded, "cr-9", "p@example.com", models.ChangeRequest{ID: "cr-9"})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), change))
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, rec.snapshot(), seen)
	assert.Equal(t, 1, observer.closed)

	manager.Close()
	assert.True(t, errors.Is(manager.SubscribeAdmin(context.Background(), AdminCallbacks{}), ErrManagerClosed))
}

func TestSubscribeAdminForwardsAddsAndModifies(t *testing.T) {
	feed := NewFeed(nil)
	admissions := &admissionSourceStub{forms: []models.AdmissionForm{{ID: "f-1", UserEmail: "p@example.com", Status: models.StatusPending}}}
	manager := newTestManager(feed, admissions, nil)
	defer manager.Close()

	var (
		mu      sync.Mutex
		actions []AdminAction
	)
	require.NoError(t, manager.SubscribeAdmin(context.Background(), AdminCallbacks{OnAdminAction: func(action AdminAction) {
		mu.Lock()
		actions = append(actions, action)
		mu.Unlock()
	}}))

	modified, err := NewChange(models.CollectionAdmissionForms, models.ChangeModified, "f-1", "p@example.com", models.AdmissionForm{ID: "f-1", Status: models.StatusApproved})
	require.NoError(t, err)
	removed := Change{Collection: models.CollectionChangeRequests, Type: models.ChangeRemoved, DocID: "cr-1"}
	require.NoError(t, feed.Publish(context.Background(), modified, removed))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(actions) >= 4
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, actions, 4)
	assert.Equal(t, ActionAdmissionFormUpdate, actions[0].Type)
	assert.Equal(t, models.ChangeAdded, actions[0].ChangeType)
	assert.Equal(t, ActionChangeRequestUpdate, actions[1].Type)
	assert.Equal(t, ActionChangeRequestUpdate, actions[2].Type)
	assert.Equal(t, models.ChangeModified, actions[3].ChangeType)
	assert.Equal(t, "f-1", actions[3].ID)
}

func TestSessionManagersAreIsolated(t *testing.T) {
	feed := NewFeed(nil)
	one := newTestManager(feed, &admissionSourceStub{}, nil)
	two := newTestManager(feed, &admissionSourceStub{}, nil)
	defer two.Close()

	require.NoError(t, one.SubscribeUser(context.Background(), "p@example.com", UserCallbacks{}))
	require.NoError(t, two.SubscribeUser(context.Background(), "p@example.com", UserCallbacks{}))
	one.Close()

	assert.Empty(t, one.Keys())
	assert.Equal(t, []string{UserKey("p@example.com")}, two.Keys())
	assert.Equal(t, 3, feed.Subscribers())
}
