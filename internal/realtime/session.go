package realtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/repository"
)

// Admin action types.
const (
	ActionAdmissionFormUpdate = "admission_form_update"
	ActionChangeRequestUpdate = "change_request_update"
)

const adminKey = "admin"

// ErrManagerClosed is returned when subscribing on a closed manager.
var ErrManagerClosed = errors.New("realtime: session manager closed")

type profileSource interface {
	ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error)
}

type admissionSource interface {
	LatestByEmail(ctx context.Context, email string) (*models.AdmissionForm, error)
	List(ctx context.Context, filter repository.AdmissionFilter) ([]models.AdmissionForm, error)
}

type changeRequestSource interface {
	List(ctx context.Context, filter repository.ChangeRequestFilter) ([]models.ChangeRequest, error)
}

// Sources are the stores live queries read their snapshots from.
type Sources struct {
	Profiles       profileSource
	Admissions     admissionSource
	ChangeRequests changeRequestSource
}

// UserCallbacks receive a guardian's live updates.
type UserCallbacks struct {
	OnUserDataUpdate        func(profile models.UserProfile)
	OnAdmissionStatusChange func(email string, status models.ReviewStatus)
	OnChangeRequestUpdate   func(email string, request models.ChangeRequest)
}

// AdminAction is one add or modify seen by the admin live queries.
type AdminAction struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	ChangeType models.ChangeType `json:"changeType"`
	Data       json.RawMessage   `json:"data"`
}

// AdminCallbacks receive admin live updates.
type AdminCallbacks struct {
	OnAdminAction func(action AdminAction)
}

type sessionObserver interface {
	SessionOpened(scope string)
	SessionClosed(scope string)
}

// SessionManager owns the live queries of one client connection. Subscriptions are keyed
// by "user:<email>" and "admin"; subscribing again under a key swaps the callbacks in place.
type SessionManager struct {
	feed     *Feed
	sources  Sources
	logger   *zap.Logger
	observer sessionObserver

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewSessionManager constructs a manager bound to feed.
func NewSessionManager(feed *Feed, sources Sources, logger *zap.Logger, observer sessionObserver) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionManager{feed: feed, sources: sources, logger: logger, observer: observer, sessions: make(map[string]*session)}
}

type session struct {
	key   string
	scope string
	ready chan struct{}
	done  chan struct{}

	mu    sync.RWMutex
	user  UserCallbacks
	admin AdminCallbacks
	subs  []*Subscription
	once  sync.Once
}

func newSession(key, scope string) *session {
	return &session{key: key, scope: scope, ready: make(chan struct{}), done: make(chan struct{})}
}

func (s *session) userCallbacks() UserCallbacks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *session) adminCallbacks() AdminCallbacks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin
}

// wait blocks a delivery until the initial snapshot went out. Reports false once closed.
func (s *session) wait() bool {
	select {
	case <-s.ready:
		return true
	case <-s.done:
		return false
	}
}

// attach binds subs to the session, closing them at once if the session already ended.
func (s *session) attach(subs ...*Subscription) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
		return
	default:
	}
	s.subs = append(s.subs, subs...)
	s.mu.Unlock()
}

func (s *session) close() {
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		subs := s.subs
		s.subs = nil
		s.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
	})
}

// UserKey returns the registry key of a guardian session.
func UserKey(email string) string {
	return "user:" + email
}

// SubscribeUser opens the three guardian live queries for email: the guardian profile, the most
// recent admission form and the change requests. The initial snapshot is delivered before changes.
func (m *SessionManager) SubscribeUser(ctx context.Context, email string, callbacks UserCallbacks) error {
	key := UserKey(email)
	sess, created, err := m.register(key, "user", func(s *session) { s.user = callbacks })
	if err != nil || !created {
		return err
	}

	sess.attach(
		m.feed.Subscribe(OwnedBy(models.CollectionUsers, email), func(change Change) {
			if !sess.wait() || change.Type == models.ChangeRemoved {
				return
			}
			var profile models.UserProfile
			if err := change.Decode(&profile); err != nil {
				m.logger.Warn("decode profile change", zap.Error(err))
				return
			}
			if profile.Role != models.RoleUser {
				return
			}
			if cb := sess.userCallbacks().OnUserDataUpdate; cb != nil {
				cb(profile)
			}
		}),
		m.feed.Subscribe(OwnedBy(models.CollectionAdmissionForms, email), func(change Change) {
			if !sess.wait() {
				return
			}
			latest, err := m.sources.Admissions.LatestByEmail(context.Background(), email)
			if err != nil {
				if !errors.Is(err, sql.ErrNoRows) {
					m.logger.Warn("reload latest admission form", zap.String("email", email), zap.Error(err))
				}
				return
			}
			if cb := sess.userCallbacks().OnAdmissionStatusChange; cb != nil {
				cb(email, latest.Status)
			}
		}),
		m.feed.Subscribe(OwnedBy(models.CollectionChangeRequests, email), func(change Change) {
			if !sess.wait() || change.Type == models.ChangeRemoved {
				return
			}
			var request models.ChangeRequest
			if err := change.Decode(&request); err != nil {
				m.logger.Warn("decode change request change", zap.Error(err))
				return
			}
			if cb := sess.userCallbacks().OnChangeRequestUpdate; cb != nil {
				cb(email, request)
			}
		}),
	)

	var (
		profiles []models.UserProfile
		latest   *models.AdmissionForm
		requests []models.ChangeRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profiles, err = m.sources.Profiles.ListByEmail(gctx, email)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = m.sources.Admissions.LatestByEmail(gctx, email)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = m.sources.ChangeRequests.List(gctx, repository.ChangeRequestFilter{UserEmail: email})
		return err
	})
	if err := g.Wait(); err != nil {
		m.Unsubscribe(key)
		return fmt.Errorf("load snapshot for %s: %w", email, err)
	}

	cb := sess.userCallbacks()
	for _, profile := range profiles {
		if profile.Role == models.RoleUser && cb.OnUserDataUpdate != nil {
			cb.OnUserDataUpdate(profile)
			break
		}
	}
	if latest != nil && cb.OnAdmissionStatusChange != nil {
		cb.OnAdmissionStatusChange(email, latest.Status)
	}
	if cb.OnChangeRequestUpdate != nil {
		for _, request := range requests {
			cb.OnChangeRequestUpdate(email, request)
		}
	}
	close(sess.ready)
	return nil
}

// SubscribeAdmin opens the two admin live queries over every admission form and change request.
func (m *SessionManager) SubscribeAdmin(ctx context.Context, callbacks AdminCallbacks) error {
	sess, created, err := m.register(adminKey, adminKey, func(s *session) { s.admin = callbacks })
	if err != nil || !created {
		return err
	}

	forward := func(actionType string) Handler {
		return func(change Change) {
			if !sess.wait() || change.Type == models.ChangeRemoved {
				return
			}
			if cb := sess.adminCallbacks().OnAdminAction; cb != nil {
				cb(AdminAction{Type: actionType, ID: change.DocID, ChangeType: change.Type, Data: change.Data})
			}
		}
	}
	sess.attach(
		m.feed.Subscribe(Collection(models.CollectionAdmissionForms), forward(ActionAdmissionFormUpdate)),
		m.feed.Subscribe(Collection(models.CollectionChangeRequests), forward(ActionChangeRequestUpdate)),
	)

	var (
		forms    []models.AdmissionForm
		requests []models.ChangeRequest
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		forms, err = m.sources.Admissions.List(gctx, repository.AdmissionFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		requests, err = m.sources.ChangeRequests.List(gctx, repository.ChangeRequestFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		m.Unsubscribe(adminKey)
		return fmt.Errorf("load admin snapshot: %w", err)
	}

	if cb := sess.adminCallbacks().OnAdminAction; cb != nil {
		for i := range forms {
			if change, err := NewChange(models.CollectionAdmissionForms, models.ChangeAdded, forms[i].ID, forms[i].UserEmail, forms[i]); err == nil {
				cb(AdminAction{Type: ActionAdmissionFormUpdate, ID: change.DocID, ChangeType: change.Type, Data: change.Data})
			}
		}
		for i := range requests {
			if change, err := NewChange(models.CollectionChangeRequests, models.ChangeAdded, requests[i].ID, requests[i].UserEmail, requests[i]); err == nil {
				cb(AdminAction{Type: ActionChangeRequestUpdate, ID: change.DocID, ChangeType: change.Type, Data: change.Data})
			}
		}
	}
	close(sess.ready)
	return nil
}

func (m *SessionManager) register(key, scope string, apply func(*session)) (*session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrManagerClosed
	}
	if existing, ok := m.sessions[key]; ok {
		existing.mu.Lock()
		apply(existing)
		existing.mu.Unlock()
		return existing, false, nil
	}
	sess := newSession(key, scope)
	apply(sess)
	m.sessions[key] = sess
	if m.observer != nil {
		m.observer.SessionOpened(scope)
	}
	return sess, true, nil
}

// UnsubscribeUser releases the guardian live queries for email.
func (m *SessionManager) UnsubscribeUser(email string) {
	m.Unsubscribe(UserKey(email))
}

// UnsubscribeAdmin releases the admin live queries.
func (m *SessionManager) UnsubscribeAdmin() {
	m.Unsubscribe(adminKey)
}

// Unsubscribe releases the live queries registered under key.
func (m *SessionManager) Unsubscribe(key string) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.close()
	if m.observer != nil {
		m.observer.SessionClosed(sess.scope)
	}
}

// Keys lists the active subscription keys.
func (m *SessionManager) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Close releases every live query and rejects later subscriptions.
func (m *SessionManager) Close() {
	m.mu.Lock()
	m.closed = true
	keys := make([]string, 0, len(m.sessions))
	for key := range m.sessions {
		keys = append(keys, key)
	}
	m.mu.Unlock()
	for _, key := range keys {
		m.Unsubscribe(key)
	}
}
