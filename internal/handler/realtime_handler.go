package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
	"github.com/ridesafe/ridesafe-api/internal/realtime"
	"github.com/ridesafe/ridesafe-api/internal/service"
	appErrors "github.com/ridesafe/ridesafe-api/pkg/errors"
	"github.com/ridesafe/ridesafe-api/pkg/response"
)

const (
	scopeUser  = "user"
	scopeAdmin = "admin"
)

type authStateSource interface {
	OnAuthStateChanged(fn func(service.AuthState)) func()
}

type sessionObserver interface {
	SessionOpened(scope string)
	SessionClosed(scope string)
}

// RealtimeHandler upgrades authenticated requests to websocket live sessions.
type RealtimeHandler struct {
	feed     *realtime.Feed
	sources  realtime.Sources
	auth     authStateSource
	observer sessionObserver
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler constructs the websocket endpoint. checkOrigin follows the CORS policy.
func NewRealtimeHandler(feed *realtime.Feed, sources realtime.Sources, auth authStateSource, observer sessionObserver, checkOrigin func(*http.Request) bool, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RealtimeHandler{
		feed:     feed,
		sources:  sources,
		auth:     auth,
		observer: observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger: logger,
	}
}

// Connect godoc
// @Summary Open a live session
// @Description Guardians receive their profile, admission and change request updates; admins may pass scope=admin
// @Tags Realtime
// @Param access_token query string true "Access token"
// @Param scope query string false "user (default) or admin"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /realtime/ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	claims := requireClaims(c)
	if claims == nil {
		return
	}
	principal := claims.Principal()
	scope := c.DefaultQuery("scope", scopeUser)
	switch {
	case scope == scopeAdmin && !principal.IsAdmin():
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "admin scope requires an admin profile"))
		return
	case scope == scopeUser && !principal.HasRole(models.RoleUser):
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "no verified user profile"))
		return
	case scope != scopeUser && scope != scopeAdmin:
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "scope must be user or admin"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := realtime.NewClient(conn, h.logger)
	manager := realtime.NewSessionManager(h.feed, h.sources, h.logger, h.observer)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := func() {}
	if h.auth != nil {
		stop = h.auth.OnAuthStateChanged(func(state service.AuthState) {
			if state.UID == claims.UserID && state.Principal == nil {
				client.Close()
			}
		})
	}
	defer stop()

	go func() {
		var err error
		if scope == scopeAdmin {
			err = manager.SubscribeAdmin(ctx, realtime.AdminCallbacksFor(client.Push))
		} else {
			err = manager.SubscribeUser(ctx, principal.Email, realtime.UserCallbacksFor(client.Push))
		}
		if err != nil {
			h.logger.Warn("live session failed to start", zap.String("scope", scope), zap.Error(err))
			client.Push(dto.RealtimeMessage{Type: dto.RealtimeError})
			client.Close()
		}
	}()

	client.Run()
	manager.Close()
	h.logger.Debug("live session closed", zap.String("scope", scope), zap.String("uid", claims.UserID))
}
