package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ridesafe/ridesafe-api/internal/dto"
	"github.com/ridesafe/ridesafe-api/internal/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBuffer = 256
)

// Client pumps session callbacks onto one websocket connection.
type Client struct {
	conn   *websocket.Conn
	send   chan dto.RealtimeMessage
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{conn: conn, send: make(chan dto.RealtimeMessage, sendBuffer), done: make(chan struct{}), logger: logger}
}

// Push queues a message, waiting for room in the send buffer. It returns false once the
// connection has ended. A stalled peer is dropped by the write deadline in writePump.
func (c *Client) Push(msg dto.RealtimeMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

// Done is closed once the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close ends the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Run starts the write pump and reads until the peer goes away.
func (c *Client) Run() {
	go c.writePump()
	c.readPump()
}

// readPump drains inbound frames so control messages are processed. Payloads are ignored.
func (c *Client) readPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("realtime read failed", zap.Error(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// UserCallbacksFor forwards guardian updates to pusher.
func UserCallbacksFor(pusher func(dto.RealtimeMessage) bool) UserCallbacks {
	return UserCallbacks{
		OnUserDataUpdate: func(profile models.UserProfile) {
			pusher(message(dto.RealtimeUserData, profile.Email, profile))
		},
		OnAdmissionStatusChange: func(email string, status models.ReviewStatus) {
			pusher(message(dto.RealtimeAdmission, email, map[string]models.ReviewStatus{"status": status}))
		},
		OnChangeRequestUpdate: func(email string, request models.ChangeRequest) {
			pusher(message(dto.RealtimeChangeRequest, email, request))
		},
	}
}

// AdminCallbacksFor forwards admin actions to pusher.
func AdminCallbacksFor(pusher func(dto.RealtimeMessage) bool) AdminCallbacks {
	return AdminCallbacks{
		OnAdminAction: func(action AdminAction) {
			pusher(message(dto.RealtimeAdminAction, "", action))
		},
	}
}

func message(kind, email string, data interface{}) dto.RealtimeMessage {
	payload, err := json.Marshal(data)
	if err != nil {
		return dto.RealtimeMessage{Type: dto.RealtimeError, Email: email}
	}
	return dto.RealtimeMessage{Type: kind, Email: email, Data: payload}
}
