package realtime

import (
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/weqory/alertengine/pkg/errors"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Claims is the session-token shape this gateway accepts: the same
// fields the CRUD service's auth layer issues after validating Telegram
// InitData.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// Handler upgrades authenticated HTTP requests to a realtime WebSocket
// connection. Grounded on the teacher's internal/websocket.Handler
// read/write pump shape; the subscribe/unsubscribe message handling is
// dropped since a realtime client here is scoped to its own user, not
// to a chosen symbol set.
type Handler struct {
	hub       *Hub
	logger    *slog.Logger
	jwtSecret string
}

// NewHandler creates a Handler.
func NewHandler(hub *Hub, jwtSecret string, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger, jwtSecret: jwtSecret}
}

// Authenticate is fiber middleware run before the WebSocket upgrade: it
// validates the `token` query parameter and stores the resolved user id
// in locals for HandleConnection to read.
func (h *Handler) Authenticate(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	tokenString := c.Query("token")
	if tokenString == "" {
		return errors.ErrUnauthorized.WithMessage("missing token")
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.ErrInvalidToken
		}
		return []byte(h.jwtSecret), nil
	})
	if err != nil || !token.Valid {
		return errors.ErrInvalidToken
	}

	c.Locals("userId", claims.UserID)
	return c.Next()
}

// Upgrade returns the fiber middleware that completes the WebSocket
// handshake and hands the connection to HandleConnection.
func (h *Handler) Upgrade() fiber.Handler {
	return websocket.New(h.HandleConnection, websocket.Config{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	})
}

// HandleConnection runs for the lifetime of one accepted connection.
func (h *Handler) HandleConnection(conn *websocket.Conn) {
	userID, _ := conn.Locals("userId").(int64)

	client := &Client{
		ID:     uuid.New().String(),
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.hub.Register(client)

	go h.writePump(conn, client)
	h.readPump(conn, client)
}

func (h *Handler) readPump(conn *websocket.Conn, client *Client) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && h.logger != nil {
				h.logger.Warn("realtime read error", slog.String("clientId", client.ID), slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
