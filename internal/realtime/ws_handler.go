package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"outpatient-backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Authenticator resolves a session token, rejecting revoked sessions.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*utils.Claims, error)
}

// WebSocketHandler upgrades authenticated sessions and pumps hub events
// to them.
type WebSocketHandler struct {
	hub      *Hub
	auth     Authenticator
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a handler. allowedOrigins empty or "*"
// accepts any origin.
func NewWebSocketHandler(hub *Hub, auth Authenticator, allowedOrigins []string) *WebSocketHandler {
	return &WebSocketHandler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// Connect authenticates the session before upgrading. Browsers cannot set
// headers on a websocket handshake, so the token may also come as ?token=.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	token := c.Query("token")
	if header := c.GetHeader("Authorization"); token == "" && strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if token == "" {
		utils.APIResponse(c, http.StatusUnauthorized, false, "Authentication token missing", nil)
		return
	}

	claims, err := h.auth.Authenticate(c.Request.Context(), token)
	if err != nil {
		utils.APIError(c, err)
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket: upgrade failed")
		return
	}

	client := NewClient(uuid.NewString(), claims.UserID, claims.Role, sendBuffer)
	h.hub.Register(client, DefaultTopics(claims.Role)...)
	log.Debug().Str("client", client.ID).Str("role", client.Role).Msg("websocket: connected")

	// the connection lives no longer than the session token
	var expiry *time.Timer
	if claims.ExpiresAt != nil {
		expiry = time.AfterFunc(time.Until(claims.ExpiresAt.Time), func() {
			_ = ws.Close()
		})
	}

	go h.writePump(client, ws)
	go h.readPump(client, ws, expiry)
}

func (h *WebSocketHandler) readPump(client *Client, ws *websocket.Conn, expiry *time.Timer) {
	defer func() {
		if expiry != nil {
			expiry.Stop()
		}
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *WebSocketHandler) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
