package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"driveline/market/internal/auth"
	"driveline/market/internal/config"
	"driveline/market/internal/realtime"
	"driveline/market/internal/utils"
)

// WsHandler upgrades HTTP connections to WebSocket and attaches them to the
// realtime hub.
type WsHandler struct {
	cfg      *config.Config
	hub      *realtime.Hub
	upgrader websocket.Upgrader
}

// NewWsHandler creates a new WsHandler.
func NewWsHandler(cfg *config.Config, hub *realtime.Hub) *WsHandler {
	return &WsHandler{
		cfg: cfg,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the CORS layer in front of us.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve handles GET /v1/ws. Authentication is optional: a valid ?token= JWT
// binds the connection to that user and auto-subscribes their personal topic;
// without one the client is a guest limited to public topics.
func (h *WsHandler) Serve(c *gin.Context) {
	userID := ""
	if tokenString := c.Query("token"); tokenString != "" {
		claims, err := auth.ValidateJWT(tokenString, h.cfg.JwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		if _, err := utils.ParseSixID(claims.UserID); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token subject"})
			return
		}
		userID = claims.UserID
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := realtime.NewClient(h.hub, conn, userID)
	h.hub.Register(client)
	h.hub.Join(client, realtime.TopicFeed)
	if userID != "" {
		h.hub.Join(client, "user:"+userID)
	}
	client.Start()
}
