package handler

import (
	"net/http"

	"emilock-server/internal/middleware"
	"emilock-server/internal/websocket"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WebSocketHandler upgrades an authenticated dashboard to the live fleet
// feed. It runs behind AuthMiddleware, which accepts ?token= on upgrades.
type WebSocketHandler struct {
	manager  *websocket.Manager
	upgrader ws.Upgrader
	logger   *zap.Logger
}

func NewWebSocketHandler(manager *websocket.Manager, readBuffer, writeBuffer int, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: ws.Upgrader{
			ReadBufferSize:  readBuffer,
			WriteBufferSize: writeBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	admin := middleware.GetAdmin(r)
	if admin == nil {
		http.Error(w, "missing authorization token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("admin_id", admin.ID), zap.Error(err))
		return
	}

	client := websocket.NewClient(uuid.New().String(), admin.ID, admin.IsSuperAdmin(), conn, h.manager)
	if !h.manager.Connect(client) {
		conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.ClosePolicyViolation, "too many connections"))
		conn.Close()
		return
	}

	hello, err := websocket.NewMessage(websocket.TypeHello, &websocket.HelloPayload{
		ClientID: client.ID,
		DealerID: admin.ID,
		AllFeeds: client.AllFeeds,
	})
	if err == nil {
		h.manager.SendToClient(client.ID, hello)
	}

	go client.WritePump()
	go client.ReadPump()
}
