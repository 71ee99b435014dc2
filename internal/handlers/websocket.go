package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"video_proxy/internal/models"
	"video_proxy/internal/services"
	"video_proxy/internal/utils"
)

// WebSocket message types
const (
	MessageTypeProgressUpdate = "progress_update"
	MessageTypePing           = "ping"
	MessageTypePong           = "pong"
)

// ProgressUpdateMessage 推送给客户端的进度消息：当前所有
// 非终态任务的完整视图
type ProgressUpdateMessage struct {
	Type  string                `json:"type"`
	Tasks []models.TaskSnapshot `json:"tasks"`
}

// WebSocket configuration
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// 进度广播周期，与进度采样间隔保持一致
	broadcastPeriod = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 本地服务，放行所有来源
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketClient represents a connected WebSocket client
type WebSocketClient struct {
	hub  *WebSocketHub
	conn *websocket.Conn
	send chan []byte
	id   string
}

// WebSocketHub 管理所有WebSocket连接，周期性地把活跃任务的
// 进度快照推送给已连接的客户端
type WebSocketHub struct {
	clients    map[*WebSocketClient]bool
	broadcast  chan []byte
	register   chan *WebSocketClient
	unregister chan *WebSocketClient

	mu sync.RWMutex

	progress *services.ProgressService
}

// NewWebSocketHub creates a new WebSocket hub
func NewWebSocketHub(progress *services.ProgressService) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*WebSocketClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *WebSocketClient),
		unregister: make(chan *WebSocketClient),
		progress:   progress,
	}
}

// Start 启动hub主循环与进度广播协程
func (h *WebSocketHub) Start() {
	go h.run()
	go h.startProgressBroadcaster()
}

// run starts the hub's main loop
func (h *WebSocketHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			utils.Info("[WebSocket] Client connected: %s (total: %d)", client.id, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			utils.Info("[WebSocket] Client disconnected: %s (total: %d)", client.id, total)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// 发送缓冲已满，视为失联客户端
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// startProgressBroadcaster 周期性广播活跃任务进度；没有客户端
// 或没有活跃任务时跳过
func (h *WebSocketHub) startProgressBroadcaster() {
	ticker := time.NewTicker(broadcastPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if h.ClientCount() == 0 {
			continue
		}

		snapshots := h.progress.ActiveSnapshots()
		if len(snapshots) == 0 {
			continue
		}

		msg := ProgressUpdateMessage{
			Type:  MessageTypeProgressUpdate,
			Tasks: snapshots,
		}
		data, err := json.Marshal(msg)
		if err != nil {
			utils.Warn("[WebSocket] Failed to marshal progress update: %v", err)
			continue
		}

		select {
		case h.broadcast <- data:
		default:
			// 广播缓冲已满，丢弃本轮快照，下一轮重新生成
		}
	}
}

// readPump pumps messages from the WebSocket connection to the hub
func (c *WebSocketClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				utils.Warn("[WebSocket] Read error: %v", err)
			}
			break
		}

		var msg map[string]interface{}
		if err := json.Unmarshal(message, &msg); err == nil {
			if msgType, ok := msg["type"].(string); ok && msgType == MessageTypePing {
				pong := map[string]string{"type": MessageTypePong}
				if data, err := json.Marshal(pong); err == nil {
					c.send <- data
				}
			}
		}
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs handles WebSocket connection upgrade
func (h *WebSocketHub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("[WebSocket] Upgrade failed: %v", err)
		return
	}

	client := &WebSocketClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		id:   uuid.New().String(),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}
