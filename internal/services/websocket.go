package services

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// NotificationMessage is pushed to connected operator consoles.
type NotificationMessage struct {
	Type      string      `json:"type"`
	Recipient string      `json:"recipient,omitempty"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type hubClient struct {
	id        string
	recipient string
	conn      *websocket.Conn
	send      chan NotificationMessage
	hub       *NotificationHub
}

// NotificationHub fans in-app notifications out to websocket clients.
// A message with an empty recipient goes to every client.
type NotificationHub struct {
	clients    map[string]*hubClient
	broadcast  chan NotificationMessage
	register   chan *hubClient
	unregister chan *hubClient
	mutex      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 由 CORS 中间件限制来源
	},
}

func NewNotificationHub() *NotificationHub {
	return &NotificationHub{
		clients:    make(map[string]*hubClient),
		broadcast:  make(chan NotificationMessage, 256),
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
	}
}

// Run 处理注册、注销与广播，直到 ctx 结束
func (h *NotificationHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.id] = client
			h.mutex.Unlock()
			logrus.Infof("notification client %s connected (recipient=%q)", client.id, client.recipient)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				close(client.send)
				logrus.Infof("notification client %s disconnected", client.id)
			}
			h.mutex.Unlock()

		case message := <-h.broadcast:
			h.mutex.Lock()
			for id, client := range h.clients {
				if message.Recipient != "" && client.recipient != "" && client.recipient != message.Recipient {
					continue
				}
				select {
				case client.send <- message:
				default:
					// 客户端过慢，断开
					close(client.send)
					delete(h.clients, id)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// Publish queues msg for delivery. It fails when the hub is saturated.
func (h *NotificationHub) Publish(ctx context.Context, msg NotificationMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount 当前连接数
func (h *NotificationHub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request; ?recipient= limits delivery to one operator.
func (h *NotificationHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Error("WebSocket upgrade failed:", err)
		return
	}
	client := &hubClient{
		id:        uuid.NewString(),
		recipient: c.Query("recipient"),
		conn:      conn,
		send:      make(chan NotificationMessage, 64),
		hub:       h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump only keeps the connection alive; clients do not send notifications.
func (c *hubClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.Errorf("WebSocket error: %v", err)
			}
			return
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logrus.Error("WriteJSON error:", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
