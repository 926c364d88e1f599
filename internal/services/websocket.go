package services

import (
	"net/http"
	"sync"
	"time"

	"questboard/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// DashboardEvent 推送给仪表盘客户端的消息
type DashboardEvent struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type DashboardClient struct {
	ID   string
	Conn *websocket.Conn
	Send chan DashboardEvent
	Hub  *DashboardHub
}

// DashboardHub broadcasts automation events to connected dashboard clients.
type DashboardHub struct {
	clients    map[string]*DashboardClient
	broadcast  chan DashboardEvent
	register   chan *DashboardClient
	unregister chan *DashboardClient
	mutex      sync.RWMutex
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 生产环境需要验证源
	},
}

func NewDashboardHub() *DashboardHub {
	return &DashboardHub{
		clients:    make(map[string]*DashboardClient),
		broadcast:  make(chan DashboardEvent, 64),
		register:   make(chan *DashboardClient),
		unregister: make(chan *DashboardClient),
	}
}

func (h *DashboardHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client.ID] = client
			h.mutex.Unlock()
			logrus.Infof("Dashboard client %s connected", client.ID)

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				close(client.Send)
				logrus.Infof("Dashboard client %s disconnected", client.ID)
			}
			h.mutex.Unlock()

		case event := <-h.broadcast:
			h.mutex.RLock()
			for _, client := range h.clients {
				select {
				case client.Send <- event:
				default:
					// 客户端积压则丢弃本条，不阻塞广播
				}
			}
			h.mutex.RUnlock()
		}
	}
}

// Broadcast queues an event for every connected client.
func (h *DashboardHub) Broadcast(eventType string, data interface{}) {
	h.broadcast <- DashboardEvent{Type: eventType, Data: data, Timestamp: time.Now()}
}

// NotifyNewAction implements ActionNotifier for the automation engine.
func (h *DashboardHub) NotifyNewAction(action *models.AutomationAction) {
	h.Broadcast("automation.action_proposed", action)
}

// GetClientCount returns the number of connected clients.
func (h *DashboardHub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *DashboardHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Errorf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &DashboardClient{
		ID:   uuid.New().String(),
		Conn: conn,
		Send: make(chan DashboardEvent, 16),
		Hub:  h,
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (c *DashboardClient) writePump() {
	defer c.Conn.Close()
	for event := range c.Send {
		if err := c.Conn.WriteJSON(event); err != nil {
			logrus.Debugf("Dashboard client %s write error: %v", c.ID, err)
			return
		}
	}
}

// readPump drains the connection until the peer goes away; the dashboard
// only listens, so inbound payloads are discarded.
func (c *DashboardClient) readPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	for {
		if _, _, err := c.Conn.ReadMessage(); err != nil {
			return
		}
	}
}
