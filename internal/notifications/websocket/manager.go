package websocket

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Message is an in-app alert pushed to a connected reviewer
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// Manager handles WebSocket connections and message routing
type Manager struct {
	connections map[string][]*Connection // keyed by user id
	mu          sync.RWMutex
	upgrader    websocket.Upgrader
}

// Connection represents a WebSocket client connection
type Connection struct {
	ID           string
	UserID       string
	Conn         *websocket.Conn
	Send         chan Message
	LastActivity time.Time
}

// NewManager creates a new WebSocket manager
func NewManager() *Manager {
	return &Manager{
		connections: make(map[string][]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// In production, implement proper origin checking
				return true
			},
		},
	}
}

// HandleConnection upgrades an HTTP request and registers the connection
// under the authenticated user id.
func (m *Manager) HandleConnection(w http.ResponseWriter, r *http.Request, userID string) (*Connection, error) {
	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:           uuid.New().String(),
		UserID:       userID,
		Conn:         conn,
		Send:         make(chan Message, 256),
		LastActivity: time.Now(),
	}

	m.mu.Lock()
	m.connections[userID] = append(m.connections[userID], connection)
	m.mu.Unlock()

	go m.readPump(connection)
	go m.writePump(connection)

	return connection, nil
}

// SendToUser delivers a message to every open connection of a user.
// Returns an error when the user has no open connections.
func (m *Manager) SendToUser(userID string, msg Message) error {
	m.mu.RLock()
	conns := m.connections[userID]
	m.mu.RUnlock()

	if len(conns) == 0 {
		return fmt.Errorf("user %s has no open connections", userID)
	}

	for _, conn := range conns {
		select {
		case conn.Send <- msg:
		default:
			// Slow consumer; drop rather than block the caller.
		}
	}
	return nil
}

func (m *Manager) readPump(conn *Connection) {
	defer m.remove(conn)

	conn.Conn.SetReadLimit(512)
	conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			return
		}
		conn.LastActivity = time.Now()
	}
}

func (m *Manager) writePump(conn *Connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		m.remove(conn)
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			if !ok {
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *Manager) remove(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conns := m.connections[conn.UserID]
	for i, c := range conns {
		if c.ID == conn.ID {
			m.connections[conn.UserID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(m.connections[conn.UserID]) == 0 {
		delete(m.connections, conn.UserID)
	}
	conn.Conn.Close()
}

// Close closes every open connection
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, conns := range m.connections {
		for _, conn := range conns {
			conn.Conn.Close()
		}
	}
	m.connections = make(map[string][]*Connection)
}
