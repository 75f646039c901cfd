package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/saltgames/tabletop/go/internal/authz"
)

// ConnectionManager manages the WebSocket connections of one session.
type ConnectionManager struct {
	connections map[*Connection]bool
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage

	// resync is invoked with each new connection before it joins the
	// broadcast pool, so the client never waits for the next tick.
	resync func(*Connection)
	// onCommand handles inbound client commands.
	onCommand func(*Connection, Command)
}

// Connection represents a WebSocket connection to a client.
type Connection struct {
	ID       string
	Identity authz.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *ConnectionManager

	// done signals the pumps to stop. Send itself is never closed: broadcast
	// and command goroutines may still be holding it, and a send on a closed
	// channel would panic the whole process.
	done      chan struct{}
	closeOnce sync.Once

	ConnectedAt time.Time
	LastPing    time.Time
}

// close tears the connection down exactly once.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.Conn.Close()
	})
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to fan out to connections.
type BroadcastMessage struct {
	Message *Message
	// ArbitersOnly restricts delivery to arbiter connections.
	ArbitersOnly bool
}

// DefaultConnectionConfig returns default WebSocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages until ctx is cancelled.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP request to a WebSocket connection for
// the given identity. The resync hook runs before the connection joins the
// broadcast pool, so its first messages are always the full current state.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, identity authz.Identity) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		done:        make(chan struct{}),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	cm.admitConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("participant_id", identity.ParticipantID).
		Bool("arbiter", identity.Arbiter).
		Msg("WebSocket connection established")
	return nil
}

// admitConnection resyncs and registers under one critical section. A
// broadcast racing the admission needs the same lock to collect targets, so
// the event it carries is either already in the resync snapshot or delivered
// after registration; no commit can fall between the two.
func (cm *ConnectionManager) admitConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.resync != nil {
		cm.resync(conn)
	}
	cm.connections[conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	_, exists := cm.connections[conn]
	delete(cm.connections, conn)
	cm.mu.Unlock()

	conn.close()

	if exists {
		log.Info().
			Str("connection_id", conn.ID).
			Str("participant_id", conn.Identity.ParticipantID).
			Msg("connection unregistered")
	}
}

// Broadcast fans a message out to every connection.
func (cm *ConnectionManager) Broadcast(msg *Message) {
	cm.enqueue(BroadcastMessage{Message: msg})
}

// BroadcastToArbiters fans a message out to arbiter connections only.
func (cm *ConnectionManager) BroadcastToArbiters(msg *Message) {
	cm.enqueue(BroadcastMessage{Message: msg, ArbitersOnly: true})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("message_type", string(message.Message.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// SendToConnection delivers a message to one connection only, dropping it if
// the client cannot keep up.
func (cm *ConnectionManager) SendToConnection(conn *Connection, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return
	}
	select {
	case conn.Send <- data:
	default:
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	targets := make([]*Connection, 0, len(cm.connections))
	for conn := range cm.connections {
		if message.ArbitersOnly && !conn.Identity.Arbiter {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- data:
		default:
			// Connection is slow/dead, close it rather than stall the clock.
			log.Warn().
				Str("connection_id", conn.ID).
				Str("participant_id", conn.Identity.ParticipantID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
		}
	}

	log.Debug().
		Str("message_type", string(message.Message.Type)).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// ConnectionCount returns the number of active connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for conn := range cm.connections {
		delete(cm.connections, conn)
		conn.close()
	}
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading commands from the WebSocket connection.
func (c *Connection) readPump() {
	defer c.Manager.unregisterConnection(c)

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage parses and dispatches an inbound command.
func (c *Connection) handleClientMessage(message []byte) {
	var cmd Command
	if err := json.Unmarshal(message, &cmd); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("discarding unparseable client message")
		return
	}

	if c.Manager.onCommand != nil {
		c.Manager.onCommand(c, cmd)
	}
}
