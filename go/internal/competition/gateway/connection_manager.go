package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/PTMAbellana/polegion/go/internal/competition/clock"
	"github.com/PTMAbellana/polegion/go/internal/competition/events"
)

// Subscriber opens a stream of bus messages for a topic
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
}

// Clocks gives the gateway the live authority for a competition so late joiners get the current tick
type Clocks interface {
	Get(competitionID uuid.UUID) (*clock.Authority, bool)
}

// ConnectionManager fans a competition's bus topic out to its WebSocket connections
type ConnectionManager struct {
	// Connection pools organized by competition ID
	competitions map[uuid.UUID]*competitionPool
	mu           sync.RWMutex

	upgrader    websocket.Upgrader
	config      ConnectionConfig
	subscriber  Subscriber
	clocks      Clocks
	topicPrefix string
}

// competitionPool is every connection watching one competition plus the bus subscription feeding them
type competitionPool struct {
	connections map[*Connection]bool
	cancel      context.CancelFunc
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID            string
	UserID        string
	CompetitionID uuid.UUID
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a manager reading competition topics from subscriber.
// clocks may be nil, in which case no snapshot is sent on connect.
func NewConnectionManager(config ConnectionConfig, subscriber Subscriber, clocks Clocks, topicPrefix string) *ConnectionManager {
	return &ConnectionManager{
		competitions: make(map[uuid.UUID]*competitionPool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		subscriber:  subscriber,
		clocks:      clocks,
		topicPrefix: topicPrefix,
	}
}

// Run blocks until ctx is cancelled, then closes every connection and subscription.
func (cm *ConnectionManager) Run(ctx context.Context) {
	log.Info().Msg("connection manager started")
	<-ctx.Done()
	log.Info().Msg("connection manager shutting down")
	cm.closeAll()
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and attaches it to a competition
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string, competitionID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		UserID:        userID,
		CompetitionID: competitionID,
		Conn:          conn,
		Send:          make(chan []byte, cm.config.SendBuffer),
		Manager:       cm,
		ConnectedAt:   time.Now(),
	}

	if err := cm.registerConnection(connection); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event stream unavailable"),
			time.Now().Add(cm.config.WriteTimeout))
		conn.Close()
		return err
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("competition_id", competitionID.String()).
		Msg("WebSocket connection established")
	return nil
}

// registerConnection adds a connection, opening the competition's bus subscription for the first one
func (cm *ConnectionManager) registerConnection(conn *Connection) error {
	// Read the clock before taking mu; the authority publishes while holding its own lock.
	snapshot := cm.snapshot(conn.CompetitionID)

	cm.mu.Lock()
	defer cm.mu.Unlock()

	pool, ok := cm.competitions[conn.CompetitionID]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		topic := events.Topic(cm.topicPrefix, conn.CompetitionID)
		stream, err := cm.subscriber.Subscribe(ctx, topic)
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
		pool = &competitionPool{connections: make(map[*Connection]bool), cancel: cancel}
		cm.competitions[conn.CompetitionID] = pool
		go cm.forward(conn.CompetitionID, stream)

		log.Debug().Str("topic", topic).Msg("competition subscription opened")
	}
	pool.connections[conn] = true

	if snapshot != nil {
		select {
		case conn.Send <- snapshot:
		default:
		}
	}

	log.Debug().
		Str("connection_id", conn.ID).
		Str("competition_id", conn.CompetitionID.String()).
		Int("total_connections", len(pool.connections)).
		Msg("connection registered")
	return nil
}

// snapshot encodes the current tick so a late joiner does not wait for the next one
func (cm *ConnectionManager) snapshot(competitionID uuid.UUID) []byte {
	if cm.clocks == nil {
		return nil
	}
	authority, ok := cm.clocks.Get(competitionID)
	if !ok {
		return nil
	}
	data, err := events.Encode(events.EventTypeTimerUpdate, competitionID, authority.Tick(), time.Now())
	if err != nil {
		log.Error().Err(err).Str("competition_id", competitionID.String()).Msg("failed to encode timer snapshot")
		return nil
	}
	return data
}

// unregisterConnection removes a connection, closing the bus subscription with the last one
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	pool, exists := cm.competitions[conn.CompetitionID]
	if !exists {
		return
	}
	if _, exists := pool.connections[conn]; !exists {
		return
	}
	delete(pool.connections, conn)
	close(conn.Send)

	if len(pool.connections) == 0 {
		pool.cancel()
		delete(cm.competitions, conn.CompetitionID)
		log.Debug().Str("competition_id", conn.CompetitionID.String()).Msg("competition subscription closed")
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("competition_id", conn.CompetitionID.String()).
		Msg("connection unregistered")
}

// forward relays one competition's stream until its subscription is cancelled
func (cm *ConnectionManager) forward(competitionID uuid.UUID, stream <-chan []byte) {
	for data := range stream {
		cm.broadcast(competitionID, data)
	}
}

// broadcast sends data to every connection for a competition. Messages are already JSON envelopes.
func (cm *ConnectionManager) broadcast(competitionID uuid.UUID, data []byte) {
	var slow []*Connection

	cm.mu.RLock()
	pool, exists := cm.competitions[competitionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	for conn := range pool.connections {
		select {
		case conn.Send <- data:
		default:
			slow = append(slow, conn)
		}
	}
	sent := len(pool.connections) - len(slow)
	cm.mu.RUnlock()

	// Connection is slow/dead, close it
	for _, conn := range slow {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("user_id", conn.UserID).
			Msg("connection send buffer full, closing connection")
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("competition_id", competitionID.String()).
		Int("connections", sent).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, pool := range cm.competitions {
		for conn := range pool.connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
		conn.Conn.Close()
	}
}

// ConnectionStats is a point-in-time view of the manager
type ConnectionStats struct {
	TotalConnections       int            `json:"total_connections"`
	ActiveCompetitions     int            `json:"active_competitions"`
	CompetitionConnections map[string]int `json:"competition_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		ActiveCompetitions:     len(cm.competitions),
		CompetitionConnections: make(map[string]int, len(cm.competitions)),
	}
	for id, pool := range cm.competitions {
		stats.TotalConnections += len(pool.connections)
		stats.CompetitionConnections[id.String()] = len(pool.connections)
	}
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
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
		}
	}
}

// readPump drains the client side. Clients only send pongs and the occasional close.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
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

		log.Debug().
			Str("connection_id", c.ID).
			Str("user_id", c.UserID).
			Int("bytes", len(message)).
			Msg("received client message")
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
