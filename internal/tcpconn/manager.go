// Package tcpconn implements the Connection Manager (spec.md §4.6): the
// authoritative registry of live sessions, indexed four ways so the
// handler, server, and broadcast paths never need to scan.
package tcpconn

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rtmsg/broker/internal/domain"
	"github.com/rtmsg/broker/internal/observability"
	"github.com/rtmsg/broker/internal/protocolerr"
)

// Socket is the minimal transport surface the manager needs — satisfied
// by a TCP net.Conn wrapper or a WebSocket session, so the manager stays
// agnostic to the transport.
type Socket interface {
	Write(b []byte) error
	Close() error
	RemoteIP() string
	RemotePort() int
}

// Connection is exclusively owned by the Connection Manager; the socket
// is exclusively owned by the connection until drain.
type Connection struct {
	ID             string
	RemoteAddr     string
	RemotePort     int
	ConnectedAt    time.Time
	LastActivityAt time.Time

	mu            sync.RWMutex
	authenticated bool
	userID        string
	user          *domain.User
	topics        map[string]string // topic -> subscriptionId
	socket        Socket
	destroyed     bool
}

func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Connection) User() *domain.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

// Topics returns a snapshot of the connection's topic -> subscriptionId map.
func (c *Connection) Topics() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.topics))
	for k, v := range c.topics {
		out[k] = v
	}
	return out
}

// Stats summarizes the manager's current registry for observability.
type Stats struct {
	TotalConnections  int
	AuthenticatedCount int
	ByIP              map[string]int
}

// Manager owns the four indexes described in spec.md §4.6. A single
// RWMutex serializes all index mutations; read-heavy broadcast paths
// take the read lock to snapshot byTopic before writing to sockets.
type Manager struct {
	log *zap.Logger

	maxConnections      int
	maxConnectionsPerIP int

	mu      sync.RWMutex
	byID    map[string]*Connection
	byIP    map[string]map[string]bool
	byUser  map[string]map[string]bool
	byTopic map[string]map[string]bool
}

func NewManager(maxConnections, maxConnectionsPerIP int, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		log:                 log,
		maxConnections:      maxConnections,
		maxConnectionsPerIP: maxConnectionsPerIP,
		byID:                make(map[string]*Connection),
		byIP:                make(map[string]map[string]bool),
		byUser:              make(map[string]map[string]bool),
		byTopic:             make(map[string]map[string]bool),
	}
}

// AddConnection enforces the per-IP cap, then the global cap, failing
// Conflict before any index insertion — the ordering lets the caller
// distinguish which limit tripped.
func (m *Manager) AddConnection(socket Socket) (*Connection, error) {
	ip := socket.RemoteIP()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxConnectionsPerIP > 0 && len(m.byIP[ip]) >= m.maxConnectionsPerIP {
		observability.RecordConnectionRejected("per_ip")
		return nil, protocolerr.New(protocolerr.Conflict, "connection limit reached for ip")
	}
	if m.maxConnections > 0 && len(m.byID) >= m.maxConnections {
		observability.RecordConnectionRejected("global")
		return nil, protocolerr.New(protocolerr.Conflict, "connection limit reached")
	}

	id := uuid.NewString()
	now := time.Now()
	conn := &Connection{
		ID:             id,
		RemoteAddr:     ip,
		RemotePort:     socket.RemotePort(),
		ConnectedAt:    now,
		LastActivityAt: now,
		topics:         make(map[string]string),
		socket:         socket,
	}

	m.byID[id] = conn
	if m.byIP[ip] == nil {
		m.byIP[ip] = make(map[string]bool)
	}
	m.byIP[ip][id] = true

	return conn, nil
}

// RemoveConnection removes id from all four indexes. Idempotent. Does
// not touch broker subscriptions — callers must unsubscribe first.
func (m *Manager) RemoveConnection(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

func (m *Manager) removeLocked(id string) {
	conn, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)

	if ips := m.byIP[conn.RemoteAddr]; ips != nil {
		delete(ips, id)
		if len(ips) == 0 {
			delete(m.byIP, conn.RemoteAddr)
		}
	}

	userID := conn.UserID()
	if userID != "" {
		if users := m.byUser[userID]; users != nil {
			delete(users, id)
			if len(users) == 0 {
				delete(m.byUser, userID)
			}
		}
	}

	for topic := range conn.Topics() {
		if conns := m.byTopic[topic]; conns != nil {
			delete(conns, id)
			if len(conns) == 0 {
				delete(m.byTopic, topic)
			}
		}
	}

	conn.mu.Lock()
	conn.destroyed = true
	conn.mu.Unlock()
}

// AuthenticateConnection sets the connection's identity and indexes it
// under byUser. No-op if the connection is gone.
func (m *Manager) AuthenticateConnection(id, userID string, user *domain.User) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[id]
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.authenticated = true
	conn.userID = userID
	conn.user = user
	conn.mu.Unlock()

	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]bool)
	}
	m.byUser[userID][id] = true
}

// AddSubscription records topic -> subId for id and mirrors it in byTopic.
func (m *Manager) AddSubscription(id, topic, subID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[id]
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.topics[topic] = subID
	conn.mu.Unlock()

	if m.byTopic[topic] == nil {
		m.byTopic[topic] = make(map[string]bool)
	}
	m.byTopic[topic][id] = true
}

// RemoveSubscription removes topic from id's map and byTopic, returning
// the subscription id that was recorded, if any.
func (m *Manager) RemoveSubscription(id, topic string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.byID[id]
	if !ok {
		return "", false
	}
	conn.mu.Lock()
	subID, had := conn.topics[topic]
	delete(conn.topics, topic)
	conn.mu.Unlock()

	if had {
		if conns := m.byTopic[topic]; conns != nil {
			delete(conns, id)
			if len(conns) == 0 {
				delete(m.byTopic, topic)
			}
		}
	}
	return subID, had
}

// UpdateActivity bumps lastActivityAt. No-op if the connection is gone.
func (m *Manager) UpdateActivity(id string) {
	m.mu.RLock()
	conn, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return
	}
	conn.mu.Lock()
	conn.LastActivityAt = time.Now()
	conn.mu.Unlock()
}

// SendToConnection writes bytes to id's socket. Returns false if the
// connection is missing, destroyed, or the write failed.
func (m *Manager) SendToConnection(id string, b []byte) bool {
	m.mu.RLock()
	conn, ok := m.byID[id]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	conn.mu.RLock()
	destroyed := conn.destroyed
	socket := conn.socket
	conn.mu.RUnlock()
	if destroyed {
		return false
	}

	if err := socket.Write(b); err != nil {
		m.log.Debug("write to connection failed", zap.String("connectionId", id), zap.Error(err))
		return false
	}
	return true
}

// Broadcast writes bytes to every authenticated, non-destroyed
// connection and returns the count sent.
func (m *Manager) Broadcast(b []byte) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.byID))
	for id, conn := range m.byID {
		if conn.IsAuthenticated() {
			ids = append(ids, id)
		}
	}
	m.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if m.SendToConnection(id, b) {
			sent++
		}
	}
	return sent
}

// BroadcastToTopic writes bytes to every connection subscribed to topic.
func (m *Manager) BroadcastToTopic(topic string, b []byte) int {
	m.mu.RLock()
	conns := m.byTopic[topic]
	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sent := 0
	for _, id := range ids {
		if m.SendToConnection(id, b) {
			sent++
		}
	}
	return sent
}

// RemoveStaleConnections destroys and removes every connection whose
// lastActivityAt is older than maxIdle, returning the count evicted.
func (m *Manager) RemoveStaleConnections(maxIdle time.Duration) int {
	now := time.Now()

	m.mu.RLock()
	var stale []*Connection
	for _, conn := range m.byID {
		conn.mu.RLock()
		idle := now.Sub(conn.LastActivityAt)
		conn.mu.RUnlock()
		if idle > maxIdle {
			stale = append(stale, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range stale {
		conn.mu.RLock()
		socket := conn.socket
		conn.mu.RUnlock()
		_ = socket.Close()
		m.RemoveConnection(conn.ID)
	}
	return len(stale)
}

// CloseAll closes every socket, waiting up to timeout for those closes to
// finish, then clears all indexes. Nothing further is done to sockets
// after the timeout; a Close still in progress finishes in the background.
func (m *Manager) CloseAll(timeout time.Duration) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, conn := range conns {
			conn.mu.RLock()
			socket := conn.socket
			conn.mu.RUnlock()
			_ = socket.Close()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		m.log.Warn("closeAll timed out, clearing indexes while socket closes finish")
	}

	m.mu.Lock()
	m.byID = make(map[string]*Connection)
	m.byIP = make(map[string]map[string]bool)
	m.byUser = make(map[string]map[string]bool)
	m.byTopic = make(map[string]map[string]bool)
	m.mu.Unlock()
}

// GetStats returns aggregate counts and a per-IP breakdown.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	authCount := 0
	for _, c := range m.byID {
		if c.IsAuthenticated() {
			authCount++
		}
	}

	byIP := make(map[string]int, len(m.byIP))
	for ip, ids := range m.byIP {
		byIP[ip] = len(ids)
	}

	return Stats{
		TotalConnections:   len(m.byID),
		AuthenticatedCount: authCount,
		ByIP:               byIP,
	}
}

// Get returns the connection for id, if present.
func (m *Manager) Get(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.byID[id]
	return conn, ok
}
