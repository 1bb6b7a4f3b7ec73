package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"helpdesk-sync/internal/apperr"
	"helpdesk-sync/internal/logging"
	"helpdesk-sync/internal/models"
)

// ErrNoConnection is returned by Publish when the user has no live connection.
var ErrNoConnection = errors.New("no live connection")

// Options tunes a Registry.
type Options struct {
	HeartbeatInterval     time.Duration
	MaxConnectionsPerUser int
}

// Connection is one live push channel owned by exactly one user.
type Connection struct {
	ID        string
	UserID    int64
	CreatedAt time.Time

	sink         Sink
	lastActivity atomic.Int64
	done         chan struct{}
	closeOnce    sync.Once
}

// LastActivity is the last time an event was written to the connection.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Done is closed once the connection has been unregistered.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) send(e Event) error {
	if err := c.sink.Send(e); err != nil {
		return err
	}
	c.lastActivity.Store(time.Now().UnixNano())
	return nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sink.Close()
	})
}

// Registry holds the live connections of every user behind one mutex.
type Registry struct {
	mu          sync.Mutex
	connections map[int64]map[string]*Connection // userID -> connID -> conn
	byID        map[string]*Connection
	opts        Options
	logger      *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger, opts Options) *Registry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	return &Registry{
		connections: make(map[int64]map[string]*Connection),
		byID:        make(map[string]*Connection),
		opts:        opts,
		logger:      logger,
	}
}

// Register opens a connection for userID over sink, sends the initial
// "connected" event and starts its heartbeat.
func (r *Registry) Register(userID int64, sink Sink) (*Connection, error) {
	conn := &Connection{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: time.Now(),
		sink:      sink,
		done:      make(chan struct{}),
	}
	conn.lastActivity.Store(conn.CreatedAt.UnixNano())

	r.mu.Lock()
	conns, exists := r.connections[userID]
	if !exists {
		conns = make(map[string]*Connection)
		r.connections[userID] = conns
	}
	if r.opts.MaxConnectionsPerUser > 0 && len(conns) >= r.opts.MaxConnectionsPerUser {
		r.mu.Unlock()
		r.logger.Warnf("Max connections reached for user %d", userID)
		return nil, apperr.Newf(apperr.ValidationFailure, "realtime.Register", "max connections (%d) reached for user %d", r.opts.MaxConnectionsPerUser, userID)
	}
	conns[conn.ID] = conn
	r.byID[conn.ID] = conn
	total := len(conns)
	r.mu.Unlock()

	if err := conn.send(Event{Type: EventConnected, ConnectionID: conn.ID, Time: time.Now()}); err != nil {
		r.Unregister(conn.ID)
		return nil, apperr.New(apperr.Internal, "realtime.Register", err)
	}

	go r.heartbeat(conn)
	r.logger.Infof("Added connection %s for user %d (total: %d)", conn.ID, userID, total)
	return conn, nil
}

// Unregister removes a connection, stops its heartbeat and closes its sink.
// It reports false when the id is unknown.
func (r *Registry) Unregister(connID string) bool {
	r.mu.Lock()
	conn, ok := r.byID[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.byID, connID)
	remaining := 0
	if conns, exists := r.connections[conn.UserID]; exists {
		delete(conns, connID)
		remaining = len(conns)
		if remaining == 0 {
			delete(r.connections, conn.UserID)
		}
	}
	r.mu.Unlock()

	conn.close()
	r.logger.Infof("Removed connection %s for user %d (remaining: %d)", connID, conn.UserID, remaining)
	return true
}

// Broadcast delivers e to every connection of userID and returns how many
// received it. Connections whose channel failed are unregistered.
func (r *Registry) Broadcast(userID int64, e Event) int {
	r.mu.Lock()
	targets := make([]*Connection, 0, len(r.connections[userID]))
	for _, conn := range r.connections[userID] {
		targets = append(targets, conn)
	}
	r.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.send(e); err != nil {
			r.logger.Warnf("Failed to deliver %s to connection %s of user %d: %v", e.Type, conn.ID, userID, err)
			r.Unregister(conn.ID)
			continue
		}
		delivered++
	}
	return delivered
}

// Publish delivers a stored notification to its target user.
func (r *Registry) Publish(_ context.Context, n models.Notification) error {
	if r.Broadcast(n.UserID, NotificationEvent(n)) == 0 {
		return ErrNoConnection
	}
	return nil
}

// Name identifies the registry as a notification publisher.
func (r *Registry) Name() string {
	return "realtime"
}

// ActiveConnectionCount returns the number of live connections.
func (r *Registry) ActiveConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// DebugSnapshot returns per-user connection counts.
func (r *Registry) DebugSnapshot() map[int64]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := make(map[int64]int, len(r.connections))
	for userID, conns := range r.connections {
		snapshot[userID] = len(conns)
	}
	return snapshot
}

// Close unregisters every connection.
func (r *Registry) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Unregister(id)
	}
}

func (r *Registry) heartbeat(conn *Connection) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			// A connection that just carried an event needs no ping.
			if time.Since(conn.LastActivity()) < r.opts.HeartbeatInterval/2 {
				continue
			}
			if err := conn.send(Event{Type: EventPing, Time: time.Now()}); err != nil {
				r.logger.Debugf("Heartbeat failed for connection %s: %v", conn.ID, err)
				r.Unregister(conn.ID)
				return
			}
		}
	}
}
