package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Event names pushed to connected clients.
const (
	EventRoomCreated        = "room_created"
	EventRoomDeleted        = "room_deleted"
	EventLobbyUpdated       = "lobby_updated"
	EventSyncWarning        = "sync_warning"
	EventAttachmentProgress = "attachment_progress"
	EventAttachmentShared   = "attachment_shared"
	EventAttachmentFailed   = "attachment_failed"
)

// Hub maintains user_id -> set of connections and delivers per-user events.
// Uses Redis pub/sub for horizontal scaling: events are published to the
// user's channel and every instance delivers to its local connections.
type Hub struct {
	// userID -> map[clientID]*Client
	users    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per user
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    Publisher
	redisSub Subscriber
}

// Publisher publishes a user event for cross-instance delivery.
type Publisher interface {
	PublishUserEvent(userID uuid.UUID, event string, payload []byte) error
}

// Subscriber subscribes to a user's channel and invokes handler for incoming events.
type Subscriber interface {
	SubscribeUser(userID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	return &Hub{
		users:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    pub,
		redisSub: sub,
	}
}

// Register adds a connection. The first connection of a user starts the
// Redis subscription for that user's channel.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.users[c.UserID] == nil {
		h.users[c.UserID] = make(map[string]*Client)
		if h.redisSub != nil {
			cancel, err := h.redisSub.SubscribeUser(c.UserID, func(event string, payload []byte) {
				h.deliverLocal(c.UserID, event, json.RawMessage(payload))
			})
			if err == nil {
				h.subs[c.UserID] = cancel
			}
		}
	}
	h.users[c.UserID][c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// Unregister removes a connection. The user's Redis subscription is canceled
// when the last connection closes.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if m, ok := h.users[c.UserID]; ok {
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.users, c.UserID)
			if cancel, ok := h.subs[c.UserID]; ok {
				cancel()
				delete(h.subs, c.UserID)
			}
		}
	}
	h.mu.Unlock()
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("user_id", c.UserID.String()))
}

// deliverLocal sends an event to the user's connections on this instance.
func (h *Hub) deliverLocal(userID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		data, _ = json.Marshal(payload)
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	clients := h.users[userID]
	h.mu.RUnlock()

	if clients == nil {
		return
	}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// SendToUser publishes an event to every connection of a user, across all
// instances. Publish-only when Redis is available so the subscriber callback
// delivers exactly once; direct local delivery otherwise.
func (h *Hub) SendToUser(userID uuid.UUID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if h.redis != nil {
		_ = h.redis.PublishUserEvent(userID, event, data)
		return
	}
	h.deliverLocal(userID, event, json.RawMessage(data))
}

// Connections returns the number of live connections for a user on this
// instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
