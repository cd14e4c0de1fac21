// Package ws carries the signaling channel: one WebSocket per connected
// client, authenticated by bearer token, multiplexing every call the user
// is part of. The hub routes negotiation messages point to point and fans
// lifecycle broadcasts out to a call's roster; a Redis channel bridges
// instances so a roster can span hub processes.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcore/internal/database"
	"callcore/internal/signaling"
	"callcore/pkg/constants"
	"callcore/pkg/logger"
	"callcore/pkg/metrics"
)

const redisChannel = "signaling:events"

// PresenceTracker records which users hold a live signaling connection
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID uuid.UUID) error
	SetOffline(ctx context.Context, userID uuid.UUID) error
}

// SignalingHub manages signaling connections and message routing
type SignalingHub struct {
	// Connected clients per user; a user may hold several connections
	users map[uuid.UUID]map[*SignalingClient]bool

	mu sync.RWMutex

	register   chan *SignalingClient
	unregister chan *SignalingClient
	outbound   chan *signaling.Message

	redisClient *database.RedisClient
	presence    PresenceTracker
	metrics     *metrics.Metrics

	// instanceID filters this hub's own messages out of the Redis loopback
	instanceID string

	maxConnections int
	semaphore      chan struct{}
}

// SignalingClient represents one WebSocket connection
type SignalingClient struct {
	hub    *SignalingHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// relayEnvelope wraps messages on the Redis bridge
type relayEnvelope struct {
	Origin  string             `json:"origin"`
	Message *signaling.Message `json:"message"`
}

var signalingUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		for _, allowed := range allowedOrigins() {
			if origin == allowed {
				return true
			}
		}
		return false
	},
}

func allowedOrigins() []string {
	raw := os.Getenv("WS_ALLOWED_ORIGINS")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// NewSignalingHub creates the hub and starts its routing loop
func NewSignalingHub(redisClient *database.RedisClient, presence PresenceTracker, m *metrics.Metrics) *SignalingHub {
	maxConns := 1000
	if val := os.Getenv("WS_MAX_SIGNALING_CONNECTIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			maxConns = n
		}
	}

	hub := &SignalingHub{
		users:          make(map[uuid.UUID]map[*SignalingClient]bool),
		register:       make(chan *SignalingClient),
		unregister:     make(chan *SignalingClient),
		outbound:       make(chan *signaling.Message, 256),
		redisClient:    redisClient,
		presence:       presence,
		metrics:        m,
		instanceID:     uuid.NewString(),
		maxConnections: maxConns,
		semaphore:      make(chan struct{}, maxConns),
	}

	go hub.run()
	if redisClient != nil {
		go hub.subscribeRelay(context.Background())
	}
	return hub
}

// Broadcast delivers msg to every non-terminal participant of the call's
// roster except the sender. The message must carry the call snapshot.
func (h *SignalingHub) Broadcast(ctx context.Context, callID uuid.UUID, msg *signaling.Message) {
	if msg.Call == nil {
		logger.Warn("broadcast without snapshot dropped",
			zap.String("call_id", callID.String()),
			zap.String("type", msg.Type))
		return
	}
	h.outbound <- msg
	h.publishRelay(ctx, msg)
}

// SendTo delivers msg to every connection of one user
func (h *SignalingHub) SendTo(ctx context.Context, userID uuid.UUID, msg *signaling.Message) {
	targeted := *msg
	targeted.TargetID = userID
	h.outbound <- &targeted
	h.publishRelay(ctx, &targeted)
}

func (h *SignalingHub) publishRelay(ctx context.Context, msg *signaling.Message) {
	if h.redisClient == nil {
		return
	}
	payload, err := json.Marshal(relayEnvelope{Origin: h.instanceID, Message: msg})
	if err != nil {
		logger.Warn("failed to marshal relay message", zap.Error(err))
		return
	}
	if err := h.redisClient.SafePublish(ctx, redisChannel, payload).Err(); err != nil {
		logger.Warn("failed to publish relay message", zap.Error(err))
	}
}

// subscribeRelay feeds messages from other hub instances into local routing
func (h *SignalingHub) subscribeRelay(ctx context.Context) {
	pubsub := h.redisClient.Client.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logger.Warn("malformed relay message", zap.Error(err))
				continue
			}
			if env.Origin == h.instanceID || env.Message == nil {
				continue
			}
			h.outbound <- env.Message
		}
	}
}

// run is the hub's routing loop
func (h *SignalingHub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.users[client.userID] == nil {
				h.users[client.userID] = make(map[*SignalingClient]bool)
			}
			h.users[client.userID][client] = true
			h.mu.Unlock()

			if h.presence != nil {
				if err := h.presence.SetOnline(context.Background(), client.userID); err != nil {
					logger.Warn("failed to mark user online", zap.Error(err))
				}
			}
			if h.metrics != nil {
				h.metrics.SignalingConnectionOpened()
			}

		case client := <-h.unregister:
			h.mu.Lock()
			lastConn := false
			if conns, ok := h.users[client.userID]; ok {
				if _, exists := conns[client]; exists {
					delete(conns, client)
					close(client.send)
					client.cancel()
					if len(conns) == 0 {
						delete(h.users, client.userID)
						lastConn = true
					}
				}
			}
			h.mu.Unlock()

			if lastConn && h.presence != nil {
				if err := h.presence.SetOffline(context.Background(), client.userID); err != nil {
					logger.Warn("failed to mark user offline", zap.Error(err))
				}
			}
			if h.metrics != nil {
				h.metrics.SignalingConnectionClosed()
			}

		case msg := <-h.outbound:
			h.deliver(msg)
		}
	}
}

// deliver routes one message: targeted messages go to a single user's
// connections, roster broadcasts to every non-terminal participant except
// the sender.
func (h *SignalingHub) deliver(msg *signaling.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Warn("failed to marshal signaling message", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if msg.TargetID != uuid.Nil {
		h.deliverToUserLocked(msg.TargetID, payload)
		return
	}

	for i := range msg.Call.Participants {
		p := &msg.Call.Participants[i]
		if p.UserID == msg.SenderID || p.Status.IsTerminal() {
			continue
		}
		h.deliverToUserLocked(p.UserID, payload)
	}
}

func (h *SignalingHub) deliverToUserLocked(userID uuid.UUID, payload []byte) {
	for client := range h.users[userID] {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; drop the connection, the client reconnects.
			close(client.send)
			delete(h.users[userID], client)
			client.cancel()
		}
	}
}

// ServeWS upgrades an authenticated request to a signaling connection.
// The auth middleware must have stamped user_id on the context.
func (h *SignalingHub) ServeWS(c *gin.Context) {
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("signaling connection rejected: at capacity",
			zap.Int("max_connections", h.maxConnections))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server at capacity, please try again later"})
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		<-h.semaphore
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		<-h.semaphore
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user_id"})
		return
	}

	conn, err := signalingUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("websocket upgrade failed",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &SignalingClient{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: userID,
		ctx:    ctx,
		cancel: cancel,
	}

	h.register <- client

	go func() {
		client.writePump()
		<-h.semaphore
	}()
	go client.readPump()
}

// readPump relays negotiation messages from the client. Only the three
// negotiation types are accepted from the wire; lifecycle changes go
// through the HTTP API and come back as server broadcasts.
func (c *SignalingClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WriteTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval + constants.WriteTimeout))
		if c.hub.presence != nil {
			if err := c.hub.presence.SetOnline(context.Background(), c.userID); err != nil {
				logger.Debug("presence refresh failed", zap.Error(err))
			}
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("signaling connection closed",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("invalid signaling message",
				zap.String("user_id", c.userID.String()),
				zap.Error(err))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordSignalingError("malformed")
			}
			continue
		}

		switch msg.Type {
		case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeICECandidate:
		default:
			logger.Warn("unexpected message type on signaling channel",
				zap.String("user_id", c.userID.String()),
				zap.String("type", msg.Type))
			if c.hub.metrics != nil {
				c.hub.metrics.RecordSignalingError("unexpected_type")
			}
			continue
		}
		if msg.TargetID == uuid.Nil || msg.CallID == uuid.Nil {
			logger.Warn("negotiation message without target dropped",
				zap.String("user_id", c.userID.String()),
				zap.String("type", msg.Type))
			continue
		}

		// Sender identity comes from the authenticated connection, never
		// from the payload.
		msg.SenderID = c.userID
		msg.Timestamp = time.Now().UTC()

		if c.hub.metrics != nil {
			c.hub.metrics.RecordSignalingMessage(msg.Type, "inbound")
		}
		c.hub.outbound <- &msg
		c.hub.publishRelay(c.ctx, &msg)
	}
}

// writePump writes queued messages and keeps the connection alive with pings
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
			if c.hub.metrics != nil {
				c.hub.metrics.RecordSignalingMessage(messageType(message), "outbound")
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// messageType peeks at the type field for metrics labels
func messageType(payload []byte) string {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "unknown"
	}
	return probe.Type
}
