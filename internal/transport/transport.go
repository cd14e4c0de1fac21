// Package transport implements the client side of the signaling channel: a
// persistent, authenticated WebSocket connection to the coordination server
// with typed event dispatch and an indefinite reconnect-with-backoff policy.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcore/internal/signaling"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
)

// Handler consumes one inbound signaling message
type Handler func(*signaling.Message)

// Options configures a Transport
type Options struct {
	// URL of the signaling WebSocket endpoint
	URL string

	// BaseDelay and MaxDelay shape the reconnect backoff
	// delay(n) = min(BaseDelay * 2^n, MaxDelay). Zero values use defaults.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// DialTimeout bounds each individual connection attempt
	DialTimeout time.Duration

	Logger *zap.Logger
}

// Transport is a persistent signaling connection. All inbound messages are
// dispatched to handlers registered by message type; unknown types are
// dropped for forward compatibility.
type Transport struct {
	url         string
	baseDelay   time.Duration
	maxDelay    time.Duration
	dialTimeout time.Duration
	log         *zap.Logger

	mu         sync.RWMutex
	handlers   map[string]map[int]Handler
	nextToken  int
	conn       *websocket.Conn
	credential string
	connected  bool
	closed     bool

	writeMu sync.Mutex
}

// New creates a Transport. Connect must be called before Send.
func New(opts Options) *Transport {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = constants.ReconnectBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = constants.ReconnectMaxDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = constants.DialTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Transport{
		url:         opts.URL,
		baseDelay:   opts.BaseDelay,
		maxDelay:    opts.MaxDelay,
		dialTimeout: opts.DialTimeout,
		log:         opts.Logger,
		handlers:    make(map[string]map[int]Handler),
	}
}

// Connect authenticates and opens the signaling connection. A rejected
// credential is terminal: the caller must refresh it and call Connect again.
// Transient network errors are returned as such; Connect itself does not
// retry — the reconnect policy only governs connections lost after a
// successful Connect.
func (t *Transport) Connect(ctx context.Context, credential string) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return errors.ConflictError("transport already connected")
	}
	t.closed = false
	t.credential = credential
	t.mu.Unlock()

	conn, err := t.dial(ctx, credential)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()

	go t.run(conn)
	return nil
}

func (t *Transport) dial(ctx context.Context, credential string) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	dialer := &websocket.Dialer{HandshakeTimeout: t.dialTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, t.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, errors.AuthFailureError(err)
		}
		return nil, errors.NetworkError(err)
	}
	return conn, nil
}

// Send writes a signaling message to the server
func (t *Transport) Send(_ context.Context, msg *signaling.Message) error {
	t.mu.RLock()
	conn := t.conn
	connected := t.connected
	t.mu.RUnlock()

	if !connected || conn == nil {
		return errors.NetworkError(nil)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, "marshal signaling message", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(constants.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.NetworkError(err)
	}
	return nil
}

// Subscribe registers a handler for a message type and returns its
// unsubscribe function. Handlers run on the read loop goroutine.
func (t *Transport) Subscribe(msgType string, fn Handler) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers[msgType] == nil {
		t.handlers[msgType] = make(map[int]Handler)
	}
	token := t.nextToken
	t.nextToken++
	t.handlers[msgType][token] = fn

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.handlers[msgType], token)
	}
}

// Connected reports whether the transport currently holds a live connection
func (t *Transport) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Close disconnects deliberately and cancels any pending reconnect
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.connected = false
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// run owns one connection's read pump, then the reconnect loop. Existing
// peer sessions are untouched by signaling reconnection; consumers only see
// a synthetic disconnected event and their subscriptions stay registered.
func (t *Transport) run(conn *websocket.Conn) {
	for {
		err := t.readPump(conn)

		t.mu.Lock()
		closed := t.closed
		t.connected = false
		t.conn = nil
		credential := t.credential
		t.mu.Unlock()

		if closed {
			return
		}

		reason := "connection lost"
		if err != nil {
			reason = err.Error()
		}
		t.log.Warn("signaling connection lost, reconnecting", zap.String("reason", reason))
		t.dispatch(&signaling.Message{Type: signaling.TypeDisconnected, Reason: reason, Timestamp: time.Now()})

		conn = t.reconnect(credential)
		if conn == nil {
			return
		}

		t.mu.Lock()
		t.conn = conn
		t.connected = true
		t.mu.Unlock()
		t.log.Info("signaling connection restored")
	}
}

func (t *Transport) readPump(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg signaling.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn("invalid signaling message", zap.Error(err))
			continue
		}
		t.dispatch(&msg)
	}
}

func (t *Transport) dispatch(msg *signaling.Message) {
	t.mu.RLock()
	registered := t.handlers[msg.Type]
	fns := make([]Handler, 0, len(registered))
	for _, fn := range registered {
		fns = append(fns, fn)
	}
	t.mu.RUnlock()

	if len(fns) == 0 {
		// Unknown or unhandled types are dropped for forward compatibility
		t.log.Debug("dropping unhandled signaling message", zap.String("type", msg.Type))
		return
	}
	for _, fn := range fns {
		fn(msg)
	}
}

// reconnect retries indefinitely with exponential backoff. The attempt
// counter is explicit state, reset on every successful dial; there is no
// attempt cap. Returns nil when the transport was closed deliberately or
// the server rejected the credential (terminal until refreshed).
func (t *Transport) reconnect(credential string) *websocket.Conn {
	for attempt := 0; ; attempt++ {
		delay := backoffDelay(t.baseDelay, t.maxDelay, attempt)
		time.Sleep(delay)

		t.mu.RLock()
		closed := t.closed
		t.mu.RUnlock()
		if closed {
			return nil
		}

		conn, err := t.dial(context.Background(), credential)
		if err == nil {
			return conn
		}

		if errors.GetAppError(err).Code == errors.ErrCodeAuthFailure {
			t.log.Error("signaling credential rejected, giving up reconnect")
			t.dispatch(&signaling.Message{
				Type:      signaling.TypeDisconnected,
				Reason:    "credential rejected",
				Timestamp: time.Now(),
			})
			return nil
		}
		t.log.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

// backoffDelay computes min(base * 2^attempt, max)
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt >= 30 {
		return max
	}
	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}
