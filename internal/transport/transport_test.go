package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/signaling"
	"callcore/pkg/errors"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// signalingServer is a minimal coordination-server stand-in: it validates the
// bearer credential and lets the test feed messages to the connected client.
type signalingServer struct {
	t          *testing.T
	credential string

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
}

func (s *signalingServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.dials++
	s.mu.Unlock()

	if r.Header.Get("Authorization") != "Bearer "+s.credential {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conn, err := testUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()

	// Keep the connection open; discard client traffic.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *signalingServer) send(msg *signaling.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conns[len(s.conns)-1]
	require.NoError(s.t, conn.WriteJSON(msg))
}

func (s *signalingServer) dropClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
	s.conns = nil
}

func (s *signalingServer) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func newTestTransport(t *testing.T, credential string) (*Transport, *signalingServer) {
	srv := &signalingServer{t: t, credential: credential}
	httpSrv := httptest.NewServer(http.HandlerFunc(srv.handler))
	t.Cleanup(httpSrv.Close)

	tr := New(Options{
		URL:       "ws" + strings.TrimPrefix(httpSrv.URL, "http"),
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
	})
	t.Cleanup(func() { tr.Close() })
	return tr, srv
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func TestConnectRejectedCredential(t *testing.T) {
	tr, _ := newTestTransport(t, "good-token")

	err := tr.Connect(context.Background(), "bad-token")
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeAuthFailure, errors.GetAppError(err).Code)
	assert.False(t, tr.Connected())
}

func TestSendBeforeConnect(t *testing.T) {
	tr := New(Options{URL: "ws://127.0.0.1:1/ws"})
	err := tr.Send(context.Background(), &signaling.Message{Type: signaling.TypeOffer})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetwork, errors.GetAppError(err).Code)
}

func TestDispatchByType(t *testing.T) {
	tr, srv := newTestTransport(t, "token")
	require.NoError(t, tr.Connect(context.Background(), "token"))

	var mu sync.Mutex
	var offers, answers []*signaling.Message
	tr.Subscribe(signaling.TypeOffer, func(m *signaling.Message) {
		mu.Lock()
		offers = append(offers, m)
		mu.Unlock()
	})
	tr.Subscribe(signaling.TypeAnswer, func(m *signaling.Message) {
		mu.Lock()
		answers = append(answers, m)
		mu.Unlock()
	})

	callID := uuid.New()
	srv.send(&signaling.Message{Type: signaling.TypeOffer, CallID: callID})
	// Unknown types must be dropped silently.
	srv.send(&signaling.Message{Type: "some_future_event", CallID: callID})
	srv.send(&signaling.Message{Type: signaling.TypeAnswer, CallID: callID})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(offers) == 1 && len(answers) == 1
	}, "both messages dispatched")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, callID, offers[0].CallID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	tr, srv := newTestTransport(t, "token")
	require.NoError(t, tr.Connect(context.Background(), "token"))

	var mu sync.Mutex
	count := 0
	cancel := tr.Subscribe(signaling.TypeEnded, func(m *signaling.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	srv.send(&signaling.Message{Type: signaling.TypeEnded})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, "first delivery")

	cancel()
	srv.send(&signaling.Message{Type: signaling.TypeEnded})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestReconnectAfterDrop(t *testing.T) {
	tr, srv := newTestTransport(t, "token")

	var mu sync.Mutex
	disconnects := 0
	tr.Subscribe(signaling.TypeDisconnected, func(m *signaling.Message) {
		mu.Lock()
		disconnects++
		mu.Unlock()
	})

	require.NoError(t, tr.Connect(context.Background(), "token"))
	waitFor(t, func() bool { return srv.dialCount() == 1 }, "initial dial")

	srv.dropClients()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnects == 1
	}, "disconnected event")
	waitFor(t, func() bool { return srv.dialCount() >= 2 && tr.Connected() }, "reconnect")

	// Subscriptions survive the reconnect.
	var got bool
	tr.Subscribe(signaling.TypeEnded, func(m *signaling.Message) {
		mu.Lock()
		got = true
		mu.Unlock()
	})
	srv.send(&signaling.Message{Type: signaling.TypeEnded})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got
	}, "delivery after reconnect")
}

func TestCloseStopsReconnect(t *testing.T) {
	tr, srv := newTestTransport(t, "token")
	require.NoError(t, tr.Connect(context.Background(), "token"))
	waitFor(t, func() bool { return srv.dialCount() == 1 }, "initial dial")

	require.NoError(t, tr.Close())
	time.Sleep(100 * time.Millisecond)

	assert.False(t, tr.Connected())
	assert.Equal(t, 1, srv.dialCount())
}

func TestBackoffDelaySchedule(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	expected := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	var prev time.Duration
	for n, want := range expected {
		got := backoffDelay(base, max, n)
		assert.Equal(t, want, got, "attempt %d", n)
		assert.GreaterOrEqual(t, got, prev, "delays must be non-decreasing")
		prev = got
	}

	// Large attempt counts must not overflow past the cap.
	assert.Equal(t, max, backoffDelay(base, max, 63))
}
