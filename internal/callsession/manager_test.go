package callsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/internal/peer"
	"callcore/internal/signaling"
	"callcore/internal/transport"
	"callcore/pkg/errors"
)

// MockCallAPI mocks the server's call-control surface
type MockCallAPI struct {
	mock.Mock
}

func (m *MockCallAPI) Initiate(ctx context.Context, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, conversationID, callType, invitees)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) Join(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) Leave(ctx context.Context, callID uuid.UUID) error {
	return m.Called(ctx, callID).Error(0)
}

func (m *MockCallAPI) Decline(ctx context.Context, callID uuid.UUID) error {
	return m.Called(ctx, callID).Error(0)
}

func (m *MockCallAPI) End(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) SetMuted(ctx context.Context, callID, userID uuid.UUID, muted bool) (*domain.Call, error) {
	args := m.Called(ctx, callID, userID, muted)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) MuteAll(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID, userID)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) Promote(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, callID, userID)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) SetLocked(ctx context.Context, callID uuid.UUID, locked bool) (*domain.Call, error) {
	args := m.Called(ctx, callID, locked)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) SetHold(ctx context.Context, callID uuid.UUID, onHold bool) (*domain.Call, error) {
	args := m.Called(ctx, callID, onHold)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCallAPI) Transfer(ctx context.Context, callID, targetID uuid.UUID) error {
	return m.Called(ctx, callID, targetID).Error(0)
}

func (m *MockCallAPI) RespondTransfer(ctx context.Context, callID uuid.UUID, accept bool) error {
	return m.Called(ctx, callID, accept).Error(0)
}

// fakeSignal is an in-memory signaling channel: it records outbound messages
// and lets tests inject inbound ones.
type fakeSignal struct {
	mu       sync.Mutex
	sent     []*signaling.Message
	handlers map[string][]transport.Handler
}

func newFakeSignal() *fakeSignal {
	return &fakeSignal{handlers: make(map[string][]transport.Handler)}
}

func (f *fakeSignal) Send(_ context.Context, msg *signaling.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSignal) Subscribe(msgType string, fn transport.Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[msgType] = append(f.handlers[msgType], fn)
	return func() {}
}

func (f *fakeSignal) inject(msg *signaling.Message) {
	f.mu.Lock()
	fns := append([]transport.Handler(nil), f.handlers[msg.Type]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(msg)
	}
}

func (f *fakeSignal) sentOfType(msgType string) []*signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*signaling.Message
	for _, msg := range f.sent {
		if msg.Type == msgType {
			out = append(out, msg)
		}
	}
	return out
}

// stubConn is a minimal peer.Conn that negotiates without a network
type stubConn struct {
	mu      sync.Mutex
	onState func(webrtc.PeerConnectionState)
	closed  bool
}

func (c *stubConn) CreateOffer(_ *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}, nil
}

func (c *stubConn) CreateAnswer(_ *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"}, nil
}

func (c *stubConn) SetLocalDescription(webrtc.SessionDescription) error  { return nil }
func (c *stubConn) SetRemoteDescription(webrtc.SessionDescription) error { return nil }
func (c *stubConn) AddICECandidate(webrtc.ICECandidateInit) error        { return nil }

func (c *stubConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }

func (c *stubConn) OnICECandidate(func(*webrtc.ICECandidate)) {}

func (c *stubConn) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = fn
}

func (c *stubConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (c *stubConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *stubConn) fail() {
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(webrtc.PeerConnectionStateFailed)
	}
}

// connRecorder hands out stub conns and remembers them
type connRecorder struct {
	mu    sync.Mutex
	conns []*stubConn
}

func (r *connRecorder) factory() (peer.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn := &stubConn{}
	r.conns = append(r.conns, conn)
	return conn, nil
}

// captureSource hands out static tracks and counts device releases
type captureSource struct {
	mu       sync.Mutex
	releases int
	fail     error
}

func (s *captureSource) Open(_ context.Context, withVideo bool) ([]webrtc.TrackLocal, func(), error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		return nil, nil, fail
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
	if err != nil {
		return nil, nil, err
	}
	tracks := []webrtc.TrackLocal{audio}
	if withVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
		if err != nil {
			return nil, nil, err
		}
		tracks = append(tracks, video)
	}
	return tracks, func() {
		s.mu.Lock()
		s.releases++
		s.mu.Unlock()
	}, nil
}

func (s *captureSource) released() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releases
}

type fixture struct {
	manager *Manager
	api     *MockCallAPI
	signal  *fakeSignal
	source  *captureSource
	capture *media.Capture
	conns   *connRecorder
	selfID  uuid.UUID

	mu     sync.Mutex
	events []Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		api:    new(MockCallAPI),
		signal: newFakeSignal(),
		source: &captureSource{},
		conns:  &connRecorder{},
		selfID: uuid.New(),
	}
	f.capture = media.NewCapture(f.source, nil)
	f.manager = NewManager(Options{
		SelfID:        f.selfID,
		API:           f.api,
		Signaler:      f.signal,
		Capture:       f.capture,
		NewConn:       f.conns.factory,
		RingingWindow: 40 * time.Millisecond,
	})
	f.manager.Subscribe(func(ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	t.Cleanup(f.manager.Close)
	return f
}

func (f *fixture) eventsOfType(et EventType) []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Event
	for _, ev := range f.events {
		if ev.Type == et {
			out = append(out, ev)
		}
	}
	return out
}

func joinedParticipant(callID, userID uuid.UUID) domain.Participant {
	now := time.Now()
	return domain.Participant{
		CallID:   callID,
		UserID:   userID,
		Role:     domain.RoleParticipant,
		Status:   domain.ParticipantJoined,
		JoinedAt: &now,
	}
}

func makeCall(callID, initiatorID uuid.UUID, status domain.CallStatus, participants ...domain.Participant) *domain.Call {
	return &domain.Call{
		CallID:         callID,
		ConversationID: uuid.New(),
		InitiatorID:    initiatorID,
		Type:           domain.CallTypeVideo,
		Status:         status,
		Participants:   participants,
		StartedAt:      time.Now(),
	}
}

func TestInitiateAcquiresMediaAndRegistersCall(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	invitee := uuid.New()
	call := makeCall(callID, f.selfID, domain.CallStatusRinging,
		joinedParticipant(callID, f.selfID),
		domain.Participant{CallID: callID, UserID: invitee, Status: domain.ParticipantInvited})

	f.api.On("Initiate", mock.Anything, call.ConversationID, domain.CallTypeVideo, []uuid.UUID{invitee}).
		Return(call, nil)

	got, err := f.manager.Initiate(context.Background(), call.ConversationID, domain.CallTypeVideo, []uuid.UUID{invitee})
	require.NoError(t, err)
	assert.Equal(t, callID, got.CallID)
	assert.NotNil(t, f.capture.Stream(), "local media held for the call")

	snap, err := f.manager.Snapshot(callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, snap.Status)
	f.api.AssertExpectations(t)
}

func TestInitiateDeviceFailureNeverHitsServer(t *testing.T) {
	f := newFixture(t)
	f.source.fail = errors.ErrDeviceUnavailable

	_, err := f.manager.Initiate(context.Background(), uuid.New(), domain.CallTypeAudio, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDeviceUnavailable)
	f.api.AssertNotCalled(t, "Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestJoinOffersToEveryJoinedParticipant(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	remoteA, remoteB := uuid.New(), uuid.New()
	invited := uuid.New()
	call := makeCall(callID, remoteA, domain.CallStatusActive,
		joinedParticipant(callID, remoteA),
		joinedParticipant(callID, remoteB),
		joinedParticipant(callID, f.selfID),
		domain.Participant{CallID: callID, UserID: invited, Status: domain.ParticipantInvited})

	f.api.On("Join", mock.Anything, callID).Return(call, nil)

	_, err := f.manager.Join(context.Background(), callID)
	require.NoError(t, err)

	// One session per joined remote; invited users get none.
	sessions := f.manager.Sessions(callID)
	assert.Len(t, sessions, 2)
	assert.LessOrEqual(t, len(sessions), call.ActiveParticipants()-1)

	offers := f.signal.sentOfType(signaling.TypeOffer)
	require.Len(t, offers, 2)
	targets := map[uuid.UUID]bool{offers[0].TargetID: true, offers[1].TargetID: true}
	assert.True(t, targets[remoteA])
	assert.True(t, targets[remoteB])
}

func TestJoinLockedCallRejected(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	f.api.On("Join", mock.Anything, callID).Return(nil, errors.ErrCallLocked)

	_, err := f.manager.Join(context.Background(), callID)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCallLocked)
	assert.Nil(t, f.capture.Stream(), "no media held for a rejected join")
}

func TestInboundOfferCreatesSessionEagerly(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	remote := uuid.New()
	call := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)
	_, err := f.manager.Initiate(context.Background(), call.ConversationID, domain.CallTypeVideo, []uuid.UUID{remote})
	require.NoError(t, err)

	f.signal.inject(&signaling.Message{
		Type:     signaling.TypeOffer,
		CallID:   callID,
		SenderID: remote,
		SDP:      &signaling.SessionDescription{Type: "offer", SDP: "v=0"},
	})

	assert.Equal(t, []uuid.UUID{remote}, f.manager.Sessions(callID))
	answers := f.signal.sentOfType(signaling.TypeAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, remote, answers[0].TargetID)
}

func TestCandidateForUnknownSessionDropped(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	call := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)
	_, err := f.manager.Initiate(context.Background(), call.ConversationID, domain.CallTypeVideo, nil)
	require.NoError(t, err)

	// Candidate from a user with no session: dropped, never creates one.
	f.signal.inject(&signaling.Message{
		Type:      signaling.TypeICECandidate,
		CallID:    callID,
		SenderID:  uuid.New(),
		Candidate: &signaling.ICECandidate{Candidate: "candidate:stale"},
	})
	assert.Empty(t, f.manager.Sessions(callID))
}

func TestRingingWindowExpiresUnansweredInvite(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	initiator := uuid.New()
	call := makeCall(callID, initiator, domain.CallStatusRinging,
		joinedParticipant(callID, initiator),
		domain.Participant{CallID: callID, UserID: f.selfID, Status: domain.ParticipantInvited})

	f.signal.inject(&signaling.Message{Type: signaling.TypeIncomingCall, CallID: callID, Call: call})
	require.Len(t, f.eventsOfType(EventIncomingCall), 1)

	require.Eventually(t, func() bool {
		return len(f.eventsOfType(EventCallMissed)) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := f.manager.Snapshot(callID)
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestJoinStopsRingingTimer(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	initiator := uuid.New()
	invite := makeCall(callID, initiator, domain.CallStatusRinging,
		joinedParticipant(callID, initiator),
		domain.Participant{CallID: callID, UserID: f.selfID, Status: domain.ParticipantInvited})
	joined := makeCall(callID, initiator, domain.CallStatusActive,
		joinedParticipant(callID, initiator),
		joinedParticipant(callID, f.selfID))

	f.signal.inject(&signaling.Message{Type: signaling.TypeIncomingCall, CallID: callID, Call: invite})
	f.api.On("Join", mock.Anything, callID).Return(joined, nil)

	_, err := f.manager.Join(context.Background(), callID)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond) // past the ringing window
	assert.Empty(t, f.eventsOfType(EventCallMissed))
	_, err = f.manager.Snapshot(callID)
	assert.NoError(t, err)
}

func TestModerationRequiresPrivilege(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	initiator := uuid.New()
	call := makeCall(callID, initiator, domain.CallStatusActive,
		joinedParticipant(callID, initiator),
		joinedParticipant(callID, f.selfID))

	f.api.On("Join", mock.Anything, callID).Return(call, nil)
	_, err := f.manager.Join(context.Background(), callID)
	require.NoError(t, err)

	err = f.manager.MuteAll(context.Background(), callID)
	assert.ErrorIs(t, err, errors.ErrNotAuthorized)
	err = f.manager.SetLocked(context.Background(), callID, true)
	assert.ErrorIs(t, err, errors.ErrNotAuthorized)
	f.api.AssertNotCalled(t, "MuteAll", mock.Anything, mock.Anything)
	f.api.AssertNotCalled(t, "SetLocked", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitiatorModeratesWithoutModeratorRole(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	remote := uuid.New()
	call := makeCall(callID, f.selfID, domain.CallStatusActive,
		joinedParticipant(callID, f.selfID),
		joinedParticipant(callID, remote))
	locked := makeCall(callID, f.selfID, domain.CallStatusActive,
		joinedParticipant(callID, f.selfID),
		joinedParticipant(callID, remote))
	locked.IsLocked = true

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)
	f.api.On("SetLocked", mock.Anything, callID, true).Return(locked, nil)

	_, err := f.manager.Initiate(context.Background(), call.ConversationID, domain.CallTypeVideo, []uuid.UUID{remote})
	require.NoError(t, err)
	require.NoError(t, f.manager.SetLocked(context.Background(), callID, true))

	snap, err := f.manager.Snapshot(callID)
	require.NoError(t, err)
	assert.True(t, snap.IsLocked)
}

func TestEndForAllTearsDownAndReleasesOnce(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	remote := uuid.New()
	active := makeCall(callID, f.selfID, domain.CallStatusActive,
		joinedParticipant(callID, f.selfID),
		joinedParticipant(callID, remote))
	ended := makeCall(callID, f.selfID, domain.CallStatusEnded,
		joinedParticipant(callID, f.selfID),
		joinedParticipant(callID, remote))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(active, nil)
	f.api.On("End", mock.Anything, callID).Return(ended, nil)

	_, err := f.manager.Initiate(context.Background(), active.ConversationID, domain.CallTypeVideo, []uuid.UUID{remote})
	require.NoError(t, err)

	require.NoError(t, f.manager.EndForAll(context.Background(), callID))
	require.Len(t, f.eventsOfType(EventCallEnded), 1)
	assert.Equal(t, 1, f.source.released())

	// A late ended broadcast for the same call is a no-op.
	f.signal.inject(&signaling.Message{Type: signaling.TypeEnded, CallID: callID})
	assert.Equal(t, 1, f.source.released())
	_, err = f.manager.Snapshot(callID)
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestRemovedFromCallTearsDownLocally(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	moderator := uuid.New()
	active := makeCall(callID, moderator, domain.CallStatusActive,
		joinedParticipant(callID, moderator),
		joinedParticipant(callID, f.selfID))

	f.api.On("Join", mock.Anything, callID).Return(active, nil)
	_, err := f.manager.Join(context.Background(), callID)
	require.NoError(t, err)

	removed := makeCall(callID, moderator, domain.CallStatusActive,
		joinedParticipant(callID, moderator),
		domain.Participant{CallID: callID, UserID: f.selfID, Status: domain.ParticipantLeft})
	f.signal.inject(&signaling.Message{Type: signaling.TypeParticipantRemoved, CallID: callID, Call: removed})

	require.Len(t, f.eventsOfType(EventCallEnded), 1)
	assert.Equal(t, "removed", f.eventsOfType(EventCallEnded)[0].Reason)
	assert.Equal(t, 1, f.source.released())
}

func TestFailedSessionKeepsParticipant(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	remote := uuid.New()
	call := makeCall(callID, remote, domain.CallStatusActive,
		joinedParticipant(callID, remote),
		joinedParticipant(callID, f.selfID))

	f.api.On("Join", mock.Anything, callID).Return(call, nil)
	_, err := f.manager.Join(context.Background(), callID)
	require.NoError(t, err)
	require.Len(t, f.manager.Sessions(callID), 1)

	f.conns.conns[0].fail()

	assert.Empty(t, f.manager.Sessions(callID), "failed session removed")
	snap, err := f.manager.Snapshot(callID)
	require.NoError(t, err)
	p := snap.Participant(remote)
	require.NotNil(t, p, "roster entry survives a dead media leg")
	assert.Equal(t, domain.ParticipantJoined, p.Status)
}

func TestHoldSilencesAudioOnlyAfterConfirmation(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	active := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(active, nil)
	_, err := f.manager.Initiate(context.Background(), active.ConversationID, domain.CallTypeAudio, nil)
	require.NoError(t, err)

	f.api.On("SetHold", mock.Anything, callID, true).Return(nil, errors.NetworkError(assert.AnError)).Once()
	require.Error(t, f.manager.SetHold(context.Background(), callID, true))
	assert.True(t, f.capture.Stream().Track(media.KindAudio).Enabled(),
		"audio untouched on an unconfirmed hold")

	held := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))
	held.Participants[0].OnHold = true
	f.api.On("SetHold", mock.Anything, callID, true).Return(held, nil).Once()
	require.NoError(t, f.manager.SetHold(context.Background(), callID, true))
	assert.False(t, f.capture.Stream().Track(media.KindAudio).Enabled())
}

func TestToggleMuteIsPessimistic(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	active := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(active, nil)
	_, err := f.manager.Initiate(context.Background(), active.ConversationID, domain.CallTypeAudio, nil)
	require.NoError(t, err)

	f.api.On("SetMuted", mock.Anything, callID, f.selfID, true).
		Return(nil, errors.NetworkError(assert.AnError)).Once()
	_, err = f.manager.ToggleMute(context.Background(), callID)
	require.Error(t, err)
	assert.True(t, f.capture.Stream().Track(media.KindAudio).Enabled())

	muted := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))
	muted.Participants[0].IsMuted = true
	f.api.On("SetMuted", mock.Anything, callID, f.selfID, true).Return(muted, nil).Once()
	state, err := f.manager.ToggleMute(context.Background(), callID)
	require.NoError(t, err)
	assert.True(t, state)
	assert.False(t, f.capture.Stream().Track(media.KindAudio).Enabled())
}

func TestTransferHandshake(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	initiator := uuid.New()
	call := makeCall(callID, initiator, domain.CallStatusActive,
		joinedParticipant(callID, initiator),
		joinedParticipant(callID, f.selfID))

	f.signal.inject(&signaling.Message{
		Type:     signaling.TypeTransferRequest,
		CallID:   callID,
		SenderID: initiator,
		Call:     call,
	})
	reqs := f.eventsOfType(EventTransferRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, initiator, reqs[0].RemoteID)

	f.api.On("RespondTransfer", mock.Anything, callID, true).Return(nil)
	f.api.On("Join", mock.Anything, callID).Return(call, nil)
	_, err := f.manager.AcceptTransfer(context.Background(), callID)
	require.NoError(t, err)
	f.api.AssertExpectations(t)
}

func TestDisconnectedKeepsCalls(t *testing.T) {
	f := newFixture(t)
	callID := uuid.New()
	call := makeCall(callID, f.selfID, domain.CallStatusActive, joinedParticipant(callID, f.selfID))

	f.api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)
	_, err := f.manager.Initiate(context.Background(), call.ConversationID, domain.CallTypeAudio, nil)
	require.NoError(t, err)

	f.signal.inject(&signaling.Message{Type: signaling.TypeDisconnected, Reason: "read error"})

	require.Len(t, f.eventsOfType(EventSignalingLost), 1)
	_, err = f.manager.Snapshot(callID)
	assert.NoError(t, err, "in-progress calls survive a signaling outage")
	assert.Equal(t, 0, f.source.released())
}
