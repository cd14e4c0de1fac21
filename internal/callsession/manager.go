// Package callsession orchestrates the client side of a call: the lifecycle
// of each call this user participates in, one peer session per remote
// participant, local media acquisition, and moderation. All roster state is
// server-authoritative; the manager never mutates its snapshot ahead of a
// confirmed server response or broadcast.
package callsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/internal/peer"
	"callcore/internal/signaling"
	"callcore/internal/transport"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
)

// CallAPI is the server's call-control surface. The HTTP client implements
// it; tests substitute mocks. Every mutating method returns the resulting
// authoritative snapshot where one exists.
type CallAPI interface {
	Initiate(ctx context.Context, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error)
	Join(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	Leave(ctx context.Context, callID uuid.UUID) error
	Decline(ctx context.Context, callID uuid.UUID) error
	End(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	SetMuted(ctx context.Context, callID, userID uuid.UUID, muted bool) (*domain.Call, error)
	MuteAll(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
	Promote(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error)
	SetLocked(ctx context.Context, callID uuid.UUID, locked bool) (*domain.Call, error)
	SetHold(ctx context.Context, callID uuid.UUID, onHold bool) (*domain.Call, error)
	Transfer(ctx context.Context, callID, targetID uuid.UUID) error
	RespondTransfer(ctx context.Context, callID uuid.UUID, accept bool) error
}

// Signaler is the signaling channel the manager listens on and negotiates
// over. *transport.Transport implements it.
type Signaler interface {
	Send(ctx context.Context, msg *signaling.Message) error
	Subscribe(msgType string, fn transport.Handler) (unsubscribe func())
}

// Options assembles a Manager
type Options struct {
	SelfID   uuid.UUID
	API      CallAPI
	Signaler Signaler
	Capture  *media.Capture
	NewConn  peer.ConnFactory

	// RingingWindow overrides the unanswered-invite expiry, zero for default
	RingingWindow time.Duration

	Logger *zap.Logger
}

// activeCall is the client-side state of one call: the latest server
// snapshot, the peer sessions keyed by remote user, and the local stream.
type activeCall struct {
	mu        sync.Mutex
	call      *domain.Call
	sessions  map[uuid.UUID]*peer.Session
	joined    bool
	ringTimer *time.Timer
	closed    bool
}

// Manager owns every call this client is part of
type Manager struct {
	selfID  uuid.UUID
	api     CallAPI
	signal  Signaler
	capture *media.Capture
	newConn peer.ConnFactory
	ringing time.Duration
	log     *zap.Logger

	mu        sync.Mutex
	calls     map[uuid.UUID]*activeCall
	unsubs    []func()
	watchers  map[int]func(Event)
	nextWatch int
	closed    bool
}

// NewManager wires the manager into the signaling channel. Call Close to
// detach and tear down all calls.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RingingWindow <= 0 {
		opts.RingingWindow = constants.RingingWindow
	}

	m := &Manager{
		selfID:   opts.SelfID,
		api:      opts.API,
		signal:   opts.Signaler,
		capture:  opts.Capture,
		newConn:  opts.NewConn,
		ringing:  opts.RingingWindow,
		log:      opts.Logger.With(zap.String("user_id", opts.SelfID.String())),
		calls:    make(map[uuid.UUID]*activeCall),
		watchers: make(map[int]func(Event)),
	}

	subs := map[string]transport.Handler{
		signaling.TypeOffer:               m.handleOffer,
		signaling.TypeAnswer:              m.handleAnswer,
		signaling.TypeICECandidate:        m.handleCandidate,
		signaling.TypeIncomingCall:        m.handleIncomingCall,
		signaling.TypeParticipantJoined:   m.handleRosterUpdate,
		signaling.TypeParticipantLeft:     m.handleRosterUpdate,
		signaling.TypeDeclined:            m.handleRosterUpdate,
		signaling.TypeLocked:              m.handleRosterUpdate,
		signaling.TypeUnlocked:            m.handleRosterUpdate,
		signaling.TypeMuteAll:             m.handleRosterUpdate,
		signaling.TypeParticipantMuted:    m.handleRosterUpdate,
		signaling.TypeParticipantPromoted: m.handleRosterUpdate,
		signaling.TypeParticipantRemoved:  m.handleRosterUpdate,
		signaling.TypeHold:                m.handleRosterUpdate,
		signaling.TypeEnded:               m.handleEnded,
		signaling.TypeTransferRequest:     m.handleTransferRequest,
		signaling.TypeDisconnected:        m.handleDisconnected,
	}
	for msgType, handler := range subs {
		m.unsubs = append(m.unsubs, m.signal.Subscribe(msgType, handler))
	}
	return m
}

// Subscribe registers a watcher for manager events and returns its
// unsubscribe func. Watchers are invoked sequentially on internal goroutines
// and must not block.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token := m.nextWatch
	m.nextWatch++
	m.watchers[token] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, token)
	}
}

func (m *Manager) emit(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Snapshot returns the latest server snapshot of the given call
func (m *Manager) Snapshot(callID uuid.UUID) (*domain.Call, error) {
	ac := m.lookup(callID)
	if ac == nil {
		return nil, errors.ErrCallNotFound
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	snap := *ac.call
	return &snap, nil
}

// Sessions returns the remote user IDs with a live peer session in the call
func (m *Manager) Sessions(callID uuid.UUID) []uuid.UUID {
	ac := m.lookup(callID)
	if ac == nil {
		return nil
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	out := make([]uuid.UUID, 0, len(ac.sessions))
	for id := range ac.sessions {
		out = append(out, id)
	}
	return out
}

func (m *Manager) lookup(callID uuid.UUID) *activeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[callID]
}

// Initiate starts a call in the conversation and invites the given users.
// Local media is acquired before the server is asked to create the call, so
// a device failure surfaces without a dangling roster entry.
func (m *Manager) Initiate(ctx context.Context, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error) {
	if _, err := m.capture.Acquire(ctx, callType == domain.CallTypeVideo); err != nil {
		return nil, err
	}

	call, err := m.api.Initiate(ctx, conversationID, callType, invitees)
	if err != nil {
		m.capture.Release()
		return nil, err
	}

	ac := &activeCall{
		call:     call,
		sessions: make(map[uuid.UUID]*peer.Session),
		joined:   true,
	}
	m.mu.Lock()
	m.calls[call.CallID] = ac
	m.mu.Unlock()

	m.log.Info("call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("type", string(callType)),
		zap.Int("invitees", len(invitees)))
	m.emit(Event{Type: EventRosterChanged, CallID: call.CallID, Call: call})
	return call, nil
}

// Join answers an invite or enters an in-progress call. On success the
// joiner opens a peer session toward every already-joined participant and
// sends each an offer. A locked call rejects non-moderators server-side.
func (m *Manager) Join(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	call, err := m.api.Join(ctx, callID)
	if err != nil {
		return nil, err
	}

	if _, err := m.capture.Acquire(ctx, call.Type == domain.CallTypeVideo); err != nil {
		// Joined the roster but can't produce media; back out cleanly.
		_ = m.api.Leave(ctx, callID)
		return nil, err
	}

	ac := m.lookup(callID)
	if ac == nil {
		ac = &activeCall{sessions: make(map[uuid.UUID]*peer.Session)}
		m.mu.Lock()
		m.calls[callID] = ac
		m.mu.Unlock()
	}

	ac.mu.Lock()
	ac.call = call
	ac.joined = true
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
		ac.ringTimer = nil
	}
	ac.mu.Unlock()

	for i := range call.Participants {
		p := &call.Participants[i]
		if p.UserID == m.selfID || p.Status != domain.ParticipantJoined {
			continue
		}
		sess, err := m.openSession(callID, p.UserID)
		if err != nil {
			m.log.Error("failed to open peer session",
				zap.String("call_id", callID.String()),
				zap.String("remote_id", p.UserID.String()),
				zap.Error(err))
			continue
		}
		if err := sess.Offer(ctx); err != nil {
			m.log.Error("offer failed",
				zap.String("remote_id", p.UserID.String()),
				zap.Error(err))
			m.dropSession(ac, p.UserID)
		}
	}

	m.log.Info("call joined",
		zap.String("call_id", callID.String()),
		zap.Int("active", call.ActiveParticipants()))
	m.emit(Event{Type: EventRosterChanged, CallID: callID, Call: call})
	return call, nil
}

// Leave exits the call. Sessions are closed and devices released whether or
// not the server acknowledges, so a dead server never pins the camera.
func (m *Manager) Leave(ctx context.Context, callID uuid.UUID) error {
	ac := m.lookup(callID)
	if ac == nil {
		return errors.ErrCallNotFound
	}
	err := m.api.Leave(ctx, callID)
	m.teardown(callID, "left")
	return err
}

// Decline rejects an invite that has not been joined
func (m *Manager) Decline(ctx context.Context, callID uuid.UUID) error {
	ac := m.lookup(callID)
	if ac == nil {
		return errors.ErrCallNotFound
	}
	ac.mu.Lock()
	joined := ac.joined
	ac.mu.Unlock()
	if joined {
		return errors.ConflictError("call already joined")
	}
	err := m.api.Decline(ctx, callID)
	m.teardown(callID, "declined")
	return err
}

// ToggleMute asks the server to flip this user's mute flag and applies the
// confirmed state to the local audio track. The track is never flipped on an
// unconfirmed request.
func (m *Manager) ToggleMute(ctx context.Context, callID uuid.UUID) (bool, error) {
	ac := m.lookup(callID)
	if ac == nil {
		return false, errors.ErrCallNotFound
	}
	ac.mu.Lock()
	self := ac.call.Participant(m.selfID)
	if self == nil {
		ac.mu.Unlock()
		return false, errors.ErrCallNotFound
	}
	muted := self.IsMuted
	ac.mu.Unlock()

	call, err := m.api.SetMuted(ctx, callID, m.selfID, !muted)
	if err != nil {
		return muted, err
	}
	m.applySnapshot(ac, call)
	return !muted, nil
}

// ToggleVideo flips the local video track. Video visibility is a purely
// local concern; no server round-trip and no renegotiation.
func (m *Manager) ToggleVideo(callID uuid.UUID) (bool, error) {
	if m.lookup(callID) == nil {
		return false, errors.ErrCallNotFound
	}
	return m.capture.Toggle(media.KindVideo)
}

// SetHold places this user on or off hold. Outbound audio is silenced only
// after the server confirms, so the roster and the media state agree.
func (m *Manager) SetHold(ctx context.Context, callID uuid.UUID, onHold bool) error {
	ac := m.lookup(callID)
	if ac == nil {
		return errors.ErrCallNotFound
	}
	call, err := m.api.SetHold(ctx, callID, onHold)
	if err != nil {
		return err
	}
	m.applySnapshot(ac, call)
	return nil
}

// Transfer asks targetID to take this user's place in the call. The caller
// stays in the call until the target accepts.
func (m *Manager) Transfer(ctx context.Context, callID, targetID uuid.UUID) error {
	if m.lookup(callID) == nil {
		return errors.ErrCallNotFound
	}
	return m.api.Transfer(ctx, callID, targetID)
}

// AcceptTransfer accepts a transfer request and joins the call
func (m *Manager) AcceptTransfer(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	if err := m.api.RespondTransfer(ctx, callID, true); err != nil {
		return nil, err
	}
	return m.Join(ctx, callID)
}

// DeclineTransfer rejects a transfer request
func (m *Manager) DeclineTransfer(ctx context.Context, callID uuid.UUID) error {
	return m.api.RespondTransfer(ctx, callID, false)
}

// Close detaches from the signaling channel and tears down every call
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	ids := make([]uuid.UUID, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	for _, id := range ids {
		m.teardown(id, "client shutdown")
	}
}

// openSession creates and registers a peer session for (call, remote).
// Caller must not hold ac.mu.
func (m *Manager) openSession(callID, remoteID uuid.UUID) (*peer.Session, error) {
	ac := m.lookup(callID)
	if ac == nil {
		return nil, errors.ErrCallNotFound
	}
	sess, err := peer.NewSession(peer.Config{
		CallID:   callID,
		SelfID:   m.selfID,
		RemoteID: remoteID,
		Factory:  m.newConn,
		Signaler: m.signal,
		Local:    m.capture.Stream(),
		OnState:  func(remote uuid.UUID, st peer.State) { m.onSessionState(callID, remote, st) },
		Logger:   m.log,
	})
	if err != nil {
		return nil, err
	}
	ac.mu.Lock()
	ac.sessions[remoteID] = sess
	ac.mu.Unlock()
	return sess, nil
}

func (m *Manager) dropSession(ac *activeCall, remoteID uuid.UUID) {
	ac.mu.Lock()
	sess := ac.sessions[remoteID]
	delete(ac.sessions, remoteID)
	ac.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// onSessionState removes dead sessions. A failed media leg never removes the
// participant from the roster; the user may rejoin signaling-wise intact.
func (m *Manager) onSessionState(callID, remoteID uuid.UUID, st peer.State) {
	if st == peer.StateFailed {
		if ac := m.lookup(callID); ac != nil {
			ac.mu.Lock()
			delete(ac.sessions, remoteID)
			ac.mu.Unlock()
		}
	}
	m.emit(Event{Type: EventSessionState, CallID: callID, RemoteID: remoteID, SessionState: st})
}

// teardown closes every session of the call, releases local media, and
// forgets the call. Idempotent; devices are released exactly once.
func (m *Manager) teardown(callID uuid.UUID, reason string) {
	m.mu.Lock()
	ac := m.calls[callID]
	delete(m.calls, callID)
	m.mu.Unlock()
	if ac == nil {
		return
	}

	ac.mu.Lock()
	if ac.closed {
		ac.mu.Unlock()
		return
	}
	ac.closed = true
	if ac.ringTimer != nil {
		ac.ringTimer.Stop()
		ac.ringTimer = nil
	}
	sessions := ac.sessions
	ac.sessions = make(map[uuid.UUID]*peer.Session)
	joined := ac.joined
	ac.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	if joined {
		m.capture.Release()
	}
	m.log.Info("call torn down",
		zap.String("call_id", callID.String()),
		zap.String("reason", reason))
}

// applySnapshot replaces the local roster with the server's and reconciles
// peer sessions against it: sessions toward participants no longer joined
// are closed, and local audio follows this user's mute/hold flags.
func (m *Manager) applySnapshot(ac *activeCall, snap *domain.Call) {
	ac.mu.Lock()
	ac.call = snap
	joined := ac.joined

	var stale []*peer.Session
	for remoteID, sess := range ac.sessions {
		p := snap.Participant(remoteID)
		if p == nil || p.Status != domain.ParticipantJoined {
			stale = append(stale, sess)
			delete(ac.sessions, remoteID)
		}
	}
	ac.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
	}

	if joined {
		if self := snap.Participant(m.selfID); self != nil {
			if self.Status.IsTerminal() {
				// Removed by a moderator or otherwise dropped from the roster.
				m.teardown(snap.CallID, "removed from call")
				m.emit(Event{Type: EventCallEnded, CallID: snap.CallID, Call: snap, Reason: "removed"})
				return
			}
			enabled := !self.IsMuted && !self.OnHold
			if _, err := m.capture.SetEnabled(media.KindAudio, enabled); err != nil {
				m.log.Warn("failed to sync audio with roster", zap.Error(err))
			}
		}
	}

	if snap.Status.IsTerminal() {
		m.teardown(snap.CallID, string(snap.Status))
		m.emit(Event{Type: EventCallEnded, CallID: snap.CallID, Call: snap, Reason: string(snap.Status)})
		return
	}

	m.emit(Event{Type: EventRosterChanged, CallID: snap.CallID, Call: snap})
}

// Inbound signaling.

// handleOffer creates the peer session eagerly on the first offer from a
// remote participant and answers it.
func (m *Manager) handleOffer(msg *signaling.Message) {
	if msg.SDP == nil {
		return
	}
	ac := m.lookup(msg.CallID)
	if ac == nil {
		m.log.Warn("offer for unknown call", zap.String("call_id", msg.CallID.String()))
		return
	}

	ac.mu.Lock()
	sess := ac.sessions[msg.SenderID]
	ac.mu.Unlock()

	if sess == nil {
		var err error
		sess, err = m.openSession(msg.CallID, msg.SenderID)
		if err != nil {
			m.log.Error("failed to create session for offer",
				zap.String("sender_id", msg.SenderID.String()),
				zap.Error(err))
			return
		}
	}

	if err := sess.HandleOffer(context.Background(), msg.SDP); err != nil {
		m.log.Error("failed to handle offer",
			zap.String("sender_id", msg.SenderID.String()),
			zap.Error(err))
		m.dropSession(ac, msg.SenderID)
	}
}

func (m *Manager) handleAnswer(msg *signaling.Message) {
	if msg.SDP == nil {
		return
	}
	sess := m.session(msg.CallID, msg.SenderID)
	if sess == nil {
		m.log.Warn("answer for unknown session",
			zap.String("call_id", msg.CallID.String()),
			zap.String("sender_id", msg.SenderID.String()))
		return
	}
	if err := sess.HandleAnswer(context.Background(), msg.SDP); err != nil {
		m.log.Error("failed to apply answer", zap.Error(err))
	}
}

// handleCandidate drops candidates for sessions that do not exist. Unlike
// offers, a candidate never creates a session; candidates for a session we
// tore down or never built are stale by definition.
func (m *Manager) handleCandidate(msg *signaling.Message) {
	if msg.Candidate == nil {
		return
	}
	sess := m.session(msg.CallID, msg.SenderID)
	if sess == nil {
		m.log.Debug("dropping candidate for unknown session",
			zap.String("call_id", msg.CallID.String()),
			zap.String("sender_id", msg.SenderID.String()))
		return
	}
	if err := sess.HandleCandidate(msg.Candidate); err != nil {
		m.log.Warn("candidate rejected", zap.Error(err))
	}
}

func (m *Manager) session(callID, remoteID uuid.UUID) *peer.Session {
	ac := m.lookup(callID)
	if ac == nil {
		return nil
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.sessions[remoteID]
}

// handleIncomingCall records the invite and arms the ringing window. If the
// user neither joins nor declines before it expires, the invite is dropped
// locally and reported missed.
func (m *Manager) handleIncomingCall(msg *signaling.Message) {
	if msg.Call == nil {
		return
	}
	callID := msg.Call.CallID

	m.mu.Lock()
	if _, exists := m.calls[callID]; exists {
		m.mu.Unlock()
		return
	}
	ac := &activeCall{
		call:     msg.Call,
		sessions: make(map[uuid.UUID]*peer.Session),
	}
	ac.ringTimer = time.AfterFunc(m.ringing, func() { m.expireInvite(callID) })
	m.calls[callID] = ac
	m.mu.Unlock()

	m.log.Info("incoming call",
		zap.String("call_id", callID.String()),
		zap.String("initiator_id", msg.Call.InitiatorID.String()))
	m.emit(Event{Type: EventIncomingCall, CallID: callID, Call: msg.Call})
}

func (m *Manager) expireInvite(callID uuid.UUID) {
	ac := m.lookup(callID)
	if ac == nil {
		return
	}
	ac.mu.Lock()
	joined := ac.joined
	snap := ac.call
	ac.mu.Unlock()
	if joined {
		return
	}
	m.teardown(callID, "ringing window expired")
	m.emit(Event{Type: EventCallMissed, CallID: callID, Call: snap, Reason: "unanswered"})
}

func (m *Manager) handleRosterUpdate(msg *signaling.Message) {
	if msg.Call == nil {
		return
	}
	ac := m.lookup(msg.Call.CallID)
	if ac == nil {
		return
	}
	m.applySnapshot(ac, msg.Call)
}

func (m *Manager) handleEnded(msg *signaling.Message) {
	ac := m.lookup(msg.CallID)
	if ac == nil {
		return
	}
	ac.mu.Lock()
	snap := ac.call
	if msg.Call != nil {
		snap = msg.Call
	}
	ac.mu.Unlock()

	m.teardown(msg.CallID, "ended")
	m.emit(Event{Type: EventCallEnded, CallID: msg.CallID, Call: snap, Reason: msg.Reason})
}

func (m *Manager) handleTransferRequest(msg *signaling.Message) {
	m.emit(Event{
		Type:     EventTransferRequest,
		CallID:   msg.CallID,
		Call:     msg.Call,
		RemoteID: msg.SenderID,
		Reason:   msg.Reason,
	})
}

// handleDisconnected reports the outage. The transport reconnects on its
// own; sessions and rosters are kept, and the server rebroadcasts any roster
// changes missed during the gap once the client reattaches.
func (m *Manager) handleDisconnected(msg *signaling.Message) {
	m.log.Warn("signaling channel lost", zap.String("reason", msg.Reason))
	m.emit(Event{Type: EventSignalingLost, Reason: msg.Reason})
}
