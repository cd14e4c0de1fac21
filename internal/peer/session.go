// Package peer negotiates and maintains exactly one media session per
// remote participant. It drives offer/answer/candidate exchange over the
// signaling channel and reports connection-state transitions upward; the
// session map itself is owned by the call session manager.
package peer

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"callcore/internal/media"
	"callcore/internal/signaling"
	"callcore/pkg/errors"
)

// State is the orchestration-level connection state of one peer session
type State string

const (
	StateNew          State = "new"
	StateNegotiating  State = "negotiating"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// IsTerminal reports whether the session must be recreated to make progress.
// failed is terminal until the session is explicitly recreated.
func (s State) IsTerminal() bool {
	return s == StateFailed || s == StateClosed
}

// Conn is the subset of *webrtc.PeerConnection this package drives.
// *webrtc.PeerConnection satisfies it directly; tests substitute fakes.
type Conn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// ConnFactory creates peer connections. One factory is shared by all
// sessions of a client.
type ConnFactory func() (Conn, error)

// NewConnFactory builds a ConnFactory using the given WebRTC API (nil for
// the library default) and STUN/TURN server URLs.
func NewConnFactory(api *webrtc.API, iceServers []string) ConnFactory {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	cfg := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
	return func() (Conn, error) {
		if api != nil {
			return api.NewPeerConnection(cfg)
		}
		return webrtc.NewPeerConnection(cfg)
	}
}

// Sender is the outbound half of the signaling channel
type Sender interface {
	Send(ctx context.Context, msg *signaling.Message) error
}

// Config assembles a Session
type Config struct {
	CallID   uuid.UUID
	SelfID   uuid.UUID
	RemoteID uuid.UUID
	Factory  ConnFactory
	Signaler Sender

	// Local is the call's local media stream; its tracks are attached at
	// creation time. A later stream replacement does not renegotiate
	// already-created sessions.
	Local *media.Stream

	// OnState is invoked on every state transition, outside the session lock
	OnState func(remoteID uuid.UUID, state State)

	Logger *zap.Logger
}

// Session is one negotiated point-to-point media connection
type Session struct {
	callID   uuid.UUID
	selfID   uuid.UUID
	remoteID uuid.UUID
	pc       Conn
	out      Sender
	onState  func(uuid.UUID, State)
	log      *zap.Logger

	mu           sync.Mutex
	state        State
	remoteTracks int
}

// NewSession creates the peer connection, attaches local tracks, and wires
// candidate/state callbacks. The session starts in state new; negotiation
// begins with Offer or HandleOffer.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	pc, err := cfg.Factory()
	if err != nil {
		return nil, errors.NegotiationError(err)
	}

	s := &Session{
		callID:   cfg.CallID,
		selfID:   cfg.SelfID,
		remoteID: cfg.RemoteID,
		pc:       pc,
		out:      cfg.Signaler,
		onState:  cfg.OnState,
		state:    StateNew,
		log: cfg.Logger.With(
			zap.String("call_id", cfg.CallID.String()),
			zap.String("remote_id", cfg.RemoteID.String())),
	}

	if cfg.Local != nil {
		for _, track := range cfg.Local.Tracks() {
			if _, err := pc.AddTrack(track.RTP()); err != nil {
				pc.Close()
				return nil, errors.NegotiationError(err)
			}
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return // end of gathering
		}
		init := c.ToJSON()
		msg := &signaling.Message{
			Type:     signaling.TypeICECandidate,
			CallID:   s.callID,
			TargetID: s.remoteID,
			Candidate: &signaling.ICECandidate{
				Candidate:     init.Candidate,
				SDPMLineIndex: init.SDPMLineIndex,
				SDPMid:        init.SDPMid,
			},
		}
		if err := s.out.Send(context.Background(), msg); err != nil {
			s.log.Warn("failed to send ice candidate", zap.Error(err))
		}
	})

	pc.OnConnectionStateChange(func(cs webrtc.PeerConnectionState) {
		switch cs {
		case webrtc.PeerConnectionStateConnecting:
			s.setState(StateNegotiating)
		case webrtc.PeerConnectionStateConnected:
			s.setState(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			// The ICE layer retries on its own; not terminal.
			s.setState(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			s.setState(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			s.setState(StateClosed)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		s.remoteTracks++
		s.mu.Unlock()
		s.log.Debug("remote track received", zap.String("kind", track.Kind().String()))
	})

	return s, nil
}

// RemoteID returns the remote participant this session is negotiated with
func (s *Session) RemoteID() uuid.UUID { return s.remoteID }

// State returns the current orchestration state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// setState transitions the session state. failed and closed are absorbing:
// once reached, only explicit recreation makes progress.
func (s *Session) setState(next State) {
	s.mu.Lock()
	if s.state == next || s.state.IsTerminal() {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.log.Debug("peer session state",
		zap.String("from", string(prev)),
		zap.String("to", string(next)))
	if s.onState != nil {
		s.onState(s.remoteID, next)
	}
}

// Offer creates an offer, records it locally, and sends it to the remote
// participant. Used at join time for every participant already in the roster.
func (s *Session) Offer(ctx context.Context) error {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return s.fail(err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return s.fail(err)
	}
	s.setState(StateNegotiating)

	return s.send(ctx, &signaling.Message{
		Type:     signaling.TypeOffer,
		CallID:   s.callID,
		TargetID: s.remoteID,
		SDP:      &signaling.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP},
	})
}

// HandleOffer applies a remote offer and answers it
func (s *Session) HandleOffer(ctx context.Context, sdp *signaling.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(toWebRTC(sdp)); err != nil {
		return s.fail(err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return s.fail(err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return s.fail(err)
	}
	s.setState(StateNegotiating)

	return s.send(ctx, &signaling.Message{
		Type:     signaling.TypeAnswer,
		CallID:   s.callID,
		TargetID: s.remoteID,
		SDP:      &signaling.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP},
	})
}

// HandleAnswer applies the remote answer to our outstanding offer
func (s *Session) HandleAnswer(_ context.Context, sdp *signaling.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(toWebRTC(sdp)); err != nil {
		return s.fail(err)
	}
	return nil
}

// HandleCandidate applies one remote ICE candidate
func (s *Session) HandleCandidate(c *signaling.ICECandidate) error {
	err := s.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMLineIndex: c.SDPMLineIndex,
		SDPMid:        c.SDPMid,
	})
	if err != nil {
		// A bad candidate is not fatal; others may still connect us.
		s.log.Warn("failed to apply ice candidate", zap.Error(err))
		return errors.Wrap(errors.ErrCodeNegotiation, "apply ice candidate", err)
	}
	return nil
}

// Close tears the session down. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(s.remoteID, StateClosed)
	}
	return s.pc.Close()
}

func (s *Session) send(ctx context.Context, msg *signaling.Message) error {
	if err := s.out.Send(ctx, msg); err != nil {
		return s.fail(err)
	}
	return nil
}

// fail moves the session to failed and reports the cause. The roster entry
// for the remote participant is untouched; only the media leg is dead.
func (s *Session) fail(err error) error {
	s.log.Error("peer session failed", zap.Error(err))
	s.setState(StateFailed)
	return errors.NegotiationError(err)
}

func toWebRTC(sdp *signaling.SessionDescription) webrtc.SessionDescription {
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
}
