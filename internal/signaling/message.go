// Package signaling defines the wire protocol shared by the client transport
// and the server hub. Messages are JSON objects carried over the WebSocket
// channel; they are transient and never persisted.
package signaling

import (
	"time"

	"github.com/google/uuid"

	"callcore/internal/domain"
)

// Message types
const (
	// Negotiation — targeted at exactly one participant
	TypeOffer        = "offer"
	TypeAnswer       = "answer"
	TypeICECandidate = "ice_candidate"

	// Lifecycle events — broadcast to the call's room
	TypeIncomingCall      = "incoming_call"
	TypeParticipantJoined = "participant_joined"
	TypeParticipantLeft   = "participant_left"
	TypeEnded             = "ended"
	TypeDeclined          = "declined"

	// Transfer handshake
	TypeTransferRequest  = "transfer_request"
	TypeTransferAccepted = "transfer_accepted"
	TypeTransferDeclined = "transfer_declined"

	// Moderation echoes — server-confirmed roster changes
	TypeLocked              = "locked"
	TypeUnlocked            = "unlocked"
	TypeMuteAll             = "mute_all"
	TypeParticipantMuted    = "participant_muted"
	TypeParticipantPromoted = "participant_promoted"
	TypeParticipantRemoved  = "participant_removed"
	TypeHold                = "hold"

	// Synthetic client-side event emitted by the transport, never on the wire
	TypeDisconnected = "disconnected"
)

// SessionDescription carries an SDP offer or answer
type SessionDescription struct {
	Type string `json:"type"` // offer, answer
	SDP  string `json:"sdp"`
}

// ICECandidate carries one network-traversal candidate
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
}

// Message is the envelope for everything on the signaling channel.
// SenderID is stamped by the server from the authenticated connection;
// TargetID routes negotiation messages to a single participant, uuid.Nil
// broadcasts to the whole call room.
type Message struct {
	Type      string              `json:"type"`
	CallID    uuid.UUID           `json:"call_id"`
	SenderID  uuid.UUID           `json:"sender_id,omitempty"`
	TargetID  uuid.UUID           `json:"target_id,omitempty"`
	SDP       *SessionDescription `json:"sdp,omitempty"`
	Candidate *ICECandidate       `json:"candidate,omitempty"`
	Call      *domain.Call        `json:"call,omitempty"`
	Muted     bool                `json:"muted,omitempty"`
	OnHold    bool                `json:"on_hold,omitempty"`
	Reason    string              `json:"reason,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}
