package callsession

import (
	"github.com/google/uuid"

	"callcore/internal/domain"
	"callcore/internal/peer"
)

// EventType classifies manager events
type EventType string

const (
	// EventIncomingCall fires when an invite arrives for this user
	EventIncomingCall EventType = "incoming_call"

	// EventRosterChanged fires on every server-confirmed roster update:
	// joins, leaves, mutes, promotions, removals, lock changes, hold.
	EventRosterChanged EventType = "roster_changed"

	// EventCallEnded fires when a call reaches a terminal state
	EventCallEnded EventType = "call_ended"

	// EventCallMissed fires when the ringing window expires on an
	// unanswered invite
	EventCallMissed EventType = "call_missed"

	// EventSessionState fires on peer session state transitions
	EventSessionState EventType = "session_state"

	// EventTransferRequest fires when another participant asks this user
	// to take over a call
	EventTransferRequest EventType = "transfer_request"

	// EventSignalingLost fires when the signaling channel drops. The
	// transport reconnects on its own; in-progress calls are kept.
	EventSignalingLost EventType = "signaling_lost"
)

// Event is delivered to subscribers on manager state changes. Call carries
// the latest server snapshot where one applies.
type Event struct {
	Type         EventType
	CallID       uuid.UUID
	Call         *domain.Call
	RemoteID     uuid.UUID
	SessionState peer.State
	Reason       string
}
