package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallType represents the media profile of a call
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// CallStatus represents the lifecycle state of a call
type CallStatus string

const (
	CallStatusInitiated CallStatus = "initiated"
	CallStatusRinging   CallStatus = "ringing"
	CallStatusActive    CallStatus = "active"
	CallStatusEnded     CallStatus = "ended"
	CallStatusMissed    CallStatus = "missed"
	CallStatusDeclined  CallStatus = "declined"
)

// IsTerminal reports whether the status ends the call lifecycle
func (s CallStatus) IsTerminal() bool {
	return s == CallStatusEnded || s == CallStatusMissed || s == CallStatusDeclined
}

// ParticipantRole represents a participant's privilege level
type ParticipantRole string

const (
	RoleParticipant ParticipantRole = "participant"
	RoleModerator   ParticipantRole = "moderator"
)

// ParticipantStatus represents a participant's membership state in a call
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantJoined   ParticipantStatus = "joined"
	ParticipantDeclined ParticipantStatus = "declined"
	ParticipantMissed   ParticipantStatus = "missed"
	ParticipantLeft     ParticipantStatus = "left"
)

// IsTerminal reports whether the participant can no longer hold a peer session
func (s ParticipantStatus) IsTerminal() bool {
	return s == ParticipantLeft || s == ParticipantDeclined || s == ParticipantMissed
}

// Call represents a multi-party audio/video call
type Call struct {
	CallID         uuid.UUID     `json:"call_id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	InitiatorID    uuid.UUID     `json:"initiator_id"`
	Type           CallType      `json:"call_type"`
	Status         CallStatus    `json:"status"`
	IsLocked       bool          `json:"is_locked"`
	Participants   []Participant `json:"participants,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	Duration       int           `json:"duration,omitempty"` // in seconds
}

// Participant represents one user in a call.
// Uniqueness key is (CallID, UserID).
type Participant struct {
	CallID   uuid.UUID         `json:"call_id"`
	UserID   uuid.UUID         `json:"user_id"`
	Role     ParticipantRole   `json:"role"`
	Status   ParticipantStatus `json:"status"`
	IsMuted  bool              `json:"is_muted"`
	OnHold   bool              `json:"on_hold"`
	JoinedAt *time.Time        `json:"joined_at,omitempty"`
	LeftAt   *time.Time        `json:"left_at,omitempty"`
}

// Participant returns the roster entry for userID, or nil if absent
func (c *Call) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// IsModerator reports whether userID may perform moderation operations.
// Moderation is open to holders of the moderator role and to the initiator.
func (c *Call) IsModerator(userID uuid.UUID) bool {
	if c.InitiatorID == userID {
		return true
	}
	p := c.Participant(userID)
	return p != nil && p.Role == RoleModerator
}

// ActiveParticipants counts roster entries with status joined
func (c *Call) ActiveParticipants() int {
	n := 0
	for i := range c.Participants {
		if c.Participants[i].Status == ParticipantJoined {
			n++
		}
	}
	return n
}

// QualityReport is a client-submitted measurement of call quality,
// persisted for analytics only
type QualityReport struct {
	CallID        uuid.UUID `json:"call_id"`
	UserID        uuid.UUID `json:"user_id"`
	RemoteUserID  uuid.UUID `json:"remote_user_id"`
	RTTMillis     int       `json:"rtt_ms"`
	PacketLossPct float64   `json:"packet_loss_pct"`
	JitterMillis  float64   `json:"jitter_ms"`
	BitrateKbps   int       `json:"bitrate_kbps"`
	ReportedAt    time.Time `json:"reported_at"`
}

// CallEvent is an audit record of a lifecycle or moderation transition
type CallEvent struct {
	CallID    uuid.UUID `json:"call_id"`
	EventID   uuid.UUID `json:"event_id"`
	ActorID   uuid.UUID `json:"actor_id"`
	EventType string    `json:"event_type"`
	TargetID  uuid.UUID `json:"target_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
