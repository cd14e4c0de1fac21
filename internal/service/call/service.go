// Package call implements the server-side call orchestration: lifecycle
// transitions, roster membership, moderation, and the fan-out of confirmed
// state to connected clients. All state changes go through here; handlers
// and the signaling hub never touch repositories directly.
package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
	"callcore/internal/signaling"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
	"callcore/pkg/logger"
	"callcore/pkg/metrics"
	"callcore/pkg/push"
)

// CallRepository is the persistence surface for calls and rosters
type CallRepository interface {
	Create(ctx context.Context, call *domain.Call) error
	GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error)
	UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	End(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error
	SetLocked(ctx context.Context, callID uuid.UUID, locked bool) error
	AddParticipant(ctx context.Context, p *domain.Participant) error
	SetParticipantStatus(ctx context.Context, callID, userID uuid.UUID, status domain.ParticipantStatus) error
	SetParticipantMuted(ctx context.Context, callID, userID uuid.UUID, muted bool) error
	MuteAllExcept(ctx context.Context, callID, actorID uuid.UUID) error
	SetParticipantRole(ctx context.Context, callID, userID uuid.UUID, role domain.ParticipantRole) error
	SetParticipantHold(ctx context.Context, callID, userID uuid.UUID, onHold bool) error
	GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error)
	GetMissedCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error)
	ExpireRinging(ctx context.Context, window time.Duration) ([]uuid.UUID, error)
}

// EventRecorder is the audit trail surface
type EventRecorder interface {
	Record(ctx context.Context, event *domain.CallEvent) error
	RecordQuality(ctx context.Context, report *domain.QualityReport) error
}

// PresenceStore tracks signaling connectivity and active calls
type PresenceStore interface {
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
	SetActiveCall(ctx context.Context, userID, callID uuid.UUID) error
	ClearActiveCall(ctx context.Context, userID uuid.UUID) error
}

// Notifier delivers signaling messages to connected clients. The hub
// implements it; Broadcast fans out to every connection in the call's room,
// SendTo targets one user across all their connections.
type Notifier interface {
	Broadcast(ctx context.Context, callID uuid.UUID, msg *signaling.Message)
	SendTo(ctx context.Context, userID uuid.UUID, msg *signaling.Message)
}

// Service orchestrates call state
type Service struct {
	repo     CallRepository
	events   EventRecorder
	presence PresenceStore
	notifier Notifier
	push     push.Provider
	metrics  *metrics.Metrics
	ringing  time.Duration
}

// Options configures a Service
type Options struct {
	Repo     CallRepository
	Events   EventRecorder
	Presence PresenceStore
	Notifier Notifier
	Push     push.Provider
	Metrics  *metrics.Metrics

	// RingingWindow overrides the unanswered-invite expiry, zero for default
	RingingWindow time.Duration
}

// NewService creates a call service
func NewService(opts Options) *Service {
	if opts.RingingWindow <= 0 {
		opts.RingingWindow = constants.RingingWindow
	}
	return &Service{
		repo:     opts.Repo,
		events:   opts.Events,
		presence: opts.Presence,
		notifier: opts.Notifier,
		push:     opts.Push,
		metrics:  opts.Metrics,
		ringing:  opts.RingingWindow,
	}
}

// Initiate creates a call, invites the given users, and moves it to ringing
// once the invites are on their way. The initiator joins immediately.
func (s *Service) Initiate(ctx context.Context, initiatorID, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error) {
	if callType != domain.CallTypeAudio && callType != domain.CallTypeVideo {
		return nil, errors.ValidationError("call_type must be audio or video")
	}
	if len(invitees) == 0 {
		return nil, errors.ValidationError("at least one invitee is required")
	}

	now := time.Now().UTC()
	call := &domain.Call{
		CallID:         uuid.New(),
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		Type:           callType,
		Status:         domain.CallStatusInitiated,
		StartedAt:      now,
		Participants: []domain.Participant{{
			CallID:   uuid.Nil, // filled below
			UserID:   initiatorID,
			Role:     domain.RoleModerator,
			Status:   domain.ParticipantJoined,
			JoinedAt: &now,
		}},
	}
	call.Participants[0].CallID = call.CallID
	for _, userID := range invitees {
		if userID == initiatorID {
			continue
		}
		call.Participants = append(call.Participants, domain.Participant{
			CallID: call.CallID,
			UserID: userID,
			Role:   domain.RoleParticipant,
			Status: domain.ParticipantInvited,
		})
	}

	if err := s.repo.Create(ctx, call); err != nil {
		return nil, errors.DatabaseError(err)
	}

	s.recordEvent(ctx, call.CallID, initiatorID, "call_initiated", uuid.Nil)
	if s.metrics != nil {
		s.metrics.CallStarted()
	}
	if err := s.presence.SetActiveCall(ctx, initiatorID, call.CallID); err != nil {
		logger.Warn("failed to set active call", zap.Error(err))
	}

	s.deliverInvites(ctx, call)

	// The call rings once the invites are dispatched; until then a client
	// polling the snapshot sees initiated.
	if err := s.repo.UpdateStatus(ctx, call.CallID, domain.CallStatusRinging); err != nil {
		return nil, errors.DatabaseError(err)
	}
	call.Status = domain.CallStatusRinging

	logger.Info("call initiated",
		zap.String("call_id", call.CallID.String()),
		zap.String("initiator_id", initiatorID.String()),
		zap.Int("invitees", len(call.Participants)-1))
	return call, nil
}

// deliverInvites notifies every invitee: a signaling message when they hold
// a live connection, a push notification otherwise.
func (s *Service) deliverInvites(ctx context.Context, call *domain.Call) {
	for i := range call.Participants {
		p := &call.Participants[i]
		if p.UserID == call.InitiatorID {
			continue
		}

		online, err := s.presence.IsOnline(ctx, p.UserID)
		if err != nil {
			logger.Warn("presence check failed", zap.Error(err))
			online = true
		}
		if online {
			s.notifier.SendTo(ctx, p.UserID, &signaling.Message{
				Type:      signaling.TypeIncomingCall,
				CallID:    call.CallID,
				SenderID:  call.InitiatorID,
				Call:      call,
				Timestamp: time.Now().UTC(),
			})
		}
		if s.push != nil {
			err := s.push.SendToUser(ctx, &push.Notification{
				Title:    "Incoming call",
				Priority: "high",
				Sound:    "ringtone",
				Data: map[string]string{
					"call_id":      call.CallID.String(),
					"initiator_id": call.InitiatorID.String(),
					"call_type":    string(call.Type),
				},
			}, p.UserID)
			if err != nil {
				logger.Warn("push delivery failed",
					zap.String("user_id", p.UserID.String()),
					zap.Error(err))
			}
		}
	}
}

// Join admits userID to the call. Only invited users (or returning
// participants) may join; a locked call admits moderators only.
func (s *Service) Join(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, errors.ConflictError("call already ended")
	}
	if call.IsLocked && !call.IsModerator(userID) {
		return nil, errors.ErrCallLocked
	}
	p := call.Participant(userID)
	if p == nil {
		return nil, errors.NotAuthorizedError("not invited to this call")
	}
	if p.Status == domain.ParticipantJoined {
		return call, nil
	}

	if err := s.repo.SetParticipantStatus(ctx, callID, userID, domain.ParticipantJoined); err != nil {
		return nil, err
	}
	if call.Status != domain.CallStatusActive {
		if err := s.repo.UpdateStatus(ctx, callID, domain.CallStatusActive); err != nil {
			return nil, errors.DatabaseError(err)
		}
	}

	s.recordEvent(ctx, callID, userID, "participant_joined", uuid.Nil)
	if err := s.presence.SetActiveCall(ctx, userID, callID); err != nil {
		logger.Warn("failed to set active call", zap.Error(err))
	}
	s.clearAlert(ctx, callID, userID)

	return s.broadcastSnapshot(ctx, callID, userID, signaling.TypeParticipantJoined)
}

// Leave removes userID from the call. When the second-to-last participant
// leaves, the call ends for everyone.
func (s *Service) Leave(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	p := call.Participant(userID)
	if p == nil || p.Status != domain.ParticipantJoined {
		return errors.ErrCallNotFound
	}

	if err := s.repo.SetParticipantStatus(ctx, callID, userID, domain.ParticipantLeft); err != nil {
		return err
	}
	s.recordEvent(ctx, callID, userID, "participant_left", uuid.Nil)
	if err := s.presence.ClearActiveCall(ctx, userID); err != nil {
		logger.Warn("failed to clear active call", zap.Error(err))
	}

	snapshot, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	if snapshot.ActiveParticipants() <= 1 {
		return s.endCall(ctx, snapshot, userID, domain.CallStatusEnded, "last participant left")
	}

	s.notifier.Broadcast(ctx, callID, &signaling.Message{
		Type:      signaling.TypeParticipantLeft,
		CallID:    callID,
		SenderID:  userID,
		Call:      snapshot,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// Decline rejects an invite. A ringing call where every invitee has answered
// terminally without anyone joining becomes declined.
func (s *Service) Decline(ctx context.Context, callID, userID uuid.UUID) error {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	p := call.Participant(userID)
	if p == nil || p.Status != domain.ParticipantInvited {
		return errors.ConflictError("no pending invite")
	}

	if err := s.repo.SetParticipantStatus(ctx, callID, userID, domain.ParticipantDeclined); err != nil {
		return err
	}
	s.recordEvent(ctx, callID, userID, "invite_declined", uuid.Nil)
	s.clearAlert(ctx, callID, userID)

	snapshot, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}

	if snapshot.Status == domain.CallStatusRinging && allInvitesAnswered(snapshot) {
		return s.endCall(ctx, snapshot, userID, domain.CallStatusDeclined, "all invites declined")
	}

	s.notifier.Broadcast(ctx, callID, &signaling.Message{
		Type:      signaling.TypeDeclined,
		CallID:    callID,
		SenderID:  userID,
		Call:      snapshot,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// allInvitesAnswered reports whether no invitee is still pending or joined
func allInvitesAnswered(call *domain.Call) bool {
	for i := range call.Participants {
		p := &call.Participants[i]
		if p.UserID == call.InitiatorID {
			continue
		}
		if p.Status == domain.ParticipantInvited || p.Status == domain.ParticipantJoined {
			return false
		}
	}
	return true
}

// End terminates the call for everyone. Moderator only.
func (s *Service) End(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.moderated(ctx, callID, actorID)
	if err != nil {
		return nil, err
	}
	if err := s.endCall(ctx, call, actorID, domain.CallStatusEnded, "ended by moderator"); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, callID)
}

// endCall marks the call terminal, clears presence, and broadcasts the end
func (s *Service) endCall(ctx context.Context, call *domain.Call, actorID uuid.UUID, status domain.CallStatus, reason string) error {
	if err := s.repo.End(ctx, call.CallID, status); err != nil {
		return errors.DatabaseError(err)
	}
	s.recordEvent(ctx, call.CallID, actorID, "call_"+string(status), uuid.Nil)

	for i := range call.Participants {
		p := &call.Participants[i]
		switch p.Status {
		case domain.ParticipantJoined:
			if err := s.presence.ClearActiveCall(ctx, p.UserID); err != nil {
				logger.Warn("failed to clear active call", zap.Error(err))
			}
		case domain.ParticipantInvited:
			// their devices are still ringing
			s.clearAlert(ctx, call.CallID, p.UserID)
		}
	}

	if s.metrics != nil {
		duration := time.Since(call.StartedAt)
		s.metrics.CallFinished(string(call.Type), string(status), duration)
	}

	snapshot := *call
	snapshot.Status = status
	s.notifier.Broadcast(ctx, call.CallID, &signaling.Message{
		Type:      signaling.TypeEnded,
		CallID:    call.CallID,
		SenderID:  actorID,
		Call:      &snapshot,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})

	logger.Info("call ended",
		zap.String("call_id", call.CallID.String()),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	return nil
}

// moderated loads the call and verifies actorID may moderate it
func (s *Service) moderated(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if call.Status.IsTerminal() {
		return nil, errors.ConflictError("call already ended")
	}
	if !call.IsModerator(actorID) {
		return nil, errors.ErrNotAuthorized
	}
	return call, nil
}

// SetMuted sets a participant's mute flag. Users may mute themselves;
// muting others requires moderation privilege.
func (s *Service) SetMuted(ctx context.Context, callID, actorID, targetID uuid.UUID, muted bool) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	if actorID != targetID && !call.IsModerator(actorID) {
		return nil, errors.ErrNotAuthorized
	}
	if call.Participant(targetID) == nil {
		return nil, errors.ErrCallNotFound
	}

	if err := s.repo.SetParticipantMuted(ctx, callID, targetID, muted); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, callID, actorID, "participant_muted", targetID)
	return s.broadcastSnapshot(ctx, callID, actorID, signaling.TypeParticipantMuted)
}

// MuteAll mutes every joined participant except the acting moderator
func (s *Service) MuteAll(ctx context.Context, callID, actorID uuid.UUID) (*domain.Call, error) {
	if _, err := s.moderated(ctx, callID, actorID); err != nil {
		return nil, err
	}
	if err := s.repo.MuteAllExcept(ctx, callID, actorID); err != nil {
		return nil, errors.DatabaseError(err)
	}
	s.recordEvent(ctx, callID, actorID, "mute_all", uuid.Nil)
	return s.broadcastSnapshot(ctx, callID, actorID, signaling.TypeMuteAll)
}

// RemoveParticipant ejects targetID from the call. Moderator only; the
// initiator cannot be removed.
func (s *Service) RemoveParticipant(ctx context.Context, callID, actorID, targetID uuid.UUID) (*domain.Call, error) {
	call, err := s.moderated(ctx, callID, actorID)
	if err != nil {
		return nil, err
	}
	if targetID == call.InitiatorID {
		return nil, errors.ValidationError("initiator cannot be removed")
	}
	if call.Participant(targetID) == nil {
		return nil, errors.ErrCallNotFound
	}

	if err := s.repo.SetParticipantStatus(ctx, callID, targetID, domain.ParticipantLeft); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, callID, actorID, "participant_removed", targetID)
	if err := s.presence.ClearActiveCall(ctx, targetID); err != nil {
		logger.Warn("failed to clear active call", zap.Error(err))
	}
	return s.broadcastSnapshot(ctx, callID, actorID, signaling.TypeParticipantRemoved)
}

// Promote grants the moderator role to targetID. Roles are never revoked
// for the lifetime of the call.
func (s *Service) Promote(ctx context.Context, callID, actorID, targetID uuid.UUID) (*domain.Call, error) {
	call, err := s.moderated(ctx, callID, actorID)
	if err != nil {
		return nil, err
	}
	if call.Participant(targetID) == nil {
		return nil, errors.ErrCallNotFound
	}

	if err := s.repo.SetParticipantRole(ctx, callID, targetID, domain.RoleModerator); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, callID, actorID, "participant_promoted", targetID)
	return s.broadcastSnapshot(ctx, callID, actorID, signaling.TypeParticipantPromoted)
}

// SetLocked locks or unlocks the call. While locked, non-moderator joins
// are rejected; invited users are not exempt.
func (s *Service) SetLocked(ctx context.Context, callID, actorID uuid.UUID, locked bool) (*domain.Call, error) {
	if _, err := s.moderated(ctx, callID, actorID); err != nil {
		return nil, err
	}
	if err := s.repo.SetLocked(ctx, callID, locked); err != nil {
		return nil, errors.DatabaseError(err)
	}

	eventType := "call_unlocked"
	msgType := signaling.TypeUnlocked
	if locked {
		eventType = "call_locked"
		msgType = signaling.TypeLocked
	}
	s.recordEvent(ctx, callID, actorID, eventType, uuid.Nil)
	return s.broadcastSnapshot(ctx, callID, actorID, msgType)
}

// SetHold sets the caller's own hold flag
func (s *Service) SetHold(ctx context.Context, callID, userID uuid.UUID, onHold bool) (*domain.Call, error) {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	p := call.Participant(userID)
	if p == nil || p.Status != domain.ParticipantJoined {
		return nil, errors.ErrCallNotFound
	}

	if err := s.repo.SetParticipantHold(ctx, callID, userID, onHold); err != nil {
		return nil, err
	}
	s.recordEvent(ctx, callID, userID, "hold_changed", uuid.Nil)
	return s.broadcastSnapshot(ctx, callID, userID, signaling.TypeHold)
}

// Transfer invites targetID to take over senderID's spot. The target gets a
// targeted transfer request and a pending invite; the sender stays in the
// call until the target accepts and joins.
func (s *Service) Transfer(ctx context.Context, callID, senderID, targetID uuid.UUID) error {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	p := call.Participant(senderID)
	if p == nil || p.Status != domain.ParticipantJoined {
		return errors.ErrCallNotFound
	}
	if existing := call.Participant(targetID); existing != nil && existing.Status == domain.ParticipantJoined {
		return errors.ConflictError("target already in call")
	}

	if err := s.repo.AddParticipant(ctx, &domain.Participant{
		CallID: callID,
		UserID: targetID,
		Role:   domain.RoleParticipant,
		Status: domain.ParticipantInvited,
	}); err != nil {
		return errors.DatabaseError(err)
	}
	s.recordEvent(ctx, callID, senderID, "transfer_requested", targetID)

	snapshot, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	s.notifier.SendTo(ctx, targetID, &signaling.Message{
		Type:      signaling.TypeTransferRequest,
		CallID:    callID,
		SenderID:  senderID,
		Call:      snapshot,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// RespondTransfer records the target's answer and tells the room. An accept
// is followed by the target's own Join.
func (s *Service) RespondTransfer(ctx context.Context, callID, userID uuid.UUID, accept bool) error {
	call, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return err
	}
	p := call.Participant(userID)
	if p == nil || p.Status != domain.ParticipantInvited {
		return errors.ConflictError("no pending transfer")
	}

	msgType := signaling.TypeTransferAccepted
	if !accept {
		msgType = signaling.TypeTransferDeclined
		if err := s.repo.SetParticipantStatus(ctx, callID, userID, domain.ParticipantDeclined); err != nil {
			return err
		}
	}
	s.recordEvent(ctx, callID, userID, msgType, uuid.Nil)

	_, err = s.broadcastSnapshot(ctx, callID, userID, msgType)
	return err
}

// Get returns a call snapshot, participants included
func (s *Service) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return s.repo.GetByID(ctx, callID)
}

// History lists the user's calls newest first
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	calls, err := s.repo.GetUserCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	return calls, nil
}

// MissedCalls lists calls the user never answered
func (s *Service) MissedCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	calls, err := s.repo.GetMissedCalls(ctx, userID, limit, offset)
	if err != nil {
		return nil, errors.DatabaseError(err)
	}
	return calls, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return constants.HistoryDefaultLimit
	}
	if limit > constants.HistoryMaxLimit {
		return constants.HistoryMaxLimit
	}
	return limit
}

// ReportQuality persists a client's quality measurement
func (s *Service) ReportQuality(ctx context.Context, report *domain.QualityReport) error {
	if report.CallID == uuid.Nil || report.UserID == uuid.Nil {
		return errors.ValidationError("call_id and user_id are required")
	}
	if err := s.events.RecordQuality(ctx, report); err != nil {
		return errors.DatabaseError(err)
	}
	return nil
}

// ExpireRinging sweeps ringing calls past the window, marking unanswered
// invites missed. Each affected call's room gets the resulting snapshot.
func (s *Service) ExpireRinging(ctx context.Context) error {
	callIDs, err := s.repo.ExpireRinging(ctx, s.ringing)
	if err != nil {
		return errors.DatabaseError(err)
	}
	for _, callID := range callIDs {
		snapshot, err := s.repo.GetByID(ctx, callID)
		if err != nil {
			logger.Warn("failed to load expired call", zap.Error(err))
			continue
		}
		for i := range snapshot.Participants {
			p := &snapshot.Participants[i]
			if p.Status == domain.ParticipantMissed {
				s.clearAlert(ctx, callID, p.UserID)
			}
		}
		msgType := signaling.TypeParticipantLeft
		if snapshot.Status == domain.CallStatusMissed {
			msgType = signaling.TypeEnded
			s.recordEvent(ctx, callID, snapshot.InitiatorID, "call_missed", uuid.Nil)
			if s.metrics != nil {
				s.metrics.CallFinished(string(snapshot.Type), string(domain.CallStatusMissed), time.Since(snapshot.StartedAt))
			}
		}
		s.notifier.Broadcast(ctx, callID, &signaling.Message{
			Type:      msgType,
			CallID:    callID,
			Call:      snapshot,
			Reason:    "ringing window expired",
			Timestamp: time.Now().UTC(),
		})
	}
	return nil
}

// StartRingingJanitor runs the expiry sweep until ctx is cancelled
func (s *Service) StartRingingJanitor(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.ExpireRinging(ctx); err != nil {
					logger.Error("ringing sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// broadcastSnapshot reloads the call and fans the fresh snapshot out to the
// room. Every moderation echo carries the full authoritative roster.
func (s *Service) broadcastSnapshot(ctx context.Context, callID, actorID uuid.UUID, msgType string) (*domain.Call, error) {
	snapshot, err := s.repo.GetByID(ctx, callID)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast(ctx, callID, &signaling.Message{
		Type:      msgType,
		CallID:    callID,
		SenderID:  actorID,
		Call:      snapshot,
		Timestamp: time.Now().UTC(),
	})
	return snapshot, nil
}

// clearAlert withdraws a pending call alert so the user's devices stop
// ringing. Fired whenever an invite stops being answerable.
func (s *Service) clearAlert(ctx context.Context, callID, userID uuid.UUID) {
	if s.push == nil {
		return
	}
	if err := s.push.ClearForUser(ctx, callID, userID); err != nil {
		logger.Warn("failed to clear call alert",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

func (s *Service) recordEvent(ctx context.Context, callID, actorID uuid.UUID, eventType string, targetID uuid.UUID) {
	err := s.events.Record(ctx, &domain.CallEvent{
		CallID:    callID,
		ActorID:   actorID,
		EventType: eventType,
		TargetID:  targetID,
	})
	if err != nil {
		logger.Warn("failed to record call event",
			zap.String("call_id", callID.String()),
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
