package callsession

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/pkg/errors"
)

// Moderation operations. Each checks this user's privilege against the local
// snapshot before the round-trip so an obviously unauthorized request fails
// fast, then applies the server-confirmed snapshot. The server re-checks
// regardless; the local check is a shortcut, not the authority.

func (m *Manager) moderatedCall(callID uuid.UUID) (*activeCall, error) {
	ac := m.lookup(callID)
	if ac == nil {
		return nil, errors.ErrCallNotFound
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if !ac.call.IsModerator(m.selfID) {
		return nil, errors.ErrNotAuthorized
	}
	return ac, nil
}

// MuteParticipant sets the server-side mute flag of another participant.
// The target's client silences its own track when the confirmed roster
// arrives; audio already in flight is not clipped by the moderator.
func (m *Manager) MuteParticipant(ctx context.Context, callID, userID uuid.UUID, muted bool) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	call, err := m.api.SetMuted(ctx, callID, userID, muted)
	if err != nil {
		return err
	}
	m.log.Info("participant mute set",
		zap.String("call_id", callID.String()),
		zap.String("target_id", userID.String()),
		zap.Bool("muted", muted))
	m.applySnapshot(ac, call)
	return nil
}

// MuteAll mutes every participant except the acting moderator
func (m *Manager) MuteAll(ctx context.Context, callID uuid.UUID) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	call, err := m.api.MuteAll(ctx, callID)
	if err != nil {
		return err
	}
	m.log.Info("all participants muted", zap.String("call_id", callID.String()))
	m.applySnapshot(ac, call)
	return nil
}

// RemoveParticipant ejects a participant from the call. The target's client
// tears down when the roster showing it as left arrives.
func (m *Manager) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	if userID == m.selfID {
		return errors.ValidationError("cannot remove self; leave instead")
	}
	call, err := m.api.RemoveParticipant(ctx, callID, userID)
	if err != nil {
		return err
	}
	m.log.Info("participant removed",
		zap.String("call_id", callID.String()),
		zap.String("target_id", userID.String()))
	m.applySnapshot(ac, call)
	return nil
}

// Promote grants the moderator role to a participant. Roles are never
// revoked for the lifetime of the call.
func (m *Manager) Promote(ctx context.Context, callID, userID uuid.UUID) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	call, err := m.api.Promote(ctx, callID, userID)
	if err != nil {
		return err
	}
	m.log.Info("participant promoted",
		zap.String("call_id", callID.String()),
		zap.String("target_id", userID.String()))
	m.applySnapshot(ac, call)
	return nil
}

// SetLocked locks or unlocks the call. While locked, join attempts from
// non-moderators are rejected server-side; invited users are not exempt.
func (m *Manager) SetLocked(ctx context.Context, callID uuid.UUID, locked bool) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	call, err := m.api.SetLocked(ctx, callID, locked)
	if err != nil {
		return err
	}
	m.log.Info("call lock changed",
		zap.String("call_id", callID.String()),
		zap.Bool("locked", locked))
	m.applySnapshot(ac, call)
	return nil
}

// EndForAll terminates the call for every participant
func (m *Manager) EndForAll(ctx context.Context, callID uuid.UUID) error {
	ac, err := m.moderatedCall(callID)
	if err != nil {
		return err
	}
	call, err := m.api.End(ctx, callID)
	if err != nil {
		return err
	}
	m.log.Info("call ended for all", zap.String("call_id", callID.String()))
	m.applySnapshot(ac, call)
	return nil
}
