package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"callcore/internal/domain"
	"callcore/pkg/errors"
)

// CallRepository persists calls and their rosters
type CallRepository struct {
	pool *pgxpool.Pool
}

// NewCallRepository creates a new call repository
func NewCallRepository(pool *pgxpool.Pool) *CallRepository {
	return &CallRepository{pool: pool}
}

// Create inserts a call and its initial roster in one transaction
func (r *CallRepository) Create(ctx context.Context, call *domain.Call) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO calls (
			call_id, conversation_id, initiator_id, call_type, status, is_locked, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, query,
		call.CallID,
		call.ConversationID,
		call.InitiatorID,
		call.Type,
		call.Status,
		call.IsLocked,
		call.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create call: %w", err)
	}

	for i := range call.Participants {
		if err := insertParticipant(ctx, tx, &call.Participants[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call: %w", err)
	}
	return nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, p *domain.Participant) error {
	query := `
		INSERT INTO call_participants (
			call_id, user_id, role, status, is_muted, on_hold, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		p.CallID, p.UserID, p.Role, p.Status, p.IsMuted, p.OnHold, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to insert participant: %w", err)
	}
	return nil
}

// AddParticipant adds one roster entry to an existing call
func (r *CallRepository) AddParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO call_participants (
			call_id, user_id, role, status, is_muted, on_hold, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (call_id, user_id) DO UPDATE
		SET status = EXCLUDED.status, joined_at = EXCLUDED.joined_at
	`
	_, err := r.pool.Exec(ctx, query,
		p.CallID, p.UserID, p.Role, p.Status, p.IsMuted, p.OnHold, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// GetByID retrieves a call with its full roster
func (r *CallRepository) GetByID(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	query := `
		SELECT call_id, conversation_id, initiator_id, call_type, status, is_locked,
		       started_at, ended_at, duration
		FROM calls
		WHERE call_id = $1
	`
	call := &domain.Call{}
	var duration *int
	err := r.pool.QueryRow(ctx, query, callID).Scan(
		&call.CallID,
		&call.ConversationID,
		&call.InitiatorID,
		&call.Type,
		&call.Status,
		&call.IsLocked,
		&call.StartedAt,
		&call.EndedAt,
		&duration,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ErrCallNotFound
		}
		return nil, fmt.Errorf("failed to get call: %w", err)
	}
	if duration != nil {
		call.Duration = *duration
	}

	participants, err := r.participants(ctx, callID)
	if err != nil {
		return nil, err
	}
	call.Participants = participants
	return call, nil
}

func (r *CallRepository) participants(ctx context.Context, callID uuid.UUID) ([]domain.Participant, error) {
	query := `
		SELECT call_id, user_id, role, status, is_muted, on_hold, joined_at, left_at
		FROM call_participants
		WHERE call_id = $1
		ORDER BY joined_at NULLS LAST, user_id
	`
	rows, err := r.pool.Query(ctx, query, callID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		err := rows.Scan(&p.CallID, &p.UserID, &p.Role, &p.Status,
			&p.IsMuted, &p.OnHold, &p.JoinedAt, &p.LeftAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// UpdateStatus updates the call's lifecycle status
func (r *CallRepository) UpdateStatus(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2
		WHERE call_id = $1
	`
	_, err := r.pool.Exec(ctx, query, callID, status)
	if err != nil {
		return fmt.Errorf("failed to update call status: %w", err)
	}
	return nil
}

// End marks a call terminal and records its duration
func (r *CallRepository) End(ctx context.Context, callID uuid.UUID, status domain.CallStatus) error {
	query := `
		UPDATE calls
		SET status = $2,
		    ended_at = NOW(),
		    duration = EXTRACT(EPOCH FROM (NOW() - started_at))::INT
		WHERE call_id = $1
	`
	_, err := r.pool.Exec(ctx, query, callID, status)
	if err != nil {
		return fmt.Errorf("failed to end call: %w", err)
	}
	return nil
}

// SetLocked sets the call's lock flag
func (r *CallRepository) SetLocked(ctx context.Context, callID uuid.UUID, locked bool) error {
	query := `
		UPDATE calls
		SET is_locked = $2
		WHERE call_id = $1
	`
	_, err := r.pool.Exec(ctx, query, callID, locked)
	if err != nil {
		return fmt.Errorf("failed to set lock: %w", err)
	}
	return nil
}

// SetParticipantStatus updates a roster entry's membership status, stamping
// joined_at and left_at on the matching transitions
func (r *CallRepository) SetParticipantStatus(ctx context.Context, callID, userID uuid.UUID, status domain.ParticipantStatus) error {
	query := `
		UPDATE call_participants
		SET status = $3,
		    joined_at = CASE WHEN $3 = 'joined' THEN NOW() ELSE joined_at END,
		    left_at   = CASE WHEN $3 IN ('left', 'declined', 'missed') THEN NOW() ELSE left_at END
		WHERE call_id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, callID, userID, status)
	if err != nil {
		return fmt.Errorf("failed to set participant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCallNotFound
	}
	return nil
}

// SetParticipantMuted sets one participant's mute flag
func (r *CallRepository) SetParticipantMuted(ctx context.Context, callID, userID uuid.UUID, muted bool) error {
	query := `
		UPDATE call_participants
		SET is_muted = $3
		WHERE call_id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, callID, userID, muted)
	if err != nil {
		return fmt.Errorf("failed to set mute: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCallNotFound
	}
	return nil
}

// MuteAllExcept mutes every joined participant but the actor
func (r *CallRepository) MuteAllExcept(ctx context.Context, callID, actorID uuid.UUID) error {
	query := `
		UPDATE call_participants
		SET is_muted = TRUE
		WHERE call_id = $1 AND user_id != $2 AND status = 'joined'
	`
	_, err := r.pool.Exec(ctx, query, callID, actorID)
	if err != nil {
		return fmt.Errorf("failed to mute all: %w", err)
	}
	return nil
}

// SetParticipantRole updates a roster entry's role
func (r *CallRepository) SetParticipantRole(ctx context.Context, callID, userID uuid.UUID, role domain.ParticipantRole) error {
	query := `
		UPDATE call_participants
		SET role = $3
		WHERE call_id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, callID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCallNotFound
	}
	return nil
}

// SetParticipantHold sets one participant's hold flag
func (r *CallRepository) SetParticipantHold(ctx context.Context, callID, userID uuid.UUID, onHold bool) error {
	query := `
		UPDATE call_participants
		SET on_hold = $3
		WHERE call_id = $1 AND user_id = $2
	`
	tag, err := r.pool.Exec(ctx, query, callID, userID, onHold)
	if err != nil {
		return fmt.Errorf("failed to set hold: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrCallNotFound
	}
	return nil
}

// GetUserCalls lists a user's calls newest first, roster included
func (r *CallRepository) GetUserCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	query := `
		SELECT c.call_id, c.conversation_id, c.initiator_id, c.call_type, c.status,
		       c.is_locked, c.started_at, c.ended_at, c.duration
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get user calls: %w", err)
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		var call domain.Call
		var duration *int
		err := rows.Scan(&call.CallID, &call.ConversationID, &call.InitiatorID,
			&call.Type, &call.Status, &call.IsLocked,
			&call.StartedAt, &call.EndedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		if duration != nil {
			call.Duration = *duration
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range calls {
		participants, err := r.participants(ctx, calls[i].CallID)
		if err != nil {
			return nil, err
		}
		calls[i].Participants = participants
	}
	return calls, nil
}

// GetMissedCalls lists calls the user was invited to but never joined
func (r *CallRepository) GetMissedCalls(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Call, error) {
	query := `
		SELECT c.call_id, c.conversation_id, c.initiator_id, c.call_type, c.status,
		       c.is_locked, c.started_at, c.ended_at, c.duration
		FROM calls c
		JOIN call_participants cp ON c.call_id = cp.call_id
		WHERE cp.user_id = $1 AND cp.status = 'missed'
		ORDER BY c.started_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get missed calls: %w", err)
	}
	defer rows.Close()

	var calls []domain.Call
	for rows.Next() {
		var call domain.Call
		var duration *int
		err := rows.Scan(&call.CallID, &call.ConversationID, &call.InitiatorID,
			&call.Type, &call.Status, &call.IsLocked,
			&call.StartedAt, &call.EndedAt, &duration)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		if duration != nil {
			call.Duration = *duration
		}
		calls = append(calls, call)
	}
	return calls, rows.Err()
}

// ExpireRinging marks still-invited participants of calls older than the
// ringing window as missed, and the calls themselves as missed when nobody
// beyond the initiator joined. Returns the affected call IDs.
func (r *CallRepository) ExpireRinging(ctx context.Context, window time.Duration) ([]uuid.UUID, error) {
	cutoff := time.Now().Add(-window)

	query := `
		UPDATE call_participants cp
		SET status = 'missed', left_at = NOW()
		FROM calls c
		WHERE cp.call_id = c.call_id
		  AND cp.status = 'invited'
		  AND c.status = 'ringing'
		  AND c.started_at < $1
		RETURNING cp.call_id
	`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire invites: %w", err)
	}
	defer rows.Close()

	seen := make(map[uuid.UUID]bool)
	var callIDs []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired call: %w", err)
		}
		if !seen[id] {
			seen[id] = true
			callIDs = append(callIDs, id)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Ringing calls where the whole invite list timed out become missed.
	missQuery := `
		UPDATE calls c
		SET status = 'missed', ended_at = NOW()
		WHERE c.call_id = ANY($1)
		  AND c.status = 'ringing'
		  AND NOT EXISTS (
		      SELECT 1 FROM call_participants cp
		      WHERE cp.call_id = c.call_id
		        AND cp.status = 'joined'
		        AND cp.user_id != c.initiator_id
		  )
	`
	if len(callIDs) > 0 {
		if _, err := r.pool.Exec(ctx, missQuery, callIDs); err != nil {
			return nil, fmt.Errorf("failed to mark calls missed: %w", err)
		}
	}
	return callIDs, nil
}
