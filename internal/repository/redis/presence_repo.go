package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"callcore/internal/database"
)

const (
	presenceTTL = 90 * time.Second

	presenceKeyFmt   = "presence:%s"
	activeCallKeyFmt = "active_call:%s"
)

// PresenceRepository tracks which users hold a live signaling connection and
// which call they are currently in. Entries expire on their own, so a client
// that dies without unregistering goes stale within the TTL.
type PresenceRepository struct {
	db *database.RedisClient
}

// NewPresenceRepository creates a new presence repository
func NewPresenceRepository(db *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{db: db}
}

// SetOnline marks the user online. Refreshed by the signaling hub on every
// ping cycle.
func (r *PresenceRepository) SetOnline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	return r.db.SafeSet(ctx, key, time.Now().UTC().Format(time.RFC3339), presenceTTL).Err()
}

// SetOffline removes the user's presence entry
func (r *PresenceRepository) SetOffline(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf(presenceKeyFmt, userID)
	return r.db.SafeDel(ctx, key).Err()
}

// IsOnline reports whether the user holds a live signaling connection.
// In degraded mode this errs on the side of online so invites are still
// attempted.
func (r *PresenceRepository) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	if r.db.IsDegraded() {
		return true, nil
	}
	key := fmt.Sprintf(presenceKeyFmt, userID)
	n, err := r.db.Client.Exists(ctx, key).Result()
	if err != nil {
		return true, fmt.Errorf("failed to check presence: %w", err)
	}
	return n > 0, nil
}

// SetActiveCall records the call the user is currently in
func (r *PresenceRepository) SetActiveCall(ctx context.Context, userID, callID uuid.UUID) error {
	key := fmt.Sprintf(activeCallKeyFmt, userID)
	return r.db.SafeSet(ctx, key, callID.String(), 0).Err()
}

// ClearActiveCall removes the user's active-call marker
func (r *PresenceRepository) ClearActiveCall(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf(activeCallKeyFmt, userID)
	return r.db.SafeDel(ctx, key).Err()
}

// GetActiveCall returns the call the user is in, or uuid.Nil when idle
func (r *PresenceRepository) GetActiveCall(ctx context.Context, userID uuid.UUID) (uuid.UUID, error) {
	if r.db.IsDegraded() {
		return uuid.Nil, nil
	}
	key := fmt.Sprintf(activeCallKeyFmt, userID)
	val, err := r.db.Client.Get(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to get active call: %w", err)
	}
	callID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed active call entry: %w", err)
	}
	return callID, nil
}
