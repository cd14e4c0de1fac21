package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"callcore/internal/domain"
)

// CallEventRepository persists the append-only audit trail of call
// lifecycle and moderation transitions, plus client quality reports.
// Both tables are partitioned by call_id.
type CallEventRepository struct {
	session *gocql.Session
}

// NewCallEventRepository creates a new call event repository
func NewCallEventRepository(session *gocql.Session) *CallEventRepository {
	return &CallEventRepository{session: session}
}

// Record appends one call event
func (r *CallEventRepository) Record(ctx context.Context, event *domain.CallEvent) error {
	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO call_events (call_id, event_id, actor_id, event_type, target_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	err := r.session.Query(query,
		event.CallID,
		event.EventID,
		event.ActorID,
		event.EventType,
		event.TargetID,
		event.CreatedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to record call event: %w", err)
	}
	return nil
}

// GetByCall returns a call's events oldest first
func (r *CallEventRepository) GetByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.CallEvent, error) {
	query := `
		SELECT call_id, event_id, actor_id, event_type, target_id, created_at
		FROM call_events
		WHERE call_id = ?
		LIMIT ?
	`
	iter := r.session.Query(query, callID, limit).WithContext(ctx).Iter()

	var events []domain.CallEvent
	var ev domain.CallEvent
	for iter.Scan(&ev.CallID, &ev.EventID, &ev.ActorID, &ev.EventType, &ev.TargetID, &ev.CreatedAt) {
		events = append(events, ev)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get call events: %w", err)
	}
	return events, nil
}

// RecordQuality appends one client quality measurement
func (r *CallEventRepository) RecordQuality(ctx context.Context, report *domain.QualityReport) error {
	if report.ReportedAt.IsZero() {
		report.ReportedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO call_quality_reports (
			call_id, user_id, remote_user_id, rtt_ms, packet_loss_pct,
			jitter_ms, bitrate_kbps, reported_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := r.session.Query(query,
		report.CallID,
		report.UserID,
		report.RemoteUserID,
		report.RTTMillis,
		report.PacketLossPct,
		report.JitterMillis,
		report.BitrateKbps,
		report.ReportedAt,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to record quality report: %w", err)
	}
	return nil
}

// GetQualityByCall returns a call's quality reports
func (r *CallEventRepository) GetQualityByCall(ctx context.Context, callID uuid.UUID, limit int) ([]domain.QualityReport, error) {
	query := `
		SELECT call_id, user_id, remote_user_id, rtt_ms, packet_loss_pct,
		       jitter_ms, bitrate_kbps, reported_at
		FROM call_quality_reports
		WHERE call_id = ?
		LIMIT ?
	`
	iter := r.session.Query(query, callID, limit).WithContext(ctx).Iter()

	var reports []domain.QualityReport
	var rep domain.QualityReport
	for iter.Scan(&rep.CallID, &rep.UserID, &rep.RemoteUserID, &rep.RTTMillis,
		&rep.PacketLossPct, &rep.JitterMillis, &rep.BitrateKbps, &rep.ReportedAt) {
		reports = append(reports, rep)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get quality reports: %w", err)
	}
	return reports, nil
}
