// Package push is the notification sink for call events. The orchestration
// core only fires it on incoming invitations and clears it on terminal
// transitions; delivery (FCM, APNs, ringtones) lives behind Provider.
package push

import (
	"context"

	"github.com/google/uuid"
)

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal, low
	Sound    string            `json:"sound,omitempty"`
}

// CallAlertData contains data for call-related notifications
type CallAlertData struct {
	CallID         uuid.UUID `json:"call_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	InitiatorID    uuid.UUID `json:"initiator_id"`
	CallType       string    `json:"call_type"`
}

// Provider defines the interface for delivering push notifications
type Provider interface {
	// SendToUser delivers a notification to every registered device of userID
	SendToUser(ctx context.Context, notification *Notification, userID uuid.UUID) error

	// ClearForUser withdraws any pending call alert for userID, fired on
	// terminal call transitions so devices stop ringing
	ClearForUser(ctx context.Context, callID, userID uuid.UUID) error
}

// MockProvider is a no-op Provider for development and tests
type MockProvider struct {
	Sent    []uuid.UUID
	Cleared []uuid.UUID
}

// SendToUser records the notification without delivering anything
func (m *MockProvider) SendToUser(_ context.Context, _ *Notification, userID uuid.UUID) error {
	m.Sent = append(m.Sent, userID)
	return nil
}

// ClearForUser records the clear without delivering anything
func (m *MockProvider) ClearForUser(_ context.Context, _ uuid.UUID, userID uuid.UUID) error {
	m.Cleared = append(m.Cleared, userID)
	return nil
}
