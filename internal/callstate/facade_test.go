package callstate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"callcore/internal/callsession"
	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/internal/peer"
	"callcore/internal/signaling"
	"callcore/internal/transport"
	"callcore/pkg/errors"
)

type mockAPI struct {
	mock.Mock
	callsession.CallAPI
}

func (m *mockAPI) Initiate(ctx context.Context, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error) {
	args := m.Called(ctx, conversationID, callType, invitees)
	if call := args.Get(0); call != nil {
		return call.(*domain.Call), args.Error(1)
	}
	return nil, args.Error(1)
}

type nopSignal struct{}

func (nopSignal) Send(context.Context, *signaling.Message) error { return nil }
func (nopSignal) Subscribe(string, transport.Handler) func()     { return func() {} }

type silentSource struct{}

func (silentSource) Open(context.Context, bool) ([]webrtc.TrackLocal, func(), error) {
	return nil, func() {}, nil
}

func newFacade(t *testing.T, api callsession.CallAPI, selfID uuid.UUID) (*Facade, *callsession.Manager) {
	t.Helper()
	manager := callsession.NewManager(callsession.Options{
		SelfID:   selfID,
		API:      api,
		Signaler: nopSignal{},
		Capture:  media.NewCapture(silentSource{}, nil),
		NewConn:  func() (peer.Conn, error) { return nil, errors.InternalError("no conn in test") },
	})
	t.Cleanup(manager.Close)
	return New(manager), manager
}

func TestSnapshotUnknownCall(t *testing.T) {
	facade, _ := newFacade(t, new(mockAPI), uuid.New())
	_, err := facade.Snapshot(uuid.New())
	assert.ErrorIs(t, err, errors.ErrCallNotFound)
}

func TestSnapshotAfterInitiate(t *testing.T) {
	selfID := uuid.New()
	callID := uuid.New()
	api := new(mockAPI)
	call := &domain.Call{
		CallID:      callID,
		InitiatorID: selfID,
		Type:        domain.CallTypeAudio,
		Status:      domain.CallStatusRinging,
		StartedAt:   time.Now(),
	}
	api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)

	facade, manager := newFacade(t, api, selfID)
	_, err := manager.Initiate(context.Background(), uuid.New(), domain.CallTypeAudio, nil)
	require.NoError(t, err)

	snap, err := facade.Snapshot(callID)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStatusRinging, snap.Status)
	assert.Empty(t, facade.Sessions(callID))
}

func TestWatchDeliversEventsUntilCancelled(t *testing.T) {
	selfID := uuid.New()
	callID := uuid.New()
	api := new(mockAPI)
	call := &domain.Call{
		CallID:      callID,
		InitiatorID: selfID,
		Type:        domain.CallTypeAudio,
		Status:      domain.CallStatusRinging,
		StartedAt:   time.Now(),
	}
	api.On("Initiate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(call, nil)

	facade, manager := newFacade(t, api, selfID)
	ctx, cancel := context.WithCancel(context.Background())
	events := facade.Watch(ctx)

	_, err := manager.Initiate(context.Background(), uuid.New(), domain.CallTypeAudio, nil)
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Equal(t, callsession.EventRosterChanged, ev.Type)
		assert.Equal(t, callID, ev.CallID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-events:
			return !open
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond, "channel closes after cancel")
}
