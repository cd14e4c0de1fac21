package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/domain"
	"callcore/pkg/errors"
	"callcore/pkg/response"
)

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, "test-token", nil)
}

func writeSuccess(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(response.Response{Success: true, Data: data}))
}

func writeError(t *testing.T, w http.ResponseWriter, status int, code errors.ErrorCode, message string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(response.Response{
		Success: false,
		Error:   &response.ErrorDetail{Code: string(code), Message: message},
	}))
}

func TestInitiateSendsBearerAndDecodesCall(t *testing.T) {
	callID := uuid.New()
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/calls", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "video", body["call_type"])

		writeSuccess(t, w, domain.Call{
			CallID:    callID,
			Type:      domain.CallTypeVideo,
			Status:    domain.CallStatusRinging,
			StartedAt: time.Now(),
		})
	})

	call, err := client.Initiate(context.Background(), uuid.New(), domain.CallTypeVideo, []uuid.UUID{uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, callID, call.CallID)
	assert.Equal(t, domain.CallStatusRinging, call.Status)
}

func TestJoinLockedCallMapsToTypedError(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeError(t, w, http.StatusForbidden, errors.ErrCodeCallLocked, "call is locked")
	})

	_, err := client.Join(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCallLocked)
	assert.Equal(t, http.StatusForbidden, errors.GetAppError(err).StatusCode)
}

func TestHistoryPagination(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/calls/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeSuccess(t, w, []domain.Call{
			{CallID: uuid.New(), Status: domain.CallStatusEnded},
			{CallID: uuid.New(), Status: domain.CallStatusMissed},
		})
	})

	calls, err := client.History(context.Background(), 5, 10)
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, domain.CallStatusMissed, calls[1].Status)
}

func TestUnreachableServerIsNetworkError(t *testing.T) {
	client := New("http://127.0.0.1:1", "token", nil)
	_, err := client.Join(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNetwork, errors.GetAppError(err).Code)
}
