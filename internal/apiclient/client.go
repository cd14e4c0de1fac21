// Package apiclient is the HTTP client for the call-control API. It
// implements the callsession.CallAPI surface plus history and quality
// reporting, decoding the standard response envelope and surfacing server
// errors as typed application errors.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
)

// Client talks to the call-control API with a bearer credential
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     *zap.Logger
}

// New creates a Client for baseURL authenticating with token
func New(baseURL, token string, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: constants.DefaultTimeout},
		log:     log,
	}
}

// envelope mirrors the server's response wrapper
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "encode request", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NetworkError(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return errors.Wrap(errors.ErrCodeNetwork, "decode response", err)
	}

	if !env.Success || resp.StatusCode >= http.StatusBadRequest {
		return c.asAppError(resp.StatusCode, env.Error)
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "decode payload", err)
		}
	}
	return nil
}

// asAppError maps the server's error envelope to the matching typed error
func (c *Client) asAppError(status int, apiErr *apiError) error {
	code := errors.ErrCodeInternal
	message := http.StatusText(status)
	if apiErr != nil {
		code = errors.ErrorCode(apiErr.Code)
		message = apiErr.Message
	}
	c.log.Debug("api request rejected",
		zap.Int("status", status),
		zap.String("code", string(code)))
	return errors.NewWithStatus(code, message, status)
}

func (c *Client) postCall(ctx context.Context, path string, body any) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, http.MethodPost, path, body, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

func (c *Client) putCall(ctx context.Context, path string, body any) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, http.MethodPut, path, body, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Initiate creates a call in the conversation and invites the given users
func (c *Client) Initiate(ctx context.Context, conversationID uuid.UUID, callType domain.CallType, invitees []uuid.UUID) (*domain.Call, error) {
	return c.postCall(ctx, "/api/v1/calls", map[string]any{
		"conversation_id": conversationID,
		"call_type":       callType,
		"invitees":        invitees,
	})
}

// Get fetches the current snapshot of a call
func (c *Client) Get(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	var call domain.Call
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/calls/%s", callID), nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Join enters the call
func (c *Client) Join(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return c.postCall(ctx, fmt.Sprintf("/api/v1/calls/%s/join", callID), nil)
}

// Leave exits the call
func (c *Client) Leave(ctx context.Context, callID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/leave", callID), nil, nil)
}

// Decline rejects an invite
func (c *Client) Decline(ctx context.Context, callID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/decline", callID), nil, nil)
}

// End terminates the call for everyone
func (c *Client) End(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return c.postCall(ctx, fmt.Sprintf("/api/v1/calls/%s/end", callID), nil)
}

// SetMuted sets a participant's mute flag
func (c *Client) SetMuted(ctx context.Context, callID, userID uuid.UUID, muted bool) (*domain.Call, error) {
	return c.putCall(ctx, fmt.Sprintf("/api/v1/calls/%s/participants/%s/mute", callID, userID),
		map[string]any{"muted": muted})
}

// MuteAll mutes every participant except the caller
func (c *Client) MuteAll(ctx context.Context, callID uuid.UUID) (*domain.Call, error) {
	return c.postCall(ctx, fmt.Sprintf("/api/v1/calls/%s/mute-all", callID), nil)
}

// RemoveParticipant ejects a participant
func (c *Client) RemoveParticipant(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	var call domain.Call
	err := c.do(ctx, http.MethodDelete,
		fmt.Sprintf("/api/v1/calls/%s/participants/%s", callID, userID), nil, &call)
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// Promote grants the moderator role
func (c *Client) Promote(ctx context.Context, callID, userID uuid.UUID) (*domain.Call, error) {
	return c.postCall(ctx, fmt.Sprintf("/api/v1/calls/%s/participants/%s/promote", callID, userID), nil)
}

// SetLocked locks or unlocks the call
func (c *Client) SetLocked(ctx context.Context, callID uuid.UUID, locked bool) (*domain.Call, error) {
	return c.putCall(ctx, fmt.Sprintf("/api/v1/calls/%s/lock", callID),
		map[string]any{"locked": locked})
}

// SetHold sets the caller's hold flag
func (c *Client) SetHold(ctx context.Context, callID uuid.UUID, onHold bool) (*domain.Call, error) {
	return c.putCall(ctx, fmt.Sprintf("/api/v1/calls/%s/hold", callID),
		map[string]any{"on_hold": onHold})
}

// Transfer asks targetID to take over the caller's spot in the call
func (c *Client) Transfer(ctx context.Context, callID, targetID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/transfer", callID),
		map[string]any{"target_id": targetID}, nil)
}

// RespondTransfer accepts or declines a transfer request
func (c *Client) RespondTransfer(ctx context.Context, callID uuid.UUID, accept bool) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/calls/%s/transfer/respond", callID),
		map[string]any{"accept": accept}, nil)
}

// History lists the caller's past calls, newest first
func (c *Client) History(ctx context.Context, limit, offset int) ([]domain.Call, error) {
	var calls []domain.Call
	path := fmt.Sprintf("/api/v1/calls/history?limit=%d&offset=%d", limit, offset)
	if err := c.do(ctx, http.MethodGet, path, nil, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// ReportQuality submits a call quality measurement
func (c *Client) ReportQuality(ctx context.Context, report *domain.QualityReport) error {
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/calls/%s/quality", report.CallID), report, nil)
}
