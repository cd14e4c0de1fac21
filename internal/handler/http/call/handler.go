// Package call exposes the call-control HTTP API. Handlers validate input
// and delegate to the call service; the authenticated user comes from the
// auth middleware.
package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/domain"
	callservice "callcore/internal/service/call"
	"callcore/pkg/response"
)

// Handler handles call API requests
type Handler struct {
	service *callservice.Service
}

// NewHandler creates a call handler
func NewHandler(service *callservice.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the call API under the given authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	calls := rg.Group("/calls")
	{
		calls.POST("", h.Initiate)
		calls.GET("/history", h.History)
		calls.GET("/missed", h.Missed)
		calls.GET("/:id", h.Get)
		calls.POST("/:id/join", h.Join)
		calls.POST("/:id/leave", h.Leave)
		calls.POST("/:id/decline", h.Decline)
		calls.POST("/:id/end", h.End)
		calls.POST("/:id/mute-all", h.MuteAll)
		calls.PUT("/:id/lock", h.SetLocked)
		calls.PUT("/:id/hold", h.SetHold)
		calls.POST("/:id/transfer", h.Transfer)
		calls.POST("/:id/transfer/respond", h.RespondTransfer)
		calls.POST("/:id/quality", h.ReportQuality)
		calls.PUT("/:id/participants/:user_id/mute", h.SetMuted)
		calls.POST("/:id/participants/:user_id/promote", h.Promote)
		calls.DELETE("/:id/participants/:user_id", h.RemoveParticipant)
	}
}

type initiateRequest struct {
	ConversationID uuid.UUID       `json:"conversation_id" binding:"required"`
	CallType       domain.CallType `json:"call_type" binding:"required"`
	Invitees       []uuid.UUID     `json:"invitees" binding:"required,min=1"`
}

// Initiate starts a new call
func (h *Handler) Initiate(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	call, err := h.service.Initiate(c.Request.Context(), userID, req.ConversationID, req.CallType, req.Invitees)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, call)
}

// Get returns a call snapshot
func (h *Handler) Get(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	call, err := h.service.Get(c.Request.Context(), callID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// Join enters a call
func (h *Handler) Join(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	call, err := h.service.Join(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// Leave exits a call
func (h *Handler) Leave(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Leave(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, nil)
}

// Decline rejects an invite
func (h *Handler) Decline(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.service.Decline(c.Request.Context(), callID, userID); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, nil)
}

// End terminates the call for everyone
func (h *Handler) End(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	call, err := h.service.End(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

type muteRequest struct {
	Muted *bool `json:"muted" binding:"required"`
}

// SetMuted sets a participant's mute flag
func (h *Handler) SetMuted(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	var req muteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	call, err := h.service.SetMuted(c.Request.Context(), callID, userID, targetID, *req.Muted)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// MuteAll mutes everyone but the caller
func (h *Handler) MuteAll(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	call, err := h.service.MuteAll(c.Request.Context(), callID, userID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// Promote grants the moderator role to a participant
func (h *Handler) Promote(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	call, err := h.service.Promote(c.Request.Context(), callID, userID, targetID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

// RemoveParticipant ejects a participant
func (h *Handler) RemoveParticipant(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}

	call, err := h.service.RemoveParticipant(c.Request.Context(), callID, userID, targetID)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

type lockRequest struct {
	Locked *bool `json:"locked" binding:"required"`
}

// SetLocked locks or unlocks the call
func (h *Handler) SetLocked(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	call, err := h.service.SetLocked(c.Request.Context(), callID, userID, *req.Locked)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

type holdRequest struct {
	OnHold *bool `json:"on_hold" binding:"required"`
}

// SetHold sets the caller's hold flag
func (h *Handler) SetHold(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req holdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	call, err := h.service.SetHold(c.Request.Context(), callID, userID, *req.OnHold)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, call)
}

type transferRequest struct {
	TargetID uuid.UUID `json:"target_id" binding:"required"`
}

// Transfer asks another user to take over the caller's spot
func (h *Handler) Transfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.service.Transfer(c.Request.Context(), callID, userID, req.TargetID); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, nil)
}

type respondTransferRequest struct {
	Accept *bool `json:"accept" binding:"required"`
}

// RespondTransfer accepts or declines a transfer request
func (h *Handler) RespondTransfer(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var req respondTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	if err := h.service.RespondTransfer(c.Request.Context(), callID, userID, *req.Accept); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, nil)
}

// History lists the caller's calls
func (h *Handler) History(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	calls, err := h.service.History(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, calls)
}

// Missed lists calls the caller never answered
func (h *Handler) Missed(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)

	calls, err := h.service.MissedCalls(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusOK, calls)
}

// ReportQuality records a client quality measurement
func (h *Handler) ReportQuality(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	callID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var report domain.QualityReport
	if err := c.ShouldBindJSON(&report); err != nil {
		response.ValidationError(c, err.Error())
		return
	}
	report.CallID = callID
	report.UserID = userID

	if err := h.service.ReportQuality(c.Request.Context(), &report); err != nil {
		response.AppError(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, nil)
}

// currentUser extracts the authenticated user set by the auth middleware
func currentUser(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "authentication required")
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "invalid user identity")
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.ValidationError(c, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func pagination(c *gin.Context) (limit, offset int) {
	limit = queryInt(c, "limit", 0)
	offset = queryInt(c, "offset", 0)
	return limit, offset
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
