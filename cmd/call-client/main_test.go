package main

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"callcore/internal/domain"
)

func TestHistoryLineShowsCallIdentityAndRosterSize(t *testing.T) {
	callID := uuid.New()
	call := domain.Call{
		CallID: callID,
		Type:   domain.CallTypeVideo,
		Status: domain.CallStatusEnded,
		Participants: []domain.Participant{
			{CallID: callID, UserID: uuid.New(), Status: domain.ParticipantLeft},
			{CallID: callID, UserID: uuid.New(), Status: domain.ParticipantLeft},
		},
	}

	line := historyLine(call)

	assert.Contains(t, line, callID.String())
	assert.Contains(t, line, "video")
	assert.Contains(t, line, "ended")
	assert.Contains(t, line, "2 participants")
}
