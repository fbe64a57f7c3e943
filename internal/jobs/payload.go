// Package jobs runs the work that follows a terminal call turn: persisting
// the appointment change, auditing the chat, texting the patient and
// archiving the transcript. The call has already been hung up by then.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/google/uuid"
)

// Kind names the terminal action a job completes.
type Kind string

const (
	KindBooking    Kind = "booking"
	KindCancel     Kind = "cancel"
	KindReschedule Kind = "reschedule"
)

func (k Kind) Valid() bool {
	switch k {
	case KindBooking, KindCancel, KindReschedule:
		return true
	}
	return false
}

// VerifiedTarget is the appointment the call controller already resolved
// before speaking the success line, so the worker does not re-extract.
type VerifiedTarget struct {
	AppointmentID string `json:"appointment_id"`
	Username      string `json:"username,omitempty"`
	NewDate       string `json:"new_date,omitempty"`
	NewTime       string `json:"new_time,omitempty"`
}

// Payload is the queued description of one trailing job.
type Payload struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"kind"`
	SessionID   string            `json:"session_id"`
	CallerID    string            `json:"caller_id"`
	LastMessage string            `json:"last_message"`
	Transcript  []llm.ChatMessage `json:"transcript"`
	Verified    *VerifiedTarget   `json:"verified,omitempty"`
	TurnCount   int               `json:"turn_count,omitempty"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	EnqueuedAt  time.Time         `json:"enqueued_at"`
}

func encodePayload(payload Payload) (Payload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Payload{}, "", fmt.Errorf("jobs: failed to encode payload: %w", err)
	}
	return payload, string(body), nil
}

func decodePayload(body string) (Payload, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return Payload{}, fmt.Errorf("jobs: failed to decode payload: %w", err)
	}
	if !payload.Kind.Valid() {
		return Payload{}, fmt.Errorf("jobs: unknown job kind %q", payload.Kind)
	}
	return payload, nil
}
