// Package sessions keeps per-call state for the voice webhooks: the caller's
// turn counter and phase, and the dialogue configuration keyed by session id.
// Both namespaces are torn down together when a call ends, and a destroyed
// session id is remembered so a late duplicate webhook cannot revive it.
package sessions

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned for a session id that was never created or has expired.
	ErrSessionNotFound = errors.New("sessions: session not found")
	// ErrSessionClosed is returned for a session id that was already torn down.
	ErrSessionClosed = errors.New("sessions: session already closed")
)

// Phase is the call turn controller state recorded with the caller.
type Phase string

const (
	PhaseGreeting   Phase = "greeting"
	PhaseListening  Phase = "listening"
	PhaseBooking    Phase = "booking"
	PhaseCancel     Phase = "cancel"
	PhaseReschedule Phase = "reschedule"
	PhaseGoodbye    Phase = "goodbye"
)

// Terminal reports whether no further turns are expected in this phase.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseBooking, PhaseCancel, PhaseReschedule, PhaseGoodbye:
		return true
	}
	return false
}

// CallState is the caller-keyed half of a session.
type CallState struct {
	CallerID  string    `json:"caller_id"`
	SessionID string    `json:"session_id"`
	TurnCount int       `json:"turn_count"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DialogueConfig is the session-keyed half: everything the dialogue engine
// needs to rebuild its context on each turn.
type DialogueConfig struct {
	SessionID          string `json:"session_id"`
	CallerID           string `json:"caller_id"`
	ThreadID           string `json:"thread_id"`
	PatientData        string `json:"patient_data"`
	CurrentDate        string `json:"current_date"`
	AppointmentDetails string `json:"appointment_details"`
	// PendingAppointmentIDs lists the caller's pending appointments at call start.
	PendingAppointmentIDs []string `json:"pending_appointment_ids,omitempty"`
}

// Store is the session lifecycle contract used by the call turn controller.
type Store interface {
	Create(ctx context.Context, callerID string, cfg DialogueConfig) (string, error)
	Get(ctx context.Context, sessionID string) (DialogueConfig, error)
	Touch(ctx context.Context, callerID string, delta int) (CallState, error)
	SetPhase(ctx context.Context, callerID string, phase Phase) error
	Destroy(ctx context.Context, callerID, sessionID string) error
	IsDestroyed(ctx context.Context, sessionID string) (bool, error)
}
