package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/azentyk/voice-appointments/internal/appointments"
	"github.com/azentyk/voice-appointments/internal/extraction"
	"github.com/azentyk/voice-appointments/internal/intent"
	"github.com/azentyk/voice-appointments/internal/jobs"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/internal/sessions"
)

const (
	askAppointmentID = "I couldn't find that appointment. Could you please tell me your appointment ID?"
	askNewSlot       = "I still need the new date and time for your appointment. When would you like to come in?"
	cannotCancel     = "I'm sorry, appointment %s can't be cancelled because it is already %s. Is there anything else I can help you with?"
	cannotReschedule = "I'm sorry, appointment %s can't be rescheduled because it is already %s. Is there anything else I can help you with?"
)

// Verifier reads the target appointment out of the conversation before the
// caller is told the change went through.
type Verifier interface {
	ExtractCancel(ctx context.Context, transcript string) (extraction.CancelRecord, error)
	ExtractReschedule(ctx context.Context, transcript string) (extraction.RescheduleRecord, error)
}

// verifyTarget resolves the appointment a cancel or reschedule refers to.
// It returns nil and the prompt to speak when the change cannot be confirmed.
func (h *Handler) verifyTarget(ctx context.Context, kind intent.Intent, cfg sessions.DialogueConfig, transcript []llm.ChatMessage) (*jobs.VerifiedTarget, string) {
	ctx, cancel := context.WithTimeout(ctx, h.verifyTimeout)
	defer cancel()

	text := extraction.FormatTranscript(transcript)
	var target jobs.VerifiedTarget
	switch kind {
	case intent.CancelDone:
		rec, err := h.verifier.ExtractCancel(ctx, text)
		if err != nil {
			h.logger.Warn("cancel verification failed", "session_id", cfg.SessionID, "error", err)
			return nil, askAppointmentID
		}
		target = jobs.VerifiedTarget{
			AppointmentID: extraction.Value(rec.AppointmentID),
			Username:      extraction.Value(rec.Username),
		}
	case intent.RescheduleDone:
		rec, err := h.verifier.ExtractReschedule(ctx, text)
		if err != nil {
			h.logger.Warn("reschedule verification failed", "session_id", cfg.SessionID, "error", err)
			return nil, askAppointmentID
		}
		target = jobs.VerifiedTarget{
			AppointmentID: extraction.Value(rec.AppointmentID),
			Username:      extraction.Value(rec.Username),
			NewDate:       extraction.Value(rec.NewDate),
			NewTime:       extraction.Value(rec.NewTime),
		}
	default:
		return nil, askAppointmentID
	}

	appt, ok := h.resolveAppointment(ctx, cfg, target.AppointmentID)
	if !ok {
		return nil, askAppointmentID
	}
	target.AppointmentID = appt.AppointmentID
	if target.Username == "" {
		target.Username = appt.Username
	}

	status := appointments.StatusCancelled
	refusal := cannotCancel
	if kind == intent.RescheduleDone {
		status = appointments.StatusRescheduled
		refusal = cannotReschedule
	}
	if !transitionAllowed(appt.AppointmentStatus, status) {
		h.logger.Info("requested change not allowed",
			"session_id", cfg.SessionID,
			"appointment_id", appt.AppointmentID,
			"current_status", appt.AppointmentStatus,
			"requested_status", status,
		)
		return nil, fmt.Sprintf(refusal, appt.AppointmentID, strings.ToLower(string(appt.AppointmentStatus)))
	}
	if kind == intent.RescheduleDone && (strings.TrimSpace(target.NewDate) == "" || strings.TrimSpace(target.NewTime) == "") {
		return nil, askNewSlot
	}
	return &target, ""
}

// resolveAppointment loads the appointment the caller named, using the same
// case-insensitive match as the repository, and returns it with its stored id.
// When the lookup itself fails an id from the caller's pending snapshot is
// still accepted.
func (h *Handler) resolveAppointment(ctx context.Context, cfg sessions.DialogueConfig, id string) (appointments.Appointment, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return appointments.Appointment{}, false
	}
	appt, err := h.repo.Get(ctx, id)
	if err == nil {
		return appt, true
	}
	if errors.Is(err, appointments.ErrNotFound) {
		return appointments.Appointment{}, false
	}
	h.logger.Warn("appointment verification lookup failed", "appointment_id", id, "error", err)
	for _, pending := range cfg.PendingAppointmentIDs {
		if strings.EqualFold(pending, id) {
			return appointments.Appointment{AppointmentID: pending, AppointmentStatus: appointments.StatusPending}, true
		}
	}
	return appointments.Appointment{}, false
}

// transitionAllowed accepts the moves the repository will apply, plus a
// repeat cancel, which it reports as a no-op.
func transitionAllowed(from, to appointments.Status) bool {
	if to == appointments.StatusCancelled && from.Is(appointments.StatusCancelled) {
		return true
	}
	return appointments.CanTransition(from, to)
}
