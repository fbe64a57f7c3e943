package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/internal/appointments"
	"github.com/azentyk/voice-appointments/internal/sessions"
)

const currentDateLayout = "Monday, 02 January 2006"

// seedConfig prefetches what the assistant should know about the caller.
// Lookup failures are logged and the call continues with what was found.
func (h *Handler) seedConfig(ctx context.Context, from string) sessions.DialogueConfig {
	now := h.now()
	cfg := sessions.DialogueConfig{CurrentDate: now.Format(currentDateLayout)}

	profile, err := h.repo.FindPatientByPhone(ctx, from)
	hasProfile := err == nil
	if err != nil && !errors.Is(err, appointments.ErrNoMatch) {
		h.logger.Warn("patient profile lookup failed", "from", maskedCaller(from), "error", err)
	}

	pending, err := h.repo.FindPendingByPhone(ctx, from)
	if err != nil && !errors.Is(err, appointments.ErrNoMatch) {
		h.logger.Warn("pending appointment lookup failed", "from", maskedCaller(from), "error", err)
	}

	cfg.PatientData = patientData(profile, hasProfile, from, now)
	cfg.AppointmentDetails = appointmentDetails(pending)
	for _, appt := range pending {
		cfg.PendingAppointmentIDs = append(cfg.PendingAppointmentIDs, appt.AppointmentID)
	}
	return cfg
}

func patientData(p appointments.PatientProfile, ok bool, from string, now time.Time) string {
	if !ok {
		return fmt.Sprintf("Incoming caller %s at %s", from, now.Format(currentDateLayout))
	}
	return fmt.Sprintf("Name: %s, Email: %s, Phone: %s - Incoming caller %s", p.FirstName, p.Email, p.Phone, from)
}

func appointmentDetails(pending []appointments.Appointment) string {
	lines := make([]string, 0, len(pending))
	for _, a := range pending {
		lines = append(lines, fmt.Sprintf(
			"Appointment ID: %s, Name: %s, Hospital: %s, Specialization: %s, Location: %s, Date: %s, Time: %s, Status: %s",
			a.AppointmentID, a.Username, a.HospitalName, a.Specialization, a.Location,
			a.AppointmentBookingDate, a.AppointmentBookingTime, a.AppointmentStatus,
		))
	}
	return strings.Join(lines, "\n")
}
