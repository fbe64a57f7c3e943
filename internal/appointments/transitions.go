package appointments

import (
	"fmt"
	"strings"
)

// allowedTransitions lists, per target status, which current statuses may move to it.
var allowedTransitions = map[Status][]Status{
	StatusPending:     {StatusBookingInProgress},
	StatusConfirmed:   {StatusPending},
	StatusCancelled:   {StatusPending},
	StatusRescheduled: {StatusPending, StatusRescheduled},
}

// CanTransition reports whether an appointment in from may move to to.
func CanTransition(from, to Status) bool {
	for _, src := range allowedTransitions[canonical(to)] {
		if src.Is(from) {
			return true
		}
	}
	return false
}

func canonical(s Status) Status {
	if parsed, ok := ParseStatus(string(s)); ok {
		return parsed
	}
	return s
}

// validateUpdate rejects requests that must never reach storage.
func validateUpdate(u StatusUpdate) (StatusUpdate, *UpdateOutcome) {
	u.AppointmentID = strings.TrimSpace(u.AppointmentID)
	if u.AppointmentID == "" {
		return u, &UpdateOutcome{Result: UpdateNotFound, Message: "No appointment id supplied"}
	}
	target, ok := ParseStatus(string(u.Status))
	if !ok {
		return u, &UpdateOutcome{Result: UpdateInvalid, Message: fmt.Sprintf("Unknown appointment status %q", u.Status)}
	}
	u.Status = target
	if target == StatusRescheduled {
		u.NewDate = strings.TrimSpace(u.NewDate)
		u.NewTime = strings.TrimSpace(u.NewTime)
		if u.NewDate == "" || u.NewTime == "" {
			return u, &UpdateOutcome{Result: UpdateInvalid, Message: "Reschedule requires both date and time."}
		}
	}
	return u, nil
}

// planUpdate decides what a validated update does to current. The returned
// appointment is only meaningful when the outcome is UpdateApplied.
func planUpdate(current Appointment, u StatusUpdate) (Appointment, UpdateOutcome) {
	prev := current.AppointmentStatus
	if u.Status.Is(prev) {
		unchanged := u.Status != StatusRescheduled ||
			(current.AppointmentBookingDate == u.NewDate && current.AppointmentBookingTime == u.NewTime)
		if unchanged {
			return current, UpdateOutcome{
				Result:   UpdateNoOp,
				Message:  fmt.Sprintf("Appointment %s already has status '%s'", u.AppointmentID, u.Status),
				Previous: prev,
			}
		}
	}
	if !CanTransition(prev, u.Status) {
		return current, UpdateOutcome{
			Result:   UpdateRejected,
			Message:  fmt.Sprintf("Appointment %s cannot move from '%s' to '%s'", u.AppointmentID, prev, u.Status),
			Previous: prev,
		}
	}

	next := current
	next.AppointmentStatus = u.Status
	msg := fmt.Sprintf("Appointment %s updated to '%s'", u.AppointmentID, u.Status)
	if u.Status == StatusRescheduled {
		next.AppointmentBookingDate = u.NewDate
		next.AppointmentBookingTime = u.NewTime
		msg = fmt.Sprintf("Appointment %s rescheduled to %s at %s", u.AppointmentID, u.NewDate, u.NewTime)
	}
	return next, UpdateOutcome{Result: UpdateApplied, Message: msg, Previous: prev}
}
