package extraction

import (
	"strconv"
	"strings"

	"github.com/azentyk/voice-appointments/internal/appointments"
)

// BookingRecord is the structured result of a completed booking conversation.
// A nil field means the conversation never supplied it.
type BookingRecord struct {
	Username               *string `json:"username"`
	PhoneNumber            *string `json:"phone_number"`
	Mail                   *string `json:"mail"`
	Location               *string `json:"location"`
	HospitalName           *string `json:"hospital_name"`
	Specialization         *string `json:"specialization"`
	AppointmentBookingDate *string `json:"appointment_booking_date"`
	AppointmentBookingTime *string `json:"appointment_booking_time"`
	AppointmentStatus      *string `json:"appointment_status"`
}

// Appointment projects the record onto a new pending appointment.
func (r BookingRecord) Appointment(appointmentID string) appointments.Appointment {
	return appointments.Appointment{
		AppointmentID:          appointmentID,
		Username:               Value(r.Username),
		PhoneNumber:            Value(r.PhoneNumber),
		Mail:                   Value(r.Mail),
		Location:               Value(r.Location),
		HospitalName:           Value(r.HospitalName),
		Specialization:         Value(r.Specialization),
		AppointmentBookingDate: Value(r.AppointmentBookingDate),
		AppointmentBookingTime: Value(r.AppointmentBookingTime),
		AppointmentStatus:      appointments.StatusPending,
	}
}

type CancelRecord struct {
	Username          *string `json:"username"`
	AppointmentID     *string `json:"appointment_id"`
	AppointmentStatus *string `json:"appointment_status"`
}

type RescheduleRecord struct {
	Username          *string `json:"username"`
	AppointmentID     *string `json:"appointment_id"`
	AppointmentStatus *string `json:"appointment_status"`
	NewDate           *string `json:"new_date"`
	NewTime           *string `json:"new_time"`
}

// ConfirmationRecord is what a receptionist call yields when confirming,
// cancelling or rescheduling on the patient's behalf.
type ConfirmationRecord struct {
	Username          *string `json:"username"`
	AppointmentID     *string `json:"appointment_id"`
	AppointmentStatus *string `json:"appointment_status"`
}

// Value dereferences an optional field, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// normalizeField maps the spellings models use for "no value" to nil.
func normalizeField(v any) *string {
	var s string
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			s = "true"
		} else {
			s = "false"
		}
	default:
		return nil
	}
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "unknown":
		return nil
	}
	return &s
}
