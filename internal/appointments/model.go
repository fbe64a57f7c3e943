package appointments

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNoMatch is returned by phone lookups that found nothing. Callers
	// branch on it separately from lookup failures.
	ErrNoMatch = errors.New("appointments: no match found")
	// ErrNotFound is returned when an appointment id does not exist.
	ErrNotFound = errors.New("appointments: appointment not found")
	// ErrDuplicateAppointment is returned when Create would overwrite an existing id.
	ErrDuplicateAppointment = errors.New("appointments: appointment id already exists")
)

// Status is the single lifecycle field of an appointment.
type Status string

const (
	StatusBookingInProgress Status = "booking in progress"
	StatusPending           Status = "Pending"
	StatusConfirmed         Status = "confirmed"
	StatusRescheduled       Status = "rescheduled"
	StatusCancelled         Status = "cancelled"
)

// ParseStatus maps free-form status text onto a known status, case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "booking in progress":
		return StatusBookingInProgress, true
	case "pending":
		return StatusPending, true
	case "confirmed":
		return StatusConfirmed, true
	case "rescheduled":
		return StatusRescheduled, true
	case "cancelled", "canceled":
		return StatusCancelled, true
	}
	return "", false
}

// LockKey names the per-appointment lock. Ids match case-insensitively in
// every repository, so the key does too.
func LockKey(appointmentID string) string {
	return "appointment:" + strings.ToLower(strings.TrimSpace(appointmentID))
}

// Is compares statuses case-insensitively.
func (s Status) Is(other Status) bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), strings.TrimSpace(string(other)))
}

// Appointment is one booked consultation. Field names match the stored documents.
type Appointment struct {
	AppointmentID          string `json:"appointment_id"`
	Username               string `json:"username"`
	PhoneNumber            string `json:"phone_number"`
	Mail                   string `json:"mail"`
	Location               string `json:"location"`
	HospitalName           string `json:"hospital_name"`
	Specialization         string `json:"specialization"`
	AppointmentBookingDate string `json:"appointment_booking_date"`
	AppointmentBookingTime string `json:"appointment_booking_time"`
	AppointmentStatus      Status `json:"appointment_status"`
	Date                   string `json:"date"`
	Time                   string `json:"time"`
}

// ChatRecord is the audit entry written for each terminal action.
type ChatRecord struct {
	PatientName string `json:"patient_name"`
	ChatHistory string `json:"chat_history"`
	SessionID   string `json:"session_id,omitempty"`
	Intent      string `json:"intent,omitempty"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// TurnLogEntry is one spoken message within a call.
type TurnLogEntry struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Message   string `json:"message"`
	Date      string `json:"date"`
	Time      string `json:"time"`
}

// PatientProfile is the saved caller identity used to pre-fill a booking.
type PatientProfile struct {
	FirstName string `json:"firstname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// StatusUpdate requests a status transition. NewDate and NewTime are required
// for a reschedule and ignored otherwise.
type StatusUpdate struct {
	AppointmentID string
	Status        Status
	NewDate       string
	NewTime       string
}

// UpdateResult distinguishes the outcomes of UpdateStatus.
type UpdateResult string

const (
	UpdateApplied  UpdateResult = "success"
	UpdateNoOp     UpdateResult = "no-op"
	UpdateNotFound UpdateResult = "not-found"
	UpdateInvalid  UpdateResult = "invalid"
	UpdateRejected UpdateResult = "rejected"
)

// UpdateOutcome is the structured result of a status update.
type UpdateOutcome struct {
	Result  UpdateResult
	Message string
	// Previous holds the status found before the update, when the record exists.
	Previous Status
}

// Succeeded reports whether fields were changed.
func (o UpdateOutcome) Succeeded() bool {
	return o.Result == UpdateApplied
}

// Repository persists appointments, chat audit records and turn logs.
type Repository interface {
	Create(ctx context.Context, appt Appointment) (string, error)
	Get(ctx context.Context, appointmentID string) (Appointment, error)
	UpdateStatus(ctx context.Context, update StatusUpdate) (UpdateOutcome, error)
	FindPendingByPhone(ctx context.Context, phone string) ([]Appointment, error)
	FindPatientByPhone(ctx context.Context, phone string) (PatientProfile, error)
	// AppendChat and AppendTurn are best-effort: failures are logged, never returned.
	AppendChat(ctx context.Context, rec ChatRecord)
	AppendTurn(ctx context.Context, entry TurnLogEntry)
}

// PatientWriter saves caller profiles.
type PatientWriter interface {
	UpsertPatient(ctx context.Context, p PatientProfile) error
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)
