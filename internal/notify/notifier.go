// Package notify sends appointment confirmations to patients by SMS and,
// when an address is known, by email.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const (
	toBeConfirmed    = "To be confirmed"
	assignedShortly  = "Assigned shortly"
	closingLine      = "Thank you for choosing our Azentyk AI service!"
	channelSMS       = "sms"
	channelEmail     = "email"
	defaultPatientID = "Patient"
)

// Details carries the appointment fields rendered into a notification.
type Details struct {
	Username       string
	AppointmentID  string
	Date           string
	Time           string
	HospitalName   string
	Specialization string
	Location       string
}

// Notifier renders the patient templates and dispatches them. Each method
// attempts delivery once and reports whether the SMS went out; failures are
// logged, never returned.
type Notifier struct {
	sms     SMSSender
	email   EmailSender
	metrics *metrics.VoiceMetrics
	logger  *logging.Logger
}

// NewNotifier wires the senders. email may be nil to disable email copies.
func NewNotifier(sms SMSSender, email EmailSender, m *metrics.VoiceMetrics, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	if sms == nil {
		sms = NewStubSMS(logger)
	}
	return &Notifier{sms: sms, email: email, metrics: m, logger: logger}
}

func (n *Notifier) AppointmentBooked(ctx context.Context, to, mail string, d Details) bool {
	return n.deliver(ctx, to, mail, "Your appointment is booked", BookedMessage(d))
}

func (n *Notifier) AppointmentCancelled(ctx context.Context, to, mail string, d Details) bool {
	return n.deliver(ctx, to, mail, "Your appointment has been cancelled", CancelledMessage(d))
}

func (n *Notifier) AppointmentRescheduled(ctx context.Context, to, mail string, d Details) bool {
	return n.deliver(ctx, to, mail, "Your appointment has been rescheduled", RescheduledMessage(d))
}

func (n *Notifier) deliver(ctx context.Context, to, mail, subject, body string) bool {
	sent := false
	if strings.TrimSpace(to) == "" {
		n.logger.Warn("notification skipped: no phone number", "subject", subject)
	} else if err := n.sms.Send(ctx, to, body); err != nil {
		n.logger.Error("appointment sms failed", "to", logging.MaskPhone(to), "error", err)
		n.metrics.ObserveNotification(channelSMS, false)
	} else {
		sent = true
		n.metrics.ObserveNotification(channelSMS, true)
	}

	if n.email != nil && strings.Contains(mail, "@") {
		err := n.email.Send(ctx, EmailMessage{To: strings.TrimSpace(mail), Subject: subject, Body: body})
		if err != nil {
			n.logger.Error("appointment email failed", "error", err)
		}
		n.metrics.ObserveNotification(channelEmail, err == nil)
	}
	return sent
}

// BookedMessage renders the booking confirmation.
func BookedMessage(d Details) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", or(d.Username, defaultPatientID))
	b.WriteString("Your appointment has been successfully booked.\n\n")
	fmt.Fprintf(&b, "Date & Time: %s, %s\n", or(d.Date, toBeConfirmed), or(d.Time, toBeConfirmed))
	fmt.Fprintf(&b, "Hospital: %s\n", or(d.HospitalName, toBeConfirmed))
	fmt.Fprintf(&b, "Specialization: %s\n", or(d.Specialization, assignedShortly))
	fmt.Fprintf(&b, "Location: %s\n\n", or(d.Location, assignedShortly))
	fmt.Fprintf(&b, "Your Appointment ID: %s\n\n", or(d.AppointmentID, "N/A"))
	b.WriteString("You will receive a confirmation call or SMS shortly.\n\n")
	b.WriteString(closingLine)
	return b.String()
}

// CancelledMessage renders the cancellation notice.
func CancelledMessage(d Details) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", or(d.Username, defaultPatientID))
	b.WriteString("Your appointment has been successfully cancelled.\n\n")
	fmt.Fprintf(&b, "Appointment ID: %s\n\n", or(d.AppointmentID, "N/A"))
	b.WriteString("If you wish to book a new appointment, please contact us or visit our portal.\n\n")
	b.WriteString(closingLine)
	return b.String()
}

// RescheduledMessage renders the reschedule notice. The new slot is included
// when known.
func RescheduledMessage(d Details) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", or(d.Username, defaultPatientID))
	b.WriteString("Your appointment has been successfully rescheduled.\n\n")
	fmt.Fprintf(&b, "Appointment ID: %s\n", or(d.AppointmentID, "N/A"))
	if d.Date != "" || d.Time != "" {
		fmt.Fprintf(&b, "New Date & Time: %s, %s\n", or(d.Date, toBeConfirmed), or(d.Time, toBeConfirmed))
	}
	b.WriteString("\n")
	b.WriteString(closingLine)
	return b.String()
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
