package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/internal/appointments"
	"github.com/azentyk/voice-appointments/internal/archive"
	"github.com/azentyk/voice-appointments/internal/extraction"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/internal/locks"
	"github.com/azentyk/voice-appointments/internal/notify"
	"github.com/azentyk/voice-appointments/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	maxIDAttempts = 3
	resultCreated = "created"
)

var tracer = otel.Tracer("azentyk.internal.jobs")

// Extractor reads structured records out of a finished conversation.
type Extractor interface {
	ExtractBooking(ctx context.Context, transcript string) (extraction.BookingRecord, error)
	ExtractCancel(ctx context.Context, transcript string) (extraction.CancelRecord, error)
	ExtractReschedule(ctx context.Context, transcript string) (extraction.RescheduleRecord, error)
	NewAppointmentID(record extraction.BookingRecord) string
}

// Notifier tells the patient what happened. Each call reports whether the SMS
// was delivered.
type Notifier interface {
	AppointmentBooked(ctx context.Context, to, mail string, d notify.Details) bool
	AppointmentCancelled(ctx context.Context, to, mail string, d notify.Details) bool
	AppointmentRescheduled(ctx context.Context, to, mail string, d notify.Details) bool
}

// Processor completes one trailing job: extraction, the repository write,
// the chat audit, the patient notification and the call archive.
type Processor struct {
	extractor Extractor
	repo      appointments.Repository
	locker    locks.Locker
	notifier  Notifier
	archiver  *archive.Archiver
	logger    *logging.Logger
	now       func() time.Time
}

// NewProcessor wires a processor. locker defaults to NoopLocker and archiver
// may be nil.
func NewProcessor(extractor Extractor, repo appointments.Repository, locker locks.Locker, notifier Notifier, archiver *archive.Archiver, logger *logging.Logger) *Processor {
	if extractor == nil {
		panic("jobs: extractor cannot be nil")
	}
	if repo == nil {
		panic("jobs: repository cannot be nil")
	}
	if notifier == nil {
		panic("jobs: notifier cannot be nil")
	}
	if locker == nil {
		locker = locks.NoopLocker{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Processor{
		extractor: extractor,
		repo:      repo,
		locker:    locker,
		notifier:  notifier,
		archiver:  archiver,
		logger:    logger,
		now:       time.Now,
	}
}

// Process runs the job. Extraction and repository failures are returned;
// the audit, notification and archive steps only log.
func (p *Processor) Process(ctx context.Context, payload Payload) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "jobs.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", payload.ID),
		attribute.String("job.kind", string(payload.Kind)),
	)

	transcript := transcriptFor(payload)
	var (
		outcome Outcome
		name    string
		err     error
	)
	switch payload.Kind {
	case KindBooking:
		outcome, name, err = p.book(ctx, payload, transcript)
	case KindCancel:
		outcome, name, err = p.cancel(ctx, payload, transcript)
	case KindReschedule:
		outcome, name, err = p.reschedule(ctx, payload, transcript)
	default:
		err = fmt.Errorf("jobs: unknown job kind %q", payload.Kind)
	}
	if err != nil {
		span.RecordError(err)
		return Outcome{}, err
	}

	p.repo.AppendChat(ctx, appointments.ChatRecord{
		PatientName: name,
		ChatHistory: lastAssistantMessage(payload),
		SessionID:   payload.SessionID,
		Intent:      string(payload.Kind),
	})

	outcome.Archived = p.archiver.Archive(ctx, archive.CallInput{
		SessionID:     payload.SessionID,
		CallerID:      payload.CallerID,
		StartedAt:     payload.StartedAt,
		EndedAt:       p.endedAt(payload),
		TurnCount:     payload.TurnCount,
		Outcome:       string(payload.Kind),
		AppointmentID: outcome.AppointmentID,
		Messages:      archiveMessages(payload),
	})

	p.logger.Info("trailing job processed",
		"job_id", payload.ID,
		"kind", payload.Kind,
		"appointment_id", outcome.AppointmentID,
		"result", outcome.Result,
		"notified", outcome.Notified,
	)
	return outcome, nil
}

func (p *Processor) book(ctx context.Context, payload Payload, transcript string) (Outcome, string, error) {
	record, err := p.extractor.ExtractBooking(ctx, transcript)
	if err != nil {
		return Outcome{}, "", fmt.Errorf("jobs: booking extraction: %w", err)
	}

	var appt appointments.Appointment
	for attempt := 1; ; attempt++ {
		appt = record.Appointment(p.extractor.NewAppointmentID(record))
		if strings.TrimSpace(appt.PhoneNumber) == "" {
			appt.PhoneNumber = payload.CallerID
		}
		err = p.locker.WithLock(ctx, lockKey(appt.AppointmentID), func(ctx context.Context) error {
			_, err := p.repo.Create(ctx, appt)
			return err
		})
		if err == nil {
			break
		}
		if !errors.Is(err, appointments.ErrDuplicateAppointment) || attempt >= maxIDAttempts {
			return Outcome{}, "", fmt.Errorf("jobs: create appointment: %w", err)
		}
		p.logger.Warn("appointment id collision, regenerating", "appointment_id", appt.AppointmentID, "attempt", attempt)
	}

	outcome := Outcome{AppointmentID: appt.AppointmentID, Result: resultCreated}
	outcome.Notified = p.notifier.AppointmentBooked(ctx, payload.CallerID, appt.Mail, notify.Details{
		Username:       appt.Username,
		AppointmentID:  appt.AppointmentID,
		Date:           appt.AppointmentBookingDate,
		Time:           appt.AppointmentBookingTime,
		HospitalName:   appt.HospitalName,
		Specialization: appt.Specialization,
		Location:       appt.Location,
	})
	return outcome, appt.Username, nil
}

func (p *Processor) cancel(ctx context.Context, payload Payload, transcript string) (Outcome, string, error) {
	target := payload.Verified
	if target == nil {
		record, err := p.extractor.ExtractCancel(ctx, transcript)
		if err != nil {
			return Outcome{}, "", fmt.Errorf("jobs: cancel extraction: %w", err)
		}
		target = &VerifiedTarget{
			AppointmentID: extraction.Value(record.AppointmentID),
			Username:      extraction.Value(record.Username),
		}
	}

	outcome, err := p.update(ctx, appointments.StatusUpdate{
		AppointmentID: target.AppointmentID,
		Status:        appointments.StatusCancelled,
	})
	if err != nil || !outcome.succeeded() {
		return outcome, target.Username, err
	}

	mail, name := p.contact(ctx, target)
	outcome.Notified = p.notifier.AppointmentCancelled(ctx, payload.CallerID, mail, notify.Details{
		Username:      name,
		AppointmentID: target.AppointmentID,
	})
	return outcome, name, nil
}

func (p *Processor) reschedule(ctx context.Context, payload Payload, transcript string) (Outcome, string, error) {
	target := payload.Verified
	if target == nil {
		record, err := p.extractor.ExtractReschedule(ctx, transcript)
		if err != nil {
			return Outcome{}, "", fmt.Errorf("jobs: reschedule extraction: %w", err)
		}
		target = &VerifiedTarget{
			AppointmentID: extraction.Value(record.AppointmentID),
			Username:      extraction.Value(record.Username),
			NewDate:       extraction.Value(record.NewDate),
			NewTime:       extraction.Value(record.NewTime),
		}
	}

	outcome, err := p.update(ctx, appointments.StatusUpdate{
		AppointmentID: target.AppointmentID,
		Status:        appointments.StatusRescheduled,
		NewDate:       target.NewDate,
		NewTime:       target.NewTime,
	})
	if err != nil || !outcome.succeeded() {
		return outcome, target.Username, err
	}

	mail, name := p.contact(ctx, target)
	outcome.Notified = p.notifier.AppointmentRescheduled(ctx, payload.CallerID, mail, notify.Details{
		Username:      name,
		AppointmentID: target.AppointmentID,
		Date:          target.NewDate,
		Time:          target.NewTime,
	})
	return outcome, name, nil
}

// update applies a status change under the appointment lock. Outcomes other
// than success are reported on the job, not returned as errors.
func (p *Processor) update(ctx context.Context, u appointments.StatusUpdate) (Outcome, error) {
	if strings.TrimSpace(u.AppointmentID) == "" {
		return Outcome{
			Result:  string(appointments.UpdateNotFound),
			Message: "no appointment id in conversation",
		}, nil
	}

	var res appointments.UpdateOutcome
	err := p.locker.WithLock(ctx, lockKey(u.AppointmentID), func(ctx context.Context) error {
		var err error
		res, err = p.repo.UpdateStatus(ctx, u)
		return err
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("jobs: update appointment %s: %w", u.AppointmentID, err)
	}
	if !res.Succeeded() {
		p.logger.Warn("appointment update not applied",
			"appointment_id", u.AppointmentID,
			"result", res.Result,
			"message", res.Message,
		)
	}
	return Outcome{AppointmentID: u.AppointmentID, Result: string(res.Result), Message: res.Message}, nil
}

// contact resolves the email and display name for a notification from the
// stored appointment. Lookup failures fall back to what the job carries.
func (p *Processor) contact(ctx context.Context, target *VerifiedTarget) (mail, name string) {
	name = target.Username
	appt, err := p.repo.Get(ctx, target.AppointmentID)
	if err != nil {
		p.logger.Warn("appointment lookup for notification failed", "appointment_id", target.AppointmentID, "error", err)
		return "", name
	}
	if name == "" {
		name = appt.Username
	}
	return appt.Mail, name
}

func (p *Processor) endedAt(payload Payload) time.Time {
	if !payload.EnqueuedAt.IsZero() {
		return payload.EnqueuedAt
	}
	return p.now().UTC()
}

func (o Outcome) succeeded() bool {
	return o.Result == string(appointments.UpdateApplied)
}

func lockKey(appointmentID string) string {
	return appointments.LockKey(appointmentID)
}

// transcriptFor renders the conversation for extraction. The final assistant
// line is appended when the transcript does not already end with it.
func transcriptFor(payload Payload) string {
	msgs := payload.Transcript
	last := strings.TrimSpace(payload.LastMessage)
	if last != "" && (len(msgs) == 0 || strings.TrimSpace(msgs[len(msgs)-1].Content) != last) {
		msgs = append(append([]llm.ChatMessage(nil), msgs...), llm.ChatMessage{Role: llm.RoleAssistant, Content: last})
	}
	return extraction.FormatTranscript(msgs)
}

// lastAssistantMessage is the closing line the assistant rendered, which is
// what the chat audit stores.
func lastAssistantMessage(payload Payload) string {
	if last := strings.TrimSpace(payload.LastMessage); last != "" {
		return last
	}
	for i := len(payload.Transcript) - 1; i >= 0; i-- {
		if payload.Transcript[i].Role == llm.RoleAssistant {
			if content := strings.TrimSpace(payload.Transcript[i].Content); content != "" {
				return content
			}
		}
	}
	return ""
}

func archiveMessages(payload Payload) []archive.Message {
	out := make([]archive.Message, 0, len(payload.Transcript))
	for _, msg := range payload.Transcript {
		if content := strings.TrimSpace(msg.Content); content != "" {
			out = append(out, archive.Message{Role: string(msg.Role), Content: content})
		}
	}
	return out
}
