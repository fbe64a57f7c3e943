package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

// ErrEmptyTranscript is returned when there is nothing to extract from.
var ErrEmptyTranscript = errors.New("extraction: transcript is empty")

// Extractor turns call transcripts into structured records through a
// schema-constrained model call.
type Extractor struct {
	client    llm.Client
	model     string
	maxTokens int32
	logger    *logging.Logger
	now       func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxTokens bounds the extraction response.
func WithMaxTokens(n int32) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTokens = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the clock used for the current year and ids.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

func NewExtractor(client llm.Client, model string, opts ...Option) *Extractor {
	if client == nil {
		panic("extraction: model client cannot be nil")
	}
	e := &Extractor{
		client:    client,
		model:     model,
		maxTokens: 512,
		logger:    logging.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractBooking reads the booking fields from a transcript.
func (e *Extractor) ExtractBooking(ctx context.Context, transcript string) (BookingRecord, error) {
	fields, err := e.extract(ctx, bookingPrompt(transcript), bookingFields, transcript)
	if err != nil {
		return BookingRecord{}, err
	}
	return BookingRecord{
		Username:               fields["username"],
		PhoneNumber:            fields["phone_number"],
		Mail:                   fields["mail"],
		Location:               fields["location"],
		HospitalName:           fields["hospital_name"],
		Specialization:         fields["specialization"],
		AppointmentBookingDate: fields["appointment_booking_date"],
		AppointmentBookingTime: fields["appointment_booking_time"],
		AppointmentStatus:      fields["appointment_status"],
	}, nil
}

func (e *Extractor) ExtractCancel(ctx context.Context, transcript string) (CancelRecord, error) {
	fields, err := e.extract(ctx, cancelPrompt(transcript), cancelFields, transcript)
	if err != nil {
		return CancelRecord{}, err
	}
	return CancelRecord{
		Username:          fields["username"],
		AppointmentID:     normalizeAppointmentID(fields["appointment_id"]),
		AppointmentStatus: fields["appointment_status"],
	}, nil
}

func (e *Extractor) ExtractReschedule(ctx context.Context, transcript string) (RescheduleRecord, error) {
	fields, err := e.extract(ctx, reschedulePrompt(transcript, e.now().Year()), rescheduleFields, transcript)
	if err != nil {
		return RescheduleRecord{}, err
	}
	return RescheduleRecord{
		Username:          fields["username"],
		AppointmentID:     normalizeAppointmentID(fields["appointment_id"]),
		AppointmentStatus: fields["appointment_status"],
		NewDate:           fields["new_date"],
		NewTime:           fields["new_time"],
	}, nil
}

// ExtractConfirmation reads a receptionist's confirmation call.
func (e *Extractor) ExtractConfirmation(ctx context.Context, transcript string) (ConfirmationRecord, error) {
	fields, err := e.extract(ctx, confirmationPrompt(transcript), confirmationFields, transcript)
	if err != nil {
		return ConfirmationRecord{}, err
	}
	return ConfirmationRecord{
		Username:          fields["username"],
		AppointmentID:     normalizeAppointmentID(fields["appointment_id"]),
		AppointmentStatus: fields["appointment_status"],
	}, nil
}

// NewAppointmentID builds an id for record using the extractor's clock.
func (e *Extractor) NewAppointmentID(record BookingRecord) string {
	return NewAppointmentID(Value(record.Username), e.now())
}

func (e *Extractor) extract(ctx context.Context, prompt string, fields []string, transcript string) (map[string]*string, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}
	req := llm.Request{
		Model:       e.model,
		System:      []string{extractionSystemPrompt},
		Messages:    []llm.ChatMessage{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens:   e.maxTokens,
		Temperature: 0,
	}

	var (
		resp llm.Response
		err  error
	)
	if structured, ok := e.client.(llm.StructuredClient); ok {
		resp, err = structured.CompleteJSON(ctx, req, llm.ObjectOfNullableStrings(fields, fieldDescriptions))
	} else {
		resp, err = e.client.Complete(ctx, req)
	}
	if err != nil {
		return nil, fmt.Errorf("extraction: model call: %w", err)
	}

	raw, err := llm.ExtractJSONObject(resp.Text)
	if err != nil {
		e.logger.Warn("extraction reply had no JSON object", "reply_len", len(resp.Text))
		return nil, fmt.Errorf("extraction: %w", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, fmt.Errorf("extraction: decode reply: %w", err)
	}

	out := make(map[string]*string, len(fields))
	for _, f := range fields {
		out[f] = normalizeField(decoded[f])
	}
	return out, nil
}

// normalizeAppointmentID removes the spaces speech recognition inserts into
// ids. Case is left alone; repositories match ids case-insensitively.
func normalizeAppointmentID(id *string) *string {
	if id == nil {
		return nil
	}
	cleaned := strings.Join(strings.Fields(*id), "")
	if cleaned == "" {
		return nil
	}
	return &cleaned
}
