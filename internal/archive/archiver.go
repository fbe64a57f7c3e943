package archive

import (
	"context"
	"time"

	"github.com/azentyk/voice-appointments/pkg/logging"
)

// CallInput holds what the trailing job knows about a finished call.
type CallInput struct {
	SessionID     string
	CallerID      string
	StartedAt     time.Time
	EndedAt       time.Time
	TurnCount     int
	Outcome       string
	AppointmentID string
	Messages      []Message
}

// Archiver scrubs, labels and stores finished calls. It never fails the
// caller; errors are logged.
type Archiver struct {
	store   *Store
	labeler *Labeler
	logger  *logging.Logger
}

// NewArchiver returns nil when the store is not enabled; a nil Archiver is a no-op.
func NewArchiver(store *Store, labeler *Labeler, logger *logging.Logger) *Archiver {
	if !store.Enabled() {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Archiver{store: store, labeler: labeler, logger: logger}
}

// Archive reports whether the record was written.
func (a *Archiver) Archive(ctx context.Context, in CallInput) bool {
	if a == nil {
		return false
	}

	msgs := make([]Message, len(in.Messages))
	copy(msgs, in.Messages)
	ScrubMessages(msgs)

	labels, err := a.labeler.Label(ctx, in.Outcome, msgs)
	if err != nil {
		a.logger.Warn("call archive: labeling failed, using defaults", "error", err, "session_id", in.SessionID)
	}

	var duration int
	if !in.StartedAt.IsZero() && in.EndedAt.After(in.StartedAt) {
		duration = int(in.EndedAt.Sub(in.StartedAt).Seconds())
	}

	record := CallRecord{
		Version:         recordVersion,
		SessionID:       in.SessionID,
		CallerHash:      HashPhone(in.CallerID),
		DurationSeconds: duration,
		TurnCount:       in.TurnCount,
		Outcome:         in.Outcome,
		AppointmentID:   in.AppointmentID,
		Labels:          labels,
		Messages:        msgs,
	}
	if err := a.store.ArchiveCall(ctx, record); err != nil {
		a.logger.Error("call archive: failed to archive", "error", err, "session_id", in.SessionID)
		return false
	}
	return true
}
