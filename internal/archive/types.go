package archive

import "time"

const recordVersion = "1.0"

// CallRecord is one finished call as written to the archive bucket.
type CallRecord struct {
	Version         string    `json:"version"`
	SessionID       string    `json:"session_id"`
	CallerHash      string    `json:"caller_hash"` // sha256 of the caller number
	ArchivedAt      time.Time `json:"archived_at"`
	DurationSeconds int       `json:"duration_seconds"`
	TurnCount       int       `json:"turn_count"`
	Outcome         string    `json:"outcome"`
	AppointmentID   string    `json:"appointment_id,omitempty"`
	Labels          Labels    `json:"labels"`
	Messages        []Message `json:"messages"`
}

// Labels classify a call for later review.
type Labels struct {
	Category    string `json:"category"`  // booking|cancel|reschedule|inquiry|off_topic|abandoned
	Sentiment   string `json:"sentiment"` // positive|neutral|negative|hostile
	ContainsPHI bool   `json:"contains_phi"`
	AutoLabeled bool   `json:"auto_labeled"`
	LabelModel  string `json:"label_model,omitempty"`
	NeedsReview bool   `json:"needs_review"`
}

// Message is a single spoken turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ManifestEntry is one JSONL line in the monthly manifest file.
type ManifestEntry struct {
	SessionID    string `json:"session_id"`
	S3Key        string `json:"s3_key"`
	Outcome      string `json:"outcome"`
	Category     string `json:"category"`
	ArchivedAt   string `json:"archived_at"`
	MessageCount int    `json:"message_count"`
}
