package intent

import "strings"

// Intent is the outcome of classifying one assistant utterance.
type Intent string

const (
	BookingDone    Intent = "BOOKING_DONE"
	CancelDone     Intent = "CANCEL_DONE"
	RescheduleDone Intent = "RESCHEDULE_DONE"
	Continue       Intent = "CONTINUE"
)

// Terminal reports whether the intent ends the call.
func (i Intent) Terminal() bool {
	switch i {
	case BookingDone, CancelDone, RescheduleDone:
		return true
	}
	return false
}

// Kind returns the short lowercase label used for jobs and metrics.
func (i Intent) Kind() string {
	switch i {
	case BookingDone:
		return "booking"
	case CancelDone:
		return "cancel"
	case RescheduleDone:
		return "reschedule"
	}
	return "continue"
}

// FallbackMessage replaces an empty assistant reply so the caller always hears something.
const FallbackMessage = "Sorry, I couldn't process your request right now."

// Result pairs the intent with the message that should be spoken.
type Result struct {
	Intent  Intent
	Message string
}

// Classifier maps the assistant's latest utterance to an intent.
type Classifier interface {
	Classify(message string) Result
}

type phraseSet struct {
	intent  Intent
	phrases []string
}

// PhraseClassifier matches case-insensitive phrases. Sets are checked in
// order and the first match wins, so booking beats cancel and cancel beats
// reschedule.
type PhraseClassifier struct {
	sets []phraseSet
}

// NewPhraseClassifier returns the classifier with the default phrase sets.
func NewPhraseClassifier() *PhraseClassifier {
	return &PhraseClassifier{sets: []phraseSet{
		{intent: BookingDone, phrases: []string{
			"we are booking an appointment",
			"successfully booked",
			"booked successfully",
			"scheduling is in progress",
			"processing your request",
		}},
		{intent: CancelDone, phrases: []string{
			"cancelled successfully",
			"cancelled",
			"canceled",
		}},
		{intent: RescheduleDone, phrases: []string{
			"successfully rescheduled",
			"rescheduled",
		}},
	}}
}

var _ Classifier = (*PhraseClassifier)(nil)

func (c *PhraseClassifier) Classify(message string) Result {
	message = strings.TrimSpace(message)
	if message == "" {
		return Result{Intent: Continue, Message: FallbackMessage}
	}
	lower := strings.ToLower(message)
	for _, set := range c.sets {
		for _, phrase := range set.phrases {
			if strings.Contains(lower, phrase) {
				return Result{Intent: set.intent, Message: message}
			}
		}
	}
	return Result{Intent: Continue, Message: message}
}
