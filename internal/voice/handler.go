// Package voice serves the telephony webhooks: it opens a session when a
// call arrives and runs one dialogue turn per recognised utterance.
package voice

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/internal/appointments"
	"github.com/azentyk/voice-appointments/internal/dialogue"
	"github.com/azentyk/voice-appointments/internal/intent"
	"github.com/azentyk/voice-appointments/internal/jobs"
	"github.com/azentyk/voice-appointments/internal/llm"
	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/internal/sessions"
	"github.com/azentyk/voice-appointments/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	greeting           = "Hello! I am Azentyk AI, Please wait while I check your details."
	farewell           = "You're welcome! Goodbye!"
	temporaryError     = "Sorry, we are experiencing a temporary error. Please call again later."
	bookingClosing     = "Thank you! We are processing your appointment. You will receive confirmation shortly."
	cancelClosing      = "Your appointment has been cancelled successfully. Thank you."
	rescheduleClosing  = "Your appointment has been rescheduled successfully. Thank you."
	seedUtterance      = "Hello! Patient details: Incoming caller "
	defaultVerifyLimit = 8 * time.Second
	enqueueTimeout     = 3 * time.Second
)

var tracer = otel.Tracer("azentyk.internal.voice")

// DialogueEngine advances one call's conversation.
type DialogueEngine interface {
	Advance(ctx context.Context, cfg sessions.DialogueConfig, utterance string) (dialogue.Reply, error)
	Remember(ctx context.Context, threadID, message string) error
}

// JobPublisher hands terminal work to the trailing job queue.
type JobPublisher interface {
	Enqueue(ctx context.Context, payload jobs.Payload) (string, error)
}

// Config carries the webhook settings.
type Config struct {
	PublicBaseURL     string
	VoiceName         string
	Language          string
	VerifyTimeout     time.Duration
	ValidateSignature bool
	TwilioAuthToken   string
}

// Handler serves /incoming_call and /process_incoming.
type Handler struct {
	sessions      sessions.Store
	engine        DialogueEngine
	classifier    intent.Classifier
	verifier      Verifier
	repo          appointments.Repository
	publisher     JobPublisher
	metrics       *metrics.VoiceMetrics
	logger        *logging.Logger
	cfg           Config
	verifyTimeout time.Duration
	now           func() time.Time
}

// NewHandler wires the controller. classifier defaults to the phrase classifier.
func NewHandler(
	store sessions.Store,
	engine DialogueEngine,
	classifier intent.Classifier,
	verifier Verifier,
	repo appointments.Repository,
	publisher JobPublisher,
	m *metrics.VoiceMetrics,
	cfg Config,
	logger *logging.Logger,
) *Handler {
	if store == nil {
		panic("voice: session store cannot be nil")
	}
	if engine == nil {
		panic("voice: dialogue engine cannot be nil")
	}
	if verifier == nil {
		panic("voice: verifier cannot be nil")
	}
	if repo == nil {
		panic("voice: repository cannot be nil")
	}
	if publisher == nil {
		panic("voice: job publisher cannot be nil")
	}
	if classifier == nil {
		classifier = intent.NewPhraseClassifier()
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.Language == "" {
		cfg.Language = "en-us"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	verifyTimeout := cfg.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = defaultVerifyLimit
	}
	return &Handler{
		sessions:      store,
		engine:        engine,
		classifier:    classifier,
		verifier:      verifier,
		repo:          repo,
		publisher:     publisher,
		metrics:       m,
		logger:        logger,
		cfg:           cfg,
		verifyTimeout: verifyTimeout,
		now:           time.Now,
	}
}

// IncomingCall handles POST /incoming_call.
func (h *Handler) IncomingCall(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency("incoming_call", time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(r.Context(), "voice.incoming_call")
	defer span.End()

	if !h.authorized(w, r) {
		return
	}
	from := strings.TrimSpace(r.PostFormValue("From"))

	cfg := h.seedConfig(ctx, from)
	sessionID, err := h.sessions.Create(ctx, from, cfg)
	if err != nil {
		h.logger.Error("failed to create call session", "from", maskedCaller(from), "error", err)
		span.RecordError(err)
		h.respond(w, h.twiml().Say(temporaryError).Hangup())
		return
	}
	h.metrics.SessionOpened()
	cfg, err = h.sessions.Get(ctx, sessionID)
	if err != nil {
		h.logger.Error("failed to reload call session", "session_id", sessionID, "error", err)
		span.RecordError(err)
		h.respond(w, h.twiml().Say(temporaryError).Hangup())
		return
	}
	span.SetAttributes(attribute.String("voice.session_id", sessionID))
	logger := h.logger.ForCall(from, sessionID)
	logger.Info("incoming call", "pending_appointments", len(cfg.PendingAppointmentIDs))

	message := intent.FallbackMessage
	reply, err := h.engine.Advance(ctx, cfg, seedUtterance+from)
	if err != nil {
		logger.Error("opening turn failed", "error", err)
		span.RecordError(err)
	} else if reply.Message != "" {
		message = reply.Message
	}
	h.logTurn(ctx, sessionID, llm.RoleAssistant, message)

	h.respond(w, h.twiml().Say(greeting).Gather(h.gatherAction(sessionID), message))
}

// ProcessIncoming handles POST /process_incoming?session_id=.
func (h *Handler) ProcessIncoming(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { h.metrics.ObserveWebhookLatency("process_incoming", time.Since(start).Seconds()) }()

	ctx, span := tracer.Start(r.Context(), "voice.process_incoming")
	defer span.End()

	if !h.authorized(w, r) {
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	from := strings.TrimSpace(r.PostFormValue("From"))
	speech := strings.ToLower(strings.TrimSpace(r.PostFormValue("SpeechResult")))
	span.SetAttributes(attribute.String("voice.session_id", sessionID))
	logger := h.logger.ForCall(from, sessionID)

	if sessionID != "" {
		destroyed, err := h.sessions.IsDestroyed(ctx, sessionID)
		if err != nil {
			logger.Warn("destroyed-session check failed", "error", err)
		}
		if destroyed {
			logger.Info("turn for a closed session ignored")
			h.respond(w, h.twiml().Hangup())
			return
		}
	}

	// Unknown sessions are rejected before any caller state is written.
	cfg, err := h.sessions.Get(ctx, sessionID)
	switch {
	case errors.Is(err, sessions.ErrSessionClosed):
		h.respond(w, h.twiml().Hangup())
		return
	case err != nil:
		if !errors.Is(err, sessions.ErrSessionNotFound) {
			logger.Error("failed to load call session", "error", err)
		}
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	state, err := h.sessions.Touch(ctx, from, 1)
	if err != nil {
		logger.Warn("failed to update call state", "error", err)
	}
	h.logTurn(ctx, sessionID, llm.RoleUser, speech)

	if intent.IsGoodbye(speech) {
		logger.Info("caller said goodbye")
		h.metrics.ObserveTurn("goodbye")
		h.closeSession(ctx, from, sessionID, sessions.PhaseGoodbye)
		h.respond(w, h.twiml().Say(farewell).Hangup())
		return
	}

	reply, err := h.engine.Advance(ctx, cfg, speech)
	if err != nil {
		logger.Error("dialogue turn failed", "error", err)
		span.RecordError(err)
		h.metrics.ObserveTurn("error")
		h.closeSession(ctx, from, sessionID, sessions.PhaseGoodbye)
		h.respond(w, h.twiml().Say(temporaryError).Hangup())
		return
	}

	result := h.classifier.Classify(reply.Message)
	span.SetAttributes(attribute.String("voice.intent", string(result.Intent)))
	h.logTurn(ctx, sessionID, llm.RoleAssistant, result.Message)

	switch result.Intent {
	case intent.BookingDone:
		h.finish(ctx, w, logger, result.Intent, cfg, state, reply, nil, bookingClosing)
	case intent.CancelDone, intent.RescheduleDone:
		target, prompt := h.verifyTarget(ctx, result.Intent, cfg, reply.Transcript)
		if target == nil {
			logger.Info("terminal reply not verified, asking caller", "intent", result.Intent)
			h.metrics.ObserveTurn("unverified")
			if err := h.engine.Remember(ctx, cfg.ThreadID, prompt); err != nil {
				logger.Warn("failed to record recovery prompt", "error", err)
			}
			h.listen(ctx, w, from, sessionID, prompt)
			return
		}
		closing := cancelClosing
		if result.Intent == intent.RescheduleDone {
			closing = rescheduleClosing
		}
		h.finish(ctx, w, logger, result.Intent, cfg, state, reply, target, closing)
	default:
		h.metrics.ObserveTurn(result.Intent.Kind())
		h.listen(ctx, w, from, sessionID, result.Message)
	}
}

// finish speaks the closing line, hands the rest to a trailing job and
// closes the session.
func (h *Handler) finish(ctx context.Context, w http.ResponseWriter, logger *logging.Logger, in intent.Intent, cfg sessions.DialogueConfig, state sessions.CallState, reply dialogue.Reply, target *jobs.VerifiedTarget, closing string) {
	kind := jobs.Kind(in.Kind())
	h.metrics.ObserveTurn(in.Kind())
	h.respond(w, h.twiml().Say(closing).Hangup())

	payload := jobs.Payload{
		Kind:        kind,
		SessionID:   cfg.SessionID,
		CallerID:    cfg.CallerID,
		LastMessage: reply.Message,
		Transcript:  reply.Transcript,
		Verified:    target,
		TurnCount:   state.TurnCount,
		StartedAt:   state.StartedAt,
	}
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), enqueueTimeout)
	defer cancel()
	jobID, err := h.publisher.Enqueue(enqueueCtx, payload)
	if err != nil {
		logger.Error("failed to enqueue trailing job", "kind", kind, "error", err)
		h.metrics.ObserveEnqueueFailure(string(kind))
	} else {
		logger.Info("call finished", "kind", kind, "job_id", jobID)
	}

	h.closeSession(enqueueCtx, cfg.CallerID, cfg.SessionID, terminalPhase(in))
}

func (h *Handler) listen(ctx context.Context, w http.ResponseWriter, from, sessionID, prompt string) {
	if err := h.sessions.SetPhase(ctx, from, sessions.PhaseListening); err != nil {
		h.logger.Warn("failed to set call phase", "session_id", sessionID, "error", err)
	}
	h.respond(w, h.twiml().Gather(h.gatherAction(sessionID), prompt))
}

func (h *Handler) closeSession(ctx context.Context, from, sessionID string, phase sessions.Phase) {
	if err := h.sessions.SetPhase(ctx, from, phase); err != nil {
		h.logger.Warn("failed to set call phase", "session_id", sessionID, "error", err)
	}
	if err := h.sessions.Destroy(ctx, from, sessionID); err != nil {
		h.logger.Warn("failed to destroy call session", "session_id", sessionID, "error", err)
		return
	}
	h.metrics.SessionClosed()
}

func (h *Handler) logTurn(ctx context.Context, sessionID, role, message string) {
	if sessionID == "" {
		return
	}
	h.repo.AppendTurn(ctx, appointments.TurnLogEntry{SessionID: sessionID, Role: role, Message: message})
}

func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return false
	}
	if !h.cfg.ValidateSignature {
		return true
	}
	if !ValidateTwilioSignature(r, h.cfg.TwilioAuthToken, webhookURL(r, h.cfg.PublicBaseURL)) {
		h.logger.Warn("invalid twilio signature", "path", r.URL.Path)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, t *twiml) {
	if err := writeTwiML(w, t); err != nil {
		h.logger.Error("failed to write twiml", "error", err)
	}
}

func (h *Handler) twiml() *twiml {
	return newTwiML(h.cfg.VoiceName, h.cfg.Language)
}

func (h *Handler) gatherAction(sessionID string) string {
	return h.cfg.PublicBaseURL + "/process_incoming?session_id=" + url.QueryEscape(sessionID)
}

func terminalPhase(in intent.Intent) sessions.Phase {
	switch in {
	case intent.BookingDone:
		return sessions.PhaseBooking
	case intent.CancelDone:
		return sessions.PhaseCancel
	case intent.RescheduleDone:
		return sessions.PhaseReschedule
	}
	return sessions.PhaseGoodbye
}

func maskedCaller(phone string) string {
	return logging.MaskPhone(phone)
}
