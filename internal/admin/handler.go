// Package admin exposes read and confirm operations over appointments and
// trailing job status for operators.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/azentyk/voice-appointments/internal/appointments"
	"github.com/azentyk/voice-appointments/internal/extraction"
	"github.com/azentyk/voice-appointments/internal/http/middleware"
	"github.com/azentyk/voice-appointments/internal/jobs"
	"github.com/azentyk/voice-appointments/internal/locks"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const maxTranscriptBytes = 64 << 10

// ConfirmationExtractor reads the outcome of a receptionist call.
type ConfirmationExtractor interface {
	ExtractConfirmation(ctx context.Context, transcript string) (extraction.ConfirmationRecord, error)
}

// Handler serves the /admin routes.
type Handler struct {
	repo      appointments.Repository
	jobs      jobs.JobStore
	locker    locks.Locker
	extractor ConfirmationExtractor
	logger    *logging.Logger
}

type Option func(*Handler)

// WithConfirmationExtractor enables POST /confirmations.
func WithConfirmationExtractor(x ConfirmationExtractor) Option {
	return func(h *Handler) { h.extractor = x }
}

// NewHandler wires the admin handler. jobStore may be nil, in which case the
// job status route answers 404. locker defaults to NoopLocker.
func NewHandler(repo appointments.Repository, jobStore jobs.JobStore, locker locks.Locker, logger *logging.Logger, opts ...Option) *Handler {
	if repo == nil {
		panic("admin: repository cannot be nil")
	}
	if locker == nil {
		locker = locks.NoopLocker{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	h := &Handler{repo: repo, jobs: jobStore, locker: locker, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the admin sub-router. Authentication is applied by the caller.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/appointments", h.PendingByPhone)
	r.Get("/appointments/{appointmentID}", h.GetAppointment)
	r.Post("/appointments/{appointmentID}/confirm", h.ConfirmAppointment)
	r.Post("/confirmations", h.ConfirmFromTranscript)
	r.Get("/jobs/{jobID}", h.GetJob)
	return r
}

type appointmentsResponse struct {
	Appointments []appointments.Appointment `json:"appointments"`
}

type updateResponse struct {
	AppointmentID string `json:"appointment_id"`
	Result        string `json:"result"`
	Message       string `json:"message"`
	Previous      string `json:"previous_status,omitempty"`
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := appointmentIDParam(r)
	if id == "" {
		http.Error(w, "missing appointment id", http.StatusBadRequest)
		return
	}
	appt, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, appointments.ErrNotFound) {
		http.Error(w, "appointment not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load appointment", "appointment_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// PendingByPhone lists pending appointments for ?phone=.
func (h *Handler) PendingByPhone(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.URL.Query().Get("phone"))
	if phone == "" {
		http.Error(w, "phone query parameter is required", http.StatusBadRequest)
		return
	}
	appts, err := h.repo.FindPendingByPhone(r.Context(), phone)
	if errors.Is(err, appointments.ErrNoMatch) {
		http.Error(w, "no pending appointments", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to look up pending appointments", "phone", logging.MaskPhone(phone), "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: appts})
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (h *Handler) ConfirmAppointment(w http.ResponseWriter, r *http.Request) {
	id := appointmentIDParam(r)
	if id == "" {
		http.Error(w, "missing appointment id", http.StatusBadRequest)
		return
	}

	h.apply(w, r, id, appointments.StatusConfirmed)
}

type confirmationRequest struct {
	Transcript string `json:"transcript"`
}

// ConfirmFromTranscript applies the outcome of a receptionist call. The
// transcript must name the appointment; a missing status means confirmed.
func (h *Handler) ConfirmFromTranscript(w http.ResponseWriter, r *http.Request) {
	if h.extractor == nil {
		http.Error(w, "transcript confirmation disabled", http.StatusNotFound)
		return
	}
	var req confirmationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTranscriptBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		http.Error(w, "transcript is required", http.StatusBadRequest)
		return
	}

	record, err := h.extractor.ExtractConfirmation(r.Context(), req.Transcript)
	if err != nil {
		h.logger.Error("confirmation extraction failed", "error", err)
		http.Error(w, "could not read transcript", http.StatusBadGateway)
		return
	}
	id := strings.TrimSpace(extraction.Value(record.AppointmentID))
	if id == "" {
		http.Error(w, "transcript does not name an appointment", http.StatusUnprocessableEntity)
		return
	}

	status := appointments.StatusConfirmed
	if raw := extraction.Value(record.AppointmentStatus); raw != "" {
		parsed, ok := appointments.ParseStatus(raw)
		if !ok || (parsed != appointments.StatusConfirmed && parsed != appointments.StatusCancelled) {
			http.Error(w, "unsupported status "+raw, http.StatusUnprocessableEntity)
			return
		}
		status = parsed
	}
	h.apply(w, r, id, status)
}

// apply runs one status change under the appointment lock and writes the
// outcome.
func (h *Handler) apply(w http.ResponseWriter, r *http.Request, id string, status appointments.Status) {
	var outcome appointments.UpdateOutcome
	err := h.locker.WithLock(r.Context(), appointments.LockKey(id), func(ctx context.Context) error {
		var err error
		outcome, err = h.repo.UpdateStatus(ctx, appointments.StatusUpdate{
			AppointmentID: id,
			Status:        status,
		})
		return err
	})
	if errors.Is(err, locks.ErrLockNotAcquired) {
		http.Error(w, "appointment is being updated", http.StatusConflict)
		return
	}
	if err != nil {
		h.logger.Error("failed to update appointment", "appointment_id", id, "status", status, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	actor := ""
	if claims, ok := middleware.AdminClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}
	h.logger.Info("appointment status change requested", "appointment_id", id, "status", status, "result", outcome.Result, "admin", actor)
	writeJSON(w, statusFor(outcome.Result), updateResponse{
		AppointmentID: id,
		Result:        string(outcome.Result),
		Message:       outcome.Message,
		Previous:      string(outcome.Previous),
	})
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
	if jobID == "" {
		http.Error(w, "missing job id", http.StatusBadRequest)
		return
	}
	if h.jobs == nil {
		http.Error(w, "job tracking disabled", http.StatusNotFound)
		return
	}
	job, err := h.jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("failed to load job", "job_id", jobID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func statusFor(result appointments.UpdateResult) int {
	switch result {
	case appointments.UpdateApplied, appointments.UpdateNoOp:
		return http.StatusOK
	case appointments.UpdateNotFound:
		return http.StatusNotFound
	case appointments.UpdateRejected:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

func appointmentIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "appointmentID"))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
