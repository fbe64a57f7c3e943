package appointments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/azentyk/voice-appointments/pkg/logging"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type pgxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const appointmentColumns = `
	appointment_id,
	COALESCE(username, ''),
	COALESCE(phone_number, ''),
	COALESCE(mail, ''),
	COALESCE(location, ''),
	COALESCE(hospital_name, ''),
	COALESCE(specialization, ''),
	COALESCE(appointment_booking_date, ''),
	COALESCE(appointment_booking_time, ''),
	appointment_status,
	date,
	time`

// PostgresRepository stores appointments and call audit rows in Postgres.
type PostgresRepository struct {
	db     pgxDB
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewPostgresRepository initializes a repository backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool, logger *logging.Logger) *PostgresRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return newPostgresRepositoryWithDB(pool, logger)
}

func newPostgresRepositoryWithDB(db pgxDB, logger *logging.Logger) *PostgresRepository {
	if db == nil {
		panic("appointments: db required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("azentyk.internal.appointments"),
		now:    time.Now,
	}
}

var _ Repository = (*PostgresRepository)(nil)

// Create inserts a new appointment and returns the storage row id. The record
// is stamped with the creation date and time; an existing appointment id is
// never overwritten.
func (r *PostgresRepository) Create(ctx context.Context, appt Appointment) (string, error) {
	ctx, span := r.tracer.Start(ctx, "appointments.create")
	defer span.End()

	if strings.TrimSpace(appt.AppointmentID) == "" {
		return "", errors.New("appointments: appointment id required")
	}
	if appt.AppointmentStatus == "" {
		appt.AppointmentStatus = StatusPending
	}
	now := r.now()
	appt.Date = now.Format(dateLayout)
	appt.Time = now.Format(timeLayout)

	query := `
		INSERT INTO patient_information_details (
			appointment_id, username, phone_number, mail, location, hospital_name,
			specialization, appointment_booking_date, appointment_booking_time,
			appointment_status, date, time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT DO NOTHING
		RETURNING id
	`
	var id int64
	err := r.db.QueryRow(ctx, query,
		appt.AppointmentID,
		nullable(appt.Username),
		nullable(appt.PhoneNumber),
		nullable(appt.Mail),
		nullable(appt.Location),
		nullable(appt.HospitalName),
		nullable(appt.Specialization),
		nullable(appt.AppointmentBookingDate),
		nullable(appt.AppointmentBookingTime),
		string(appt.AppointmentStatus),
		appt.Date,
		appt.Time,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrDuplicateAppointment
		}
		span.RecordError(err)
		return "", fmt.Errorf("appointments: insert failed: %w", err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (r *PostgresRepository) Get(ctx context.Context, appointmentID string) (Appointment, error) {
	query := `SELECT` + appointmentColumns + ` FROM patient_information_details WHERE lower(appointment_id) = lower($1)`
	appt, err := scanAppointment(r.db.QueryRow(ctx, query, strings.TrimSpace(appointmentID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Appointment{}, ErrNotFound
		}
		return Appointment{}, fmt.Errorf("appointments: get failed: %w", err)
	}
	return appt, nil
}

// UpdateStatus applies a status transition as a compare-and-set: the row is
// locked, the transition planned against its current status, and a single
// UPDATE writes status, date and time together.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, update StatusUpdate) (UpdateOutcome, error) {
	ctx, span := r.tracer.Start(ctx, "appointments.update_status")
	defer span.End()

	update, rejected := validateUpdate(update)
	if rejected != nil {
		return *rejected, nil
	}
	span.SetAttributes(
		attribute.String("appointment.id", update.AppointmentID),
		attribute.String("appointment.status", string(update.Status)),
	)

	tx, err := r.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return UpdateOutcome{}, fmt.Errorf("appointments: begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `SELECT` + appointmentColumns + ` FROM patient_information_details WHERE lower(appointment_id) = lower($1) FOR UPDATE`
	current, err := scanAppointment(tx.QueryRow(ctx, query, update.AppointmentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UpdateOutcome{
				Result:  UpdateNotFound,
				Message: fmt.Sprintf("No appointment found with ID %s", update.AppointmentID),
			}, nil
		}
		span.RecordError(err)
		return UpdateOutcome{}, fmt.Errorf("appointments: load for update: %w", err)
	}

	// Ids are matched case-insensitively; the stored spelling is canonical.
	update.AppointmentID = current.AppointmentID
	next, outcome := planUpdate(current, update)
	if outcome.Result != UpdateApplied {
		return outcome, nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE patient_information_details
		SET appointment_status = $2,
			appointment_booking_date = $3,
			appointment_booking_time = $4,
			updated_at = now()
		WHERE appointment_id = $1
	`, update.AppointmentID, string(next.AppointmentStatus), next.AppointmentBookingDate, next.AppointmentBookingTime); err != nil {
		span.RecordError(err)
		return UpdateOutcome{}, fmt.Errorf("appointments: update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return UpdateOutcome{}, fmt.Errorf("appointments: commit: %w", err)
	}
	committed = true
	return outcome, nil
}

// FindPendingByPhone returns pending appointments whose phone number shares
// the caller's last ten digits. ErrNoMatch signals an empty result.
func (r *PostgresRepository) FindPendingByPhone(ctx context.Context, phone string) ([]Appointment, error) {
	suffix := LastTenDigits(phone)
	if suffix == "" {
		return nil, ErrNoMatch
	}
	query := `SELECT` + appointmentColumns + `
		FROM patient_information_details
		WHERE phone_last10 = $1 AND lower(appointment_status) = 'pending'
		ORDER BY id`
	rows, err := r.db.Query(ctx, query, suffix)
	if err != nil {
		return nil, fmt.Errorf("appointments: find by phone: %w", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("appointments: scan appointment: %w", err)
		}
		out = append(out, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appointments: iterate appointments: %w", err)
	}
	if len(out) == 0 {
		return nil, ErrNoMatch
	}
	return out, nil
}

// FindPatientByPhone looks up the saved profile for a caller.
func (r *PostgresRepository) FindPatientByPhone(ctx context.Context, phone string) (PatientProfile, error) {
	suffix := LastTenDigits(phone)
	if suffix == "" {
		return PatientProfile{}, ErrNoMatch
	}
	var p PatientProfile
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(firstname, ''), COALESCE(email, ''), phone
		FROM patient_credentials
		WHERE phone_last10 = $1
		ORDER BY id DESC
		LIMIT 1
	`, suffix).Scan(&p.FirstName, &p.Email, &p.Phone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PatientProfile{}, ErrNoMatch
		}
		return PatientProfile{}, fmt.Errorf("appointments: find patient: %w", err)
	}
	return p, nil
}

// UpsertPatient saves a caller profile, replacing any earlier one for the same number.
func (r *PostgresRepository) UpsertPatient(ctx context.Context, p PatientProfile) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_credentials (firstname, email, phone)
		VALUES ($1, $2, $3)
		ON CONFLICT (phone) DO UPDATE SET firstname = EXCLUDED.firstname, email = EXCLUDED.email
	`, nullable(p.FirstName), nullable(p.Email), p.Phone)
	if err != nil {
		return fmt.Errorf("appointments: upsert patient: %w", err)
	}
	return nil
}

func (r *PostgresRepository) AppendChat(ctx context.Context, rec ChatRecord) {
	now := r.now()
	if rec.Date == "" {
		rec.Date = now.Format(dateLayout)
	}
	if rec.Time == "" {
		rec.Time = now.Format(timeLayout)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_chat (patient_name, chat_history, session_id, intent, date, time)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.PatientName, rec.ChatHistory, nullable(rec.SessionID), nullable(rec.Intent), rec.Date, rec.Time)
	if err != nil {
		r.logger.Warn("failed to store chat record", "session_id", rec.SessionID, "error", err)
	}
}

func (r *PostgresRepository) AppendTurn(ctx context.Context, entry TurnLogEntry) {
	now := r.now()
	if entry.Date == "" {
		entry.Date = now.Format(dateLayout)
	}
	if entry.Time == "" {
		entry.Time = now.Format(timeLayout)
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO patient_turn_log (session_id, role, message, date, time)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.SessionID, entry.Role, entry.Message, entry.Date, entry.Time)
	if err != nil {
		r.logger.Warn("failed to store turn log", "session_id", entry.SessionID, "error", err)
	}
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var a Appointment
	var status string
	err := row.Scan(
		&a.AppointmentID,
		&a.Username,
		&a.PhoneNumber,
		&a.Mail,
		&a.Location,
		&a.HospitalName,
		&a.Specialization,
		&a.AppointmentBookingDate,
		&a.AppointmentBookingTime,
		&status,
		&a.Date,
		&a.Time,
	)
	a.AppointmentStatus = Status(status)
	return a, err
}

func nullable(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
