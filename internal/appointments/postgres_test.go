package appointments

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var appointmentRowColumns = []string{
	"appointment_id", "username", "phone_number", "mail", "location", "hospital_name",
	"specialization", "appointment_booking_date", "appointment_booking_time",
	"appointment_status", "date", "time",
}

func newMockRepo(t *testing.T) (*PostgresRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	repo := newPostgresRepositoryWithDB(mock, nil)
	repo.now = func() time.Time { return time.Date(2026, 10, 19, 14, 5, 9, 0, time.UTC) }
	return repo, mock
}

func pendingRow(id, status string) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentRowColumns).AddRow(
		id, "John", "+15550100199", "", "Chennai", "City Care", "cardiology",
		"2026-10-25", "10:00 AM", status, "2026-10-19", "09:00:00",
	)
}

func TestPostgresCreate(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO patient_information_details").
		WithArgs("APT-JOHN-17000001234", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "Pending", "2026-10-19", "14:05:09").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := repo.Create(context.Background(), Appointment{AppointmentID: "APT-JOHN-17000001234", Username: "John"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "42" {
		t.Fatalf("expected row id 42, got %q", id)
	}

	mock.ExpectQuery("INSERT INTO patient_information_details").WillReturnError(pgx.ErrNoRows)
	if _, err := repo.Create(context.Background(), Appointment{AppointmentID: "APT-JOHN-17000001234"}); !errors.Is(err, ErrDuplicateAppointment) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateStatusApplies(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("APT-JOHN-17000001234").
		WillReturnRows(pendingRow("APT-JOHN-17000001234", "Pending"))
	mock.ExpectExec("UPDATE patient_information_details").
		WithArgs("APT-JOHN-17000001234", "rescheduled", "2026-11-02", "3:00 PM").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	out, err := repo.UpdateStatus(context.Background(), StatusUpdate{
		AppointmentID: "APT-JOHN-17000001234",
		Status:        "Rescheduled",
		NewDate:       "2026-11-02",
		NewTime:       "3:00 PM",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Result != UpdateApplied {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Message != "Appointment APT-JOHN-17000001234 rescheduled to 2026-11-02 at 3:00 PM" {
		t.Fatalf("unexpected message %q", out.Message)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateStatusNoOpRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("APT-A-1").
		WillReturnRows(pendingRow("APT-A-1", "cancelled"))
	mock.ExpectRollback()

	out, err := repo.UpdateStatus(context.Background(), StatusUpdate{AppointmentID: "APT-A-1", Status: StatusCancelled})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Result != UpdateNoOp {
		t.Fatalf("expected no-op, got %+v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateStatusNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").WithArgs("APT-NONE-1").WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	out, err := repo.UpdateStatus(context.Background(), StatusUpdate{AppointmentID: "APT-NONE-1", Status: StatusConfirmed})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if out.Result != UpdateNotFound || out.Message != "No appointment found with ID APT-NONE-1" {
		t.Fatalf("unexpected outcome %+v", out)
	}

	// Empty ids never reach storage.
	out, err = repo.UpdateStatus(context.Background(), StatusUpdate{Status: StatusConfirmed})
	if err != nil || out.Result != UpdateNotFound {
		t.Fatalf("expected not-found without query, got %+v %v", out, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateStatusStorageError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	if _, err := repo.UpdateStatus(context.Background(), StatusUpdate{AppointmentID: "APT-A-1", Status: StatusConfirmed}); err == nil {
		t.Fatalf("expected storage error to surface")
	}
}

func TestPostgresFindPendingByPhone(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("FROM patient_information_details").WithArgs("5550100199").
		WillReturnRows(pendingRow("APT-JOHN-17000001234", "Pending"))
	found, err := repo.FindPendingByPhone(context.Background(), "+1 (555) 010-0199")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found) != 1 || found[0].AppointmentID != "APT-JOHN-17000001234" || found[0].HospitalName != "City Care" {
		t.Fatalf("unexpected appointments %+v", found)
	}

	mock.ExpectQuery("FROM patient_information_details").WithArgs("5550100000").
		WillReturnRows(pgxmock.NewRows(appointmentRowColumns))
	if _, err := repo.FindPendingByPhone(context.Background(), "5550100000"); !errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected ErrNoMatch, got %v", err)
	}

	mock.ExpectQuery("FROM patient_information_details").WithArgs("5550100001").
		WillReturnError(errors.New("timeout"))
	_, err = repo.FindPendingByPhone(context.Background(), "5550100001")
	if err == nil || errors.Is(err, ErrNoMatch) {
		t.Fatalf("expected lookup failure distinct from no-match, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresAppendChatSwallowsErrors(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("INSERT INTO patient_chat").
		WithArgs("John", "user: hi", pgxmock.AnyArg(), pgxmock.AnyArg(), "2026-10-19", "14:05:09").
		WillReturnError(errors.New("disk full"))
	repo.AppendChat(context.Background(), ChatRecord{PatientName: "John", ChatHistory: "user: hi"})

	mock.ExpectExec("INSERT INTO patient_turn_log").
		WithArgs("s1", "assistant", "Hello", "2026-10-19", "14:05:09").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	repo.AppendTurn(context.Background(), TurnLogEntry{SessionID: "s1", Role: "assistant", Message: "Hello"})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
