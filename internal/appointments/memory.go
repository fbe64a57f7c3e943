package appointments

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps appointments in process. It backs local runs and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	seq      int64
	appts    map[string]memoryRow
	patients map[string]PatientProfile
	chats    []ChatRecord
	turns    []TurnLogEntry
	now      func() time.Time
}

type memoryRow struct {
	id   int64
	appt Appointment
}

func idKey(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		appts:    make(map[string]memoryRow),
		patients: make(map[string]PatientProfile),
		now:      time.Now,
	}
}

var _ Repository = (*MemoryRepository)(nil)

func (m *MemoryRepository) Create(_ context.Context, appt Appointment) (string, error) {
	id := strings.TrimSpace(appt.AppointmentID)
	if id == "" {
		return "", errors.New("appointments: appointment id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.appts[idKey(id)]; exists {
		return "", ErrDuplicateAppointment
	}
	if appt.AppointmentStatus == "" {
		appt.AppointmentStatus = StatusPending
	}
	now := m.now()
	appt.AppointmentID = id
	appt.Date = now.Format(dateLayout)
	appt.Time = now.Format(timeLayout)
	m.seq++
	m.appts[idKey(id)] = memoryRow{id: m.seq, appt: appt}
	return strconv.FormatInt(m.seq, 10), nil
}

func (m *MemoryRepository) Get(_ context.Context, appointmentID string) (Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.appts[idKey(appointmentID)]
	if !ok {
		return Appointment{}, ErrNotFound
	}
	return row.appt, nil
}

func (m *MemoryRepository) UpdateStatus(_ context.Context, update StatusUpdate) (UpdateOutcome, error) {
	update, rejected := validateUpdate(update)
	if rejected != nil {
		return *rejected, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.appts[idKey(update.AppointmentID)]
	if !ok {
		return UpdateOutcome{
			Result:  UpdateNotFound,
			Message: "No appointment found with ID " + update.AppointmentID,
		}, nil
	}
	update.AppointmentID = row.appt.AppointmentID
	next, outcome := planUpdate(row.appt, update)
	if outcome.Result == UpdateApplied {
		row.appt = next
		m.appts[idKey(update.AppointmentID)] = row
	}
	return outcome, nil
}

func (m *MemoryRepository) FindPendingByPhone(_ context.Context, phone string) ([]Appointment, error) {
	suffix := LastTenDigits(phone)
	if suffix == "" {
		return nil, ErrNoMatch
	}
	m.mu.Lock()
	rows := make([]memoryRow, 0)
	for _, row := range m.appts {
		if LastTenDigits(row.appt.PhoneNumber) == suffix && row.appt.AppointmentStatus.Is(StatusPending) {
			rows = append(rows, row)
		}
	}
	m.mu.Unlock()
	if len(rows) == 0 {
		return nil, ErrNoMatch
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].id < rows[j].id })
	out := make([]Appointment, len(rows))
	for i, row := range rows {
		out[i] = row.appt
	}
	return out, nil
}

func (m *MemoryRepository) FindPatientByPhone(_ context.Context, phone string) (PatientProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[LastTenDigits(phone)]
	if !ok {
		return PatientProfile{}, ErrNoMatch
	}
	return p, nil
}

// UpsertPatient saves a caller profile keyed by the number's last ten digits.
func (m *MemoryRepository) UpsertPatient(_ context.Context, p PatientProfile) error {
	suffix := LastTenDigits(p.Phone)
	if suffix == "" {
		return errors.New("appointments: patient phone required")
	}
	m.mu.Lock()
	m.patients[suffix] = p
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) AppendChat(_ context.Context, rec ChatRecord) {
	now := m.now()
	if rec.Date == "" {
		rec.Date = now.Format(dateLayout)
	}
	if rec.Time == "" {
		rec.Time = now.Format(timeLayout)
	}
	m.mu.Lock()
	m.chats = append(m.chats, rec)
	m.mu.Unlock()
}

func (m *MemoryRepository) AppendTurn(_ context.Context, entry TurnLogEntry) {
	now := m.now()
	if entry.Date == "" {
		entry.Date = now.Format(dateLayout)
	}
	if entry.Time == "" {
		entry.Time = now.Format(timeLayout)
	}
	m.mu.Lock()
	m.turns = append(m.turns, entry)
	m.mu.Unlock()
}

// Chats returns a copy of the stored chat records.
func (m *MemoryRepository) Chats() []ChatRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRecord(nil), m.chats...)
}

// Turns returns a copy of the stored turn log.
func (m *MemoryRepository) Turns() []TurnLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]TurnLogEntry(nil), m.turns...)
}
