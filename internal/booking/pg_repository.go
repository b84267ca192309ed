package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxBeginner is a DBTX that can open transactions.
type TxBeginner interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

// PgStore runs units of work in a pgx transaction.
type PgStore struct {
	*PgRepository
	pool TxBeginner
}

func NewPgStore(pool TxBeginner) *PgStore {
	return &PgStore{
		PgRepository: NewPgRepository(pool),
		pool:         pool,
	}
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, NewPgRepository(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Helpers

const slotColumns = `availability_id, doctor_id, to_char(date, 'YYYY-MM-DD'),
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), is_booked, created_at`

const appointmentColumns = `appointment_id, patient_id, doctor_id, slot_id, datetime, status, payment_method, created_at`

const reviewColumns = `review_id, patient_id, doctor_id, appointment_id, rating, feedback, created_at`

func scanSlotRow(row pgx.Row, extra ...any) (*Slot, error) {
	var (
		s                Slot
		date, start, end string
	)

	dest := append([]any{
		&s.ID,
		&s.DoctorID,
		&date,
		&start,
		&end,
		&s.IsBooked,
		&s.CreatedAt,
	}, extra...)

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	var err error
	if s.Date, err = ParseDate(date); err != nil {
		return nil, fmt.Errorf("slot %d date %q: %w", s.ID, date, err)
	}
	if s.StartTime, err = ParseTimeOfDay(start); err != nil {
		return nil, fmt.Errorf("slot %d start_time %q: %w", s.ID, start, err)
	}
	if s.EndTime, err = ParseTimeOfDay(end); err != nil {
		return nil, fmt.Errorf("slot %d end_time %q: %w", s.ID, end, err)
	}
	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		&a.Timestamp,
		&a.Status,
		&a.PaymentMethod,
		&a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	a.Timestamp = a.Timestamp.UTC()
	return &a, nil
}

func scanReview(row pgx.Row) (*Review, error) {
	var r Review

	err := row.Scan(
		&r.ID,
		&r.PatientID,
		&r.DoctorID,
		&r.AppointmentID,
		&r.Rating,
		&r.Feedback,
		&r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return &r, nil
}

func collectSlots(rows pgx.Rows) ([]Slot, error) {
	defer rows.Close()

	var result []Slot
	for rows.Next() {
		s, err := scanSlotRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Slot store

func (r *PgRepository) CreateSlot(ctx context.Context, s NewSlot) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO doctor_availability (doctor_id, date, start_time, end_time, is_booked, created_at)
		VALUES ($1, $2::date, $3::time, $4::time, FALSE, now())
		ON CONFLICT (doctor_id, date, start_time, end_time) DO NOTHING
		RETURNING `+slotColumns,
		s.DoctorID, FormatDate(s.Date), s.StartTime.String(), s.EndTime.String())

	slot, err := scanSlotRow(row)
	if errors.Is(err, ErrSlotNotFound) {
		return nil, ErrDuplicateSlot
	}
	if err != nil {
		return nil, fmt.Errorf("insert slot: %w", err)
	}
	return slot, nil
}

func (r *PgRepository) GetSlot(ctx context.Context, id int64) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_availability
		WHERE availability_id = $1
	`, id)
	return scanSlotRow(row)
}

func (r *PgRepository) DeleteSlot(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM doctor_availability
		WHERE availability_id = $1
		  AND is_booked = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// nothing deleted: either the slot is gone or it is booked
	if _, err := r.GetSlot(ctx, id); err != nil {
		return err
	}
	return ErrSlotBooked
}

func (r *PgRepository) FindFreeSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND is_booked = FALSE
		  AND date >= $2::date
		ORDER BY date, start_time
	`, doctorID, FormatDate(from))
	if err != nil {
		return nil, fmt.Errorf("query free slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) ListSlotsByDoctor(ctx context.Context, doctorID int64) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		ORDER BY date, start_time
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query doctor slots: %w", err)
	}
	return collectSlots(rows)
}

func (r *PgRepository) FindSlotByIdentity(ctx context.Context, id SlotIdentity) (*Slot, error) {
	var end *string
	if id.EndTime != nil {
		v := id.EndTime.String()
		end = &v
	}

	row := r.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM doctor_availability
		WHERE doctor_id = $1
		  AND date = $2::date
		  AND start_time = $3::time
		  AND ($4::time IS NULL OR end_time = $4::time)
		ORDER BY availability_id
		LIMIT 1
	`, id.DoctorID, FormatDate(id.Date), id.StartTime.String(), end)
	return scanSlotRow(row)
}

func (r *PgRepository) ReserveSlot(ctx context.Context, id int64) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE doctor_availability
		SET is_booked = TRUE
		WHERE availability_id = $1
		  AND is_booked = FALSE
		RETURNING `+slotColumns, id)

	slot, err := scanSlotRow(row)
	if errors.Is(err, ErrSlotNotFound) {
		// nothing reserved: either the slot is gone or it is already booked
		if _, err := r.GetSlot(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrSlotAlreadyBooked
	}
	if err != nil {
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
	return slot, nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, id int64) (bool, error) {
	var wasBooked bool
	err := r.db.QueryRow(ctx, `
		UPDATE doctor_availability AS s
		SET is_booked = FALSE
		FROM (
			SELECT availability_id, is_booked
			FROM doctor_availability
			WHERE availability_id = $1
			FOR UPDATE
		) AS prev
		WHERE s.availability_id = prev.availability_id
		RETURNING prev.is_booked
	`, id).Scan(&wasBooked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrSlotNotFound
		}
		return false, fmt.Errorf("release slot: %w", err)
	}
	return wasBooked, nil
}

func (r *PgRepository) SetSlotBooked(ctx context.Context, id int64, booked bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE doctor_availability
		SET is_booked = $2
		WHERE availability_id = $1
	`, id, booked)
	if err != nil {
		return fmt.Errorf("set slot booked: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func (r *PgRepository) FindSlotDrift(ctx context.Context) ([]SlotDrift, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.availability_id, s.doctor_id, to_char(s.date, 'YYYY-MM-DD'),
		       to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'),
		       s.is_booked, s.created_at, COUNT(a.appointment_id) AS active
		FROM doctor_availability s
		LEFT JOIN appointments a
		       ON a.status <> 'cancelled'
		      AND (a.slot_id = s.availability_id
		           OR (a.slot_id IS NULL
		               AND a.doctor_id = s.doctor_id
		               AND a.datetime = s.date + s.start_time))
		GROUP BY s.availability_id
		HAVING s.is_booked <> (COUNT(a.appointment_id) > 0)
		ORDER BY s.availability_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query slot drift: %w", err)
	}
	defer rows.Close()

	var result []SlotDrift
	for rows.Next() {
		var active int64
		s, err := scanSlotRow(rows, &active)
		if err != nil {
			return nil, err
		}
		result = append(result, SlotDrift{Slot: *s, ActiveAppointments: int(active)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Appointment store

func (r *PgRepository) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (patient_id, doctor_id, slot_id, datetime, status, payment_method, created_at)
		VALUES ($1, $2, $3, $4, 'confirmed', $5, now())
		RETURNING `+appointmentColumns,
		a.PatientID, a.DoctorID, a.SlotID, a.Timestamp, string(a.PaymentMethod))

	appt, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// uq_appointments_active_slot
			return nil, ErrSlotAlreadyBooked
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}
	return appt, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appointment_id = $1
	`, id)
	return scanAppointment(row)
}

// CancelAppointment is a conditional transition. A concurrent cancel of the
// same row waits on the row lock, then matches nothing.
func (r *PgRepository) CancelAppointment(ctx context.Context, id int64) (*Appointment, bool, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled'
		WHERE appointment_id = $1
		  AND status <> 'cancelled'
		RETURNING `+appointmentColumns, id)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, true, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, false, fmt.Errorf("cancel appointment: %w", err)
	}

	// nothing updated: either the appointment is gone or already cancelled
	current, err := r.GetAppointment(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC, appointment_id DESC
	`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query patient appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		ORDER BY datetime, appointment_id
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query doctor appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) CountAppointments(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM appointments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count appointments: %w", err)
	}
	return n, nil
}

// Review store

func (r *PgRepository) CreateReview(ctx context.Context, rv NewReview) (*Review, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO reviews (patient_id, doctor_id, appointment_id, rating, feedback, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (appointment_id) DO NOTHING
		RETURNING `+reviewColumns,
		rv.PatientID, rv.DoctorID, rv.AppointmentID, rv.Rating, rv.Feedback)

	review, err := scanReview(row)
	if errors.Is(err, ErrReviewNotFound) {
		return nil, ErrAlreadyReviewed
	}
	if err != nil {
		return nil, fmt.Errorf("insert review: %w", err)
	}
	return review, nil
}

func (r *PgRepository) GetReviewByAppointment(ctx context.Context, appointmentID int64) (*Review, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE appointment_id = $1
	`, appointmentID)
	return scanReview(row)
}

func (r *PgRepository) ListReviewsByDoctor(ctx context.Context, doctorID int64) ([]Review, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+reviewColumns+`
		FROM reviews
		WHERE doctor_id = $1
		ORDER BY created_at DESC, review_id DESC
	`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("query doctor reviews: %w", err)
	}
	defer rows.Close()

	var result []Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Event log

func (r *PgRepository) InsertEvent(ctx context.Context, ev Event) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO booking_events (event_type, appointment_id, slot_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.SlotID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert booking event: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
