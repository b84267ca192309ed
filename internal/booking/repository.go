package booking

import (
	"context"
	"errors"
	"time"
)

// Error kinds. Every booking error wraps exactly one of these.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrValidation   = errors.New("validation failed")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Message returns the user-facing text of the booking error inside err,
// without the wrapping context added on the way up.
func Message(err error) (string, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg, true
	}
	return "", false
}

var (
	ErrSlotNotFound        = newError(ErrNotFound, "slot not found")
	ErrAppointmentNotFound = newError(ErrNotFound, "appointment not found")
	ErrReviewNotFound      = newError(ErrNotFound, "review not found")
	ErrDuplicateSlot       = newError(ErrConflict, "this availability slot already exists")
	ErrSlotBooked          = newError(ErrConflict, "cannot delete a booked slot")
	ErrSlotAlreadyBooked   = newError(ErrConflict, "this time slot has already been booked")
	ErrAlreadyReviewed     = newError(ErrConflict, "appointment has already been reviewed")
)

// SlotStore holds availability records.
type SlotStore interface {
	CreateSlot(ctx context.Context, s NewSlot) (*Slot, error)
	GetSlot(ctx context.Context, id int64) (*Slot, error)
	DeleteSlot(ctx context.Context, id int64) error
	FindFreeSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error)
	ListSlotsByDoctor(ctx context.Context, doctorID int64) ([]Slot, error)
	FindSlotByIdentity(ctx context.Context, id SlotIdentity) (*Slot, error)

	// ReserveSlot flips is_booked false->true atomically and fails with
	// ErrSlotAlreadyBooked when the slot was not free.
	ReserveSlot(ctx context.Context, id int64) (*Slot, error)
	// ReleaseSlot clears is_booked and reports whether it was set.
	ReleaseSlot(ctx context.Context, id int64) (bool, error)

	// Reconciliation
	SetSlotBooked(ctx context.Context, id int64, booked bool) error
	FindSlotDrift(ctx context.Context) ([]SlotDrift, error)
}

// AppointmentStore holds appointment records.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	GetAppointment(ctx context.Context, id int64) (*Appointment, error)
	// CancelAppointment moves an active appointment to cancelled and reports
	// whether this call made the transition. An already cancelled row comes
	// back unchanged with false.
	CancelAppointment(ctx context.Context, id int64) (*Appointment, bool, error)
	ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error)
	CountAppointments(ctx context.Context) (int64, error)
}

type ReviewStore interface {
	CreateReview(ctx context.Context, r NewReview) (*Review, error)
	GetReviewByAppointment(ctx context.Context, appointmentID int64) (*Review, error)
	ListReviewsByDoctor(ctx context.Context, doctorID int64) ([]Review, error)
}

type EventStore interface {
	InsertEvent(ctx context.Context, ev Event) error
}

// Repository contains all persistence needed by the coordinator.
type Repository interface {
	SlotStore
	AppointmentStore
	ReviewStore
	EventStore
}

// Store is a Repository that can also run a unit of work. fn sees a
// Repository bound to the transaction; a non-nil return rolls back every
// write fn made.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
