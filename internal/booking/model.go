package booking

import (
	"fmt"
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Active reports whether the appointment still holds its slot.
func (s AppointmentStatus) Active() bool {
	return s != StatusCancelled
}

type PaymentMethod string

const (
	PaymentOnline   PaymentMethod = "online"
	PaymentAtClinic PaymentMethod = "at_clinic"
)

// ParsePaymentMethod accepts the two payment labels. Empty means at_clinic.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.TrimSpace(raw)) {
	case "", PaymentAtClinic:
		return PaymentAtClinic, nil
	case PaymentOnline:
		return PaymentOnline, nil
	}
	return "", ErrInvalidPaymentMethod
}

const (
	dateLayout = "2006-01-02"
)

// TimeOfDay is a wall-clock time at minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return TimeOfDay{}, ErrInvalidTime
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// TimeOfDayOf extracts the wall-clock part of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

func (t TimeOfDay) Before(o TimeOfDay) bool {
	return t.Minutes() < o.Minutes()
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// DateOf truncates t to midnight UTC of its calendar day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// Combine joins a calendar date with a wall-clock time.
func Combine(date time.Time, at TimeOfDay) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, at.Hour, at.Minute, 0, 0, time.UTC)
}

// Slot is a doctor-published block of bookable time (doctor_availability).
type Slot struct {
	ID        int64
	DoctorID  int64
	Date      time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
	IsBooked  bool
	CreatedAt time.Time
}

// StartsAt is the appointment timestamp a booking of this slot receives.
func (s Slot) StartsAt() time.Time {
	return Combine(s.Date, s.StartTime)
}

// SlotIdentity is the natural key of a slot. EndTime is optional for lookups.
type SlotIdentity struct {
	DoctorID  int64
	Date      time.Time
	StartTime TimeOfDay
	EndTime   *TimeOfDay
}

type NewSlot struct {
	DoctorID  int64
	Date      time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
}

type Appointment struct {
	ID            int64
	PatientID     int64
	DoctorID      int64
	SlotID        *int64 // nil once the slot row was deleted or for identity-linked rows
	Timestamp     time.Time
	Status        AppointmentStatus
	PaymentMethod PaymentMethod
	CreatedAt     time.Time
}

type NewAppointment struct {
	PatientID     int64
	DoctorID      int64
	SlotID        *int64
	Timestamp     time.Time
	PaymentMethod PaymentMethod
}

type Review struct {
	ID            int64
	PatientID     int64
	DoctorID      int64
	AppointmentID int64
	Rating        int
	Feedback      string
	CreatedAt     time.Time
}

type NewReview struct {
	PatientID     int64
	DoctorID      int64
	AppointmentID int64
	Rating        int
	Feedback      string
}

type Event struct {
	ID            int64
	EventType     string
	AppointmentID *int64
	SlotID        *int64
	Payload       []byte
	CreatedAt     time.Time
}

// SlotDrift is a slot whose booked flag disagrees with its active appointments.
type SlotDrift struct {
	Slot               Slot
	ActiveAppointments int
}

// Expected is the booked flag the slot should carry.
func (d SlotDrift) Expected() bool {
	return d.ActiveAppointments > 0
}
