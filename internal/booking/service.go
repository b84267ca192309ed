package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/metrics"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventSlotReleased         = "SLOT_RELEASED"
	EventSlotCreated          = "SLOT_CREATED"
	EventSlotDeleted          = "SLOT_DELETED"
	EventReviewSubmitted      = "REVIEW_SUBMITTED"
	EventSlotReconciled       = "SLOT_RECONCILED"
)

var (
	ErrSlotBeingBooked      = newError(ErrConflict, "slot is currently being booked, please retry")
	ErrNotAppointmentOwner  = newError(ErrUnauthorized, "appointment belongs to another patient")
	ErrNotSlotOwner         = newError(ErrUnauthorized, "slot belongs to another doctor")
	ErrInvalidPaymentMethod = newError(ErrValidation, "payment method must be online or at_clinic")
	ErrInvalidDate          = newError(ErrValidation, "date must be formatted YYYY-MM-DD")
	ErrInvalidTime          = newError(ErrValidation, "time must be formatted HH:MM")
	ErrInvalidTimeRange     = newError(ErrValidation, "end time must be after start time")
	ErrMissingFields        = newError(ErrValidation, "all fields are required")
	ErrMissingSlot          = newError(ErrValidation, "please select an available time slot")
)

// Coordinator keeps slot booked flags and appointments consistent. Every
// mutating operation is one unit of work on the Store.
type Coordinator struct {
	store   Store
	locker  redisclient.Locker
	metrics *metrics.BookingMetrics
	logger  zerolog.Logger
	now     func() time.Time
}

func NewCoordinator(store Store, locker redisclient.Locker, m *metrics.BookingMetrics, logger zerolog.Logger) *Coordinator {
	if locker == nil {
		locker = redisclient.NewLocalSlotLocker()
	}
	return &Coordinator{
		store:   store,
		locker:  locker,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

type BookRequest struct {
	DoctorID      int64
	PatientID     int64
	SlotID        int64
	PaymentMethod string
}

// Book reserves a free slot and creates a confirmed appointment for it.
// The per-slot lock sheds contending requests early; the conditional reserve
// inside the transaction is what guarantees a single winner.
func (c *Coordinator) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.SlotID <= 0 {
		return nil, ErrMissingSlot
	}
	method, err := ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		c.metrics.ObserveBooking("invalid")
		return nil, err
	}

	var created *Appointment

	err = c.locker.WithSlotLock(ctx, req.SlotID, func(lockCtx context.Context) error {
		return c.store.InTx(lockCtx, func(ctx context.Context, repo Repository) error {
			slot, err := repo.GetSlot(ctx, req.SlotID)
			if err != nil {
				return fmt.Errorf("load slot: %w", err)
			}
			if slot.DoctorID != req.DoctorID {
				return ErrSlotNotFound
			}
			if slot.IsBooked {
				return ErrSlotAlreadyBooked
			}

			reserved, err := repo.ReserveSlot(ctx, slot.ID)
			if err != nil {
				return fmt.Errorf("reserve slot: %w", err)
			}

			slotID := reserved.ID
			appt, err := repo.CreateAppointment(ctx, NewAppointment{
				PatientID:     req.PatientID,
				DoctorID:      reserved.DoctorID,
				SlotID:        &slotID,
				Timestamp:     reserved.StartsAt(),
				PaymentMethod: method,
			})
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			if err := c.recordEvent(ctx, repo, EventAppointmentBooked, &appt.ID, &slotID, map[string]any{
				"patient_id":     appt.PatientID,
				"doctor_id":      appt.DoctorID,
				"datetime":       appt.Timestamp,
				"payment_method": appt.PaymentMethod,
			}); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotBeingBooked
		}
		c.metrics.ObserveBooking(resultLabel(err))
		return nil, err
	}

	c.metrics.ObserveBooking("success")
	c.logger.Info().
		Int64("appointment_id", created.ID).
		Int64("slot_id", req.SlotID).
		Int64("patient_id", created.PatientID).
		Int64("doctor_id", created.DoctorID).
		Msg("appointment booked")

	return created, nil
}

type CancelRequest struct {
	AppointmentID int64
	PatientID     int64
}

type CancelResult struct {
	Appointment *Appointment
	// SlotFreed is false when the appointment was already cancelled or its
	// slot no longer exists.
	SlotFreed bool
}

// Cancel marks an appointment cancelled and re-opens its slot.
func (c *Coordinator) Cancel(ctx context.Context, req CancelRequest) (*CancelResult, error) {
	var result CancelResult

	err := c.store.InTx(ctx, func(ctx context.Context, repo Repository) error {
		appt, err := repo.GetAppointment(ctx, req.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.PatientID != req.PatientID {
			return ErrNotAppointmentOwner
		}
		if !appt.Status.Active() {
			// slot effect already happened on the first cancellation
			result.Appointment = appt
			return nil
		}

		// the status transition goes first so only the winning cancel
		// touches the slot
		cancelled, changed, err := repo.CancelAppointment(ctx, appt.ID)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if !changed {
			result.Appointment = cancelled
			return nil
		}

		slotID, freed, err := c.releaseSlot(ctx, repo, cancelled)
		if err != nil {
			return err
		}
		if freed {
			if err := c.recordEvent(ctx, repo, EventSlotReleased, &appt.ID, slotID, nil); err != nil {
				return err
			}
		}

		if err := c.recordEvent(ctx, repo, EventAppointmentCancelled, &appt.ID, slotID, map[string]any{
			"slot_freed": freed,
		}); err != nil {
			return err
		}

		result = CancelResult{Appointment: cancelled, SlotFreed: freed}
		return nil
	})
	if err != nil {
		c.metrics.ObserveCancellation(resultLabel(err), false)
		return nil, err
	}

	c.metrics.ObserveCancellation("success", result.SlotFreed)
	c.logger.Info().
		Int64("appointment_id", req.AppointmentID).
		Bool("slot_freed", result.SlotFreed).
		Msg("appointment cancelled")

	return &result, nil
}

// releaseSlot frees the slot an appointment holds. The stored slot_id wins;
// rows without one fall back to the (doctor, date, start time) identity.
// A missing slot is not an error: the cancellation still goes through.
func (c *Coordinator) releaseSlot(ctx context.Context, repo Repository, appt *Appointment) (*int64, bool, error) {
	if appt.SlotID != nil {
		slotID := *appt.SlotID
		was, err := repo.ReleaseSlot(ctx, slotID)
		if err == nil {
			return &slotID, was, nil
		}
		if !errors.Is(err, ErrSlotNotFound) {
			return nil, false, fmt.Errorf("release slot: %w", err)
		}
	}

	slot, err := repo.FindSlotByIdentity(ctx, SlotIdentity{
		DoctorID:  appt.DoctorID,
		Date:      DateOf(appt.Timestamp),
		StartTime: TimeOfDayOf(appt.Timestamp),
	})
	if errors.Is(err, ErrSlotNotFound) {
		c.logger.Warn().
			Int64("appointment_id", appt.ID).
			Time("datetime", appt.Timestamp).
			Msg("no slot matches cancelled appointment, nothing to re-open")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find slot by identity: %w", err)
	}

	was, err := repo.ReleaseSlot(ctx, slot.ID)
	if err != nil {
		return nil, false, fmt.Errorf("release slot: %w", err)
	}
	return &slot.ID, was, nil
}

type AvailabilityRequest struct {
	DoctorID  int64
	Date      time.Time
	StartTime TimeOfDay
	EndTime   TimeOfDay
}

// ParseAvailability builds a request from the YYYY-MM-DD / HH:MM form values.
func ParseAvailability(doctorID int64, date, start, end string) (AvailabilityRequest, error) {
	if date == "" || start == "" || end == "" {
		return AvailabilityRequest{}, ErrMissingFields
	}

	d, err := ParseDate(date)
	if err != nil {
		return AvailabilityRequest{}, err
	}
	s, err := ParseTimeOfDay(start)
	if err != nil {
		return AvailabilityRequest{}, err
	}
	e, err := ParseTimeOfDay(end)
	if err != nil {
		return AvailabilityRequest{}, err
	}

	return AvailabilityRequest{DoctorID: doctorID, Date: d, StartTime: s, EndTime: e}, nil
}

func (c *Coordinator) AddAvailability(ctx context.Context, req AvailabilityRequest) (*Slot, error) {
	if !req.StartTime.Before(req.EndTime) {
		c.metrics.ObserveAvailability("create", "invalid")
		return nil, ErrInvalidTimeRange
	}

	var created *Slot
	err := c.store.InTx(ctx, func(ctx context.Context, repo Repository) error {
		slot, err := repo.CreateSlot(ctx, NewSlot{
			DoctorID:  req.DoctorID,
			Date:      DateOf(req.Date),
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
		})
		if err != nil {
			return err
		}
		if err := c.recordEvent(ctx, repo, EventSlotCreated, nil, &slot.ID, map[string]any{
			"doctor_id":  slot.DoctorID,
			"date":       FormatDate(slot.Date),
			"start_time": slot.StartTime.String(),
			"end_time":   slot.EndTime.String(),
		}); err != nil {
			return err
		}
		created = slot
		return nil
	})
	c.metrics.ObserveAvailability("create", resultLabel(err))
	if err != nil {
		return nil, err
	}
	return created, nil
}

// DeleteAvailability removes a free slot owned by doctorID.
func (c *Coordinator) DeleteAvailability(ctx context.Context, doctorID, slotID int64) error {
	err := c.store.InTx(ctx, func(ctx context.Context, repo Repository) error {
		slot, err := repo.GetSlot(ctx, slotID)
		if err != nil {
			return fmt.Errorf("load slot: %w", err)
		}
		if slot.DoctorID != doctorID {
			return ErrNotSlotOwner
		}
		if slot.IsBooked {
			return ErrSlotBooked
		}
		if err := repo.DeleteSlot(ctx, slotID); err != nil {
			return err
		}
		return c.recordEvent(ctx, repo, EventSlotDeleted, nil, &slotID, nil)
	})
	c.metrics.ObserveAvailability("delete", resultLabel(err))
	return err
}

// Reads

func (c *Coordinator) FreeSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	return c.store.FindFreeSlots(ctx, doctorID, DateOf(from))
}

// UpcomingFreeSlots lists free slots from today on.
func (c *Coordinator) UpcomingFreeSlots(ctx context.Context, doctorID int64) ([]Slot, error) {
	return c.FreeSlots(ctx, doctorID, c.now())
}

func (c *Coordinator) DoctorSlots(ctx context.Context, doctorID int64) ([]Slot, error) {
	return c.store.ListSlotsByDoctor(ctx, doctorID)
}

func (c *Coordinator) PatientAppointments(ctx context.Context, patientID int64) ([]Appointment, error) {
	return c.store.ListAppointmentsByPatient(ctx, patientID)
}

func (c *Coordinator) DoctorAppointments(ctx context.Context, doctorID int64) ([]Appointment, error) {
	return c.store.ListAppointmentsByDoctor(ctx, doctorID)
}

func (c *Coordinator) AppointmentCount(ctx context.Context) (int64, error) {
	return c.store.CountAppointments(ctx)
}

func (c *Coordinator) recordEvent(ctx context.Context, repo Repository, eventType string, appointmentID, slotID *int64, payload map[string]any) error {
	var data []byte
	if payload != nil {
		var err error
		data, err = json.Marshal(payload)
		if err != nil {
			c.logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
			data = nil
		}
	}

	ev := Event{
		EventType:     eventType,
		AppointmentID: appointmentID,
		SlotID:        slotID,
		Payload:       data,
		CreatedAt:     c.now(),
	}
	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
