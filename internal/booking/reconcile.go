package booking

import (
	"context"
	"errors"
	"fmt"

	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

type ReconcileReport struct {
	Drift    []SlotDrift
	Repaired int
	Skipped  int // locked by an in-flight booking
}

// Reconcile finds slots whose booked flag disagrees with their active
// appointments. With repair set, each drifted slot is flipped under its
// slot lock and a SLOT_RECONCILED event is written.
func (c *Coordinator) Reconcile(ctx context.Context, repair bool) (*ReconcileReport, error) {
	drift, err := c.store.FindSlotDrift(ctx)
	if err != nil {
		return nil, fmt.Errorf("find slot drift: %w", err)
	}

	report := &ReconcileReport{Drift: drift}
	for _, d := range drift {
		c.logger.Warn().
			Int64("slot_id", d.Slot.ID).
			Bool("is_booked", d.Slot.IsBooked).
			Int("active_appointments", d.ActiveAppointments).
			Msg("slot drift detected")

		if !repair {
			c.metrics.ObserveDrift(false)
			continue
		}

		repaired, err := c.repairSlot(ctx, d.Slot.ID)
		switch {
		case err == nil:
			if repaired {
				report.Repaired++
			}
			c.metrics.ObserveDrift(repaired)
		case errors.Is(err, redisclient.ErrLockNotAcquired):
			report.Skipped++
		default:
			return report, err
		}
	}

	return report, nil
}

func (c *Coordinator) repairSlot(ctx context.Context, slotID int64) (bool, error) {
	var repaired bool
	err := c.locker.WithSlotLock(ctx, slotID, func(lockCtx context.Context) error {
		return c.store.InTx(lockCtx, func(ctx context.Context, repo Repository) error {
			// re-check inside the unit of work; a booking may have landed since the scan
			drift, err := repo.FindSlotDrift(ctx)
			if err != nil {
				return fmt.Errorf("recheck slot drift: %w", err)
			}
			for _, d := range drift {
				if d.Slot.ID != slotID {
					continue
				}
				if err := repo.SetSlotBooked(ctx, slotID, d.Expected()); err != nil {
					return fmt.Errorf("repair slot %d: %w", slotID, err)
				}
				repaired = true
				return c.recordEvent(ctx, repo, EventSlotReconciled, nil, &slotID, map[string]any{
					"is_booked":           d.Expected(),
					"active_appointments": d.ActiveAppointments,
				})
			}
			return nil
		})
	})
	return repaired && err == nil, err
}
