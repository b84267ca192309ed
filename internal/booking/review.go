package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidRating = newError(ErrValidation, "rating must be a whole number from 1 to 5")
)

const (
	MinRating = 1
	MaxRating = 5
)

type ReviewRequest struct {
	AppointmentID int64
	PatientID     int64
	Rating        int
	Feedback      string
}

// ParseRating validates the raw rating form value.
func ParseRating(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrInvalidRating
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < MinRating || n > MaxRating {
		return 0, ErrInvalidRating
	}
	return n, nil
}

// SubmitReview attaches a rating and feedback to one of the caller's
// appointments. Each appointment takes at most one review. The appointment's
// status is not checked.
func (c *Coordinator) SubmitReview(ctx context.Context, req ReviewRequest) (*Review, error) {
	if req.Rating < MinRating || req.Rating > MaxRating {
		c.metrics.ObserveReview("invalid")
		return nil, ErrInvalidRating
	}

	var created *Review
	err := c.store.InTx(ctx, func(ctx context.Context, repo Repository) error {
		appt, err := repo.GetAppointment(ctx, req.AppointmentID)
		if err != nil {
			return fmt.Errorf("load appointment: %w", err)
		}
		if appt.PatientID != req.PatientID {
			return ErrNotAppointmentOwner
		}

		if _, err := repo.GetReviewByAppointment(ctx, appt.ID); err == nil {
			return ErrAlreadyReviewed
		} else if !errors.Is(err, ErrReviewNotFound) {
			return fmt.Errorf("check existing review: %w", err)
		}

		review, err := repo.CreateReview(ctx, NewReview{
			PatientID:     appt.PatientID,
			DoctorID:      appt.DoctorID,
			AppointmentID: appt.ID,
			Rating:        req.Rating,
			Feedback:      strings.TrimSpace(req.Feedback),
		})
		if err != nil {
			return err
		}

		if err := c.recordEvent(ctx, repo, EventReviewSubmitted, &appt.ID, nil, map[string]any{
			"review_id": review.ID,
			"rating":    review.Rating,
		}); err != nil {
			return err
		}

		created = review
		return nil
	})
	c.metrics.ObserveReview(resultLabel(err))
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (c *Coordinator) DoctorReviews(ctx context.Context, doctorID int64) ([]Review, error) {
	return c.store.ListReviewsByDoctor(ctx, doctorID)
}
