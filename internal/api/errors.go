package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/directory"
)

var (
	errInvalidBody = fmt.Errorf("%w: could not parse request body", booking.ErrValidation)
	errInvalidID   = fmt.Errorf("%w: id must be a positive integer", booking.ErrValidation)
	errForbidden   = fmt.Errorf("%w: your role cannot perform this action", booking.ErrUnauthorized)
)

// specificCodes gives the errors clients commonly branch on their own code.
var specificCodes = []struct {
	err  error
	code string
}{
	{booking.ErrSlotAlreadyBooked, "slot_already_booked"},
	{booking.ErrSlotBeingBooked, "slot_being_booked"},
	{booking.ErrSlotBooked, "slot_booked"},
	{booking.ErrDuplicateSlot, "duplicate_slot"},
	{booking.ErrAlreadyReviewed, "already_reviewed"},
	{booking.ErrSlotNotFound, "slot_not_found"},
	{booking.ErrAppointmentNotFound, "appointment_not_found"},
	{directory.ErrDoctorNotFound, "doctor_not_found"},
	{directory.ErrPatientNotFound, "patient_not_found"},
}

// errorStatus maps an error to its HTTP status, a stable code, and a message
// safe to show the caller.
func errorStatus(err error) (int, string, string) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, auth.ErrMissingCredential):
		return http.StatusUnauthorized, "unauthenticated", "please log in to continue"
	case errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid_credential", "your session is invalid or expired"
	case errors.Is(err, booking.ErrNotFound),
		errors.Is(err, directory.ErrDoctorNotFound),
		errors.Is(err, directory.ErrPatientNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrUnauthorized):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_request"
	default:
		return status, code, "something went wrong, please try again"
	}

	for _, sc := range specificCodes {
		if errors.Is(err, sc.err) {
			code = sc.code
			break
		}
	}

	msg, ok := booking.Message(err)
	if !ok {
		msg = err.Error()
	}
	return status, code, msg
}

// fail reports err as JSON, or as a flash message on redirectTo for browser
// form posts. An empty redirectTo always answers JSON.
func fail(w http.ResponseWriter, r *http.Request, logger zerolog.Logger, err error, redirectTo string) {
	status, code, msg := errorStatus(err)
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("request_id", GetRequestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}

	if redirectTo == "" || wantsJSON(r) {
		writeError(w, status, code, msg)
		return
	}
	redirectWithFlash(w, r, redirectTo, flashError, msg)
}
