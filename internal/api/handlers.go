package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/directory"
)

const dashboardPath = "/booking/dashboard"

type Handler struct {
	booking   BookingService
	directory DirectoryService
	logger    zerolog.Logger
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

func (h *Handler) currentPatient(ctx context.Context) (*directory.Patient, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return nil, auth.ErrMissingCredential
	}
	return h.directory.PatientByUserID(ctx, p.UserID)
}

func (h *Handler) currentDoctor(ctx context.Context) (*directory.Doctor, error) {
	p, ok := auth.FromContext(ctx)
	if !ok {
		return nil, auth.ErrMissingCredential
	}
	return h.directory.DoctorByUserID(ctx, p.UserID)
}

// succeed answers JSON clients with body and browsers with a redirect to the
// dashboard carrying message.
func succeed(w http.ResponseWriter, r *http.Request, status int, body any, message string) {
	if wantsJSON(r) {
		writeJSON(w, status, body)
		return
	}
	redirectWithFlash(w, r, dashboardPath, flashSuccess, message)
}

func (h *Handler) book(w http.ResponseWriter, r *http.Request) {
	doctorID, err := parseID(r, "doctor_id")
	if err != nil {
		fail(w, r, h.logger, err, "/")
		return
	}
	profile := fmt.Sprintf("/doctor/%d", doctorID)

	form, err := readForm(r)
	if err != nil {
		fail(w, r, h.logger, err, profile)
		return
	}

	patient, err := h.currentPatient(r.Context())
	if err != nil {
		fail(w, r, h.logger, err, profile)
		return
	}

	var slotID int64
	if raw := form.Get("availability_id"); raw != "" {
		if slotID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			fail(w, r, h.logger, booking.ErrMissingSlot, profile)
			return
		}
	}

	appt, err := h.booking.Book(r.Context(), booking.BookRequest{
		DoctorID:      doctorID,
		PatientID:     patient.ID,
		SlotID:        slotID,
		PaymentMethod: form.Get("payment_method"),
	})
	if err != nil {
		fail(w, r, h.logger, err, profile)
		return
	}

	succeed(w, r, http.StatusCreated, toAppointmentResponse(*appt), "Appointment booked successfully!")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := parseID(r, "appointment_id")
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	patient, err := h.currentPatient(r.Context())
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	res, err := h.booking.Cancel(r.Context(), booking.CancelRequest{
		AppointmentID: appointmentID,
		PatientID:     patient.ID,
	})
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	succeed(w, r, http.StatusOK, CancelResponse{
		Appointment: toAppointmentResponse(*res.Appointment),
		SlotFreed:   res.SlotFreed,
	}, "Appointment cancelled.")
}

func (h *Handler) addAvailability(w http.ResponseWriter, r *http.Request) {
	form, err := readForm(r)
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	doctor, err := h.currentDoctor(r.Context())
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	req, err := booking.ParseAvailability(doctor.ID, form.Get("date"), form.Get("start_time"), form.Get("end_time"))
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	slot, err := h.booking.AddAvailability(r.Context(), req)
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	succeed(w, r, http.StatusCreated, toSlotResponse(*slot), "Availability slot added successfully!")
}

func (h *Handler) deleteAvailability(w http.ResponseWriter, r *http.Request) {
	slotID, err := parseID(r, "id")
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	doctor, err := h.currentDoctor(r.Context())
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	if err := h.booking.DeleteAvailability(r.Context(), doctor.ID, slotID); err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	succeed(w, r, http.StatusOK, map[string]any{"id": slotID, "deleted": true}, "Availability slot deleted.")
}

func (h *Handler) submitReview(w http.ResponseWriter, r *http.Request) {
	appointmentID, err := parseID(r, "appointment_id")
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	form, err := readForm(r)
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	rating, err := booking.ParseRating(form.Get("rating"))
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	patient, err := h.currentPatient(r.Context())
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	review, err := h.booking.SubmitReview(r.Context(), booking.ReviewRequest{
		AppointmentID: appointmentID,
		PatientID:     patient.ID,
		Rating:        rating,
		Feedback:      form.Get("feedback"),
	})
	if err != nil {
		fail(w, r, h.logger, err, dashboardPath)
		return
	}

	succeed(w, r, http.StatusCreated, toReviewResponse(*review), "Review submitted. Thank you!")
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.FromContext(r.Context())
	if !ok {
		fail(w, r, h.logger, auth.ErrMissingCredential, "")
		return
	}

	ctx := r.Context()
	resp := DashboardResponse{Role: string(p.Role)}

	switch p.Role {
	case auth.RolePatient:
		patient, err := h.directory.PatientByUserID(ctx, p.UserID)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		appts, err := h.booking.PatientAppointments(ctx, patient.ID)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		resp.Patient = patient
		resp.Appointments = toAppointmentResponses(appts)

	case auth.RoleDoctor:
		doctor, err := h.directory.DoctorByUserID(ctx, p.UserID)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		appts, err := h.booking.DoctorAppointments(ctx, doctor.ID)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		slots, err := h.booking.DoctorSlots(ctx, doctor.ID)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		resp.Doctor = doctor
		resp.Appointments = toAppointmentResponses(appts)
		resp.AvailabilitySlots = toSlotResponses(slots)

	case auth.RoleAdmin:
		pending, err := h.directory.UnverifiedDoctors(ctx)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		stats, err := h.directory.Stats(ctx)
		if err != nil {
			fail(w, r, h.logger, err, "")
			return
		}
		resp.UnverifiedDoctors = pending
		resp.Stats = stats
	}

	resp.Flash = popFlash(w, r)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	city := q.Get("city")
	if city == "" {
		city = q.Get("location")
	}

	ctx := r.Context()
	doctors, err := h.directory.Search(ctx, directory.Filter{
		Specialization: q.Get("specialization"),
		City:           city,
		Name:           q.Get("name"),
	})
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}
	specs, err := h.directory.Specializations(ctx)
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}
	cities, err := h.directory.Cities(ctx)
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}

	if doctors == nil {
		doctors = []directory.Doctor{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Doctors:         doctors,
		Specializations: specs,
		Cities:          cities,
	})
}

func (h *Handler) doctorProfile(w http.ResponseWriter, r *http.Request) {
	doctorID, err := parseID(r, "doctor_id")
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}

	ctx := r.Context()
	doctor, err := h.directory.Doctor(ctx, doctorID)
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}
	slots, err := h.booking.UpcomingFreeSlots(ctx, doctorID)
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}
	reviews, err := h.booking.DoctorReviews(ctx, doctorID)
	if err != nil {
		fail(w, r, h.logger, err, "")
		return
	}

	resp := DoctorProfileResponse{
		Doctor:         *doctor,
		AvailableSlots: toSlotResponses(slots),
		Reviews:        make([]ReviewResponse, 0, len(reviews)),
		Flash:          popFlash(w, r),
	}
	for _, rv := range reviews {
		resp.Reviews = append(resp.Reviews, toReviewResponse(rv))
	}
	writeJSON(w, http.StatusOK, resp)
}
