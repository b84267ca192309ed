package api

import (
	"time"

	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/directory"
)

type SlotResponse struct {
	ID        int64  `json:"id"`
	DoctorID  int64  `json:"doctor_id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsBooked  bool   `json:"is_booked"`
}

func toSlotResponse(s booking.Slot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		Date:      booking.FormatDate(s.Date),
		StartTime: s.StartTime.String(),
		EndTime:   s.EndTime.String(),
		IsBooked:  s.IsBooked,
	}
}

func toSlotResponses(slots []booking.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

type AppointmentResponse struct {
	ID            int64     `json:"id"`
	PatientID     int64     `json:"patient_id"`
	DoctorID      int64     `json:"doctor_id"`
	SlotID        *int64    `json:"slot_id,omitempty"`
	Datetime      time.Time `json:"datetime"`
	Status        string    `json:"status"`
	PaymentMethod string    `json:"payment_method"`
	CreatedAt     time.Time `json:"created_at"`
}

func toAppointmentResponse(a booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		SlotID:        a.SlotID,
		Datetime:      a.Timestamp,
		Status:        string(a.Status),
		PaymentMethod: string(a.PaymentMethod),
		CreatedAt:     a.CreatedAt,
	}
}

func toAppointmentResponses(appts []booking.Appointment) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	return out
}

type CancelResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	SlotFreed   bool                `json:"slot_freed"`
}

type ReviewResponse struct {
	ID            int64     `json:"id"`
	PatientID     int64     `json:"patient_id"`
	DoctorID      int64     `json:"doctor_id"`
	AppointmentID int64     `json:"appointment_id"`
	Rating        int       `json:"rating"`
	Feedback      string    `json:"feedback,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toReviewResponse(r booking.Review) ReviewResponse {
	return ReviewResponse{
		ID:            r.ID,
		PatientID:     r.PatientID,
		DoctorID:      r.DoctorID,
		AppointmentID: r.AppointmentID,
		Rating:        r.Rating,
		Feedback:      r.Feedback,
		CreatedAt:     r.CreatedAt,
	}
}

type SearchResponse struct {
	Doctors         []directory.Doctor `json:"doctors"`
	Specializations []string           `json:"specializations"`
	Cities          []string           `json:"cities"`
}

type DoctorProfileResponse struct {
	Doctor         directory.Doctor `json:"doctor"`
	AvailableSlots []SlotResponse   `json:"available_slots"`
	Reviews        []ReviewResponse `json:"reviews"`
	Flash          *Flash           `json:"flash,omitempty"`
}

// DashboardResponse carries the role-specific view; unused sections are omitted.
type DashboardResponse struct {
	Role              string                `json:"role"`
	Patient           *directory.Patient    `json:"patient,omitempty"`
	Doctor            *directory.Doctor     `json:"doctor,omitempty"`
	Appointments      []AppointmentResponse `json:"appointments,omitempty"`
	AvailabilitySlots []SlotResponse        `json:"availability_slots,omitempty"`
	UnverifiedDoctors []directory.Doctor    `json:"unverified_doctors,omitempty"`
	Stats             *directory.Stats      `json:"stats,omitempty"`
	Flash             *Flash                `json:"flash,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
