package directory

import (
	"errors"
	"strings"
	"time"
)

const (
	dateLayout            = "2006-01-02"
	defaultProfilePicture = "default.png"
)

var (
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrPatientNotFound = errors.New("patient not found")
)

type Clinic struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

// Doctor is a doctors row joined with its user and clinic display data.
type Doctor struct {
	ID             int64   `json:"id"`
	UserID         int64   `json:"user_id"`
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Verified       bool    `json:"verified"`
	ProfilePicture string  `json:"profile_picture"`
	Specialization string  `json:"specialization"`
	Bio            string  `json:"bio"`
	Price          float64 `json:"price"`
	Clinic         Clinic  `json:"clinic"`
}

type Patient struct {
	ID     int64     `json:"id"`
	UserID int64     `json:"user_id"`
	Name   string    `json:"name"`
	Email  string    `json:"email"`
	Phone  string    `json:"phone,omitempty"`
	DOB    time.Time `json:"dob"`
}

// Filter narrows a doctor search. Empty fields match everything; set fields
// are case-insensitive substring matches combined with AND.
type Filter struct {
	Specialization string
	City           string
	Name           string
}

type Stats struct {
	Patients     int64 `json:"patients"`
	Doctors      int64 `json:"doctors"`
	Appointments int64 `json:"appointments"`
}

type NewUser struct {
	Name           string
	Email          string
	Phone          string
	PasswordHash   string
	Role           string
	Verified       bool
	ProfilePicture string
}

type NewDoctor struct {
	UserID         int64
	ClinicID       int64
	Specialization string
	Bio            string
	Price          float64
}

type NewPatient struct {
	UserID int64
	DOB    time.Time
	Phone  string
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(raw))
}
