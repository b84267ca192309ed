package directory

import (
	"context"
	"fmt"
	"strings"
)

// AppointmentCounter is satisfied by the booking coordinator.
type AppointmentCounter interface {
	AppointmentCount(ctx context.Context) (int64, error)
}

type Service struct {
	repo         Repository
	appointments AppointmentCounter
}

func NewService(repo Repository, appointments AppointmentCounter) *Service {
	return &Service{repo: repo, appointments: appointments}
}

func (s *Service) Search(ctx context.Context, f Filter) ([]Doctor, error) {
	f = Filter{
		Specialization: strings.TrimSpace(f.Specialization),
		City:           strings.TrimSpace(f.City),
		Name:           strings.TrimSpace(f.Name),
	}
	return s.repo.SearchDoctors(ctx, f)
}

func (s *Service) Specializations(ctx context.Context) ([]string, error) {
	return s.repo.Specializations(ctx)
}

func (s *Service) Cities(ctx context.Context) ([]string, error) {
	return s.repo.Cities(ctx)
}

func (s *Service) Doctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) DoctorByUserID(ctx context.Context, userID int64) (*Doctor, error) {
	return s.repo.GetDoctorByUserID(ctx, userID)
}

func (s *Service) PatientByUserID(ctx context.Context, userID int64) (*Patient, error) {
	return s.repo.GetPatientByUserID(ctx, userID)
}

func (s *Service) UnverifiedDoctors(ctx context.Context) ([]Doctor, error) {
	return s.repo.ListUnverifiedDoctors(ctx)
}

// Stats feeds the admin dashboard counters.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	patients, err := s.repo.CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	doctors, err := s.repo.CountDoctors(ctx)
	if err != nil {
		return nil, err
	}

	var appointments int64
	if s.appointments != nil {
		if appointments, err = s.appointments.AppointmentCount(ctx); err != nil {
			return nil, fmt.Errorf("count appointments: %w", err)
		}
	}

	return &Stats{Patients: patients, Doctors: doctors, Appointments: appointments}, nil
}
