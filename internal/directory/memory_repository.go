package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
)

type memUser struct {
	id int64
	NewUser
}

type memDoctor struct {
	id int64
	NewDoctor
}

type memPatient struct {
	id int64
	NewPatient
}

// MemoryRepository backs STORE_DRIVER=memory and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	clinics  map[int64]Clinic
	users    map[int64]memUser
	doctors  map[int64]memDoctor
	patients map[int64]memPatient
	nextID   map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clinics:  make(map[int64]Clinic),
		users:    make(map[int64]memUser),
		doctors:  make(map[int64]memDoctor),
		patients: make(map[int64]memPatient),
		nextID:   make(map[string]int64),
	}
}

func (m *MemoryRepository) next(table string) int64 {
	m.nextID[table]++
	return m.nextID[table]
}

// joinDoctor resolves a doctor's user and clinic. Callers hold the lock.
func (m *MemoryRepository) joinDoctor(d memDoctor) (Doctor, bool) {
	u, ok := m.users[d.UserID]
	if !ok {
		return Doctor{}, false
	}
	c, ok := m.clinics[d.ClinicID]
	if !ok {
		return Doctor{}, false
	}
	return Doctor{
		ID:             d.id,
		UserID:         u.id,
		Name:           u.Name,
		Email:          u.Email,
		Verified:       u.Verified,
		ProfilePicture: u.ProfilePicture,
		Specialization: d.Specialization,
		Bio:            d.Bio,
		Price:          d.Price,
		Clinic:         c,
	}, true
}

func (m *MemoryRepository) doctorsWhere(keep func(Doctor, memUser) bool) []Doctor {
	var out []Doctor
	for _, d := range m.doctors {
		joined, ok := m.joinDoctor(d)
		if !ok {
			continue
		}
		if keep(joined, m.users[d.UserID]) {
			out = append(out, joined)
		}
	}
	slices.SortFunc(out, func(a, b Doctor) int { return int(a.ID - b.ID) })
	return out
}

func containsFold(s, substr string) bool {
	return substr == "" || strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func (m *MemoryRepository) SearchDoctors(_ context.Context, f Filter) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.doctorsWhere(func(d Doctor, _ memUser) bool {
		return containsFold(d.Specialization, f.Specialization) &&
			containsFold(d.Clinic.City, f.City) &&
			containsFold(d.Name, f.Name)
	}), nil
}

func distinctSorted(values []string) []string {
	slices.Sort(values)
	return slices.Compact(values)
}

func (m *MemoryRepository) Specializations(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, d := range m.doctors {
		out = append(out, d.Specialization)
	}
	return distinctSorted(out), nil
}

func (m *MemoryRepository) Cities(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for _, c := range m.clinics {
		out = append(out, c.City)
	}
	return distinctSorted(out), nil
}

func (m *MemoryRepository) GetDoctor(_ context.Context, id int64) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	joined, ok := m.joinDoctor(d)
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &joined, nil
}

func (m *MemoryRepository) GetDoctorByUserID(_ context.Context, userID int64) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := m.doctorsWhere(func(d Doctor, _ memUser) bool { return d.UserID == userID })
	if len(found) == 0 {
		return nil, ErrDoctorNotFound
	}
	return &found[0], nil
}

func (m *MemoryRepository) GetPatientByUserID(_ context.Context, userID int64) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.patients {
		if p.UserID != userID {
			continue
		}
		u := m.users[p.UserID]
		return &Patient{
			ID:     p.id,
			UserID: p.UserID,
			Name:   u.Name,
			Email:  u.Email,
			Phone:  p.Phone,
			DOB:    p.DOB,
		}, nil
	}
	return nil, ErrPatientNotFound
}

func (m *MemoryRepository) ListUnverifiedDoctors(_ context.Context) ([]Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.doctorsWhere(func(d Doctor, u memUser) bool {
		return !d.Verified && u.Role == "doctor"
	}), nil
}

func (m *MemoryRepository) CountPatients(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.patients)), nil
}

func (m *MemoryRepository) CountDoctors(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.doctors)), nil
}

func (m *MemoryRepository) CreateClinic(_ context.Context, c Clinic) (*Clinic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c.ID = m.next("clinics")
	m.clinics[c.ID] = c
	return &c, nil
}

func (m *MemoryRepository) CreateUser(_ context.Context, u NewUser) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return 0, fmt.Errorf("insert user: email %q already registered", u.Email)
		}
	}
	if u.ProfilePicture == "" {
		u.ProfilePicture = defaultProfilePicture
	}
	id := m.next("users")
	m.users[id] = memUser{id: id, NewUser: u}
	return id, nil
}

func (m *MemoryRepository) CreateDoctor(_ context.Context, d NewDoctor) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[d.UserID]; !ok {
		return 0, fmt.Errorf("insert doctor: user %d does not exist", d.UserID)
	}
	if _, ok := m.clinics[d.ClinicID]; !ok {
		return 0, fmt.Errorf("insert doctor: clinic %d does not exist", d.ClinicID)
	}
	id := m.next("doctors")
	m.doctors[id] = memDoctor{id: id, NewDoctor: d}
	return id, nil
}

func (m *MemoryRepository) CreatePatient(_ context.Context, p NewPatient) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[p.UserID]; !ok {
		return 0, fmt.Errorf("insert patient: user %d does not exist", p.UserID)
	}
	id := m.next("patients")
	m.patients[id] = memPatient{id: id, NewPatient: p}
	return id, nil
}
