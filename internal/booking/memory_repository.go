package booking

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStore is the in-process Store behind STORE_DRIVER=memory. Units of
// work are serialised by one mutex and applied copy-on-write, so a failed
// unit leaves no trace.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	slots        map[int64]Slot
	appointments map[int64]Appointment
	reviews      map[int64]Review
	events       []Event

	nextSlotID        int64
	nextAppointmentID int64
	nextReviewID      int64
	nextEventID       int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			slots:        make(map[int64]Slot),
			appointments: make(map[int64]Appointment),
			reviews:      make(map[int64]Review),
		},
		now: time.Now,
	}
}

func (st *memState) clone() *memState {
	c := *st
	c.slots = maps.Clone(st.slots)
	c.appointments = maps.Clone(st.appointments)
	c.reviews = maps.Clone(st.reviews)
	c.events = slices.Clone(st.events)
	return &c
}

func (m *MemoryStore) InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memRepo{st: work, now: m.now}); err != nil {
		return err
	}
	m.state = work
	return nil
}

// Events returns a copy of the event log.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.state.events)
}

func (m *MemoryStore) view() *memRepo {
	return &memRepo{st: m.state, now: m.now}
}

func (m *MemoryStore) CreateSlot(ctx context.Context, s NewSlot) (*Slot, error) {
	var out *Slot
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.CreateSlot(ctx, s)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetSlot(ctx context.Context, id int64) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetSlot(ctx, id)
}

func (m *MemoryStore) DeleteSlot(ctx context.Context, id int64) error {
	return m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.DeleteSlot(ctx, id)
	})
}

func (m *MemoryStore) FindFreeSlots(ctx context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().FindFreeSlots(ctx, doctorID, from)
}

func (m *MemoryStore) ListSlotsByDoctor(ctx context.Context, doctorID int64) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListSlotsByDoctor(ctx, doctorID)
}

func (m *MemoryStore) FindSlotByIdentity(ctx context.Context, id SlotIdentity) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().FindSlotByIdentity(ctx, id)
}

func (m *MemoryStore) ReserveSlot(ctx context.Context, id int64) (*Slot, error) {
	var out *Slot
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.ReserveSlot(ctx, id)
		return err
	})
	return out, err
}

func (m *MemoryStore) ReleaseSlot(ctx context.Context, id int64) (bool, error) {
	var was bool
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		was, err = repo.ReleaseSlot(ctx, id)
		return err
	})
	return was, err
}

func (m *MemoryStore) SetSlotBooked(ctx context.Context, id int64, booked bool) error {
	return m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.SetSlotBooked(ctx, id, booked)
	})
}

func (m *MemoryStore) FindSlotDrift(ctx context.Context) ([]SlotDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().FindSlotDrift(ctx)
}

func (m *MemoryStore) CreateAppointment(ctx context.Context, a NewAppointment) (*Appointment, error) {
	var out *Appointment
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.CreateAppointment(ctx, a)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetAppointment(ctx, id)
}

func (m *MemoryStore) CancelAppointment(ctx context.Context, id int64) (*Appointment, bool, error) {
	var (
		out     *Appointment
		changed bool
	)
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, changed, err = repo.CancelAppointment(ctx, id)
		return err
	})
	return out, changed, err
}

func (m *MemoryStore) ListAppointmentsByPatient(ctx context.Context, patientID int64) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListAppointmentsByPatient(ctx, patientID)
}

func (m *MemoryStore) ListAppointmentsByDoctor(ctx context.Context, doctorID int64) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListAppointmentsByDoctor(ctx, doctorID)
}

func (m *MemoryStore) CountAppointments(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().CountAppointments(ctx)
}

func (m *MemoryStore) CreateReview(ctx context.Context, r NewReview) (*Review, error) {
	var out *Review
	err := m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		out, err = repo.CreateReview(ctx, r)
		return err
	})
	return out, err
}

func (m *MemoryStore) GetReviewByAppointment(ctx context.Context, appointmentID int64) (*Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().GetReviewByAppointment(ctx, appointmentID)
}

func (m *MemoryStore) ListReviewsByDoctor(ctx context.Context, doctorID int64) ([]Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view().ListReviewsByDoctor(ctx, doctorID)
}

func (m *MemoryStore) InsertEvent(ctx context.Context, ev Event) error {
	return m.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.InsertEvent(ctx, ev)
	})
}

// memRepo operates on one state snapshot. The owning MemoryStore holds the lock.
type memRepo struct {
	st  *memState
	now func() time.Time
}

func compareSlots(a, b Slot) int {
	if c := a.Date.Compare(b.Date); c != 0 {
		return c
	}
	if c := a.StartTime.Minutes() - b.StartTime.Minutes(); c != 0 {
		return c
	}
	return int(a.ID - b.ID)
}

func sameIdentity(s Slot, doctorID int64, date time.Time, start TimeOfDay) bool {
	return s.DoctorID == doctorID && s.Date.Equal(DateOf(date)) && s.StartTime == start
}

// holdsSlot matches by slot_id, or by identity for rows that carry none.
func holdsSlot(a Appointment, s Slot) bool {
	if a.SlotID != nil {
		return *a.SlotID == s.ID
	}
	return sameIdentity(s, a.DoctorID, a.Timestamp, TimeOfDayOf(a.Timestamp))
}

func (r *memRepo) CreateSlot(_ context.Context, s NewSlot) (*Slot, error) {
	for _, existing := range r.st.slots {
		if sameIdentity(existing, s.DoctorID, s.Date, s.StartTime) && existing.EndTime == s.EndTime {
			return nil, ErrDuplicateSlot
		}
	}

	r.st.nextSlotID++
	slot := Slot{
		ID:        r.st.nextSlotID,
		DoctorID:  s.DoctorID,
		Date:      DateOf(s.Date),
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		CreatedAt: r.now(),
	}
	r.st.slots[slot.ID] = slot
	return &slot, nil
}

func (r *memRepo) GetSlot(_ context.Context, id int64) (*Slot, error) {
	s, ok := r.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (r *memRepo) DeleteSlot(_ context.Context, id int64) error {
	s, ok := r.st.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	if s.IsBooked {
		return ErrSlotBooked
	}
	delete(r.st.slots, id)

	// ON DELETE SET NULL
	for apptID, a := range r.st.appointments {
		if a.SlotID != nil && *a.SlotID == id {
			a.SlotID = nil
			r.st.appointments[apptID] = a
		}
	}
	return nil
}

func (r *memRepo) FindFreeSlots(_ context.Context, doctorID int64, from time.Time) ([]Slot, error) {
	from = DateOf(from)
	var out []Slot
	for _, s := range r.st.slots {
		if s.DoctorID == doctorID && !s.IsBooked && !s.Date.Before(from) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, compareSlots)
	return out, nil
}

func (r *memRepo) ListSlotsByDoctor(_ context.Context, doctorID int64) ([]Slot, error) {
	var out []Slot
	for _, s := range r.st.slots {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, compareSlots)
	return out, nil
}

func (r *memRepo) FindSlotByIdentity(_ context.Context, id SlotIdentity) (*Slot, error) {
	var best *Slot
	for _, s := range r.st.slots {
		if !sameIdentity(s, id.DoctorID, id.Date, id.StartTime) {
			continue
		}
		if id.EndTime != nil && s.EndTime != *id.EndTime {
			continue
		}
		if best == nil || s.ID < best.ID {
			found := s
			best = &found
		}
	}
	if best == nil {
		return nil, ErrSlotNotFound
	}
	return best, nil
}

func (r *memRepo) ReserveSlot(_ context.Context, id int64) (*Slot, error) {
	s, ok := r.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.IsBooked {
		return nil, ErrSlotAlreadyBooked
	}
	s.IsBooked = true
	r.st.slots[id] = s
	return &s, nil
}

func (r *memRepo) ReleaseSlot(_ context.Context, id int64) (bool, error) {
	s, ok := r.st.slots[id]
	if !ok {
		return false, ErrSlotNotFound
	}
	was := s.IsBooked
	s.IsBooked = false
	r.st.slots[id] = s
	return was, nil
}

func (r *memRepo) SetSlotBooked(_ context.Context, id int64, booked bool) error {
	s, ok := r.st.slots[id]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsBooked = booked
	r.st.slots[id] = s
	return nil
}

func (r *memRepo) FindSlotDrift(_ context.Context) ([]SlotDrift, error) {
	var out []SlotDrift
	for _, s := range r.st.slots {
		n := 0
		for _, a := range r.st.appointments {
			if a.Status.Active() && holdsSlot(a, s) {
				n++
			}
		}
		if s.IsBooked != (n > 0) {
			out = append(out, SlotDrift{Slot: s, ActiveAppointments: n})
		}
	}
	slices.SortFunc(out, func(a, b SlotDrift) int { return int(a.Slot.ID - b.Slot.ID) })
	return out, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a NewAppointment) (*Appointment, error) {
	if a.SlotID != nil {
		for _, existing := range r.st.appointments {
			if existing.SlotID != nil && *existing.SlotID == *a.SlotID && existing.Status.Active() {
				return nil, ErrSlotAlreadyBooked
			}
		}
	}

	r.st.nextAppointmentID++
	appt := Appointment{
		ID:            r.st.nextAppointmentID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Timestamp:     a.Timestamp,
		Status:        StatusConfirmed,
		PaymentMethod: a.PaymentMethod,
		CreatedAt:     r.now(),
	}
	if a.SlotID != nil {
		id := *a.SlotID
		appt.SlotID = &id
	}
	r.st.appointments[appt.ID] = appt
	return &appt, nil
}

func (r *memRepo) GetAppointment(_ context.Context, id int64) (*Appointment, error) {
	a, ok := r.st.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) CancelAppointment(_ context.Context, id int64) (*Appointment, bool, error) {
	a, ok := r.st.appointments[id]
	if !ok {
		return nil, false, ErrAppointmentNotFound
	}
	if !a.Status.Active() {
		return &a, false, nil
	}
	a.Status = StatusCancelled
	r.st.appointments[id] = a
	return &a, true, nil
}

func (r *memRepo) ListAppointmentsByPatient(_ context.Context, patientID int64) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.st.appointments {
		if a.PatientID == patientID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (r *memRepo) ListAppointmentsByDoctor(_ context.Context, doctorID int64) ([]Appointment, error) {
	var out []Appointment
	for _, a := range r.st.appointments {
		if a.DoctorID == doctorID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b Appointment) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (r *memRepo) CountAppointments(_ context.Context) (int64, error) {
	return int64(len(r.st.appointments)), nil
}

func (r *memRepo) CreateReview(_ context.Context, rv NewReview) (*Review, error) {
	for _, existing := range r.st.reviews {
		if existing.AppointmentID == rv.AppointmentID {
			return nil, ErrAlreadyReviewed
		}
	}

	r.st.nextReviewID++
	review := Review{
		ID:            r.st.nextReviewID,
		PatientID:     rv.PatientID,
		DoctorID:      rv.DoctorID,
		AppointmentID: rv.AppointmentID,
		Rating:        rv.Rating,
		Feedback:      rv.Feedback,
		CreatedAt:     r.now(),
	}
	r.st.reviews[review.ID] = review
	return &review, nil
}

func (r *memRepo) GetReviewByAppointment(_ context.Context, appointmentID int64) (*Review, error) {
	for _, rv := range r.st.reviews {
		if rv.AppointmentID == appointmentID {
			found := rv
			return &found, nil
		}
	}
	return nil, ErrReviewNotFound
}

func (r *memRepo) ListReviewsByDoctor(_ context.Context, doctorID int64) ([]Review, error) {
	var out []Review
	for _, rv := range r.st.reviews {
		if rv.DoctorID == doctorID {
			out = append(out, rv)
		}
	}
	slices.SortFunc(out, func(a, b Review) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev Event) error {
	r.st.nextEventID++
	ev.ID = r.st.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	r.st.events = append(r.st.events, ev)
	return nil
}
