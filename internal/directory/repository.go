package directory

import "context"

// Repository is the read side used by the search page, doctor profiles and
// dashboards.
type Repository interface {
	SearchDoctors(ctx context.Context, f Filter) ([]Doctor, error)
	Specializations(ctx context.Context) ([]string, error)
	Cities(ctx context.Context) ([]string, error)
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	GetDoctorByUserID(ctx context.Context, userID int64) (*Doctor, error)
	GetPatientByUserID(ctx context.Context, userID int64) (*Patient, error)
	ListUnverifiedDoctors(ctx context.Context) ([]Doctor, error)
	CountPatients(ctx context.Context) (int64, error)
	CountDoctors(ctx context.Context) (int64, error)
}

// Writer creates directory rows. Only seeding uses it; registration lives
// outside this service.
type Writer interface {
	CreateClinic(ctx context.Context, c Clinic) (*Clinic, error)
	CreateUser(ctx context.Context, u NewUser) (int64, error)
	CreateDoctor(ctx context.Context, d NewDoctor) (int64, error)
	CreatePatient(ctx context.Context, p NewPatient) (int64, error)
}
