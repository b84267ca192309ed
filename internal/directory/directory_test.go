package directory

import (
	"context"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixedCounter int64

func (c fixedCounter) AppointmentCount(context.Context) (int64, error) { return int64(c), nil }

func seededService(t *testing.T) (*Service, *MemoryRepository, *Demo) {
	t.Helper()
	passwordCost = bcrypt.MinCost
	t.Cleanup(func() { passwordCost = bcrypt.DefaultCost })

	repo := NewMemoryRepository()
	demo, err := SeedDemo(context.Background(), repo)
	require.NoError(t, err)
	return NewService(repo, fixedCounter(3)), repo, demo
}

func names(doctors []Doctor) []string {
	var out []string
	for _, d := range doctors {
		out = append(out, d.Name)
	}
	return out
}

func TestSearchBySpecializationIsCaseInsensitive(t *testing.T) {
	svc, _, _ := seededService(t)

	doctors, err := svc.Search(context.Background(), Filter{Specialization: "cardio"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. Ayman"}, names(doctors))
	assert.Equal(t, "NileClinic", doctors[0].Clinic.Name)

	doctors, err = svc.Search(context.Background(), Filter{Specialization: "  CARDIO "})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. Ayman"}, names(doctors))
}

func TestSearchFiltersCombine(t *testing.T) {
	svc, _, _ := seededService(t)
	ctx := context.Background()

	all, err := svc.Search(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. Ayman", "Dr. Mona"}, names(all))

	byCity, err := svc.Search(ctx, Filter{City: "giza"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. Mona"}, names(byCity))

	none, err := svc.Search(ctx, Filter{Specialization: "cardio", Name: "mona"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFilterOptions(t *testing.T) {
	svc, _, _ := seededService(t)
	ctx := context.Background()

	specs, err := svc.Specializations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cardiologist", "Dermatologist"}, specs)

	cities, err := svc.Cities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cairo", "Giza"}, cities)
}

func TestLookupsAndStats(t *testing.T) {
	svc, repo, demo := seededService(t)
	ctx := context.Background()

	ali, ok := demo.Account("ali@medibook.com")
	require.True(t, ok)
	patient, err := svc.PatientByUserID(ctx, ali.UserID)
	require.NoError(t, err)
	assert.Equal(t, ali.ProfileID, patient.ID)
	assert.Equal(t, 1990, patient.DOB.Year())

	ayman, ok := demo.Account("ayman@medibook.com")
	require.True(t, ok)
	doctor, err := svc.DoctorByUserID(ctx, ayman.UserID)
	require.NoError(t, err)
	assert.Equal(t, ayman.ProfileID, doctor.ID)

	_, err = svc.Doctor(ctx, 999)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	_, err = svc.PatientByUserID(ctx, ayman.UserID)
	assert.ErrorIs(t, err, ErrPatientNotFound)

	userID, err := repo.CreateUser(ctx, NewUser{Name: "Dr. New", Email: "new@medibook.com", Role: "doctor"})
	require.NoError(t, err)
	_, err = repo.CreateDoctor(ctx, NewDoctor{UserID: userID, ClinicID: demo.Clinics[0].ID, Specialization: "Neurologist", Price: 250})
	require.NoError(t, err)

	pending, err := svc.UnverifiedDoctors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Dr. New"}, names(pending))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Patients: 1, Doctors: 3, Appointments: 3}, *stats)
}

func TestSeededPasswordsAreHashed(t *testing.T) {
	_, repo, demo := seededService(t)

	admin, ok := demo.Account("admin@medibook.com")
	require.True(t, ok)
	u := repo.users[admin.UserID]
	assert.NotEqual(t, "admin123", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("admin123")))
}

func TestLikePatternEscapes(t *testing.T) {
	assert.Equal(t, `%cardio%`, likePattern("cardio"))
	assert.Equal(t, `%50\%\_off\\%`, likePattern(`50%_off\`))
}

func TestPgSearchDoctors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cols := []string{"doctor_id", "user_id", "name", "email", "verified", "profile_picture",
		"specialization", "bio", "price",
		"clinic_id", "clinic_name", "address", "city", "country", "phone"}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE d.specialization ILIKE $1 AND c.city ILIKE $2")).
		WithArgs("%cardio%", "%cairo%").
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(1), int64(2), "Dr. Ayman", "ayman@medibook.com", true, "default.png",
				"Cardiologist", "Expert in heart.", float64(500),
				int64(1), "NileClinic", "123 Nile St", "Cairo", "Egypt", "01000000001"))

	repo := NewPgRepository(mock)
	doctors, err := repo.SearchDoctors(context.Background(), Filter{Specialization: "cardio", City: "cairo"})
	require.NoError(t, err)
	require.Len(t, doctors, 1)
	assert.Equal(t, "Dr. Ayman", doctors[0].Name)
	assert.Equal(t, "Cairo", doctors[0].Clinic.City)
	assert.Equal(t, float64(500), doctors[0].Price)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetDoctorNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE d.doctor_id = $1")).
		WithArgs(int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"doctor_id"}))

	_, err = NewPgRepository(mock).GetDoctor(context.Background(), 9)
	assert.ErrorIs(t, err, ErrDoctorNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
