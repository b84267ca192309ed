package directory

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var passwordCost = bcrypt.DefaultCost

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Account is a seeded login. ProfileID is the doctors or patients row id,
// zero for admins.
type Account struct {
	UserID    int64
	ProfileID int64
	Name      string
	Email     string
	Role      string
	Verified  bool
}

type Demo struct {
	Clinics  []Clinic
	Accounts []Account
}

func (d *Demo) Account(email string) (Account, bool) {
	for _, a := range d.Accounts {
		if a.Email == email {
			return a, true
		}
	}
	return Account{}, false
}

type demoDoctor struct {
	name, email    string
	clinic         int
	specialization string
	bio            string
	price          float64
}

// SeedDemo writes the fixed demo directory: two clinics, two verified
// doctors, one patient and an admin.
func SeedDemo(ctx context.Context, w Writer) (*Demo, error) {
	demo := &Demo{}

	for _, c := range []Clinic{
		{Name: "NileClinic", Address: "123 Nile St", City: "Cairo", Country: "Egypt", Phone: "01000000001"},
		{Name: "CityMed", Address: "456 City Rd", City: "Giza", Country: "Egypt", Phone: "01000000002"},
	} {
		created, err := w.CreateClinic(ctx, c)
		if err != nil {
			return nil, err
		}
		demo.Clinics = append(demo.Clinics, *created)
	}

	adminID, err := createUser(ctx, w, "Admin User", "admin@medibook.com", "admin123", "admin", true)
	if err != nil {
		return nil, err
	}
	demo.Accounts = append(demo.Accounts, Account{UserID: adminID, Name: "Admin User", Email: "admin@medibook.com", Role: "admin", Verified: true})

	for _, d := range []demoDoctor{
		{"Dr. Ayman", "ayman@medibook.com", 0, "Cardiologist", "Expert in heart.", 500},
		{"Dr. Mona", "mona@medibook.com", 1, "Dermatologist", "Skin specialist.", 300},
	} {
		userID, err := createUser(ctx, w, d.name, d.email, "doctor123", "doctor", true)
		if err != nil {
			return nil, err
		}
		doctorID, err := w.CreateDoctor(ctx, NewDoctor{
			UserID:         userID,
			ClinicID:       demo.Clinics[d.clinic].ID,
			Specialization: d.specialization,
			Bio:            d.bio,
			Price:          d.price,
		})
		if err != nil {
			return nil, err
		}
		demo.Accounts = append(demo.Accounts, Account{UserID: userID, ProfileID: doctorID, Name: d.name, Email: d.email, Role: "doctor", Verified: true})
	}

	patientUserID, err := createUser(ctx, w, "Ali Patient", "ali@medibook.com", "patient123", "patient", false)
	if err != nil {
		return nil, err
	}
	patientID, err := w.CreatePatient(ctx, NewPatient{
		UserID: patientUserID,
		DOB:    time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC),
		Phone:  "01200000000",
	})
	if err != nil {
		return nil, err
	}
	demo.Accounts = append(demo.Accounts, Account{UserID: patientUserID, ProfileID: patientID, Name: "Ali Patient", Email: "ali@medibook.com", Role: "patient"})

	return demo, nil
}

func createUser(ctx context.Context, w Writer, name, email, password, role string, verified bool) (int64, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return 0, err
	}
	return w.CreateUser(ctx, NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Verified:     verified,
	})
}
