package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/medibook/clinic-booking/internal/auth"
	"github.com/medibook/clinic-booking/internal/booking"
	"github.com/medibook/clinic-booking/internal/db"
	"github.com/medibook/clinic-booking/internal/directory"
	"github.com/medibook/clinic-booking/internal/logging"
	redisclient "github.com/medibook/clinic-booking/internal/redis"
)

var specializations = []string{
	"Cardiologist",
	"Dermatologist",
	"General Practitioner",
	"Orthopedist",
	"Endocrinologist",
	"Neurologist",
	"Pediatrician",
	"Psychiatrist",
	"Ophthalmologist",
	"ENT Specialist",
}

var cities = []string{"Cairo", "Giza", "Alexandria", "Mansoura", "Aswan"}

type seedConfig struct {
	Clinics  int
	Doctors  int
	Patients int
	Days     int
}

func main() {
	_ = godotenv.Load()
	logger := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV")).With().Str("service", "seed").Logger()
	logger.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	cfg := seedConfig{
		Clinics:  getInt("SEED_CLINICS", 10),
		Doctors:  getInt("SEED_DOCTORS", 100),
		Patients: getInt("SEED_PATIENTS", 2000),
		Days:     getInt("SEED_DAYS", 7),
	}

	if err := db.MigrateUp(dsn); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(connectCtx, dsn, db.PoolOptions{MaxConns: 4})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())
	ctx := context.Background()

	demo, err := seedDemo(ctx, pool)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed demo accounts")
	}

	clinics, err := seedClinics(ctx, pool, cfg.Clinics)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed clinics")
	}
	logger.Info().Int("count", len(clinics)).Msg("clinics seeded")

	doctorIDs, err := seedDoctors(ctx, pool, clinics, cfg.Doctors)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	logger.Info().Int("count", len(doctorIDs)).Msg("doctors seeded")

	if err := seedPatients(ctx, pool, cfg.Patients); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}
	logger.Info().Int("count", cfg.Patients).Msg("patients seeded")

	coord := booking.NewCoordinator(booking.NewPgStore(pool), redisclient.NewLocalSlotLocker(), nil, logger)
	for _, a := range demo.Accounts {
		if a.Role == string(auth.RoleDoctor) {
			doctorIDs = append(doctorIDs, a.ProfileID)
		}
	}
	slots, err := seedSlots(ctx, coord, doctorIDs, cfg.Days)
	if err != nil {
		logger.Fatal().Err(err).Msg("seed slots")
	}
	logger.Info().Int("count", slots).Int("days", cfg.Days).Msg("slots seeded")

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		printTokens(logger, auth.NewIssuer(secret, 24*time.Hour), demo)
	}

	logger.Info().Msg("seed complete")
}

// seedDemo writes the fixed demo accounts in one transaction.
func seedDemo(ctx context.Context, pool *pgxpool.Pool) (*directory.Demo, error) {
	var demo *directory.Demo
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		var err error
		demo, err = directory.SeedDemo(ctx, directory.NewPgRepository(tx))
		return err
	})
	if err != nil {
		return nil, err
	}
	return demo, nil
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]directory.Clinic, error) {
	clinics := make([]directory.Clinic, 0, count)
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		w := directory.NewPgRepository(tx)
		for i := 0; i < count; i++ {
			c, err := w.CreateClinic(ctx, directory.Clinic{
				Name:    gofakeit.Company() + " Clinic",
				Address: gofakeit.Street(),
				City:    cities[gofakeit.Number(0, len(cities)-1)],
				Country: "Egypt",
				Phone:   gofakeit.Phone(),
			})
			if err != nil {
				return err
			}
			clinics = append(clinics, *c)
		}
		return nil
	})
	return clinics, err
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, clinics []directory.Clinic, count int) ([]int64, error) {
	if len(clinics) == 0 {
		return nil, errors.New("no clinics to attach doctors to")
	}

	// one hash shared by every seeded doctor
	hash, err := directory.HashPassword("doctor123")
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, count)
	err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		w := directory.NewPgRepository(tx)
		for i := 0; i < count; i++ {
			name := "Dr. " + gofakeit.LastName()
			userID, err := w.CreateUser(ctx, directory.NewUser{
				Name:         name,
				Email:        fmt.Sprintf("doctor%d.%s", i, gofakeit.Email()),
				Phone:        gofakeit.Phone(),
				PasswordHash: hash,
				Role:         string(auth.RoleDoctor),
				Verified:     gofakeit.Number(0, 9) > 0,
			})
			if err != nil {
				return err
			}
			doctorID, err := w.CreateDoctor(ctx, directory.NewDoctor{
				UserID:         userID,
				ClinicID:       clinics[gofakeit.Number(0, len(clinics)-1)].ID,
				Specialization: specializations[gofakeit.Number(0, len(specializations)-1)],
				Bio:            gofakeit.Sentence(12),
				Price:          float64(gofakeit.Number(10, 80) * 10),
			})
			if err != nil {
				return err
			}
			ids = append(ids, doctorID)
		}
		return nil
	})
	return ids, err
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	const batchSize = 500

	hash, err := directory.HashPassword("patient123")
	if err != nil {
		return err
	}

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			w := directory.NewPgRepository(tx)
			for i := offset; i < end; i++ {
				userID, err := w.CreateUser(ctx, directory.NewUser{
					Name:         gofakeit.Name(),
					Email:        fmt.Sprintf("patient%d.%s", i, gofakeit.Email()),
					Phone:        gofakeit.Phone(),
					PasswordHash: hash,
					Role:         string(auth.RolePatient),
				})
				if err != nil {
					return err
				}
				dob := gofakeit.DateRange(
					time.Date(1950, 1, 1, 0, 0, 0, 0, time.UTC),
					time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC),
				)
				if _, err := w.CreatePatient(ctx, directory.NewPatient{UserID: userID, DOB: dob, Phone: gofakeit.Phone()}); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("batch at %d: %w", offset, err)
		}
	}
	return nil
}

// seedSlots gives each doctor a handful of half-hour slots per day, starting tomorrow.
func seedSlots(ctx context.Context, coord *booking.Coordinator, doctorIDs []int64, days int) (int, error) {
	today := booking.DateOf(time.Now())
	var created int
	for _, doctorID := range doctorIDs {
		for d := 1; d <= days; d++ {
			date := today.AddDate(0, 0, d)
			for hour := 9; hour < 17; hour++ {
				if gofakeit.Number(0, 2) == 0 {
					continue
				}
				_, err := coord.AddAvailability(ctx, booking.AvailabilityRequest{
					DoctorID:  doctorID,
					Date:      date,
					StartTime: booking.TimeOfDay{Hour: hour},
					EndTime:   booking.TimeOfDay{Hour: hour, Minute: 30},
				})
				if errors.Is(err, booking.ErrDuplicateSlot) {
					continue
				}
				if err != nil {
					return created, err
				}
				created++
			}
		}
	}
	return created, nil
}

func printTokens(logger zerolog.Logger, issuer *auth.Issuer, demo *directory.Demo) {
	for _, a := range demo.Accounts {
		token, err := issuer.Issue(auth.Principal{UserID: a.UserID, Role: auth.Role(a.Role), Verified: a.Verified})
		if err != nil {
			logger.Error().Err(err).Str("email", a.Email).Msg("issue token")
			continue
		}
		fmt.Printf("%-22s %-8s profile=%-4d %s\n", a.Email, a.Role, a.ProfileID, token)
	}
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
