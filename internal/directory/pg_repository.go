package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	db DBTX
}

func NewPgRepository(db DBTX) *PgRepository {
	return &PgRepository{db: db}
}

const doctorSelect = `
	SELECT d.doctor_id, d.user_id, u.name, u.email, u.verified, u.profile_picture,
	       d.specialization, d.bio, d.price,
	       c.clinic_id, c.name, c.address, c.city, c.country, COALESCE(c.phone, '')
	FROM doctors d
	JOIN users u ON u.user_id = d.user_id
	JOIN clinics c ON c.clinic_id = d.clinic_id`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.Email,
		&d.Verified,
		&d.ProfilePicture,
		&d.Specialization,
		&d.Bio,
		&d.Price,
		&d.Clinic.ID,
		&d.Clinic.Name,
		&d.Clinic.Address,
		&d.Clinic.City,
		&d.Clinic.Country,
		&d.Clinic.Phone,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) queryDoctors(ctx context.Context, sql string, args ...any) ([]Doctor, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// likePattern wraps s for a substring ILIKE, escaping the pattern metacharacters.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

func (r *PgRepository) SearchDoctors(ctx context.Context, f Filter) ([]Doctor, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, likePattern(value))
		conds = append(conds, fmt.Sprintf("%s ILIKE $%d", column, len(args)))
	}
	add("d.specialization", f.Specialization)
	add("c.city", f.City)
	add("u.name", f.Name)

	sql := doctorSelect
	if len(conds) > 0 {
		sql += "\n\tWHERE " + strings.Join(conds, " AND ")
	}
	sql += "\n\tORDER BY d.doctor_id"

	return r.queryDoctors(ctx, sql, args...)
}

func (r *PgRepository) distinct(ctx context.Context, sql string) ([]string, error) {
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (r *PgRepository) Specializations(ctx context.Context) ([]string, error) {
	out, err := r.distinct(ctx, `SELECT DISTINCT specialization FROM doctors ORDER BY specialization`)
	if err != nil {
		return nil, fmt.Errorf("query specializations: %w", err)
	}
	return out, nil
}

func (r *PgRepository) Cities(ctx context.Context) ([]string, error) {
	out, err := r.distinct(ctx, `SELECT DISTINCT city FROM clinics ORDER BY city`)
	if err != nil {
		return nil, fmt.Errorf("query cities: %w", err)
	}
	return out, nil
}

func (r *PgRepository) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return scanDoctor(r.db.QueryRow(ctx, doctorSelect+"\n\tWHERE d.doctor_id = $1", id))
}

func (r *PgRepository) GetDoctorByUserID(ctx context.Context, userID int64) (*Doctor, error) {
	return scanDoctor(r.db.QueryRow(ctx, doctorSelect+"\n\tWHERE d.user_id = $1", userID))
}

func (r *PgRepository) GetPatientByUserID(ctx context.Context, userID int64) (*Patient, error) {
	var (
		p   Patient
		dob string
	)
	err := r.db.QueryRow(ctx, `
		SELECT p.patient_id, p.user_id, u.name, u.email, COALESCE(p.phone, ''),
		       to_char(p.dob, 'YYYY-MM-DD')
		FROM patients p
		JOIN users u ON u.user_id = p.user_id
		WHERE p.user_id = $1
	`, userID).Scan(&p.ID, &p.UserID, &p.Name, &p.Email, &p.Phone, &dob)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	if p.DOB, err = parseDate(dob); err != nil {
		return nil, fmt.Errorf("patient %d dob %q: %w", p.ID, dob, err)
	}
	return &p, nil
}

func (r *PgRepository) ListUnverifiedDoctors(ctx context.Context) ([]Doctor, error) {
	return r.queryDoctors(ctx, doctorSelect+`
	WHERE u.verified = FALSE AND u.role = 'doctor'
	ORDER BY d.doctor_id`)
}

func (r *PgRepository) count(ctx context.Context, sql string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) CountPatients(ctx context.Context) (int64, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM patients`)
	if err != nil {
		return 0, fmt.Errorf("count patients: %w", err)
	}
	return n, nil
}

func (r *PgRepository) CountDoctors(ctx context.Context) (int64, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM doctors`)
	if err != nil {
		return 0, fmt.Errorf("count doctors: %w", err)
	}
	return n, nil
}

// Writes

func (r *PgRepository) CreateClinic(ctx context.Context, c Clinic) (*Clinic, error) {
	err := r.db.QueryRow(ctx, `
		INSERT INTO clinics (name, address, city, country, phone)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING clinic_id
	`, c.Name, c.Address, c.City, c.Country, c.Phone).Scan(&c.ID)
	if err != nil {
		return nil, fmt.Errorf("insert clinic: %w", err)
	}
	return &c, nil
}

func (r *PgRepository) CreateUser(ctx context.Context, u NewUser) (int64, error) {
	picture := u.ProfilePicture
	if picture == "" {
		picture = defaultProfilePicture
	}

	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (name, email, password_hash, phone, role, verified, profile_picture)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING user_id
	`, u.Name, u.Email, u.PasswordHash, u.Phone, u.Role, u.Verified, picture).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

func (r *PgRepository) CreateDoctor(ctx context.Context, d NewDoctor) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO doctors (user_id, clinic_id, specialization, bio, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING doctor_id
	`, d.UserID, d.ClinicID, d.Specialization, d.Bio, d.Price).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert doctor: %w", err)
	}
	return id, nil
}

func (r *PgRepository) CreatePatient(ctx context.Context, p NewPatient) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO patients (user_id, dob, phone)
		VALUES ($1, $2::date, NULLIF($3, ''))
		RETURNING patient_id
	`, p.UserID, p.DOB.Format(dateLayout), p.Phone).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert patient: %w", err)
	}
	return id, nil
}
