package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("directory: not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads clinic/branch/doctor/cabinet rows. The admin side owns writes;
// the only mutations here are the ones the identity resolver performs when a
// name-fallback match pins a discovered external id.
type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("directory: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithQuerier(db querier) *Store {
	if db == nil {
		panic("directory: querier required")
	}
	return &Store{db: db}
}

func (s *Store) GetBranch(ctx context.Context, id uuid.UUID) (*Branch, error) {
	query := `
		SELECT id, clinic_id, name, external_id, city, slot_duration_mins
		FROM branches WHERE id = $1
	`
	return scanBranch(s.db.QueryRow(ctx, query, id))
}

func (s *Store) GetBranchByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*Branch, error) {
	query := `
		SELECT id, clinic_id, name, external_id, city, slot_duration_mins
		FROM branches WHERE clinic_id = $1 AND external_id = $2
	`
	return scanBranch(s.db.QueryRow(ctx, query, clinicID, externalID))
}

// ListBranches returns all branches of a clinic, used for city inference.
func (s *Store) ListBranches(ctx context.Context, clinicID uuid.UUID) ([]Branch, error) {
	query := `
		SELECT id, clinic_id, name, external_id, city, slot_duration_mins
		FROM branches WHERE clinic_id = $1 ORDER BY name
	`
	rows, err := s.db.Query(ctx, query, clinicID)
	if err != nil {
		return nil, fmt.Errorf("directory: list branches: %w", err)
	}
	defer rows.Close()

	var out []Branch
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.ClinicID, &b.Name, &b.ExternalID, &b.City, &b.SlotDurationMins); err != nil {
			return nil, fmt.Errorf("directory: scan branch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	query := `
		SELECT id, clinic_id, last_name, first_name, COALESCE(second_name, ''), COALESCE(external_id, '')
		FROM doctors WHERE id = $1
	`
	return scanDoctor(s.db.QueryRow(ctx, query, id))
}

func (s *Store) GetCabinet(ctx context.Context, id uuid.UUID) (*Cabinet, error) {
	query := `
		SELECT id, branch_id, name, COALESCE(external_id, '')
		FROM cabinets WHERE id = $1
	`
	var c Cabinet
	err := s.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.BranchID, &c.Name, &c.ExternalID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: load cabinet: %w", err)
	}
	return &c, nil
}

func (s *Store) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	query := `
		SELECT id, name, COALESCE(external_id, ''), COALESCE(timezone, '')
		FROM clinics WHERE id = $1
	`
	var c Clinic
	err := s.db.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.ExternalID, &c.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: load clinic: %w", err)
	}
	return &c, nil
}

// FindIDByExternalID looks an entity up by its own external_id column.
func (s *Store) FindIDByExternalID(ctx context.Context, clinicID uuid.UUID, entityType, externalID string) (*uuid.UUID, error) {
	var query string
	switch entityType {
	case TypeDoctor:
		query = `SELECT id FROM doctors WHERE clinic_id = $1 AND external_id = $2`
	case TypeBranch:
		query = `SELECT id FROM branches WHERE clinic_id = $1 AND external_id = $2`
	case TypeCabinet:
		query = `
			SELECT c.id FROM cabinets c
			JOIN branches b ON b.id = c.branch_id
			WHERE b.clinic_id = $1 AND c.external_id = $2
		`
	default:
		return nil, fmt.Errorf("directory: unsupported entity type %q", entityType)
	}

	var id uuid.UUID
	if err := s.db.QueryRow(ctx, query, clinicID, externalID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("directory: find %s by external id: %w", entityType, err)
	}
	return &id, nil
}

// FindDoctorByName matches a doctor by exact name parts within a clinic.
// When a second name is supplied it must match; when it is not, only rows
// with an empty second name qualify. Never creates anything.
func (s *Store) FindDoctorByName(ctx context.Context, clinicID uuid.UUID, last, first, second string) (*Doctor, error) {
	var row pgx.Row
	if second != "" {
		query := `
			SELECT id, clinic_id, last_name, first_name, COALESCE(second_name, ''), COALESCE(external_id, '')
			FROM doctors
			WHERE clinic_id = $1 AND last_name = $2 AND first_name = $3 AND second_name = $4
			LIMIT 1
		`
		row = s.db.QueryRow(ctx, query, clinicID, last, first, second)
	} else {
		query := `
			SELECT id, clinic_id, last_name, first_name, COALESCE(second_name, ''), COALESCE(external_id, '')
			FROM doctors
			WHERE clinic_id = $1 AND last_name = $2 AND first_name = $3
			  AND (second_name IS NULL OR second_name = '')
			LIMIT 1
		`
		row = s.db.QueryRow(ctx, query, clinicID, last, first)
	}
	doc, err := scanDoctor(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// SetDoctorExternalID pins a discovered external id onto the doctor row.
func (s *Store) SetDoctorExternalID(ctx context.Context, doctorID uuid.UUID, externalID string) error {
	query := `UPDATE doctors SET external_id = $2 WHERE id = $1`
	if _, err := s.db.Exec(ctx, query, doctorID, externalID); err != nil {
		return fmt.Errorf("directory: set doctor external id: %w", err)
	}
	return nil
}

// AttachDoctorToBranch records the doctor/branch relation if absent.
func (s *Store) AttachDoctorToBranch(ctx context.Context, doctorID, branchID uuid.UUID) error {
	query := `
		INSERT INTO doctor_branches (doctor_id, branch_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, doctorID, branchID); err != nil {
		return fmt.Errorf("directory: attach doctor to branch: %w", err)
	}
	return nil
}

func scanBranch(row pgx.Row) (*Branch, error) {
	var b Branch
	if err := row.Scan(&b.ID, &b.ClinicID, &b.Name, &b.ExternalID, &b.City, &b.SlotDurationMins); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: load branch: %w", err)
	}
	return &b, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	if err := row.Scan(&d.ID, &d.ClinicID, &d.LastName, &d.FirstName, &d.SecondName, &d.ExternalID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory: load doctor: %w", err)
	}
	return &d, nil
}
