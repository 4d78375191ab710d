package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrApplicationNotFound = errors.New("booking: application not found")

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores applications in the relational database.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("booking: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newRepositoryWithQuerier(db querier) *PostgresRepository {
	if db == nil {
		panic("booking: querier required")
	}
	return &PostgresRepository{db: db}
}

const applicationColumns = `
	id, clinic_id, branch_id, doctor_id, city, patient_name, parent_name,
	phone, birth_date, comment, source, appointment_at,
	external_appointment_id, integration_type, integration_status,
	integration_response, created_at, updated_at
`

// Create inserts a new application row.
func (r *PostgresRepository) Create(ctx context.Context, app *Application) error {
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	now := time.Now().UTC()
	if app.CreatedAt.IsZero() {
		app.CreatedAt = now
	}
	app.UpdatedAt = now

	query := `
		INSERT INTO applications (` + applicationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err := r.db.Exec(ctx, query,
		app.ID, app.ClinicID, app.BranchID, app.DoctorID, app.City,
		app.PatientName, app.ParentName, app.Phone, app.BirthDate,
		app.Comment, app.Source, app.AppointmentAt,
		nullable(app.ExternalAppointmentID), app.IntegrationType,
		app.IntegrationStatus, app.IntegrationResponse,
		app.CreatedAt, app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: insert application: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE id = $1`
	return scanApplication(r.db.QueryRow(ctx, query, id))
}

// FindByExternalAppointmentID looks an application up by its correlation id.
func (r *PostgresRepository) FindByExternalAppointmentID(ctx context.Context, clinicID uuid.UUID, externalID string) (*Application, error) {
	query := `
		SELECT ` + applicationColumns + ` FROM applications
		WHERE clinic_id = $1 AND external_appointment_id = $2
		LIMIT 1
	`
	app, err := scanApplication(r.db.QueryRow(ctx, query, clinicID, externalID))
	if errors.Is(err, ErrApplicationNotFound) {
		return nil, nil
	}
	return app, err
}

// SaveIntegrationOutcome stamps the fields a successful external call sets.
func (r *PostgresRepository) SaveIntegrationOutcome(ctx context.Context, app *Application) error {
	query := `
		UPDATE applications
		SET external_appointment_id = $2, integration_type = $3,
		    integration_status = $4, integration_response = $5,
		    appointment_at = $6, updated_at = $7
		WHERE id = $1
	`
	app.UpdatedAt = time.Now().UTC()
	_, err := r.db.Exec(ctx, query,
		app.ID, nullable(app.ExternalAppointmentID), app.IntegrationType,
		app.IntegrationStatus, app.IntegrationResponse, app.AppointmentAt,
		app.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("booking: save integration outcome: %w", err)
	}
	return nil
}

// SetIntegrationStatus updates only the integration status and raw response.
func (r *PostgresRepository) SetIntegrationStatus(ctx context.Context, id uuid.UUID, status string, response []byte) error {
	query := `
		UPDATE applications
		SET integration_status = $2, integration_response = COALESCE($3, integration_response), updated_at = $4
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, status, response, time.Now().UTC()); err != nil {
		return fmt.Errorf("booking: set integration status: %w", err)
	}
	return nil
}

func scanApplication(row pgx.Row) (*Application, error) {
	var (
		app        Application
		externalID *string
	)
	err := row.Scan(
		&app.ID, &app.ClinicID, &app.BranchID, &app.DoctorID, &app.City,
		&app.PatientName, &app.ParentName, &app.Phone, &app.BirthDate,
		&app.Comment, &app.Source, &app.AppointmentAt,
		&externalID, &app.IntegrationType, &app.IntegrationStatus,
		&app.IntegrationResponse, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApplicationNotFound
		}
		return nil, fmt.Errorf("booking: scan application: %w", err)
	}
	if externalID != nil {
		app.ExternalAppointmentID = *externalID
	}
	return &app, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
