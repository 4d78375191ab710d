package slots

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

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type db interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the slot table access used by the sync engine, the event
// processor and the booking orchestrator.
type Store interface {
	GetByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*Slot, error)
	FindByBookingUUID(ctx context.Context, clinicID uuid.UUID, bookingUUID string) (*Slot, error)
	FindByPayloadCorrelation(ctx context.Context, clinicID uuid.UUID, correlationID string) (*Slot, error)
	Insert(ctx context.Context, slot *Slot) error
	Update(ctx context.Context, slot *Slot) error
	TouchSynced(ctx context.Context, slotID uuid.UUID, syncedAt time.Time) error
	SetStatus(ctx context.Context, slotID uuid.UUID, status, bookingUUID string) error
	BlockMissing(ctx context.Context, clinicID, branchID uuid.UUID, seen []string) (int64, error)
}

// Repository is a Store that can also run a function inside one database
// transaction, which is how a reconciliation batch stays atomic.
type Repository interface {
	Store
	InTx(ctx context.Context, fn func(Store) error) error
}

// PostgresRepository implements Repository on pgx.
type PostgresRepository struct {
	db db
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("slots: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newRepositoryWithDB(d db) *PostgresRepository {
	if d == nil {
		panic("slots: db required")
	}
	return &PostgresRepository{db: d}
}

// InTx runs fn against a transaction-scoped Store. Either every write in
// the batch lands or none does.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("slots: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PostgresRepository{db: txDB{tx}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("slots: commit tx: %w", err)
	}
	return nil
}

// txDB adapts pgx.Tx to the db interface; nested Begin is not used.
type txDB struct {
	pgx.Tx
}

func (t txDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return nil, errors.New("slots: nested transactions not supported")
}

const slotColumns = `
	id, clinic_id, branch_id, doctor_id, cabinet_id, external_id,
	start_at, end_at, status, booking_uuid, payload_hash, source_payload, synced_at
`

func (r *PostgresRepository) GetByExternalID(ctx context.Context, clinicID uuid.UUID, externalID string) (*Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE clinic_id = $1 AND external_id = $2`
	return scanSlot(r.db.QueryRow(ctx, query, clinicID, externalID))
}

func (r *PostgresRepository) FindByBookingUUID(ctx context.Context, clinicID uuid.UUID, bookingUUID string) (*Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM slots WHERE clinic_id = $1 AND booking_uuid = $2 LIMIT 1`
	return scanSlot(r.db.QueryRow(ctx, query, clinicID, bookingUUID))
}

// FindByPayloadCorrelation digs the correlation id out of the stored source
// payload. Cancellation events sometimes carry nothing better.
func (r *PostgresRepository) FindByPayloadCorrelation(ctx context.Context, clinicID uuid.UUID, correlationID string) (*Slot, error) {
	query := `
		SELECT ` + slotColumns + ` FROM slots
		WHERE clinic_id = $1 AND source_payload->>'booking_uuid' = $2
		LIMIT 1
	`
	return scanSlot(r.db.QueryRow(ctx, query, clinicID, correlationID))
}

func (r *PostgresRepository) Insert(ctx context.Context, slot *Slot) error {
	query := `
		INSERT INTO slots (` + slotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		slot.ID, slot.ClinicID, slot.BranchID, slot.DoctorID, slot.CabinetID,
		slot.ExternalID, slot.StartAt, slot.EndAt, slot.Status,
		nullable(slot.BookingUUID), slot.PayloadHash, slot.SourcePayload, slot.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("slots: insert: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Update(ctx context.Context, slot *Slot) error {
	query := `
		UPDATE slots
		SET branch_id = $2, doctor_id = $3, cabinet_id = $4,
		    start_at = $5, end_at = $6, status = $7, booking_uuid = $8,
		    payload_hash = $9, source_payload = $10, synced_at = $11
		WHERE id = $1
	`
	_, err := r.db.Exec(ctx, query,
		slot.ID, slot.BranchID, slot.DoctorID, slot.CabinetID,
		slot.StartAt, slot.EndAt, slot.Status, nullable(slot.BookingUUID),
		slot.PayloadHash, slot.SourcePayload, slot.SyncedAt,
	)
	if err != nil {
		return fmt.Errorf("slots: update: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TouchSynced(ctx context.Context, slotID uuid.UUID, syncedAt time.Time) error {
	query := `UPDATE slots SET synced_at = $2 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, slotID, syncedAt); err != nil {
		return fmt.Errorf("slots: touch synced: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SetStatus(ctx context.Context, slotID uuid.UUID, status, bookingUUID string) error {
	query := `UPDATE slots SET status = $2, booking_uuid = $3 WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, slotID, status, nullable(bookingUUID)); err != nil {
		return fmt.Errorf("slots: set status: %w", err)
	}
	return nil
}

// BlockMissing transitions every slot of the scope whose external id is
// absent from the current batch to blocked, clearing its correlation.
func (r *PostgresRepository) BlockMissing(ctx context.Context, clinicID, branchID uuid.UUID, seen []string) (int64, error) {
	query := `
		UPDATE slots
		SET status = $4, booking_uuid = NULL
		WHERE clinic_id = $1 AND branch_id = $2
		  AND NOT (external_id = ANY($3))
		  AND status <> $4
	`
	ct, err := r.db.Exec(ctx, query, clinicID, branchID, seen, StatusBlocked)
	if err != nil {
		return 0, fmt.Errorf("slots: block missing: %w", err)
	}
	return ct.RowsAffected(), nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var (
		s           Slot
		bookingUUID *string
	)
	err := row.Scan(
		&s.ID, &s.ClinicID, &s.BranchID, &s.DoctorID, &s.CabinetID, &s.ExternalID,
		&s.StartAt, &s.EndAt, &s.Status, &bookingUUID, &s.PayloadHash,
		&s.SourcePayload, &s.SyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("slots: scan: %w", err)
	}
	if bookingUUID != nil {
		s.BookingUUID = *bookingUUID
	}
	return &s, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
