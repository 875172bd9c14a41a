package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// PostgresStore keeps the block's state in PostgreSQL. It bootstraps its own
// schema so a fresh database works without a separate migration step.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS maintenance_records (
	id           TEXT PRIMARY KEY,
	vehicle_id   TEXT NOT NULL,
	type         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	cost_cents   BIGINT NOT NULL DEFAULT 0,
	scheduled_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS maintenance_records_vehicle_idx
	ON maintenance_records (vehicle_id);

CREATE TABLE IF NOT EXISTS licenses (
	id           TEXT PRIMARY KEY,
	entity_id    TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	license_type TEXT NOT NULL,
	issued_at    TIMESTAMPTZ NOT NULL,
	expires_at   TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (entity_id, license_type)
);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const recordColumns = "id, vehicle_id, type, description, status, cost_cents, scheduled_at, completed_at, created_at, updated_at"

func (s *PostgresStore) CreateRecord(ctx context.Context, in RecordInput) (*MaintenanceRecord, error) {
	now := time.Now().UTC()
	scheduled := in.ScheduledAt
	if scheduled.IsZero() {
		scheduled = now
	}
	rec := &MaintenanceRecord{
		ID:          "mnt-" + uuid.NewString(),
		VehicleID:   in.VehicleID,
		Type:        in.Type,
		Description: in.Description,
		Status:      RecordScheduled,
		CostCents:   in.CostCents,
		ScheduledAt: scheduled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	const query = `INSERT INTO maintenance_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL, $8, $9)`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.VehicleID, rec.Type, rec.Description, rec.Status,
		rec.CostCents, rec.ScheduledAt, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "insert maintenance record: %v", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*MaintenanceRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM maintenance_records WHERE id = $1`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	if err != nil {
		return nil, faults.Newf(faults.Internal, "get maintenance record: %v", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context) ([]*MaintenanceRecord, error) {
	const query = `SELECT ` + recordColumns + ` FROM maintenance_records ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "list maintenance records: %v", err)
	}
	defer rows.Close()

	var out []*MaintenanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, faults.Newf(faults.Internal, "scan maintenance record: %v", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Newf(faults.Internal, "list maintenance records: %v", err)
	}
	return out, nil
}

// UpdateRecord applies the shared update semantics under a row lock so
// concurrent updates cannot interleave reads and writes.
func (s *PostgresStore) UpdateRecord(ctx context.Context, id string, in RecordUpdate) (*MaintenanceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "begin update: %v", err)
	}
	defer tx.Rollback()

	const query = `SELECT ` + recordColumns + ` FROM maintenance_records WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	if err != nil {
		return nil, faults.Newf(faults.Internal, "get maintenance record: %v", err)
	}
	if rec.Status == RecordCompleted {
		return nil, faults.Newf(faults.Conflict, "maintenance record %s is already completed", id)
	}

	applyRecordUpdate(rec, in)

	const update = `UPDATE maintenance_records
		SET description = $1, status = $2, cost_cents = $3, scheduled_at = $4,
		    completed_at = $5, updated_at = $6
		WHERE id = $7`
	completed := sql.NullTime{}
	if rec.CompletedAt != nil {
		completed = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, update,
		rec.Description, rec.Status, rec.CostCents, rec.ScheduledAt,
		completed, rec.UpdatedAt, rec.ID); err != nil {
		return nil, faults.Newf(faults.Internal, "update maintenance record: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, faults.Newf(faults.Internal, "commit update: %v", err)
	}
	return rec, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM maintenance_records WHERE id = $1`, id)
	if err != nil {
		return faults.Newf(faults.Internal, "delete maintenance record: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return faults.Newf(faults.Internal, "delete maintenance record: %v", err)
	}
	if affected == 0 {
		return faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	return nil
}

func (s *PostgresStore) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	const query = `UPDATE maintenance_records
		SET status = $1, updated_at = $2
		WHERE status = $3 AND scheduled_at < $2
		RETURNING id`
	rows, err := s.db.QueryContext(ctx, query, RecordOverdue, now, RecordScheduled)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "mark overdue: %v", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

const licenseColumns = "id, entity_id, entity_type, license_type, issued_at, expires_at, created_at, updated_at"

func (s *PostgresStore) CreateLicense(ctx context.Context, in LicenseInput) (*License, error) {
	now := time.Now().UTC()
	issued := in.IssuedAt
	if issued.IsZero() {
		issued = now
	}
	if !in.ExpiresAt.After(issued) {
		return nil, faults.New(faults.ValidationError, "expires_at must be after issued_at")
	}
	l := &License{
		ID:          "lic-" + uuid.NewString(),
		EntityID:    in.EntityID,
		EntityType:  in.EntityType,
		LicenseType: in.LicenseType,
		IssuedAt:    issued,
		ExpiresAt:   in.ExpiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	const query = `INSERT INTO licenses (` + licenseColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.db.ExecContext(ctx, query,
		l.ID, l.EntityID, l.EntityType, l.LicenseType,
		l.IssuedAt, l.ExpiresAt, l.CreatedAt, l.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, faults.Newf(faults.Conflict,
			"%s %s already holds a %s license", in.EntityType, in.EntityID, in.LicenseType)
	}
	if err != nil {
		return nil, faults.Newf(faults.Internal, "insert license: %v", err)
	}
	return l, nil
}

func (s *PostgresStore) GetLicense(ctx context.Context, id string) (*License, error) {
	const query = `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	l, err := scanLicense(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.NotFound, "license %s not found", id)
	}
	if err != nil {
		return nil, faults.Newf(faults.Internal, "get license: %v", err)
	}
	return l, nil
}

func (s *PostgresStore) ListLicenses(ctx context.Context) ([]*License, error) {
	const query = `SELECT ` + licenseColumns + ` FROM licenses ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "list licenses: %v", err)
	}
	defer rows.Close()

	var out []*License
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, faults.Newf(faults.Internal, "scan license: %v", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Newf(faults.Internal, "list licenses: %v", err)
	}
	return out, nil
}

func (s *PostgresStore) RenewLicense(ctx context.Context, id string, expiresAt time.Time) (*License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "begin renewal: %v", err)
	}
	defer tx.Rollback()

	const query = `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1 FOR UPDATE`
	l, err := scanLicense(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.Newf(faults.NotFound, "license %s not found", id)
	}
	if err != nil {
		return nil, faults.Newf(faults.Internal, "get license: %v", err)
	}
	if !expiresAt.After(l.ExpiresAt) {
		return nil, faults.Newf(faults.ValidationError,
			"renewal must extend the current expiry %s", l.ExpiresAt.Format(time.RFC3339))
	}

	l.ExpiresAt = expiresAt
	l.UpdatedAt = time.Now().UTC()
	const update = `UPDATE licenses SET expires_at = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, update, l.ExpiresAt, l.UpdatedAt, l.ID); err != nil {
		return nil, faults.Newf(faults.Internal, "renew license: %v", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, faults.Newf(faults.Internal, "commit renewal: %v", err)
	}
	return l, nil
}

func (s *PostgresStore) DeleteLicense(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM licenses WHERE id = $1`, id)
	if err != nil {
		return faults.Newf(faults.Internal, "delete license: %v", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return faults.Newf(faults.Internal, "delete license: %v", err)
	}
	if affected == 0 {
		return faults.Newf(faults.NotFound, "license %s not found", id)
	}
	return nil
}

// PurgeVehicle removes the vehicle's records and licenses in one
// transaction so a re-delivered event sees an empty result, not a partial
// one.
func (s *PostgresStore) PurgeVehicle(ctx context.Context, vehicleID string) (records, licenses []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, faults.Newf(faults.Internal, "begin purge: %v", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`DELETE FROM maintenance_records WHERE vehicle_id = $1 RETURNING id`, vehicleID)
	if err != nil {
		return nil, nil, faults.Newf(faults.Internal, "purge maintenance records: %v", err)
	}
	records, err = collectIDs(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`DELETE FROM licenses WHERE entity_id = $1 AND entity_type = $2 RETURNING id`,
		vehicleID, EntityVehicle)
	if err != nil {
		return nil, nil, faults.Newf(faults.Internal, "purge vehicle licenses: %v", err)
	}
	licenses, err = collectIDs(rows)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, faults.Newf(faults.Internal, "commit purge: %v", err)
	}
	return records, licenses, nil
}

func (s *PostgresStore) PurgeDriver(ctx context.Context, driverID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`DELETE FROM licenses WHERE entity_id = $1 AND entity_type = $2 RETURNING id`,
		driverID, EntityDriver)
	if err != nil {
		return nil, faults.Newf(faults.Internal, "purge driver licenses: %v", err)
	}
	return collectIDs(rows)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*MaintenanceRecord, error) {
	var rec MaintenanceRecord
	var completed sql.NullTime
	err := row.Scan(&rec.ID, &rec.VehicleID, &rec.Type, &rec.Description,
		&rec.Status, &rec.CostCents, &rec.ScheduledAt, &completed,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		done := completed.Time.UTC()
		rec.CompletedAt = &done
	}
	rec.ScheduledAt = rec.ScheduledAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}

func scanLicense(row scanner) (*License, error) {
	var l License
	err := row.Scan(&l.ID, &l.EntityID, &l.EntityType, &l.LicenseType,
		&l.IssuedAt, &l.ExpiresAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	l.IssuedAt = l.IssuedAt.UTC()
	l.ExpiresAt = l.ExpiresAt.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, faults.Newf(faults.Internal, "scan id: %v", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Newf(faults.Internal, "collect ids: %v", err)
	}
	return ids, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
