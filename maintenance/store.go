package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// Maintenance record statuses. The sweeper moves scheduled records past
// their date to overdue; completion is terminal.
const (
	RecordScheduled  = "scheduled"
	RecordInProgress = "in_progress"
	RecordCompleted  = "completed"
	RecordOverdue    = "overdue"
)

// License holder types.
const (
	EntityVehicle = "vehicle"
	EntityDriver  = "driver"
)

type MaintenanceRecord struct {
	ID          string     `json:"id"`
	VehicleID   string     `json:"vehicle_id"`
	Type        string     `json:"type"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	CostCents   int64      `json:"cost_cents"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// RecordInput is the request body for scheduling maintenance. A zero
// ScheduledAt schedules the work immediately.
type RecordInput struct {
	VehicleID   string    `json:"vehicle_id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CostCents   int64     `json:"cost_cents"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// RecordUpdate mutates an existing record. Zero-valued fields keep their
// current value.
type RecordUpdate struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	CostCents   int64     `json:"cost_cents"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type License struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id"`
	EntityType  string    `json:"entity_type"`
	LicenseType string    `json:"license_type"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// LicenseInput is the request body for issuing a license. A zero IssuedAt
// means issued now.
type LicenseInput struct {
	EntityID    string    `json:"entity_id"`
	EntityType  string    `json:"entity_type"`
	LicenseType string    `json:"license_type"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store is implemented by the in-memory store, the postgres store, and the
// cache-aside wrapper; the handlers only ever see this interface. Faults
// returned here travel verbatim into error replies.
type Store interface {
	CreateRecord(ctx context.Context, in RecordInput) (*MaintenanceRecord, error)
	GetRecord(ctx context.Context, id string) (*MaintenanceRecord, error)
	ListRecords(ctx context.Context) ([]*MaintenanceRecord, error)
	UpdateRecord(ctx context.Context, id string, in RecordUpdate) (*MaintenanceRecord, error)
	DeleteRecord(ctx context.Context, id string) error
	// MarkOverdue flips scheduled records whose date has passed and returns
	// the ids it flipped.
	MarkOverdue(ctx context.Context, now time.Time) ([]string, error)

	CreateLicense(ctx context.Context, in LicenseInput) (*License, error)
	GetLicense(ctx context.Context, id string) (*License, error)
	ListLicenses(ctx context.Context) ([]*License, error)
	RenewLicense(ctx context.Context, id string, expiresAt time.Time) (*License, error)
	DeleteLicense(ctx context.Context, id string) error

	// PurgeVehicle removes everything tied to a deleted vehicle and returns
	// the removed record and license ids; PurgeDriver does the same for a
	// driver's licenses.
	PurgeVehicle(ctx context.Context, vehicleID string) (records, licenses []string, err error)
	PurgeDriver(ctx context.Context, driverID string) (licenses []string, err error)

	Close() error
}

// MemoryStore keeps the block's state in memory behind one lock. It is the
// default backend when no postgres connection is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*MaintenanceRecord
	licenses map[string]*License
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*MaintenanceRecord),
		licenses: make(map[string]*License),
	}
}

func (s *MemoryStore) CreateRecord(ctx context.Context, in RecordInput) (*MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, id string) (*MaintenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) ListRecords(ctx context.Context) ([]*MaintenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*MaintenanceRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sortByID(out, func(r *MaintenanceRecord) string { return r.ID })
	return out, nil
}

func (s *MemoryStore) UpdateRecord(ctx context.Context, id string, in RecordUpdate) (*MaintenanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	if rec.Status == RecordCompleted {
		return nil, faults.Newf(faults.Conflict, "maintenance record %s is already completed", id)
	}

	applyRecordUpdate(rec, in)
	return cloneRecord(rec), nil
}

// applyRecordUpdate holds the shared update semantics so the postgres store
// behaves identically.
func applyRecordUpdate(rec *MaintenanceRecord, in RecordUpdate) {
	now := time.Now().UTC()
	if in.Description != "" {
		rec.Description = in.Description
	}
	if in.CostCents != 0 {
		rec.CostCents = in.CostCents
	}
	if !in.ScheduledAt.IsZero() {
		rec.ScheduledAt = in.ScheduledAt
	}
	if in.Status != "" && in.Status != rec.Status {
		rec.Status = in.Status
		if in.Status == RecordCompleted {
			rec.CompletedAt = &now
		}
	}
	rec.UpdatedAt = now
}

func (s *MemoryStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return faults.Newf(faults.NotFound, "maintenance record %s not found", id)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped []string
	for _, rec := range s.records {
		if rec.Status == RecordScheduled && rec.ScheduledAt.Before(now) {
			rec.Status = RecordOverdue
			rec.UpdatedAt = now
			flipped = append(flipped, rec.ID)
		}
	}
	sort.Strings(flipped)
	return flipped, nil
}

func (s *MemoryStore) CreateLicense(ctx context.Context, in LicenseInput) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.licenses {
		if l.EntityID == in.EntityID && l.LicenseType == in.LicenseType {
			return nil, faults.Newf(faults.Conflict,
				"%s %s already holds a %s license", in.EntityType, in.EntityID, in.LicenseType)
		}
	}

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
	s.licenses[l.ID] = l
	return cloneLicense(l), nil
}

func (s *MemoryStore) GetLicense(ctx context.Context, id string) (*License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.licenses[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "license %s not found", id)
	}
	return cloneLicense(l), nil
}

func (s *MemoryStore) ListLicenses(ctx context.Context) ([]*License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*License, 0, len(s.licenses))
	for _, l := range s.licenses {
		out = append(out, cloneLicense(l))
	}
	sortByID(out, func(l *License) string { return l.ID })
	return out, nil
}

// RenewLicense replaces the expiry. Renewals must extend the license, so a
// stale renewal replayed out of order cannot shorten it.
func (s *MemoryStore) RenewLicense(ctx context.Context, id string, expiresAt time.Time) (*License, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.licenses[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "license %s not found", id)
	}
	if !expiresAt.After(l.ExpiresAt) {
		return nil, faults.Newf(faults.ValidationError,
			"renewal must extend the current expiry %s", l.ExpiresAt.Format(time.RFC3339))
	}
	l.ExpiresAt = expiresAt
	l.UpdatedAt = time.Now().UTC()
	return cloneLicense(l), nil
}

func (s *MemoryStore) DeleteLicense(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.licenses[id]; !ok {
		return faults.Newf(faults.NotFound, "license %s not found", id)
	}
	delete(s.licenses, id)
	return nil
}

func (s *MemoryStore) PurgeVehicle(ctx context.Context, vehicleID string) (records, licenses []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, rec := range s.records {
		if rec.VehicleID == vehicleID {
			delete(s.records, id)
			records = append(records, id)
		}
	}
	for id, l := range s.licenses {
		if l.EntityType == EntityVehicle && l.EntityID == vehicleID {
			delete(s.licenses, id)
			licenses = append(licenses, id)
		}
	}
	sort.Strings(records)
	sort.Strings(licenses)
	return records, licenses, nil
}

func (s *MemoryStore) PurgeDriver(ctx context.Context, driverID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var licenses []string
	for id, l := range s.licenses {
		if l.EntityType == EntityDriver && l.EntityID == driverID {
			delete(s.licenses, id)
			licenses = append(licenses, id)
		}
	}
	sort.Strings(licenses)
	return licenses, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneRecord(rec *MaintenanceRecord) *MaintenanceRecord {
	out := *rec
	if rec.CompletedAt != nil {
		done := *rec.CompletedAt
		out.CompletedAt = &done
	}
	return &out
}

func cloneLicense(l *License) *License {
	out := *l
	return &out
}

func sortByID[T any](items []*T, id func(*T) string) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}
