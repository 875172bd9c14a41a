package main

import (
	"context"
	"log/slog"
	"time"
)

// CachedStore layers a read-through cache over another Store. Cache
// failures are logged and swallowed: the backing store stays the source of
// truth and a broken cache must not fail requests.
type CachedStore struct {
	store Store
	cache *Cache
	log   *slog.Logger
}

func NewCachedStore(store Store, cache *Cache, log *slog.Logger) *CachedStore {
	return &CachedStore{store: store, cache: cache, log: log}
}

func (s *CachedStore) Close() error {
	if err := s.cache.Close(); err != nil {
		s.log.Warn("closing cache", "error", err)
	}
	return s.store.Close()
}

func (s *CachedStore) CreateRecord(ctx context.Context, in RecordInput) (*MaintenanceRecord, error) {
	return s.store.CreateRecord(ctx, in)
}

func (s *CachedStore) GetRecord(ctx context.Context, id string) (*MaintenanceRecord, error) {
	cached, err := s.cache.GetRecord(ctx, id)
	if err != nil {
		s.log.Warn("record cache read failed", "id", id, "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetRecord(ctx, rec); err != nil {
		s.log.Warn("record cache write failed", "id", id, "error", err)
	}
	return rec, nil
}

// ListRecords always hits the backing store: invalidating list results on
// every mutation costs more than the lookup saves.
func (s *CachedStore) ListRecords(ctx context.Context) ([]*MaintenanceRecord, error) {
	return s.store.ListRecords(ctx)
}

func (s *CachedStore) UpdateRecord(ctx context.Context, id string, in RecordUpdate) (*MaintenanceRecord, error) {
	rec, err := s.store.UpdateRecord(ctx, id, in)
	if err != nil {
		return nil, err
	}
	s.invalidateRecords(ctx, id)
	return rec, nil
}

func (s *CachedStore) DeleteRecord(ctx context.Context, id string) error {
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return err
	}
	s.invalidateRecords(ctx, id)
	return nil
}

func (s *CachedStore) MarkOverdue(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.store.MarkOverdue(ctx, now)
	if err != nil {
		return nil, err
	}
	s.invalidateRecords(ctx, ids...)
	return ids, nil
}

func (s *CachedStore) CreateLicense(ctx context.Context, in LicenseInput) (*License, error) {
	return s.store.CreateLicense(ctx, in)
}

func (s *CachedStore) GetLicense(ctx context.Context, id string) (*License, error) {
	cached, err := s.cache.GetLicense(ctx, id)
	if err != nil {
		s.log.Warn("license cache read failed", "id", id, "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	l, err := s.store.GetLicense(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetLicense(ctx, l); err != nil {
		s.log.Warn("license cache write failed", "id", id, "error", err)
	}
	return l, nil
}

func (s *CachedStore) ListLicenses(ctx context.Context) ([]*License, error) {
	return s.store.ListLicenses(ctx)
}

func (s *CachedStore) RenewLicense(ctx context.Context, id string, expiresAt time.Time) (*License, error) {
	l, err := s.store.RenewLicense(ctx, id, expiresAt)
	if err != nil {
		return nil, err
	}
	s.invalidateLicenses(ctx, id)
	return l, nil
}

func (s *CachedStore) DeleteLicense(ctx context.Context, id string) error {
	if err := s.store.DeleteLicense(ctx, id); err != nil {
		return err
	}
	s.invalidateLicenses(ctx, id)
	return nil
}

func (s *CachedStore) PurgeVehicle(ctx context.Context, vehicleID string) (records, licenses []string, err error) {
	records, licenses, err = s.store.PurgeVehicle(ctx, vehicleID)
	if err != nil {
		return nil, nil, err
	}
	s.invalidateRecords(ctx, records...)
	s.invalidateLicenses(ctx, licenses...)
	return records, licenses, nil
}

func (s *CachedStore) PurgeDriver(ctx context.Context, driverID string) ([]string, error) {
	licenses, err := s.store.PurgeDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	s.invalidateLicenses(ctx, licenses...)
	return licenses, nil
}

func (s *CachedStore) invalidateRecords(ctx context.Context, ids ...string) {
	if err := s.cache.InvalidateRecords(ctx, ids...); err != nil {
		s.log.Warn("record cache invalidation failed", "ids", ids, "error", err)
	}
}

func (s *CachedStore) invalidateLicenses(ctx context.Context, ids ...string) {
	if err := s.cache.InvalidateLicenses(ctx, ids...); err != nil {
		s.log.Warn("license cache invalidation failed", "ids", ids, "error", err)
	}
}
