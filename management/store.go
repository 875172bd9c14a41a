package main

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

// Vehicle statuses. Assignments move vehicles between available and in_use.
const (
	VehicleAvailable = "available"
	VehicleInUse     = "in_use"
)

// Assignment statuses.
const (
	AssignmentActive    = "active"
	AssignmentCompleted = "completed"
)

type Vehicle struct {
	ID           string    `json:"id"`
	Registration string    `json:"registration"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Year         int       `json:"year"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VehicleInput is the request body for creating or updating a vehicle. On
// update, zero-valued fields keep their current value.
type VehicleInput struct {
	Registration string `json:"registration"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Year         int    `json:"year"`
}

type Driver struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	LicenseNumber string    `json:"license_number"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type DriverInput struct {
	Name          string `json:"name"`
	LicenseNumber string `json:"license_number"`
}

type Assignment struct {
	ID        string     `json:"id"`
	VehicleID string     `json:"vehicle_id"`
	DriverID  string     `json:"driver_id"`
	Status    string     `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// FleetSummary is the analytics view computed over the live stores.
type FleetSummary struct {
	Vehicles          int            `json:"vehicles"`
	VehiclesByStatus  map[string]int `json:"vehicles_by_status"`
	Drivers           int            `json:"drivers"`
	ActiveAssignments int            `json:"active_assignments"`
	UtilisationPct    float64        `json:"utilisation_pct"`
}

// Store keeps the management block's state in memory behind one lock.
// Assignments couple vehicles and drivers, so a single lock keeps the
// cross-entity invariants cheap to hold.
type Store struct {
	mu          sync.RWMutex
	vehicles    map[string]*Vehicle
	drivers     map[string]*Driver
	assignments map[string]*Assignment
}

func NewStore() *Store {
	return &Store{
		vehicles:    make(map[string]*Vehicle),
		drivers:     make(map[string]*Driver),
		assignments: make(map[string]*Assignment),
	}
}

func (s *Store) CreateVehicle(in VehicleInput) (*Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.vehicles {
		if v.Registration == in.Registration {
			return nil, faults.Newf(faults.Conflict, "vehicle with registration %s already exists", in.Registration)
		}
	}

	now := time.Now().UTC()
	v := &Vehicle{
		ID:           "veh-" + uuid.NewString(),
		Registration: in.Registration,
		Make:         in.Make,
		Model:        in.Model,
		Year:         in.Year,
		Status:       VehicleAvailable,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.vehicles[v.ID] = v
	return cloneVehicle(v), nil
}

func (s *Store) GetVehicle(id string) (*Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "vehicle %s not found", id)
	}
	return cloneVehicle(v), nil
}

func (s *Store) ListVehicles() []*Vehicle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Vehicle, 0, len(s.vehicles))
	for _, v := range s.vehicles {
		out = append(out, cloneVehicle(v))
	}
	sortByID(out, func(v *Vehicle) string { return v.ID })
	return out
}

func (s *Store) UpdateVehicle(id string, in VehicleInput) (*Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "vehicle %s not found", id)
	}
	if in.Registration != "" && in.Registration != v.Registration {
		for _, other := range s.vehicles {
			if other.ID != id && other.Registration == in.Registration {
				return nil, faults.Newf(faults.Conflict, "vehicle with registration %s already exists", in.Registration)
			}
		}
		v.Registration = in.Registration
	}
	if in.Make != "" {
		v.Make = in.Make
	}
	if in.Model != "" {
		v.Model = in.Model
	}
	if in.Year != 0 {
		v.Year = in.Year
	}
	v.UpdatedAt = time.Now().UTC()
	return cloneVehicle(v), nil
}

func (s *Store) DeleteVehicle(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vehicles[id]; !ok {
		return faults.Newf(faults.NotFound, "vehicle %s not found", id)
	}
	for _, a := range s.assignments {
		if a.VehicleID == id && a.Status == AssignmentActive {
			return faults.Newf(faults.Conflict, "vehicle %s has an active assignment", id)
		}
	}
	delete(s.vehicles, id)
	return nil
}

func (s *Store) CreateDriver(in DriverInput) (*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range s.drivers {
		if d.LicenseNumber == in.LicenseNumber {
			return nil, faults.Newf(faults.Conflict, "driver with license %s already exists", in.LicenseNumber)
		}
	}

	now := time.Now().UTC()
	d := &Driver{
		ID:            "drv-" + uuid.NewString(),
		Name:          in.Name,
		LicenseNumber: in.LicenseNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.drivers[d.ID] = d
	return cloneDriver(d), nil
}

func (s *Store) GetDriver(id string) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "driver %s not found", id)
	}
	return cloneDriver(d), nil
}

func (s *Store) ListDrivers() []*Driver {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Driver, 0, len(s.drivers))
	for _, d := range s.drivers {
		out = append(out, cloneDriver(d))
	}
	sortByID(out, func(d *Driver) string { return d.ID })
	return out
}

func (s *Store) UpdateDriver(id string, in DriverInput) (*Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.drivers[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "driver %s not found", id)
	}
	if in.Name != "" {
		d.Name = in.Name
	}
	if in.LicenseNumber != "" {
		d.LicenseNumber = in.LicenseNumber
	}
	d.UpdatedAt = time.Now().UTC()
	return cloneDriver(d), nil
}

func (s *Store) DeleteDriver(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.drivers[id]; !ok {
		return faults.Newf(faults.NotFound, "driver %s not found", id)
	}
	for _, a := range s.assignments {
		if a.DriverID == id && a.Status == AssignmentActive {
			return faults.Newf(faults.Conflict, "driver %s has an active assignment", id)
		}
	}
	delete(s.drivers, id)
	return nil
}

// CreateAssignment pairs a driver with a vehicle. Both must exist and
// neither may already be on an active assignment.
func (s *Store) CreateAssignment(vehicleID, driverID string) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vehicles[vehicleID]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "vehicle %s not found", vehicleID)
	}
	if _, ok := s.drivers[driverID]; !ok {
		return nil, faults.Newf(faults.NotFound, "driver %s not found", driverID)
	}
	for _, a := range s.assignments {
		if a.Status != AssignmentActive {
			continue
		}
		if a.VehicleID == vehicleID {
			return nil, faults.Newf(faults.Conflict, "vehicle %s is already assigned", vehicleID)
		}
		if a.DriverID == driverID {
			return nil, faults.Newf(faults.Conflict, "driver %s is already assigned", driverID)
		}
	}

	a := &Assignment{
		ID:        "asg-" + uuid.NewString(),
		VehicleID: vehicleID,
		DriverID:  driverID,
		Status:    AssignmentActive,
		StartedAt: time.Now().UTC(),
	}
	s.assignments[a.ID] = a

	v.Status = VehicleInUse
	v.UpdatedAt = a.StartedAt
	return cloneAssignment(a), nil
}

func (s *Store) GetAssignment(id string) (*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "assignment %s not found", id)
	}
	return cloneAssignment(a), nil
}

func (s *Store) ListAssignments() []*Assignment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Assignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, cloneAssignment(a))
	}
	sortByID(out, func(a *Assignment) string { return a.ID })
	return out
}

// CompleteAssignment ends an active assignment and frees the vehicle.
func (s *Store) CompleteAssignment(id string) (*Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[id]
	if !ok {
		return nil, faults.Newf(faults.NotFound, "assignment %s not found", id)
	}
	if a.Status != AssignmentActive {
		return nil, faults.Newf(faults.Conflict, "assignment %s is already %s", id, a.Status)
	}

	now := time.Now().UTC()
	a.Status = AssignmentCompleted
	a.EndedAt = &now

	if v, ok := s.vehicles[a.VehicleID]; ok {
		v.Status = VehicleAvailable
		v.UpdatedAt = now
	}
	return cloneAssignment(a), nil
}

// Summary computes the analytics view under one read lock.
func (s *Store) Summary() *FleetSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byStatus := make(map[string]int)
	for _, v := range s.vehicles {
		byStatus[v.Status]++
	}
	active := 0
	for _, a := range s.assignments {
		if a.Status == AssignmentActive {
			active++
		}
	}

	utilisation := 0.0
	if len(s.vehicles) > 0 {
		utilisation = float64(byStatus[VehicleInUse]) / float64(len(s.vehicles)) * 100
	}
	return &FleetSummary{
		Vehicles:          len(s.vehicles),
		VehiclesByStatus:  byStatus,
		Drivers:           len(s.drivers),
		ActiveAssignments: active,
		UtilisationPct:    utilisation,
	}
}

func cloneVehicle(v *Vehicle) *Vehicle {
	out := *v
	return &out
}

func cloneDriver(d *Driver) *Driver {
	out := *d
	return &out
}

func cloneAssignment(a *Assignment) *Assignment {
	out := *a
	if a.EndedAt != nil {
		end := *a.EndedAt
		out.EndedAt = &end
	}
	return &out
}

func sortByID[T any](items []*T, id func(*T) string) {
	sort.Slice(items, func(i, j int) bool { return id(items[i]) < id(items[j]) })
}
