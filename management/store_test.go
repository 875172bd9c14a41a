package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/COS301-SE-2025/SAMFMS-sub004/common/faults"
)

func TestStore_VehicleLifecycle(t *testing.T) {
	s := NewStore()

	v, err := s.CreateVehicle(VehicleInput{Registration: "CA 123-456", Make: "Toyota", Model: "Hilux", Year: 2022})
	require.NoError(t, err)
	assert.Contains(t, v.ID, "veh-")
	assert.Equal(t, VehicleAvailable, v.Status)

	got, err := s.GetVehicle(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "CA 123-456", got.Registration)

	// The returned copy is detached from the store.
	got.Make = "tampered"
	again, err := s.GetVehicle(v.ID)
	require.NoError(t, err)
	assert.Equal(t, "Toyota", again.Make)

	updated, err := s.UpdateVehicle(v.ID, VehicleInput{Model: "Land Cruiser"})
	require.NoError(t, err)
	assert.Equal(t, "Land Cruiser", updated.Model)
	assert.Equal(t, "Toyota", updated.Make, "zero fields keep their value")
	assert.Equal(t, 2022, updated.Year)

	require.NoError(t, s.DeleteVehicle(v.ID))
	_, err = s.GetVehicle(v.ID)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestStore_DuplicateRegistrationRejected(t *testing.T) {
	s := NewStore()

	first, err := s.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)

	_, err = s.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	assert.Equal(t, faults.Conflict, faults.KindOf(err))

	// Moving another vehicle onto a taken registration is also a conflict.
	second, err := s.CreateVehicle(VehicleInput{Registration: "CA 999-999"})
	require.NoError(t, err)
	_, err = s.UpdateVehicle(second.ID, VehicleInput{Registration: first.Registration})
	assert.Equal(t, faults.Conflict, faults.KindOf(err))
}

func TestStore_DriverLifecycle(t *testing.T) {
	s := NewStore()

	d, err := s.CreateDriver(DriverInput{Name: "Thandi M", LicenseNumber: "DL-1001"})
	require.NoError(t, err)
	assert.Contains(t, d.ID, "drv-")

	_, err = s.CreateDriver(DriverInput{Name: "Other", LicenseNumber: "DL-1001"})
	assert.Equal(t, faults.Conflict, faults.KindOf(err), "license numbers are unique")

	updated, err := s.UpdateDriver(d.ID, DriverInput{Name: "Thandi Mokoena"})
	require.NoError(t, err)
	assert.Equal(t, "Thandi Mokoena", updated.Name)
	assert.Equal(t, "DL-1001", updated.LicenseNumber)

	require.NoError(t, s.DeleteDriver(d.ID))
	_, err = s.GetDriver(d.ID)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
}

func TestStore_AssignmentLifecycle(t *testing.T) {
	s := NewStore()

	v, err := s.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)
	d, err := s.CreateDriver(DriverInput{Name: "Thandi", LicenseNumber: "DL-1001"})
	require.NoError(t, err)

	a, err := s.CreateAssignment(v.ID, d.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentActive, a.Status)
	assert.Nil(t, a.EndedAt)

	inUse, err := s.GetVehicle(v.ID)
	require.NoError(t, err)
	assert.Equal(t, VehicleInUse, inUse.Status, "assignment marks the vehicle in use")

	done, err := s.CompleteAssignment(a.ID)
	require.NoError(t, err)
	assert.Equal(t, AssignmentCompleted, done.Status)
	require.NotNil(t, done.EndedAt)

	freed, err := s.GetVehicle(v.ID)
	require.NoError(t, err)
	assert.Equal(t, VehicleAvailable, freed.Status, "completion frees the vehicle")

	_, err = s.CompleteAssignment(a.ID)
	assert.Equal(t, faults.Conflict, faults.KindOf(err), "completion is terminal")
}

func TestStore_AssignmentGuards(t *testing.T) {
	s := NewStore()

	v, err := s.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)
	d, err := s.CreateDriver(DriverInput{Name: "Thandi", LicenseNumber: "DL-1001"})
	require.NoError(t, err)

	_, err = s.CreateAssignment("veh-missing", d.ID)
	assert.Equal(t, faults.NotFound, faults.KindOf(err))
	_, err = s.CreateAssignment(v.ID, "drv-missing")
	assert.Equal(t, faults.NotFound, faults.KindOf(err))

	_, err = s.CreateAssignment(v.ID, d.ID)
	require.NoError(t, err)

	other, err := s.CreateVehicle(VehicleInput{Registration: "CA 999-999"})
	require.NoError(t, err)
	otherDriver, err := s.CreateDriver(DriverInput{Name: "Sipho", LicenseNumber: "DL-2002"})
	require.NoError(t, err)

	_, err = s.CreateAssignment(v.ID, otherDriver.ID)
	assert.Equal(t, faults.Conflict, faults.KindOf(err), "vehicle already assigned")
	_, err = s.CreateAssignment(other.ID, d.ID)
	assert.Equal(t, faults.Conflict, faults.KindOf(err), "driver already assigned")
}

func TestStore_DeleteGuardsActiveAssignment(t *testing.T) {
	s := NewStore()

	v, err := s.CreateVehicle(VehicleInput{Registration: "CA 123-456"})
	require.NoError(t, err)
	d, err := s.CreateDriver(DriverInput{Name: "Thandi", LicenseNumber: "DL-1001"})
	require.NoError(t, err)
	a, err := s.CreateAssignment(v.ID, d.ID)
	require.NoError(t, err)

	assert.Equal(t, faults.Conflict, faults.KindOf(s.DeleteVehicle(v.ID)))
	assert.Equal(t, faults.Conflict, faults.KindOf(s.DeleteDriver(d.ID)))

	_, err = s.CompleteAssignment(a.ID)
	require.NoError(t, err)

	assert.NoError(t, s.DeleteVehicle(v.ID))
	assert.NoError(t, s.DeleteDriver(d.ID))
}

func TestStore_Summary(t *testing.T) {
	s := NewStore()

	summary := s.Summary()
	assert.Equal(t, 0, summary.Vehicles)
	assert.Equal(t, 0.0, summary.UtilisationPct, "no vehicles means zero utilisation, not NaN")

	v1, err := s.CreateVehicle(VehicleInput{Registration: "CA 111-111"})
	require.NoError(t, err)
	_, err = s.CreateVehicle(VehicleInput{Registration: "CA 222-222"})
	require.NoError(t, err)
	d, err := s.CreateDriver(DriverInput{Name: "Thandi", LicenseNumber: "DL-1001"})
	require.NoError(t, err)
	_, err = s.CreateAssignment(v1.ID, d.ID)
	require.NoError(t, err)

	summary = s.Summary()
	assert.Equal(t, 2, summary.Vehicles)
	assert.Equal(t, 1, summary.Drivers)
	assert.Equal(t, 1, summary.ActiveAssignments)
	assert.Equal(t, 1, summary.VehiclesByStatus[VehicleInUse])
	assert.Equal(t, 1, summary.VehiclesByStatus[VehicleAvailable])
	assert.InDelta(t, 50.0, summary.UtilisationPct, 0.001)
}

func TestStore_ListsAreSorted(t *testing.T) {
	s := NewStore()

	for _, reg := range []string{"CA 3", "CA 1", "CA 2"} {
		_, err := s.CreateVehicle(VehicleInput{Registration: reg})
		require.NoError(t, err)
	}

	vehicles := s.ListVehicles()
	require.Len(t, vehicles, 3)
	for i := 1; i < len(vehicles); i++ {
		assert.Less(t, vehicles[i-1].ID, vehicles[i].ID)
	}
}
