package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"solar-sim/internal/topology"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := NewDatabase(filepath.Join(t.TempDir(), "data", "solar-sim.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSyncPlant(t *testing.T) {
	db := openTestDB(t)
	plant, err := topology.Build(topology.DefaultDescription(), topology.Options{})
	require.NoError(t, err)

	require.NoError(t, db.SyncPlant(plant))
	// syncing again must not duplicate anything
	require.NoError(t, db.SyncPlant(plant))

	groups, err := db.ListDeviceGroups()
	require.NoError(t, err)
	var names []string
	for _, g := range groups {
		names = append(names, g.Name)
	}
	assert.Equal(t, []string{"inverters", "feederBreakers", "transformers", "mainBreakers", "checkMeters", "simControl"}, names)

	devices, err := db.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, len(plant.Devices))
	for i, dev := range devices {
		assert.Equal(t, plant.Devices[i].Meta().Name, dev.Name)
		assert.Equal(t, plant.Devices[i].Meta().Address, dev.Address)
		assert.Equal(t, plant.Devices[i].Meta().UID().String(), dev.UID)
	}

	mb, err := db.GetDevice("mainBreaker1")
	require.NoError(t, err)
	assert.Equal(t, "mainBreakers", mb.Group.Name)
	var inputs []string
	for _, in := range mb.Inputs {
		assert.Equal(t, mb.ID, in.DeviceID)
		inputs = append(inputs, in.Group+"/"+in.Name)
	}
	assert.ElementsMatch(t, []string{
		"feederBreakers/feeder1Breaker",
		"feederBreakers/feeder2Breaker",
		"transformers/transformer1",
	}, inputs)

	ctrl, err := db.GetDevice(topology.ControllerName)
	require.NoError(t, err)
	assert.Len(t, ctrl.Inputs, 6)
}

func TestSyncPlantUpdatesAddresses(t *testing.T) {
	db := openTestDB(t)
	plant, err := topology.Build(topology.DefaultDescription(), topology.Options{})
	require.NoError(t, err)
	require.NoError(t, db.SyncPlant(plant))

	desc := topology.DefaultDescription()
	desc.Inverters = desc.Inverters[1:]
	desc.FeederBreakers[0].Connections = map[string][]string{"inverters": {"inverter2"}}
	smaller, err := topology.Build(desc, topology.Options{})
	require.NoError(t, err)
	require.NoError(t, db.SyncPlant(smaller))

	fb, err := db.GetDevice("feeder1Breaker")
	require.NoError(t, err)
	assert.Equal(t, uint8(4), fb.Address)
	require.Len(t, fb.Inputs, 1)
	assert.Equal(t, "inverter2", fb.Inputs[0].Name)
}

func TestGetDeviceNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetDevice("ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestUpsertDeviceGroup(t *testing.T) {
	db := openTestDB(t)
	a, err := db.UpsertDeviceGroup("inverters")
	require.NoError(t, err)
	b, err := db.UpsertDeviceGroup("inverters")
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}
