package registry

import (
	"testing"
	"time"

	"github.com/clambin/go-common/set"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func bathroom() Device {
	return Device{
		ID:                 "t1",
		Name:               "Bathroom",
		Kind:               KindThermostat,
		Online:             true,
		CurrentTemperature: ptr(21.5),
		TargetTemperature:  ptr(23.0),
		Mode:               ModeSchedule,
	}
}

func TestRegistry_Sync(t *testing.T) {
	r := New()
	r.SetUnit(UnitCelsius)

	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)
	r.Sync(bathroom(), time.Hour, now)

	device, ok := r.Get("t1")
	require.True(t, ok)
	assert.Equal(t, "Bathroom", device.Name)
	assert.Equal(t, UnitCelsius, device.Unit)
	assert.Equal(t, now, device.LastSyncedAt)
	assert.Equal(t, 23.0, *device.EffectiveTarget())

	// a failed poll leaves the device untouched; only LastSyncedAt moves on the next success
	r.Sync(bathroom(), time.Hour, now.Add(5*time.Minute))
	updated, _ := r.Get("t1")
	assert.Equal(t, now.Add(5*time.Minute), updated.LastSyncedAt)
	updated.LastSyncedAt = device.LastSyncedAt
	assert.Equal(t, device, updated)
}

func TestRegistry_Pending(t *testing.T) {
	now := time.Date(2024, time.December, 1, 12, 0, 0, 0, time.UTC)

	t.Run("confirmed", func(t *testing.T) {
		r := New()
		r.Sync(bathroom(), time.Hour, now)
		require.True(t, r.SetPending("t1", ptr(25.0), ptr(ModeTemporaryHold), now))

		device, _ := r.Get("t1")
		assert.Equal(t, 25.0, *device.EffectiveTarget())
		assert.Equal(t, ModeTemporaryHold, device.EffectiveMode())
		// confirmed state is untouched until the API confirms
		assert.Equal(t, 23.0, *device.TargetTemperature)
		assert.Equal(t, ModeSchedule, device.Mode)

		confirmed := bathroom()
		confirmed.TargetTemperature = ptr(25.0)
		confirmed.Mode = ModeTemporaryHold
		r.Sync(confirmed, time.Hour, now.Add(time.Minute))

		device, _ = r.Get("t1")
		assert.Nil(t, device.Pending)
		assert.Equal(t, 25.0, *device.EffectiveTarget())
	})

	t.Run("stale poll does not clobber", func(t *testing.T) {
		r := New()
		r.Sync(bathroom(), time.Hour, now)
		require.True(t, r.SetPending("t1", ptr(25.0), nil, now))

		// the next poll still reports the old target. the pending request survives.
		r.Sync(bathroom(), time.Hour, now.Add(time.Minute))
		device, _ := r.Get("t1")
		require.NotNil(t, device.Pending)
		assert.Equal(t, 25.0, *device.EffectiveTarget())
	})

	t.Run("timeout snaps back", func(t *testing.T) {
		r := New()
		r.Sync(bathroom(), time.Hour, now)
		require.True(t, r.SetPending("t1", ptr(25.0), nil, now))

		r.Sync(bathroom(), time.Hour, now.Add(2*time.Hour))
		device, _ := r.Get("t1")
		assert.Nil(t, device.Pending)
		assert.Equal(t, 23.0, *device.EffectiveTarget())
	})

	t.Run("offline snaps back", func(t *testing.T) {
		r := New()
		r.Sync(bathroom(), time.Hour, now)
		require.True(t, r.SetPending("t1", ptr(25.0), nil, now))

		offline := bathroom()
		offline.Online = false
		r.Sync(offline, time.Hour, now.Add(time.Minute))
		device, _ := r.Get("t1")
		assert.Nil(t, device.Pending)
	})

	t.Run("revert", func(t *testing.T) {
		r := New()
		r.Sync(bathroom(), time.Hour, now)
		require.True(t, r.SetPending("t1", ptr(25.0), nil, now))
		r.ClearPending("t1")

		device, _ := r.Get("t1")
		assert.Nil(t, device.Pending)
		assert.Equal(t, 23.0, *device.EffectiveTarget())
	})

	t.Run("unknown device", func(t *testing.T) {
		r := New()
		assert.False(t, r.SetPending("t1", ptr(25.0), nil, now))
	})
}

func TestRegistry_Devices(t *testing.T) {
	r := New()
	now := time.Now()
	r.Sync(Device{ID: "g1", Name: "Downstairs", Kind: KindGroup, Online: true}, time.Hour, now)
	r.Sync(Device{ID: "t2", Name: "Kitchen", Kind: KindThermostat, Online: true}, time.Hour, now)
	r.Sync(bathroom(), time.Hour, now)

	devices := r.Devices()
	require.Len(t, devices, 3)
	assert.Equal(t, "Bathroom", devices[0].Name)
	assert.Equal(t, "Kitchen", devices[1].Name)
	assert.Equal(t, "Downstairs", devices[2].Name)

	// mutating the returned copy leaves the registry untouched
	*devices[0].TargetTemperature = 10
	device, _ := r.Get("t1")
	assert.Equal(t, 23.0, *device.TargetTemperature)
}

func TestRegistry_Prune(t *testing.T) {
	r := New()
	now := time.Now()
	r.Sync(bathroom(), time.Hour, now)
	r.Sync(Device{ID: "t2", Name: "Kitchen", Kind: KindThermostat, Online: true}, time.Hour, now)

	r.Prune(set.New("t1"))

	_, ok := r.Get("t2")
	assert.False(t, ok)
	_, ok = r.Get("t1")
	assert.True(t, ok)
}

func TestRegistry_SetUnit(t *testing.T) {
	r := New()
	r.SetUnit(UnitCelsius)
	r.Sync(bathroom(), time.Hour, time.Now())

	// same unit: nothing happens
	r.SetUnit(UnitCelsius)
	_, ok := r.Get("t1")
	assert.True(t, ok)

	// a scale change invalidates all stored temperatures
	r.SetUnit(UnitFahrenheit)
	_, ok = r.Get("t1")
	assert.False(t, ok)
	assert.Equal(t, UnitFahrenheit, r.Unit())
}

func TestDevice_IsStale(t *testing.T) {
	now := time.Now()
	device := Device{LastSyncedAt: now.Add(-10 * time.Minute)}
	assert.True(t, device.IsStale(5*time.Minute, now))
	assert.False(t, device.IsStale(15*time.Minute, now))
}
