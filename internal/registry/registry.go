package registry

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/clambin/go-common/set"
)

// Registry maps device ids to their last known state. The poller is the only
// writer of confirmed state (through Sync and Prune); the command processor is
// the only writer of pending state (through SetPending and ClearPending). One
// lock covers the whole registry: device counts are small and updates arrive
// at minute-scale cadence.
type Registry struct {
	lock    sync.RWMutex
	devices map[string]*Device
	unit    Unit
}

func New() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// SetUnit records the account's temperature scale. A change invalidates every
// stored temperature, so the registry is rebuilt from scratch.
func (r *Registry) SetUnit(unit Unit) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.unit == unit {
		return
	}
	r.unit = unit
	clear(r.devices)
}

// Unit returns the account's temperature scale, or "" if it isn't known yet.
func (r *Registry) Unit() Unit {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.unit
}

// Get returns a copy of the device with the given id.
func (r *Registry) Get(id string) (Device, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	device, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return device.copy(), true
}

// Devices returns a copy of all devices, thermostats before groups, sorted by name.
func (r *Registry) Devices() []Device {
	r.lock.RLock()
	defer r.lock.RUnlock()
	devices := make([]Device, 0, len(r.devices))
	for _, device := range r.devices {
		devices = append(devices, device.copy())
	}
	slices.SortFunc(devices, func(a, b Device) int {
		if c := cmp.Compare(a.Kind, b.Kind); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return devices
}

// Sync merges state confirmed by the API into the registry, resolving any
// pending optimistic update on the device: a request the confirmed state
// matches has been applied and is cleared; a request against a device that
// now reports offline, or one older than pendingTimeout, snaps back to the
// confirmed state.
func (r *Registry) Sync(confirmed Device, pendingTimeout time.Duration, now time.Time) {
	r.lock.Lock()
	defer r.lock.Unlock()

	device, ok := r.devices[confirmed.ID]
	if !ok {
		device = &Device{}
		r.devices[confirmed.ID] = device
	}
	pending := device.Pending
	*device = confirmed.copy()
	device.Unit = r.unit
	device.LastSyncedAt = now
	device.Pending = pending

	if pending == nil {
		return
	}
	switch {
	case pending.resolvedBy(confirmed):
		device.Pending = nil
	case !confirmed.Online:
		device.Pending = nil
	case now.Sub(pending.SubmittedAt) > pendingTimeout:
		device.Pending = nil
	}
}

// SetPending records an optimistic update on a device. It reports false if the
// device is unknown.
func (r *Registry) SetPending(id string, target *float64, mode *Mode, now time.Time) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return false
	}
	device.Pending = &Pending{Target: copyFloat(target), SubmittedAt: now}
	if mode != nil {
		m := *mode
		device.Pending.Mode = &m
	}
	return true
}

// ClearPending reverts an optimistic update: the device drops back to its last
// confirmed state.
func (r *Registry) ClearPending(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if device, ok := r.devices[id]; ok {
		device.Pending = nil
	}
}

// Prune removes devices the API no longer reports.
func (r *Registry) Prune(seen set.Set[string]) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for id := range r.devices {
		if !seen.Contains(id) {
			delete(r.devices, id)
		}
	}
}
