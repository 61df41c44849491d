package poller

import (
	"time"

	"github.com/clambin/nuheat-monitor/internal/registry"
)

// Update is a snapshot of the registry after a completed poll.
type Update struct {
	Devices []registry.Device `json:"devices"`
	Unit    registry.Unit     `json:"unit"`
	Time    time.Time         `json:"time"`
}

// Thermostats returns the thermostats in the snapshot.
func (u Update) Thermostats() []registry.Device {
	return u.ofKind(registry.KindThermostat)
}

// Groups returns the groups in the snapshot.
func (u Update) Groups() []registry.Device {
	return u.ofKind(registry.KindGroup)
}

func (u Update) ofKind(kind registry.Kind) []registry.Device {
	devices := make([]registry.Device, 0, len(u.Devices))
	for _, device := range u.Devices {
		if device.Kind == kind {
			devices = append(devices, device)
		}
	}
	return devices
}

// Device looks up a device by name or id.
func (u Update) Device(name string) (registry.Device, bool) {
	for _, device := range u.Devices {
		if device.Name == name || device.ID == name {
			return device, true
		}
	}
	return registry.Device{}, false
}
