// Package registry holds the in-memory model of the account's thermostats and
// groups: the last state confirmed by the cloud API, plus any optimistic
// update that is still awaiting confirmation.
package registry

import (
	"math"
	"time"
)

// Kind distinguishes thermostats from groups. They support different modes:
// thermostats follow a schedule or hold a setpoint, groups toggle away mode
// for their members.
type Kind int

const (
	KindThermostat Kind = iota + 1
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindThermostat:
		return "thermostat"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Mode is a device's operating mode.
type Mode int

const (
	ModeSchedule Mode = iota + 1
	ModeTemporaryHold
	ModePermanentHold
	ModeAwayOn
	ModeAwayOff
)

func (m Mode) String() string {
	switch m {
	case ModeSchedule:
		return "schedule"
	case ModeTemporaryHold:
		return "temporary hold"
	case ModePermanentHold:
		return "permanent hold"
	case ModeAwayOn:
		return "away"
	case ModeAwayOff:
		return "home"
	default:
		return "unknown"
	}
}

// Unit is the account's temperature scale.
type Unit string

const (
	UnitCelsius    Unit = "Celsius"
	UnitFahrenheit Unit = "Fahrenheit"
)

// Pending is an optimistic update: a requested target temperature and/or mode
// that has been submitted to the API but not yet confirmed by a poll.
type Pending struct {
	Target      *float64  `json:"target,omitempty"`
	Mode        *Mode     `json:"mode,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// resolvedBy reports whether the confirmed state matches the request.
func (p Pending) resolvedBy(confirmed Device) bool {
	if p.Target != nil {
		if confirmed.TargetTemperature == nil || math.Abs(*confirmed.TargetTemperature-*p.Target) >= 0.01 {
			return false
		}
	}
	if p.Mode != nil && confirmed.Mode != *p.Mode {
		return false
	}
	return true
}

// Device is the registry's view of one thermostat or group.
// TargetTemperature and Mode hold the last state confirmed by the API; the
// Effective accessors overlay the pending request, so callers display the
// user's intent while it's in flight.
type Device struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Kind               Kind      `json:"kind"`
	Online             bool      `json:"online"`
	Heating            bool      `json:"heating,omitempty"`
	CurrentTemperature *float64  `json:"currentTemperature,omitempty"`
	TargetTemperature  *float64  `json:"targetTemperature,omitempty"`
	MinTemperature     *float64  `json:"minTemperature,omitempty"`
	MaxTemperature     *float64  `json:"maxTemperature,omitempty"`
	Mode               Mode      `json:"mode"`
	Unit               Unit      `json:"unit"`
	LastSyncedAt       time.Time `json:"lastSyncedAt"`
	Pending            *Pending  `json:"pending,omitempty"`
}

// EffectiveTarget returns the target temperature to display: the pending
// request if one is in flight, otherwise the last confirmed value.
func (d Device) EffectiveTarget() *float64 {
	if d.Pending != nil && d.Pending.Target != nil {
		return d.Pending.Target
	}
	return d.TargetTemperature
}

// EffectiveMode returns the mode to display: the pending request if one is in
// flight, otherwise the last confirmed value.
func (d Device) EffectiveMode() Mode {
	if d.Pending != nil && d.Pending.Mode != nil {
		return *d.Pending.Mode
	}
	return d.Mode
}

// IsStale reports whether the device's state is older than maxAge, i.e. recent
// polls failed to sync it.
func (d Device) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(d.LastSyncedAt) > maxAge
}

func (d Device) copy() Device {
	d.CurrentTemperature = copyFloat(d.CurrentTemperature)
	d.TargetTemperature = copyFloat(d.TargetTemperature)
	d.MinTemperature = copyFloat(d.MinTemperature)
	d.MaxTemperature = copyFloat(d.MaxTemperature)
	if d.Pending != nil {
		pending := *d.Pending
		pending.Target = copyFloat(pending.Target)
		if pending.Mode != nil {
			mode := *pending.Mode
			pending.Mode = &mode
		}
		d.Pending = &pending
	}
	return d
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
