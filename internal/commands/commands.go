// Package commands translates user intents (set a temperature, change a mode,
// toggle a group's away setting) into Conductor API writes, keeping the
// registry's optimistic state consistent with the outcome: the requested value
// is visible immediately, and snaps back if the API rejects the write.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/nuheat-monitor/internal/nuheat"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

// Sentinel errors classifying failed commands; test with errors.Is.
var (
	ErrRejected     = errors.New("rejected")
	ErrOffline      = errors.New("device offline")
	ErrUnauthorized = errors.New("unauthorized")
	ErrTransient    = errors.New("transient failure")
)

// Error is a failed command.
type Error struct {
	Kind   error // one of the sentinel errors above
	Reason string
	err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

func (e *Error) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	return e.Kind
}

// NuHeatSetter is the part of the nuheat client the processor needs.
type NuHeatSetter interface {
	SetTemperature(ctx context.Context, serialNumber, name string, setPoint nuheat.Temperature, mode nuheat.ScheduleMode) error
	SetScheduleMode(ctx context.Context, serialNumber string, mode nuheat.ScheduleMode) error
	SetGroupAway(ctx context.Context, groupID string, away bool) error
}

type Refresher interface {
	Refresh()
}

// Processor executes commands against the API.
type Processor struct {
	client   NuHeatSetter
	registry *registry.Registry
	poller   Refresher
	logger   *slog.Logger
	now      func() time.Time
}

func New(client NuHeatSetter, reg *registry.Registry, poller Refresher, logger *slog.Logger) *Processor {
	return &Processor{
		client:   client,
		registry: reg,
		poller:   poller,
		logger:   logger,
		now:      time.Now,
	}
}

// SetTemperature sets a thermostat's target temperature (in the account's
// temperature scale) as a temporary hold.
func (p *Processor) SetTemperature(ctx context.Context, id string, value float64) error {
	device, err := p.device(id, registry.KindThermostat)
	if err != nil {
		return err
	}
	if device.MinTemperature != nil && value < *device.MinTemperature {
		return &Error{Kind: ErrRejected, Reason: fmt.Sprintf("%.1fº is below the thermostat's minimum (%.1fº)", value, *device.MinTemperature)}
	}
	if device.MaxTemperature != nil && value > *device.MaxTemperature {
		return &Error{Kind: ErrRejected, Reason: fmt.Sprintf("%.1fº is above the thermostat's maximum (%.1fº)", value, *device.MaxTemperature)}
	}

	mode := registry.ModeTemporaryHold
	if !p.registry.SetPending(id, &value, &mode, p.now()) {
		// the device vanished from the registry after validation
		return &Error{Kind: ErrRejected, Reason: "unknown device: " + id}
	}
	if err = p.client.SetTemperature(ctx, id, device.Name, nuheat.TemperatureFromDegrees(value), nuheat.ScheduleModeTemporaryHold); err != nil {
		p.registry.ClearPending(id)
		return p.commandError(id, err)
	}
	p.logger.Debug("setpoint submitted", slog.String("name", device.Name), slog.Float64("target", value))
	p.poller.Refresh()
	return nil
}

// SetMode sets a thermostat's schedule mode, leaving its setpoint untouched.
func (p *Processor) SetMode(ctx context.Context, id string, mode registry.Mode) error {
	scheduleMode, ok := scheduleModes[mode]
	if !ok {
		return &Error{Kind: ErrRejected, Reason: fmt.Sprintf("%s is not a valid thermostat mode", mode)}
	}
	device, err := p.device(id, registry.KindThermostat)
	if err != nil {
		return err
	}

	if !p.registry.SetPending(id, nil, &mode, p.now()) {
		return &Error{Kind: ErrRejected, Reason: "unknown device: " + id}
	}
	if err = p.client.SetScheduleMode(ctx, id, scheduleMode); err != nil {
		p.registry.ClearPending(id)
		return p.commandError(id, err)
	}
	p.logger.Debug("mode submitted", slog.String("name", device.Name), slog.String("mode", mode.String()))
	p.poller.Refresh()
	return nil
}

// SetGroupMode sets a group's away mode (ModeAwayOn or ModeAwayOff).
func (p *Processor) SetGroupMode(ctx context.Context, id string, mode registry.Mode) error {
	if mode != registry.ModeAwayOn && mode != registry.ModeAwayOff {
		return &Error{Kind: ErrRejected, Reason: fmt.Sprintf("%s is not a valid group mode", mode)}
	}
	device, err := p.device(id, registry.KindGroup)
	if err != nil {
		return err
	}

	if !p.registry.SetPending(id, nil, &mode, p.now()) {
		return &Error{Kind: ErrRejected, Reason: "unknown device: " + id}
	}
	if err = p.client.SetGroupAway(ctx, id, mode == registry.ModeAwayOn); err != nil {
		p.registry.ClearPending(id)
		return p.commandError(id, err)
	}
	p.logger.Debug("group mode submitted", slog.String("name", device.Name), slog.String("mode", mode.String()))
	p.poller.Refresh()
	return nil
}

// device validates the target of a command. Commands against a device that
// last reported offline fail fast, without a network call; the next poll
// remains authoritative on whether the device is back online.
func (p *Processor) device(id string, kind registry.Kind) (registry.Device, error) {
	device, ok := p.registry.Get(id)
	if !ok {
		return registry.Device{}, &Error{Kind: ErrRejected, Reason: "unknown device: " + id}
	}
	if device.Kind != kind {
		return registry.Device{}, &Error{Kind: ErrRejected, Reason: fmt.Sprintf("%s is a %s, not a %s", device.Name, device.Kind, kind)}
	}
	if !device.Online {
		return registry.Device{}, &Error{Kind: ErrOffline, Reason: device.Name + " is offline"}
	}
	return device, nil
}

func (p *Processor) commandError(id string, err error) error {
	p.logger.Debug("command failed", slog.String("id", id), slog.Any("err", err))
	switch {
	case errors.Is(err, nuheat.ErrDeviceOffline):
		return &Error{Kind: ErrOffline, err: err}
	case errors.Is(err, nuheat.ErrUnauthorized), errors.Is(err, nuheat.ErrAuthInvalid):
		return &Error{Kind: ErrUnauthorized, err: err}
	case errors.Is(err, nuheat.ErrNotFound):
		return &Error{Kind: ErrRejected, err: err}
	default:
		return &Error{Kind: ErrTransient, err: err}
	}
}

var scheduleModes = map[registry.Mode]nuheat.ScheduleMode{
	registry.ModeSchedule:      nuheat.ScheduleModeAuto,
	registry.ModeTemporaryHold: nuheat.ScheduleModeTemporaryHold,
	registry.ModePermanentHold: nuheat.ScheduleModePermanentHold,
}
