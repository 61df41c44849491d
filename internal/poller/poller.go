// Package poller periodically reconciles the state of all thermostats and
// groups reported by the Conductor API into the registry, and publishes a
// snapshot after every successful poll.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/clambin/go-common/set"
	"golang.org/x/sync/errgroup"

	"github.com/clambin/nuheat-monitor/internal/nuheat"
	"github.com/clambin/nuheat-monitor/internal/registry"
	"github.com/clambin/nuheat-monitor/pkg/pubsub"
)

type Poller interface {
	Subscribe() chan Update
	Unsubscribe(ch chan Update)
	Refresh()
}

// NuHeatGetter is the part of the nuheat client the poller needs.
type NuHeatGetter interface {
	Account(ctx context.Context) (nuheat.Account, error)
	Thermostats(ctx context.Context) ([]nuheat.Thermostat, error)
	Thermostat(ctx context.Context, serialNumber string) (nuheat.Thermostat, error)
	Groups(ctx context.Context) ([]nuheat.Group, error)
	Group(ctx context.Context, groupID string) (nuheat.Group, error)
}

type Notifier interface {
	Notify(msg string)
}

// scopeWarnThreshold is the number of consecutive polls failing with a server
// error before we warn that the account may be missing Open API access.
const scopeWarnThreshold = 3

const maxConcurrentFetches = 4

type Configuration struct {
	Interval time.Duration
	// PendingTimeout bounds how long an unconfirmed optimistic update survives
	// before it snaps back to confirmed state. Defaults to twice the poll interval.
	PendingTimeout time.Duration
}

var _ Poller = &NuHeatPoller{}

type NuHeatPoller struct {
	*pubsub.Publisher[Update]
	client   NuHeatGetter
	registry *registry.Registry
	notifier Notifier
	cfg      Configuration
	logger   *slog.Logger
	refresh  chan struct{}

	// only touched by Run's goroutine
	serverErrStreak int
	reauthNotified  bool
}

func New(client NuHeatGetter, reg *registry.Registry, cfg Configuration, notifier Notifier, logger *slog.Logger) *NuHeatPoller {
	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = 2 * cfg.Interval
	}
	return &NuHeatPoller{
		Publisher: pubsub.New[Update](logger.With(slog.String("component", "pubsub"))),
		client:    client,
		registry:  reg,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		refresh:   make(chan struct{}),
	}
}

func (p *NuHeatPoller) Run(ctx context.Context) error {
	p.logger.Debug("started", slog.Duration("interval", p.cfg.Interval))
	defer p.logger.Debug("stopped")

	// poll right away so subscribers don't wait a full interval for data
	p.poll(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.refresh:
		}
		p.poll(ctx)
	}
}

// Refresh triggers a poll outside the regular schedule.
func (p *NuHeatPoller) Refresh() {
	p.refresh <- struct{}{}
}

func (p *NuHeatPoller) poll(ctx context.Context) {
	start := time.Now()
	update, err := p.update(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.reportFailure(err)
		}
		return
	}
	p.serverErrStreak = 0
	p.reauthNotified = false
	p.Publish(update)
	p.logger.Debug("poll completed", slog.Duration("duration", time.Since(start)), slog.Int("devices", len(update.Devices)))
}

// update performs one poll cycle. A failure to list devices (or to determine
// the account's temperature scale) ends the cycle early, leaving the registry
// untouched. Once the device lists are in, each device is reconciled
// independently: a device that fails to report keeps its last known state
// (growing stale by age) and does not stop the others from syncing.
func (p *NuHeatPoller) update(ctx context.Context) (Update, error) {
	if p.registry.Unit() == "" {
		account, err := p.client.Account(ctx)
		if err != nil {
			return Update{}, fmt.Errorf("account: %w", err)
		}
		unit := registry.UnitFahrenheit
		if account.TemperatureScale == string(registry.UnitCelsius) {
			unit = registry.UnitCelsius
		}
		p.registry.SetUnit(unit)
	}

	thermostats, err := p.client.Thermostats(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("thermostats: %w", err)
	}
	groups, err := p.client.Groups(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("groups: %w", err)
	}

	now := time.Now()
	seen := set.New[string]()
	var g errgroup.Group
	g.SetLimit(maxConcurrentFetches)
	for _, thermostat := range thermostats {
		seen.Add(thermostat.SerialNumber)
		g.Go(func() error {
			detail, err := p.client.Thermostat(ctx, thermostat.SerialNumber)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("thermostat not synced", slog.String("name", thermostat.Name), slog.Any("err", err))
				return nil
			}
			p.registry.Sync(thermostatState(detail), p.cfg.PendingTimeout, now)
			return nil
		})
	}
	for _, group := range groups {
		seen.Add(group.GroupID)
		g.Go(func() error {
			detail, err := p.client.Group(ctx, group.GroupID)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Warn("group not synced", slog.String("name", group.GroupName), slog.Any("err", err))
				return nil
			}
			p.registry.Sync(groupState(detail), p.cfg.PendingTimeout, now)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return Update{}, err
	}
	p.registry.Prune(seen)

	return Update{Devices: p.registry.Devices(), Unit: p.registry.Unit(), Time: now}, nil
}

func (p *NuHeatPoller) reportFailure(err error) {
	switch {
	case errors.Is(err, nuheat.ErrAuthInvalid):
		p.logger.Error("authorization is no longer valid. run \"nuheat-monitor login\" to reauthorize", slog.Any("err", err))
		if !p.reauthNotified {
			p.notify("nuheat-monitor needs to be reauthorized: run \"nuheat-monitor login\"")
			p.reauthNotified = true
		}
	case errors.Is(err, nuheat.ErrServerError):
		p.serverErrStreak++
		p.logger.Error("failed to poll nuheat API", slog.Any("err", err), slog.Int("streak", p.serverErrStreak))
		if p.serverErrStreak == scopeWarnThreshold {
			msg := "the nuheat API keeps returning server errors. verify that Open API access is enabled for your account at mynuheat.com"
			p.logger.Warn(msg)
			p.notify(msg)
		}
	default:
		p.logger.Error("failed to poll nuheat API", slog.Any("err", err))
	}
}

func (p *NuHeatPoller) notify(msg string) {
	if p.notifier != nil {
		p.notifier.Notify(msg)
	}
}

func thermostatState(t nuheat.Thermostat) registry.Device {
	return registry.Device{
		ID:                 t.SerialNumber,
		Name:               t.Name,
		Kind:               registry.KindThermostat,
		Online:             t.Online,
		Heating:            t.Heating,
		CurrentTemperature: degrees(t.CurrentTemperature),
		TargetTemperature:  degrees(t.SetPointTemp),
		MinTemperature:     degrees(t.MinTemp),
		MaxTemperature:     degrees(t.MaxTemp),
		Mode:               thermostatMode(t.ScheduleMode),
	}
}

func groupState(g nuheat.Group) registry.Device {
	mode := registry.ModeAwayOff
	if g.AwayMode {
		mode = registry.ModeAwayOn
	}
	return registry.Device{
		ID:   g.GroupID,
		Name: g.GroupName,
		Kind: registry.KindGroup,
		// groups are a server-side construct: they don't go offline
		Online: true,
		Mode:   mode,
	}
}

func thermostatMode(m nuheat.ScheduleMode) registry.Mode {
	switch m {
	case nuheat.ScheduleModeTemporaryHold:
		return registry.ModeTemporaryHold
	case nuheat.ScheduleModePermanentHold:
		return registry.ModePermanentHold
	default:
		return registry.ModeSchedule
	}
}

func degrees(t *nuheat.Temperature) *float64 {
	if t == nil {
		return nil
	}
	d := t.Degrees()
	return &d
}
