// Package collector exposes the latest poll snapshot as prometheus metrics.
package collector

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clambin/nuheat-monitor/internal/poller"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

var (
	thermostatCurrentTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "thermostat", "current_temperature"),
		"Current temperature measured by the thermostat, in the account's temperature scale",
		[]string{"name", "serial_number", "unit"},
		nil,
	)
	thermostatTargetTemperature = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "thermostat", "target_temperature"),
		"Setpoint of the thermostat, in the account's temperature scale",
		[]string{"name", "serial_number", "unit"},
		nil,
	)
	thermostatOnline = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "thermostat", "online"),
		"1 if the thermostat is reachable from the cloud service",
		[]string{"name", "serial_number"},
		nil,
	)
	thermostatHeating = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "thermostat", "heating"),
		"1 if the thermostat is currently heating",
		[]string{"name", "serial_number"},
		nil,
	)
	thermostatMode = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "thermostat", "mode"),
		"Schedule mode of the thermostat. Always 1; see label 'mode'",
		[]string{"name", "serial_number", "mode"},
		nil,
	)
	groupAway = prometheus.NewDesc(
		prometheus.BuildFQName("nuheat", "group", "away"),
		"1 if the group is in away mode",
		[]string{"name", "id"},
		nil,
	)
)

type Collector struct {
	Poller     poller.Poller
	Logger     *slog.Logger
	lock       sync.RWMutex
	lastUpdate *poller.Update
}

func (c *Collector) Run(ctx context.Context) error {
	c.Logger.Debug("started")
	defer c.Logger.Debug("stopped")

	ch := c.Poller.Subscribe()
	defer c.Poller.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case update := <-ch:
			c.lock.Lock()
			c.lastUpdate = &update
			c.lock.Unlock()
		}
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- thermostatCurrentTemperature
	ch <- thermostatTargetTemperature
	ch <- thermostatOnline
	ch <- thermostatHeating
	ch <- thermostatMode
	ch <- groupAway
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if c.lastUpdate == nil {
		return
	}
	unit := string(c.lastUpdate.Unit)
	for _, thermostat := range c.lastUpdate.Thermostats() {
		if thermostat.CurrentTemperature != nil {
			ch <- prometheus.MustNewConstMetric(thermostatCurrentTemperature, prometheus.GaugeValue,
				*thermostat.CurrentTemperature, thermostat.Name, thermostat.ID, unit)
		}
		if target := thermostat.EffectiveTarget(); target != nil {
			ch <- prometheus.MustNewConstMetric(thermostatTargetTemperature, prometheus.GaugeValue,
				*target, thermostat.Name, thermostat.ID, unit)
		}
		ch <- prometheus.MustNewConstMetric(thermostatOnline, prometheus.GaugeValue,
			boolValue(thermostat.Online), thermostat.Name, thermostat.ID)
		ch <- prometheus.MustNewConstMetric(thermostatHeating, prometheus.GaugeValue,
			boolValue(thermostat.Heating), thermostat.Name, thermostat.ID)
		ch <- prometheus.MustNewConstMetric(thermostatMode, prometheus.GaugeValue,
			1, thermostat.Name, thermostat.ID, modeLabel(thermostat.EffectiveMode()))
	}
	for _, group := range c.lastUpdate.Groups() {
		ch <- prometheus.MustNewConstMetric(groupAway, prometheus.GaugeValue,
			boolValue(group.EffectiveMode() == registry.ModeAwayOn), group.Name, group.ID)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func modeLabel(mode registry.Mode) string {
	return strings.ReplaceAll(mode.String(), " ", "_")
}
