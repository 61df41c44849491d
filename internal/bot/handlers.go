package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/clambin/nuheat-monitor/internal/registry"
)

func (b *Bot) onThermostats(_ context.Context, _ ...string) slack.Attachment {
	update, ok := b.getUpdate()
	if !ok {
		return slack.Attachment{Color: "warning", Text: "no update yet. please check back later"}
	}

	var lines []string
	for _, device := range update.Thermostats() {
		lines = append(lines, thermostatText(device))
	}
	for _, device := range update.Groups() {
		lines = append(lines, groupText(device))
	}
	if len(lines) == 0 {
		return slack.Attachment{Color: "warning", Text: "no thermostats found"}
	}

	return slack.Attachment{
		Color: "good",
		Title: "thermostats:",
		Text:  strings.Join(lines, "\n"),
	}
}

func thermostatText(device registry.Device) string {
	if !device.Online {
		return device.Name + ": offline"
	}
	text := device.Name + ": "
	if device.CurrentTemperature != nil {
		text += fmt.Sprintf("%.1fº", *device.CurrentTemperature)
	} else {
		text += "unknown"
	}
	if target := device.EffectiveTarget(); target != nil {
		text += fmt.Sprintf(" (target: %.1fº, %s)", *target, device.EffectiveMode())
	}
	if device.Heating {
		text += " 🔥"
	}
	if device.Pending != nil {
		text += " (updating)"
	}
	return text
}

func groupText(device registry.Device) string {
	text := device.Name + ": " + device.EffectiveMode().String()
	if device.Pending != nil {
		text += " (updating)"
	}
	return text
}

func (b *Bot) onSet(ctx context.Context, args ...string) slack.Attachment {
	if len(args) != 2 {
		return slack.Attachment{Color: "bad", Text: "usage: /set <thermostat> <temperature>"}
	}
	device, attachment := b.lookup(args[0], registry.KindThermostat)
	if attachment != nil {
		return *attachment
	}
	value, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return slack.Attachment{Color: "bad", Text: fmt.Sprintf("invalid temperature: %q", args[1])}
	}

	if err = b.commands.SetTemperature(ctx, device.ID, value); err != nil {
		b.logger.Warn("set temperature failed", "device", device.Name, "err", err)
		return slack.Attachment{Color: "bad", Text: "failed: " + err.Error()}
	}
	return slack.Attachment{Color: "good", Text: fmt.Sprintf("setting %s to %.1fº", device.Name, value)}
}

func (b *Bot) onMode(ctx context.Context, args ...string) slack.Attachment {
	if len(args) != 2 {
		return slack.Attachment{Color: "bad", Text: "usage: /mode <thermostat> schedule|permanent"}
	}
	device, attachment := b.lookup(args[0], registry.KindThermostat)
	if attachment != nil {
		return *attachment
	}
	var mode registry.Mode
	switch strings.ToLower(args[1]) {
	case "schedule", "auto":
		mode = registry.ModeSchedule
	case "permanent", "hold":
		mode = registry.ModePermanentHold
	default:
		return slack.Attachment{Color: "bad", Text: fmt.Sprintf("invalid mode: %q", args[1])}
	}

	if err := b.commands.SetMode(ctx, device.ID, mode); err != nil {
		b.logger.Warn("set mode failed", "device", device.Name, "err", err)
		return slack.Attachment{Color: "bad", Text: "failed: " + err.Error()}
	}
	return slack.Attachment{Color: "good", Text: fmt.Sprintf("setting %s to %s", device.Name, mode)}
}

func (b *Bot) onAway(ctx context.Context, args ...string) slack.Attachment {
	if len(args) != 2 {
		return slack.Attachment{Color: "bad", Text: "usage: /away <group> away|home"}
	}
	device, attachment := b.lookup(args[0], registry.KindGroup)
	if attachment != nil {
		return *attachment
	}
	var mode registry.Mode
	switch strings.ToLower(args[1]) {
	case "away":
		mode = registry.ModeAwayOn
	case "home":
		mode = registry.ModeAwayOff
	default:
		return slack.Attachment{Color: "bad", Text: fmt.Sprintf("invalid mode: %q", args[1])}
	}

	if err := b.commands.SetGroupMode(ctx, device.ID, mode); err != nil {
		b.logger.Warn("set away mode failed", "device", device.Name, "err", err)
		return slack.Attachment{Color: "bad", Text: "failed: " + err.Error()}
	}
	return slack.Attachment{Color: "good", Text: fmt.Sprintf("setting %s to %s", device.Name, mode)}
}

func (b *Bot) onRefresh(_ context.Context, _ ...string) slack.Attachment {
	b.poller.Refresh()
	return slack.Attachment{Color: "good", Text: "refreshing thermostats"}
}

func (b *Bot) lookup(name string, kind registry.Kind) (registry.Device, *slack.Attachment) {
	update, ok := b.getUpdate()
	if !ok {
		return registry.Device{}, &slack.Attachment{Color: "warning", Text: "no update yet. please check back later"}
	}
	device, ok := update.Device(name)
	if !ok || device.Kind != kind {
		return registry.Device{}, &slack.Attachment{Color: "bad", Text: fmt.Sprintf("%s %q not found", kind, name)}
	}
	return device, nil
}
