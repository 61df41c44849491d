// Package bot implements the interactive command surface: Slack slash
// commands to inspect thermostats and submit temperature, mode and away
// changes.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/clambin/nuheat-monitor/internal/poller"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

// CommandRunner executes user commands. Implemented by commands.Processor.
type CommandRunner interface {
	SetTemperature(ctx context.Context, id string, value float64) error
	SetMode(ctx context.Context, id string, mode registry.Mode) error
	SetGroupMode(ctx context.Context, id string, mode registry.Mode) error
}

type SlackApp interface {
	AddSlashCommand(string, func(slack.SlashCommand, *socketmode.Client))
	Run(ctx context.Context) error
}

type Bot struct {
	SlackApp
	commands CommandRunner
	poller   poller.Poller
	logger   *slog.Logger
	update   poller.Update
	updated  bool
	lock     sync.RWMutex
}

func New(commands CommandRunner, app SlackApp, p poller.Poller, logger *slog.Logger) *Bot {
	b := Bot{
		SlackApp: app,
		commands: commands,
		poller:   p,
		logger:   logger,
	}

	b.SlackApp.AddSlashCommand("/thermostats", b.doAndPost(b.onThermostats))
	b.SlackApp.AddSlashCommand("/set", b.doAndPost(b.onSet))
	b.SlackApp.AddSlashCommand("/mode", b.doAndPost(b.onMode))
	b.SlackApp.AddSlashCommand("/away", b.doAndPost(b.onAway))
	b.SlackApp.AddSlashCommand("/refresh", b.doAndPost(b.onRefresh))

	return &b
}

// Run starts the Slack app and tracks poll updates until ctx is canceled.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Debug("bot started")
	defer b.logger.Debug("bot stopped")
	errCh := make(chan error)
	go func() { errCh <- b.SlackApp.Run(ctx) }()

	ch := b.poller.Subscribe()
	defer b.poller.Unsubscribe(ch)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
		case <-ctx.Done():
			return nil
		case update := <-ch:
			b.setUpdate(update)
		}
	}
}

func (b *Bot) setUpdate(update poller.Update) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.update = update
	b.updated = true
}

func (b *Bot) getUpdate() (poller.Update, bool) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.update, b.updated
}

func (b *Bot) doAndPost(f func(context.Context, ...string) slack.Attachment) func(cmd slack.SlashCommand, c *socketmode.Client) {
	return func(cmd slack.SlashCommand, c *socketmode.Client) {
		a := f(context.Background(), tokenizeText(cmd.Text)...)
		if _, _, err := c.PostMessage(cmd.ChannelID, slack.MsgOptionAttachments(a)); err != nil {
			b.logger.Error("failed to post response", "err", err)
		}
	}
}

func tokenizeText(input string) []string {
	cleanInput := input
	for _, quote := range []string{"“", "”", "'"} {
		cleanInput = strings.ReplaceAll(cleanInput, quote, "\"")
	}
	r := regexp.MustCompile(`[^\s"]+|"([^"]*)"`)
	output := r.FindAllString(cleanInput, -1)

	for index, word := range output {
		output[index] = strings.Trim(word, "\"")
	}
	return output
}
