// Package monitor implements the monitor command: it polls the NuHeat
// Conductor API, exports the thermostat state as Prometheus metrics and a
// health endpoint, and optionally runs a Slack bot to control the thermostats.
package monitor

import (
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/clambin/go-common/slackbot"
	"github.com/clambin/go-common/taskmanager"
	"github.com/clambin/go-common/taskmanager/httpserver"
	promserver "github.com/clambin/go-common/taskmanager/prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/slack-go/slack"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clambin/nuheat-monitor/internal/bot"
	"github.com/clambin/nuheat-monitor/internal/collector"
	"github.com/clambin/nuheat-monitor/internal/commands"
	"github.com/clambin/nuheat-monitor/internal/health"
	"github.com/clambin/nuheat-monitor/internal/notifier"
	"github.com/clambin/nuheat-monitor/internal/nuheat"
	"github.com/clambin/nuheat-monitor/internal/poller"
	"github.com/clambin/nuheat-monitor/internal/registry"
)

var Cmd = cobra.Command{
	Use:   "monitor",
	Short: "Monitor NuHeat thermostats",
	RunE:  run,
}

func run(cmd *cobra.Command, _ []string) error {
	m, err := New(viper.GetViper(), cmd.Root().Version, prometheus.DefaultRegisterer, slog.Default())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return m.Run(ctx)
}

func New(cfg *viper.Viper, version string, metrics prometheus.Registerer, logger *slog.Logger) (*taskmanager.Manager, error) {
	store := &nuheat.FileStore{Path: tokenPath(cfg)}
	auth := nuheat.NewAuthenticator(
		nuheat.OAuthConfig(cfg.GetString("auth.clientId"), cfg.GetString("auth.clientSecret"), ""),
		store,
		logger.With("component", "auth"),
	)

	requestMetrics := nuheat.NewRequestMetrics("nuheat", "monitor")
	if metrics != nil {
		metrics.MustRegister(requestMetrics)
	}
	api := nuheat.NewClient(auth, logger.With("component", "nuheat"), nuheat.WithRequestMetrics(requestMetrics))

	return taskmanager.New(makeTasks(cfg, api, version, metrics, logger)...), nil
}

func tokenPath(cfg *viper.Viper) string {
	if path := cfg.GetString("auth.tokenFile"); path != "" {
		return path
	}
	return filepath.Join(filepath.Dir(cfg.ConfigFileUsed()), "token.json")
}

func makeTasks(cfg *viper.Viper, api *nuheat.Client, version string, metrics prometheus.Registerer, l *slog.Logger) []taskmanager.Task {
	var tasks []taskmanager.Task

	notifiers := notifier.Notifiers{notifier.SLogNotifier{Logger: l.With("component", "notifier")}}
	if cfg.GetBool("slack.enabled") {
		notifiers = append(notifiers, &notifier.SlackNotifier{
			Logger:      l.With("component", "notifier"),
			SlackSender: slack.New(cfg.GetString("slack.token")),
		})
	}

	// Poller
	reg := registry.New()
	p := poller.New(api, reg, poller.Configuration{
		Interval:       cfg.GetDuration("poller.interval"),
		PendingTimeout: cfg.GetDuration("poller.pendingTimeout"),
	}, notifiers, l.With("component", "poller"))
	tasks = append(tasks, p)

	// Collector
	coll := &collector.Collector{Poller: p, Logger: l.With("component", "collector")}
	if metrics != nil {
		metrics.MustRegister(coll)
	}
	tasks = append(tasks, coll)

	// Prometheus Server
	tasks = append(tasks, promserver.New(promserver.WithAddr(cfg.GetString("exporter.addr"))))

	// Health Endpoint
	h := health.New(p, l.With("component", "health"))
	tasks = append(tasks, h)
	r := http.NewServeMux()
	r.Handle("/health", h)
	tasks = append(tasks, httpserver.New(cfg.GetString("health.addr"), r))

	// Slackbot
	if cfg.GetBool("slack.enabled") {
		proc := commands.New(api, reg, p, l.With("component", "commands"))
		b := slackbot.New(
			cfg.GetString("slack.token"),
			slackbot.WithName("nuheatBot "+version),
			slackbot.WithLogger(l.With(slog.String("component", "slackbot"))),
		)
		tasks = append(tasks, bot.New(proc, b, p, l.With(slog.String("component", "nuheatbot"))))
	}

	return tasks
}
