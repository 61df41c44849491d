// Package cmd implements the nuheat-monitor command line interface.
package cmd

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/clambin/go-common/charmer"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clambin/nuheat-monitor/internal/cmd/login"
	"github.com/clambin/nuheat-monitor/internal/cmd/monitor"
)

var (
	configFilename string
	RootCmd        = cobra.Command{
		Use:   "nuheat-monitor",
		Short: "Monitor and control NuHeat radiant floor thermostats",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			charmer.SetJSONLogger(cmd, viper.GetBool("debug"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&configFilename, "config", "", "Configuration file")
	RootCmd.PersistentFlags().Bool("debug", false, "Log debug messages")
	_ = viper.BindPFlag("debug", RootCmd.PersistentFlags().Lookup("debug"))

	RootCmd.AddCommand(&monitor.Cmd, &login.Cmd)
}

var args = charmer.Arguments{
	"debug":                 charmer.Argument{Default: false, Help: "Log debug messages"},
	"auth.clientId":         charmer.Argument{Default: "", Help: "NuHeat OAuth2 client ID"},
	"auth.clientSecret":     charmer.Argument{Default: "", Help: "NuHeat OAuth2 client secret"},
	"auth.tokenFile":        charmer.Argument{Default: "", Help: "Path of the saved token (default: token.json next to the config file)"},
	"auth.listen":           charmer.Argument{Default: ":8081", Help: "Listener address for the login callback"},
	"poller.interval":       charmer.Argument{Default: 5 * time.Minute, Help: "Poller interval"},
	"poller.pendingTimeout": charmer.Argument{Default: time.Duration(0), Help: "How long to wait for a command to be confirmed (default: twice the poller interval)"},
	"exporter.addr":         charmer.Argument{Default: ":9090", Help: "Address of Prometheus exporter"},
	"health.addr":           charmer.Argument{Default: ":8080", Help: "Address of /health endpoint"},
	"slack.enabled":         charmer.Argument{Default: false, Help: "Enable Slack bot"},
	"slack.token":           charmer.Argument{Default: "", Help: "Slack token"},
}

func initConfig() {
	if configFilename != "" {
		viper.SetConfigFile(configFilename)
	} else {
		viper.AddConfigPath("/etc/nuheat-monitor/")
		viper.AddConfigPath("$HOME/.nuheat-monitor")
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
	}

	if err := charmer.SetDefaults(viper.GetViper(), args); err != nil {
		panic("failed to set viper defaults: " + err.Error())
	}

	viper.SetEnvPrefix("NUHEAT_MONITOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// running without a config file is fine: defaults & env vars apply
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Error("failed to read config file", "err", err)
			os.Exit(1)
		}
	}
}
