package monitor

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_makeTasks(t *testing.T) {
	tests := []struct {
		name   string
		config string
		length int
	}{
		{
			name: "slack enabled",
			config: `
poller:
  interval: 5m
slack:
  enabled: true
  token: xoxb-1234
`,
			length: 6,
		},
		{
			name: "slack disabled",
			config: `
poller:
  interval: 5m
`,
			length: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := viper.New()
			cfg.SetConfigType("yaml")
			require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(tt.config)))

			tasks := makeTasks(cfg, nil, "1.0", prometheus.NewPedanticRegistry(), slog.Default())
			assert.Len(t, tasks, tt.length)
		})
	}
}

func Test_tokenPath(t *testing.T) {
	cfg := viper.New()
	cfg.Set("auth.tokenFile", "/tmp/token.json")
	assert.Equal(t, "/tmp/token.json", tokenPath(cfg))

	cfg = viper.New()
	assert.Equal(t, "token.json", tokenPath(cfg))
	cfg.SetConfigFile(filepath.Join("/etc/nuheat-monitor", "config.yaml"))
	assert.Equal(t, filepath.Join("/etc/nuheat-monitor", "token.json"), tokenPath(cfg))
}

func TestNew(t *testing.T) {
	cfg := viper.New()
	cfg.SetConfigType("yaml")
	require.NoError(t, cfg.ReadConfig(bytes.NewBufferString(`
auth:
  clientId: client-id
  clientSecret: client-secret
  tokenFile: /tmp/token.json
poller:
  interval: 5m
`)))

	m, err := New(cfg, "1.0", prometheus.NewPedanticRegistry(), slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, m)
}
