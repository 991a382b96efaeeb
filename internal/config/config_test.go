package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/compliance"
	"github.com/Veraticus/pardna/internal/ledger"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/risk"
	"github.com/Veraticus/pardna/internal/trust"
)

func newViper() *viper.Viper {
	v := viper.New()
	Defaults(v)
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)

	assert.Equal(t, risk.DefaultConfig(), cfg.Risk)
	assert.Equal(t, ledger.DefaultConfig(), cfg.Ledger)
	assert.Equal(t, trust.DefaultConfig(), cfg.Trust)
	assert.Equal(t, compliance.DefaultConfig(), cfg.Compliance)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.NotContains(t, cfg.Database.Path, "$HOME")
	assert.False(t, cfg.RegulatorConfigured())
	assert.False(t, cfg.NATSConfigured())
	assert.Equal(t, "pardna", cfg.NATS.SubjectPrefix)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  path: /tmp/pardna-test.db
risk:
  velocity_window: 12h
  velocity_count: 5
  large_transaction_thresholds:
    usd: 250000
ledger:
  contribution_grace_period: 24h
compliance:
  workers: 8
regulator:
  endpoint: https://fiu.example/api
  scopes: [reports.write]
nats:
  url: nats://localhost:4222
`), 0o600))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/pardna-test.db", cfg.Database.Path)
	assert.Equal(t, 12*time.Hour, cfg.Risk.VelocityWindow)
	assert.Equal(t, 5, cfg.Risk.VelocityCount)
	assert.Equal(t, int64(250000), cfg.Risk.LargeTransactionThresholdByCurrency[model.CurrencyUSD])
	assert.Equal(t, int64(500000), cfg.Risk.LargeTransactionThresholdByCurrency[model.CurrencyJMD], "unlisted currencies keep their default")
	assert.Equal(t, 24*time.Hour, cfg.Ledger.ContributionGracePeriod)
	assert.Equal(t, 8, cfg.Compliance.Workers)
	assert.Equal(t, compliance.DefaultConfig().MaxAttempts, cfg.Compliance.MaxAttempts)
	assert.True(t, cfg.RegulatorConfigured())
	assert.Equal(t, []string{"reports.write"}, cfg.Regulator.Scopes)
	assert.True(t, cfg.NATSConfigured())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		wantErr error
		set     map[string]any
		name    string
	}{
		{
			name:    "unknown currency threshold",
			set:     map[string]any{"risk.large_transaction_thresholds.xyz": 100},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "zero velocity count",
			set:     map[string]any{"risk.velocity_count": 0},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "trust bounds inverted",
			set:     map[string]any{"trust.min_score": 50, "trust.max_score": 10},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "no workers",
			set:     map[string]any{"compliance.workers": 0},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "bad log level",
			set:     map[string]any{"logging.level": "loud"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "bad log format",
			set:     map[string]any{"logging.format": "xml"},
			wantErr: common.ErrInvalidConfig,
		},
		{
			name:    "empty database path",
			set:     map[string]any{"database.path": ""},
			wantErr: common.ErrMissingConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("PARDNA_TEST_DIR", "/srv/pardna")

	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: ":memory:", want: ":memory:"},
		{in: "~", want: home},
		{in: "~/data/pardna.db", want: filepath.Join(home, "data/pardna.db")},
		{in: "$PARDNA_TEST_DIR/pardna.db", want: "/srv/pardna/pardna.db"},
		{in: "/abs/path.db", want: "/abs/path.db"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.in))
		})
	}
}

func TestEnsureParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "deeper")
	require.NoError(t, EnsureParentDir(filepath.Join(dir, "pardna.db")))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	assert.NoError(t, EnsureParentDir(":memory:"))
}
