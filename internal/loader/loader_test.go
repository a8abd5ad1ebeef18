package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xtxerr/podwatch/internal/errors"
	"github.com/xtxerr/podwatch/internal/history"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "127.0.0.1:9464", cfg.Server.Listen)
	assert.Equal(t, time.Minute, cfg.Aggregation.Interval.Duration())
	assert.Equal(t, 3*time.Second, cfg.RPC.Timeout.Duration())
	assert.Equal(t, 90*24*time.Hour, cfg.Retention.Registry.Duration())
	assert.Equal(t, 30*24*time.Hour, cfg.Retention.History.Duration())
	assert.True(t, cfg.RPC.Cache)
	assert.Nil(t, cfg.Archive())
}

func TestParse(t *testing.T) {
	t.Setenv("PODWATCH_TEST_VP", "173.212.203.145")

	cfg, err := Parse([]byte(`
log:
  level: debug
  json: true
aggregation:
  vantage_points:
    - ${PODWATCH_TEST_VP}
    - "10.0.0.2:7000"
  interval: 90s
  drain_timeout: 15
rpc:
  cache: false
retention:
  registry: 60d
  archive_dir: /tmp/podwatch-archive
  archive_compression: snappy
scoring:
  latest_version: 0.8.0
`))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 90*time.Second, cfg.Aggregation.Interval.Duration())
	assert.Equal(t, 15*time.Second, cfg.Aggregation.DrainTimeout.Duration())
	assert.False(t, cfg.RPC.Cache)
	assert.Equal(t, 60*24*time.Hour, cfg.Retention.Registry.Duration())
	assert.Equal(t, "0.8.0", cfg.Scoring.LatestVersion)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3*time.Second, cfg.RPC.Timeout.Duration())
	assert.Equal(t, "/rpc", cfg.RPC.Path)

	vps, err := cfg.ParseVantagePoints()
	require.NoError(t, err)
	require.Len(t, vps, 2)
	assert.Equal(t, "173.212.203.145:6000", vps[0].String())
	assert.Equal(t, "10.0.0.2:7000", vps[1].String())

	archive := cfg.Archive()
	require.NotNil(t, archive)
	assert.Equal(t, "/tmp/podwatch-archive", archive.Dir())

	assert.Equal(t, history.CompressionSnappy, history.ParseCompressionType(cfg.Retention.ArchiveCompression))
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse([]byte("# nothing here\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("aggregation:\n  intervall: 10s\n"))
	assert.Error(t, err)
}

func TestParseBadDuration(t *testing.T) {
	for _, in := range []string{"interval: soon", "interval: 3x", "interval: xd"} {
		_, err := Parse([]byte("aggregation:\n  " + in + "\n"))
		assert.Error(t, err, in)
	}
}

func TestDurationForms(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"15", 15 * time.Second},
		{`"15"`, 15 * time.Second},
		{"0", 0},
		{"90s", 90 * time.Second},
		{"5m", 5 * time.Minute},
		{"7d", 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		var d Duration
		require.NoError(t, yaml.Unmarshal([]byte(tt.in), &d), tt.in)
		assert.Equal(t, tt.want, d.Duration(), tt.in)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "podwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: \":9999\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
	require.NoError(t, Validate(cfg))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"bad listen", func(c *Config) { c.Server.Listen = "nohost" }, "server.listen"},
		{"bad listen port", func(c *Config) { c.Server.Listen = "127.0.0.1:99999" }, "server.listen"},
		{"bad vantage", func(c *Config) { c.Aggregation.VantagePoints = []string{"bad host"} }, "vantage_points[0]"},
		{"duplicate vantage", func(c *Config) {
			c.Aggregation.VantagePoints = []string{"10.0.0.1", "10.0.0.1:6000"}
		}, "duplicates aggregation.vantage_points[0]"},
		{"zero interval", func(c *Config) { c.Aggregation.Interval = 0 }, "aggregation.interval"},
		{"zero rpc timeout", func(c *Config) { c.RPC.Timeout = 0 }, "rpc.timeout"},
		{"relative rpc path", func(c *Config) { c.RPC.Path = "rpc" }, "rpc.path"},
		{"zero cache size", func(c *Config) { c.RPC.CacheSize = 0 }, "rpc.cache_size"},
		{"zero registry retention", func(c *Config) { c.Retention.Registry = 0 }, "retention.registry"},
		{"unknown codec", func(c *Config) { c.Retention.ArchiveCompression = "lz4" }, "retention.archive_compression"},
		{"missing version", func(c *Config) { c.Scoring.LatestVersion = "" }, "scoring.latest_version"},
		{"pre-release version", func(c *Config) { c.Scoring.LatestVersion = "0.8.0-rc1" }, "scoring.latest_version"},
		{"partial version", func(c *Config) { c.Scoring.LatestVersion = "0.8" }, "scoring.latest_version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "not a validation error: %v", err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "loud"
	cfg.RPC.Timeout = 0
	cfg.Scoring.LatestVersion = ""

	err := Validate(cfg)
	require.Error(t, err)

	var verrs *errors.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Len(t, verrs.Errors, 3)
	assert.True(t, errors.Is(err, errors.ErrMissingField))
}

func TestCacheSizeIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPC.Cache = false
	cfg.RPC.CacheSize = 0
	assert.NoError(t, Validate(cfg))
}
