package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8001", cfg.TCPAddr)
	assert.Equal(t, 20*time.Minute, cfg.IdleGap)
	assert.Equal(t, 600*time.Millisecond, cfg.BaseInterval)
	assert.Equal(t, 2*time.Hour, cfg.LiveWindow)
	assert.Equal(t, 200.0, cfg.MaxSpeedKmh)
	assert.False(t, cfg.Smooth)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("TCP_ADDR", ":7000")
	t.Setenv("SMOOTH", "true")
	t.Setenv("POLL_INTERVAL", "2s")
	t.Setenv("TZ_NAME", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.TCPAddr)
	assert.True(t, cfg.Smooth)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestLoadEnvParseError(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("POLL_INTERVAL", "soon")

	_, err := Load()
	assert.ErrorContains(t, err, "POLL_INTERVAL")
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
tcp_addr: ":9100"
smooth: true
smooth_window: 5
idle_gap: 15m
mqtt_broker: tcp://broker:1883
`), 0o644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":8181")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9100", cfg.TCPAddr)
	assert.Equal(t, ":8181", cfg.HTTPAddr, "env value kept when the file is silent")
	assert.Equal(t, 5, cfg.SmoothWindow)
	assert.Equal(t, 15*time.Minute, cfg.IdleGap)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTTBroker)
}

func TestValidate(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.MaxSpeedKmh = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.TimeZone = "Mars/Olympus"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.LogLevel = "loud"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MQTTBroker = "tcp://broker:1883"
	bad.MQTTTopicPrefix = ""
	assert.Error(t, bad.Validate())
}
