package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "tcp", cfg.Transport.Kind)
	assert.Equal(t, 1000, cfg.Transport.Port)
	assert.Equal(t, 210.0, cfg.Gripper.Size)
	assert.Equal(t, "poll", cfg.Gripper.Mode)
	assert.Equal(t, 5.0, cfg.Gripper.TickRateHz)
	assert.Equal(t, 30.0, cfg.Gripper.DeadlineSec)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Equal(t, DefaultConfig().Transport, cfg.Transport)
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
transport:
  kind: serial
  device: /dev/ttyUSB0
  baud: 57600
gripper:
  size: 110
  mode: streaming
  tick_rate_hz: 20
gateway:
  listen_addr: ":9090"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg := LoadConfig(path)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "serial", cfg.Transport.Kind)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Transport.Device)
	assert.Equal(t, 57600, cfg.Transport.Baud)
	assert.Equal(t, 110.0, cfg.Gripper.Size)
	assert.Equal(t, "streaming", cfg.Gripper.Mode)
	assert.Equal(t, 20.0, cfg.Gripper.TickRateHz)
	assert.Equal(t, ":9090", cfg.Gateway.ListenAddr)
	// Unset fields keep their defaults.
	assert.Equal(t, 30.0, cfg.Gripper.DeadlineSec)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WSG_TRANSPORT", "udp")
	t.Setenv("WSG_HOST", "10.1.2.3")
	t.Setenv("WSG_PORT", "1500")
	t.Setenv("WSG_MODE", "streaming")
	t.Setenv("WSG_GRASPING_FORCE", "35.5")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Equal(t, "udp", cfg.Transport.Kind)
	assert.Equal(t, "10.1.2.3", cfg.Transport.Host)
	assert.Equal(t, 1500, cfg.Transport.Port)
	assert.Equal(t, "streaming", cfg.Gripper.Mode)
	assert.Equal(t, 35.5, cfg.Gripper.GraspingForce)
}

func TestValidateNormalizesUnknownSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gripper.Size = 300
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 210.0, cfg.Gripper.Size)
}

func TestValidateRejectsUnknownKindAndMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Transport.Kind = "pigeon"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Gripper.Mode = "both"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Gripper.HomingDirection = "sideways"
	assert.Error(t, cfg.Validate())
}

func TestValidateFixesNonPositiveRates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gripper.TickRateHz = -1
	cfg.Gripper.DeadlineSec = 0
	cfg.Gripper.SettleMs = 0
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5.0, cfg.Gripper.TickRateHz)
	assert.Equal(t, 30.0, cfg.Gripper.DeadlineSec)
	assert.Equal(t, 100, cfg.Gripper.SettleMs)
}
