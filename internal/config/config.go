// Package config loads the daemon configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Gripper   GripperConfig   `yaml:"gripper"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

type TransportConfig struct {
	Kind      string `yaml:"kind"`       // "serial", "tcp", "udp" or "sim"
	Device    string `yaml:"device"`     // serial device path
	Baud      int    `yaml:"baud"`       // serial baud rate
	Host      string `yaml:"host"`       // tcp/udp peer
	Port      int    `yaml:"port"`       // tcp/udp peer port
	LocalPort int    `yaml:"local_port"` // udp local port
}

type GripperConfig struct {
	Size            float64 `yaml:"size"`             // travel range, 110 or 210 mm
	Mode            string  `yaml:"mode"`             // "poll" or "streaming"
	TickRateHz      float64 `yaml:"tick_rate_hz"`     // telemetry rate
	DeadlineSec     float64 `yaml:"deadline_sec"`     // command response deadline
	SettleMs        int     `yaml:"settle_ms"`        // guard hold-off after motion
	GraspingForce   float64 `yaml:"grasping_force"`   // applied at startup when > 0
	HomingDirection string  `yaml:"homing_direction"` // "default", "open" or "close"
}

type GatewayConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a config with the reference hardware defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:      "tcp",
			Device:    "/dev/ttyS1",
			Baud:      115200,
			Host:      "192.168.1.20",
			Port:      1000,
			LocalPort: 1501,
		},
		Gripper: GripperConfig{
			Size:            210,
			Mode:            "poll",
			TickRateHz:      5,
			DeadlineSec:     30,
			SettleMs:        100,
			GraspingForce:   0,
			HomingDirection: "default",
		},
		Gateway: GatewayConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if the YAML is
// missing or unparseable.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Real env takes precedence over .env entries.
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: WSG_TRANSPORT, WSG_DEVICE, WSG_BAUD, WSG_HOST,
// WSG_PORT, WSG_LOCAL_PORT, WSG_SIZE, WSG_MODE, WSG_TICK_HZ,
// WSG_GRASPING_FORCE, LISTEN_ADDR.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WSG_TRANSPORT"); v != "" {
		c.Transport.Kind = v
	}
	if v := os.Getenv("WSG_DEVICE"); v != "" {
		c.Transport.Device = v
	}
	if v := os.Getenv("WSG_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.Baud = n
		}
	}
	if v := os.Getenv("WSG_HOST"); v != "" {
		c.Transport.Host = v
	}
	if v := os.Getenv("WSG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.Port = n
		}
	}
	if v := os.Getenv("WSG_LOCAL_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Transport.LocalPort = n
		}
	}
	if v := os.Getenv("WSG_SIZE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Gripper.Size = n
		}
	}
	if v := os.Getenv("WSG_MODE"); v != "" {
		c.Gripper.Mode = v
	}
	if v := os.Getenv("WSG_TICK_HZ"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Gripper.TickRateHz = n
		}
	}
	if v := os.Getenv("WSG_GRASPING_FORCE"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Gripper.GraspingForce = n
		}
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Gateway.ListenAddr = v
	}
}

// Validate normalizes fixable values and rejects the rest. An unknown
// size class falls back to 210 with a warning; an unknown transport kind
// or operating mode is an error.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "serial", "tcp", "udp", "sim":
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	switch c.Gripper.Mode {
	case "poll", "streaming":
	default:
		return fmt.Errorf("config: unknown operating mode %q", c.Gripper.Mode)
	}
	if c.Gripper.Size != 110 && c.Gripper.Size != 210 {
		log.Printf("[config] unknown gripper size %.0f, assuming 210", c.Gripper.Size)
		c.Gripper.Size = 210
	}
	switch c.Gripper.HomingDirection {
	case "", "default", "open", "close":
	default:
		return fmt.Errorf("config: unknown homing direction %q", c.Gripper.HomingDirection)
	}
	if c.Gripper.TickRateHz <= 0 {
		c.Gripper.TickRateHz = 5
	}
	if c.Gripper.DeadlineSec <= 0 {
		c.Gripper.DeadlineSec = 30
	}
	if c.Gripper.SettleMs <= 0 {
		c.Gripper.SettleMs = 100
	}
	return nil
}
