// Package config loads the command line tool configuration from YAML or
// TOML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"

	"github.com/timschmolka/epd154/epd"
	"github.com/timschmolka/epd154/graphics"
	"github.com/timschmolka/epd154/internal/log"
)

// Duration is a time.Duration written as "10ms" or "2s" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// PinsConfig names the GPIO lines as known to gpioreg.
type PinsConfig struct {
	DC   string `yaml:"dc" toml:"dc"`
	CS   string `yaml:"cs" toml:"cs"`
	RST  string `yaml:"rst" toml:"rst"`
	Busy string `yaml:"busy" toml:"busy"`
}

type SPIConfig struct {
	// Port is the spireg name; empty selects the first port.
	Port        string `yaml:"port" toml:"port"`
	FrequencyHz int64  `yaml:"frequency_hz" toml:"frequency_hz"`
	Mode        int    `yaml:"mode" toml:"mode"`
}

type TimingConfig struct {
	ResetHold Duration `yaml:"reset_hold" toml:"reset_hold"`
	BusyPoll  Duration `yaml:"busy_poll" toml:"busy_poll"`
	// BusyTimeout of zero waits for the panel forever.
	BusyTimeout Duration `yaml:"busy_timeout" toml:"busy_timeout"`
}

type ClockConfig struct {
	// Schedule is a cron spec, e.g. "* * * * *" for every minute.
	Schedule string `yaml:"schedule" toml:"schedule"`
	// Layout is a time.Format layout.
	Layout string `yaml:"layout" toml:"layout"`
	// FullRefreshEvery forces a full refresh after this many partial ones.
	FullRefreshEvery int `yaml:"full_refresh_every" toml:"full_refresh_every"`
}

// MinResetHold is the shortest reset pulse the controller accepts.
const MinResetHold = 10 * time.Millisecond

// Config is the top-level configuration.
type Config struct {
	Pins     PinsConfig   `yaml:"pins" toml:"pins"`
	SPI      SPIConfig    `yaml:"spi" toml:"spi"`
	Timing   TimingConfig `yaml:"timing" toml:"timing"`
	Rotation string       `yaml:"rotation" toml:"rotation"`
	LogLevel string       `yaml:"log_level" toml:"log_level"`
	Clock    ClockConfig  `yaml:"clock" toml:"clock"`
}

// DefaultConfig matches epd.DefaultConfig with a 10s busy timeout.
func DefaultConfig() *Config {
	def := epd.DefaultConfig()
	return &Config{
		Pins: PinsConfig{
			DC:   def.DCPin,
			CS:   def.CSPin,
			RST:  def.RSTPin,
			Busy: def.BUSYPin,
		},
		SPI: SPIConfig{
			FrequencyHz: int64(def.SPIFrequency / physic.Hertz),
			Mode:        int(def.SPIMode),
		},
		Timing: TimingConfig{
			ResetHold:   Duration{def.ResetHoldTime},
			BusyPoll:    Duration{def.BusyPollTime},
			BusyTimeout: Duration{10 * time.Second},
		},
		Rotation: "0",
		LogLevel: "info",
		Clock: ClockConfig{
			Schedule:         "* * * * *",
			Layout:           "15:04",
			FullRefreshEvery: 10,
		},
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Pins.DC == "" {
		c.Pins.DC = def.Pins.DC
	}
	if c.Pins.RST == "" {
		c.Pins.RST = def.Pins.RST
	}
	if c.Pins.Busy == "" {
		c.Pins.Busy = def.Pins.Busy
	}
	if c.SPI.FrequencyHz <= 0 {
		c.SPI.FrequencyHz = def.SPI.FrequencyHz
	}
	if c.Timing.ResetHold.Duration <= 0 {
		c.Timing.ResetHold = def.Timing.ResetHold
	}
	if c.Timing.BusyPoll.Duration <= 0 {
		c.Timing.BusyPoll = def.Timing.BusyPoll
	}
	if c.Rotation == "" {
		c.Rotation = def.Rotation
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Clock.Schedule == "" {
		c.Clock.Schedule = def.Clock.Schedule
	}
	if c.Clock.Layout == "" {
		c.Clock.Layout = def.Clock.Layout
	}
	if c.Clock.FullRefreshEvery <= 0 {
		c.Clock.FullRefreshEvery = def.Clock.FullRefreshEvery
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.SPI.Mode < 0 || c.SPI.Mode > 3 {
		return fmt.Errorf("config: spi mode must be 0-3, got %d", c.SPI.Mode)
	}
	if c.Timing.ResetHold.Duration < MinResetHold {
		return fmt.Errorf("config: reset_hold must be at least %s, got %s", MinResetHold, c.Timing.ResetHold)
	}
	if c.Timing.BusyTimeout.Duration < 0 {
		return errors.New("config: busy_timeout must not be negative")
	}
	if _, err := graphics.ParseRotation(c.Rotation); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// RotationValue returns the parsed rotation. Call Validate first.
func (c *Config) RotationValue() graphics.Rotation {
	r, _ := graphics.ParseRotation(c.Rotation)
	return r
}

// DisplayConfig converts c to the driver configuration.
func (c *Config) DisplayConfig() epd.DisplayConfig {
	dc := epd.DefaultConfig()
	dc.DCPin = c.Pins.DC
	dc.CSPin = c.Pins.CS
	dc.RSTPin = c.Pins.RST
	dc.BUSYPin = c.Pins.Busy
	dc.SPIPort = c.SPI.Port
	dc.SPIFrequency = physic.Frequency(c.SPI.FrequencyHz) * physic.Hertz
	dc.SPIMode = spi.Mode(c.SPI.Mode)
	dc.ResetHoldTime = c.Timing.ResetHold.Duration
	dc.BusyPollTime = c.Timing.BusyPoll.Duration
	dc.BusyTimeout = c.Timing.BusyTimeout.Duration
	return dc
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// Load reads the configuration at path. A missing file yields the defaults.
// Files ending in .toml are decoded as TOML, anything else as YAML.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if isTOML(path) {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions, encoding by
// file extension like Load.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	var buf bytes.Buffer
	if isTOML(path) {
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return err
		}
	} else {
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		if err := enc.Close(); err != nil {
			return err
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".epd154-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
