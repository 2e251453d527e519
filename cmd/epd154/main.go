// Command epd154 drives a 1.54" black, white and red SSD1681 e-paper panel.
//
// Usage:
//
//	epd154 [flags] clear
//	epd154 [flags] demo
//	epd154 [flags] show <image>
//	epd154 [flags] clock
//	epd154 [flags] init-config
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/timschmolka/epd154/epd"
	"github.com/timschmolka/epd154/graphics"
	"github.com/timschmolka/epd154/internal/config"
	appLog "github.com/timschmolka/epd154/internal/log"
)

type flagConfig struct {
	configPath string
	rotate     string
	verbose    bool
	dryRun     bool
	out        string
}

// app bundles what every command needs.
type app struct {
	conf   *config.Config
	flags  flagConfig
	rotate graphics.Rotation
}

func main() {
	flags := parseFlags()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	if args[0] == "init-config" {
		if err := config.Save(flags.configPath, config.DefaultConfig()); err != nil {
			appLog.Error("failed to write config", err, "config_path", flags.configPath)
			os.Exit(1)
		}
		appLog.Info("config written", "config_path", flags.configPath)
		return
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	a, err := newApp(conf, flags)
	if err != nil {
		appLog.Error("invalid flags", err)
		os.Exit(2)
	}

	appLog.Debug("effective config",
		"dc", conf.Pins.DC,
		"cs", conf.Pins.CS,
		"rst", conf.Pins.RST,
		"busy", conf.Pins.Busy,
		"spi_port", conf.SPI.Port,
		"spi_hz", conf.SPI.FrequencyHz,
		"rotation", a.rotate,
		"dry_run", flags.dryRun,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := a.run(ctx, args); err != nil {
		appLog.Error("command failed", err, "command", args[0])
		os.Exit(1)
	}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epd154/config.yaml", "Path to config file (.yaml or .toml)")
	flag.StringVar(&cfg.rotate, "rotate", "", "Rotation: 0, 90, 180 or 270 (overrides config if set)")
	flag.BoolVar(&cfg.verbose, "v", false, "Verbose logging")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "Render a preview PNG instead of driving the display")
	flag.StringVar(&cfg.out, "out", "preview.png", "Preview path used with -dry-run")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] clear|demo|show <image>|clock|init-config\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	return cfg
}

func newApp(conf *config.Config, flags flagConfig) (*app, error) {
	if flags.rotate != "" {
		conf.Rotation = flags.rotate
	}
	if flags.verbose {
		conf.LogLevel = string(appLog.LevelDebug)
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	level, _ := appLog.ParseLevel(conf.LogLevel)
	appLog.SetLevel(level)
	return &app{conf: conf, flags: flags, rotate: conf.RotationValue()}, nil
}

func (a *app) run(ctx context.Context, args []string) error {
	switch args[0] {
	case "clear":
		return a.clear()
	case "demo":
		return a.demo()
	case "show":
		if len(args) < 2 {
			return errors.New("show needs an image path")
		}
		return a.show(args[1])
	case "clock":
		return a.clock(ctx)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// open connects to the panel described by the config.
func (a *app) open() (*epd.Display, error) {
	dc := a.conf.DisplayConfig()
	dc.OnBusyStateChange = func(busy bool) {
		appLog.Debug("busy state", "busy", busy)
	}
	d, err := epd.NewWithConfig(dc)
	if err != nil {
		return nil, err
	}
	appLog.Info("display ready", "display", d)
	return d, nil
}

func closeDisplay(d *epd.Display) {
	if err := d.Close(); err != nil {
		appLog.Error("failed to put display to sleep", err)
	}
}

func (a *app) clear() error {
	if a.flags.dryRun {
		bw, red := newPlanes(a.rotate)
		return savePreview(a.flags.out, bw, red)
	}

	d, err := a.open()
	if err != nil {
		return err
	}
	defer closeDisplay(d)

	if err := d.ClearBWFrame(); err != nil {
		return err
	}
	if err := d.ClearRedFrame(); err != nil {
		return err
	}
	if err := d.DisplayFrame(); err != nil {
		return err
	}
	appLog.Info("display cleared")
	return nil
}
