package main

import (
	"time"

	"github.com/nasa-jpl/pumpprobe/camera"
	"github.com/nasa-jpl/pumpprobe/persist"
	"github.com/nasa-jpl/pumpprobe/position"
	"github.com/nasa-jpl/pumpprobe/scan"
	"github.com/nasa-jpl/pumpprobe/trace"
)

// XPSConfig locates the motion controller and its two positioners
type XPSConfig struct {
	Addr            string `koanf:"Addr" yaml:"Addr"`
	DelayPositioner string `koanf:"DelayPositioner" yaml:"DelayPositioner"`
	PowerPositioner string `koanf:"PowerPositioner" yaml:"PowerPositioner"`

	// Initialize kills, initializes and homes both groups on startup and
	// on every reconnect
	Initialize bool `koanf:"Initialize" yaml:"Initialize"`
}

// LockInConfig locates the lock-in whose aux output gates the pump beam
type LockInConfig struct {
	Addr   string `koanf:"Addr" yaml:"Addr"`
	Serial bool   `koanf:"Serial" yaml:"Serial"`
	Baud   int    `koanf:"Baud" yaml:"Baud"`

	// Channel is the aux output wired to the shutter
	Channel     string `koanf:"Channel" yaml:"Channel"`
	OpenLevel   int    `koanf:"OpenLevel" yaml:"OpenLevel"`
	ClosedLevel int    `koanf:"ClosedLevel" yaml:"ClosedLevel"`
}

// CameraConfig locates the camera server and holds the capture settings
type CameraConfig struct {
	URL      string        `koanf:"URL" yaml:"URL"`
	Exposure time.Duration `koanf:"Exposure" yaml:"Exposure"`
	Binning  string        `koanf:"Binning" yaml:"Binning"`
	Gain     int           `koanf:"Gain" yaml:"Gain"`
	Mode     string        `koanf:"Mode" yaml:"Mode"`
}

// Settings returns the capture settings
func (c CameraConfig) Settings() camera.Settings {
	return camera.Settings{Exposure: c.Exposure, Binning: c.Binning, Gain: c.Gain, Mode: c.Mode}
}

// Config is the configuration of the server and its default scan
type Config struct {
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Mock replaces every instrument with an in-process simulation
	Mock bool `koanf:"Mock" yaml:"Mock"`

	XPS    XPSConfig    `koanf:"XPS" yaml:"XPS"`
	LockIn LockInConfig `koanf:"LockIn" yaml:"LockIn"`
	Camera CameraConfig `koanf:"Camera" yaml:"Camera"`

	Delay      scan.SweepConfig `koanf:"Delay" yaml:"Delay"`
	DelayExtra string           `koanf:"DelayExtra" yaml:"DelayExtra"`
	Power      scan.SweepConfig `koanf:"Power" yaml:"Power"`

	Output persist.Config       `koanf:"Output" yaml:"Output"`
	Motion position.RetryPolicy `koanf:"Motion" yaml:"Motion"`

	// Journal is the path of the run history database, empty to disable
	Journal string `koanf:"Journal" yaml:"Journal"`

	Trace trace.Config `koanf:"Trace" yaml:"Trace"`
}

func defaultConfig() Config {
	d := scan.DefaultConfig
	return Config{
		Addr: ":8000",
		Mock: true,
		XPS: XPSConfig{
			Addr:            "192.168.50.2",
			DelayPositioner: "GROUP1.POSITIONER",
			PowerPositioner: "GROUP3.POSITIONER",
			Initialize:      true,
		},
		LockIn: LockInConfig{
			Addr:        "192.168.50.3:1234",
			Baud:        9600,
			Channel:     "1",
			OpenLevel:   5,
			ClosedLevel: 0,
		},
		Camera: CameraConfig{
			URL:      "http://localhost:8001/camera",
			Exposure: d.Camera.Exposure,
			Binning:  d.Camera.Binning,
		},
		Delay:   d.Delay,
		Power:   d.Power,
		Output:  d.Output,
		Motion:  position.DefaultPolicy,
		Journal: "pumpprobe.db",
	}
}

// Scan returns the scan configuration
func (c Config) Scan() scan.Config {
	return scan.Config{
		Delay:      c.Delay,
		DelayExtra: c.DelayExtra,
		Power:      c.Power,
		Camera:     c.Camera.Settings(),
		Output:     c.Output,
		Trace:      c.Trace,
	}
}
