// Package config loads the process-level bootstrap configuration shared by
// the moptop-master and moptop-slave binaries, grounded on
// cmd/andorhttp3/main.go's setupconfig() pattern: koanf with a yaml file
// provider layered over struct-derived defaults. This is distinct from
// runconfig.RunConfig, which decodes the per-run RUN datagram payload rather
// than process startup options.
package config

import (
	"log"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
)

// Config is the process bootstrap configuration for one camera process
// (master or slave).
type Config struct {
	// BindAddr is the UDP address this process's transport.Socket binds to.
	BindAddr string `yaml:"BindAddr"`
	// PeerAddr is the other camera process's address (master's slave, or
	// slave's master).
	PeerAddr string `yaml:"PeerAddr"`
	// CmdAddr is where filename notifications are sent; empty disables them.
	CmdAddr string `yaml:"CmdAddr"`

	// CameraID is the filename prefix ("1".."6").
	CameraID string `yaml:"CameraID"`
	// CameraSerial selects which CameraSpec calibration row to use; "auto"
	// uses the serial number the opened camera reports.
	CameraSerial string `yaml:"CameraSerial"`
	// CameraIndex is the SDK3 device index to open.
	CameraIndex int `yaml:"CameraIndex"`

	// RotatorDevice is the serial device path for the PI rotator controller
	// (master only; ignored by the slave process).
	RotatorDevice string `yaml:"RotatorDevice"`

	// OutputRoot is the directory FITS frames and the run-number scan
	// operate on.
	OutputRoot string `yaml:"OutputRoot"`

	// SingleCamera starts the master without ever contacting a slave
	// process, the one_cam / single_camera debug mode (spec §4.9).
	SingleCamera bool `yaml:"SingleCamera"`
}

var defaults = Config{
	BindAddr:     ":9000",
	PeerAddr:     "",
	CmdAddr:      "",
	CameraID:     "1",
	CameraSerial: "auto",
	CameraIndex:  0,
	RotatorDevice: "/dev/ttyUSB0",
	OutputRoot:    "/data/moptop",
	SingleCamera:  false,
}

// Load reads defaults, then overlays path (if it exists) as YAML. A missing
// file is not an error; every other read/parse failure is fatal, matching
// setupconfig()'s "file missing, who cares" tolerance.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !strings.Contains(err.Error(), "no such file") {
			return nil, err
		}
	}
	cfg := Config{}
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load, logging and exiting on failure, matching the teacher's
// cmd/ entrypoints' log.Fatal-on-bootstrap-error convention.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}
