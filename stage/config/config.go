package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"deltastage/stage"
	"deltastage/stage/kinematics"
)

// ErrInvalid marks a configuration that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Format selects the configuration file syntax
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks a format from a file name extension
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// LoadFile reads and parses a configuration file
func LoadFile(path string) (*stage.MachineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := LoadConfig(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadConfig parses configuration data on top of DefaultDeltaConfig, so keys
// absent from the file keep their defaults and explicit zeros are honoured
func LoadConfig(data []byte, format Format) (*stage.MachineConfig, error) {
	config := DefaultDeltaConfig()

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, err
	}

	// Apply defaults
	applyDefaults(config)

	if err := Validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults fills in values where zero is never meaningful
func applyDefaults(config *stage.MachineConfig) {
	if config.Kinematics == "" {
		config.Kinematics = "delta"
	}

	if config.Serial.Baud == 0 {
		config.Serial.Baud = 115200
	}
	if config.Serial.ReadTimeoutMs == 0 {
		config.Serial.ReadTimeoutMs = 100
	}
	if config.Serial.AckTimeoutMs == 0 {
		config.Serial.AckTimeoutMs = 10000
	}
	if config.Serial.IdlePauseMs == 0 {
		config.Serial.IdlePauseMs = 2000
	}

	if config.Jog.StepSize == 0 {
		config.Jog.StepSize = 0.1
	}

	if config.Dipify.ScaleFactor == 0 {
		config.Dipify.ScaleFactor = 1.0
	}
}

// Validate rejects inconsistent configurations. Geometry is normalised in
// place (the derived arm length is filled in).
func Validate(config *stage.MachineConfig) error {
	switch config.Kinematics {
	case "delta":
		if err := kinematics.ValidateGeometry(&config.Geometry); err != nil {
			return fmt.Errorf("%w: geometry: %v", ErrInvalid, err)
		}
	case "cartesian":
	default:
		return fmt.Errorf("%w: unsupported kinematics %q", ErrInvalid, config.Kinematics)
	}

	if config.Serial.Baud < 0 || config.Serial.Retries < 0 {
		return fmt.Errorf("%w: serial: baud and retries must not be negative", ErrInvalid)
	}
	if config.Jog.StepSize < 0 {
		return fmt.Errorf("%w: jog: step_size must not be negative", ErrInvalid)
	}

	if err := ValidateSegmenter(config.Dipify); err != nil {
		return err
	}

	return nil
}

// ValidateSegmenter checks the dip-probe rewriting parameters
func ValidateSegmenter(c stage.SegmenterConfig) error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.SegmentLength > 0, "segment_length must be positive")
	check(c.ScaleFactor > 0, "scale_factor must be positive")
	check(c.MaxZFeedRate > 0, "max_z_feed_rate must be positive")
	check(c.TravelFeedRate > 0, "travel_feed_rate must be positive")
	check(c.TouchFeedRate > 0, "touch_feed_rate must be positive")
	check(c.SafeTravelZ >= 0, "safe_travel_z must not be negative")
	check(c.SkimHeight >= 0, "skim_height must not be negative")
	check(c.ProbePointLimit >= 0, "probe_point_limit must not be negative")
	check(c.Precision >= 0 && c.Precision <= 8, "precision must be between 0 and 8")
	check(c.UVLongSeconds >= 0 && c.UVShortSeconds >= 0, "uv exposure durations must not be negative")
	check(len(c.ExtruderAxis) <= 1, "extruder_axis must be a single letter")

	if c.UVEnabled {
		check(c.UVHoldRise > 0, "uv_hold_rise must be positive when uv_enabled")
		check(c.UVOnCommand != "" && c.UVOffCommand != "", "uv_on_command and uv_off_command are required when uv_enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: dipify: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// DefaultSegmenterConfig returns the dip-probe parameters of the current rig
func DefaultSegmenterConfig() stage.SegmenterConfig {
	return stage.SegmenterConfig{
		SafeTravelZ:     10.0,
		DipSafeZ:        40.0,
		MaxZFeedRate:    2400.0,
		TravelFeedRate:  2400.0,
		TouchFeedRate:   900.0,
		SegmentLength:   15.0,
		ProbePointLimit: 10,
		Reservoir:       stage.Point3{X: 0, Y: 60, Z: 0},
		ScaleFactor:     1.0,
		SkimHeight:      10.0,
		UVLongSeconds:   30.0,
		UVShortSeconds:  5.0,
		UVEnabled:       false,
		UVHoldRise:      1.0,
		UVOnCommand:     "M3 S1000",
		UVOffCommand:    "M5",
		ExposeOnDip:     false,
		ExtruderAxis:    "A",
		Precision:       3,
		InitialLayer:    0,
	}
}

// DefaultDeltaConfig returns a default configuration for the OpenFlexure-style
// micro delta stage
func DefaultDeltaConfig() *stage.MachineConfig {
	return &stage.MachineConfig{
		Kinematics: "delta",
		Geometry: stage.Geometry{
			StageRadius: 35.0,
			StageHeight: 70.0,
			LeverLength: 35.0,
			BaseRadius:  35.0,
		},
		Serial: stage.SerialConfig{
			Device:        "/dev/ttyACM1",
			Baud:          115200,
			ReadTimeoutMs: 100,
			AckTimeoutMs:  10000,
			IdlePauseMs:   2000,
			Retries:       3,
		},
		Jog: stage.JogConfig{
			StepSize:   0.1,
			WaitForAck: true,
		},
		Dipify: DefaultSegmenterConfig(),
	}
}
