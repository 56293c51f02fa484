// Package config holds the run configuration for the sand simulation: cave
// geometry, spawn cadence, step and frame rates, buffers and storage paths.
// Presets cover the common cases and a JSON file can override any field.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable of a run.
type Config struct {
	// Cave geometry
	Width   int
	Height  int
	SourceX int
	SourceY int
	OffsetX int // added to every parsed coordinate and the source
	OffsetY int
	Floor   bool

	// Simulation pacing
	SpawnCadence int // ticks between spawns
	StepRate     int // simulation ticks per second
	FrameRate    int // ticker frames per second
	MaxCatchUp   int // steps per frame before the backlog is dropped
	MaxTicks     int64

	// Channel buffers
	EventChannelBuffer int
	ClientSendBuffer   int
	EventRetention     int

	DBPath     string
	ListenAddr string
	InputPath  string
	Linger     time.Duration // how long the server stays up after the source blocks
}

// DefaultConfig returns the floor-mode configuration used by the server.
func DefaultConfig() *Config {
	return &Config{
		Width:   200,
		Height:  200,
		SourceX: 500,
		SourceY: 0,
		OffsetX: -400,
		OffsetY: 0,
		Floor:   true,

		SpawnCadence: 3,
		StepRate:     120,
		FrameRate:    60,
		MaxCatchUp:   8,
		MaxTicks:     5_000_000,

		EventChannelBuffer: 1024,
		ClientSendBuffer:   64,
		EventRetention:     100_000,

		DBPath:     "sand.db",
		ListenAddr: ":8080",
		InputPath:  "input.txt",
		Linger:     10 * time.Second,
	}
}

// ReferenceConfig is DefaultConfig without the floor: grains fall out of the
// bottom of the cave.
func ReferenceConfig() *Config {
	cfg := DefaultConfig()
	cfg.Floor = false
	return cfg
}

// LowResourceConfig returns minimal settings for development.
func LowResourceConfig() *Config {
	cfg := DefaultConfig()
	cfg.StepRate = 30
	cfg.FrameRate = 15
	cfg.MaxCatchUp = 2
	cfg.EventChannelBuffer = 64
	cfg.ClientSendBuffer = 8
	cfg.EventRetention = 4096
	return cfg
}

// Preset returns a preset by name.
func Preset(name string) (*Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "reference":
		return ReferenceConfig(), nil
	case "low":
		return LowResourceConfig(), nil
	}
	return nil, fmt.Errorf("unknown preset %q", name)
}

// StepInterval is the simulated time covered by one tick.
func (c *Config) StepInterval() time.Duration {
	return time.Second / time.Duration(c.StepRate)
}

// FrameInterval is the ticker period.
func (c *Config) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Width <= 0 || c.Height <= 0 {
		errs = append(errs, fmt.Errorf("grid must be positive, got %dx%d", c.Width, c.Height))
	}
	if c.SpawnCadence <= 0 {
		errs = append(errs, fmt.Errorf("spawn_cadence must be positive, got %d", c.SpawnCadence))
	}
	if c.StepRate <= 0 {
		errs = append(errs, fmt.Errorf("step_rate must be positive, got %d", c.StepRate))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("frame_rate must be positive, got %d", c.FrameRate))
	}
	if c.MaxCatchUp <= 0 {
		errs = append(errs, fmt.Errorf("max_catch_up must be positive, got %d", c.MaxCatchUp))
	}
	if c.MaxTicks < 0 {
		errs = append(errs, fmt.Errorf("max_ticks must be non-negative, got %d", c.MaxTicks))
	}
	if c.EventChannelBuffer < 0 || c.ClientSendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("buffers must be positive"))
	}
	if c.Linger < 0 {
		errs = append(errs, fmt.Errorf("linger must be non-negative, got %s", c.Linger))
	}
	return errors.Join(errs...)
}

// File is the on-disk JSON form. Omitted fields keep the value of the preset
// the file is applied to.
type File struct {
	Preset *string `json:"preset,omitempty"`

	Width   *int  `json:"width,omitempty"`
	Height  *int  `json:"height,omitempty"`
	SourceX *int  `json:"source_x,omitempty"`
	SourceY *int  `json:"source_y,omitempty"`
	OffsetX *int  `json:"offset_x,omitempty"`
	OffsetY *int  `json:"offset_y,omitempty"`
	Floor   *bool `json:"floor,omitempty"`

	SpawnCadence *int   `json:"spawn_cadence,omitempty"`
	StepRate     *int   `json:"step_rate,omitempty"`
	FrameRate    *int   `json:"frame_rate,omitempty"`
	MaxCatchUp   *int   `json:"max_catch_up,omitempty"`
	MaxTicks     *int64 `json:"max_ticks,omitempty"`

	EventChannelBuffer *int `json:"event_channel_buffer,omitempty"`
	ClientSendBuffer   *int `json:"client_send_buffer,omitempty"`
	EventRetention     *int `json:"event_retention,omitempty"`

	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
	InputPath  *string `json:"input_path,omitempty"`
	Linger     *string `json:"linger,omitempty"` // duration string like "10s"
}

const maxFileSize = 1 * 1024 * 1024

// Load reads a JSON config file and applies it to the preset it names, or to
// DefaultConfig when it names none.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	name := ""
	if f.Preset != nil {
		name = *f.Preset
	}
	cfg, err := Preset(name)
	if err != nil {
		return nil, err
	}
	if err := f.Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Apply copies every set field onto cfg.
func (f *File) Apply(cfg *Config) error {
	setInt(&cfg.Width, f.Width)
	setInt(&cfg.Height, f.Height)
	setInt(&cfg.SourceX, f.SourceX)
	setInt(&cfg.SourceY, f.SourceY)
	setInt(&cfg.OffsetX, f.OffsetX)
	setInt(&cfg.OffsetY, f.OffsetY)
	if f.Floor != nil {
		cfg.Floor = *f.Floor
	}

	setInt(&cfg.SpawnCadence, f.SpawnCadence)
	setInt(&cfg.StepRate, f.StepRate)
	setInt(&cfg.FrameRate, f.FrameRate)
	setInt(&cfg.MaxCatchUp, f.MaxCatchUp)
	if f.MaxTicks != nil {
		cfg.MaxTicks = *f.MaxTicks
	}

	setInt(&cfg.EventChannelBuffer, f.EventChannelBuffer)
	setInt(&cfg.ClientSendBuffer, f.ClientSendBuffer)
	setInt(&cfg.EventRetention, f.EventRetention)

	setString(&cfg.DBPath, f.DBPath)
	setString(&cfg.ListenAddr, f.ListenAddr)
	setString(&cfg.InputPath, f.InputPath)
	if f.Linger != nil && *f.Linger != "" {
		d, err := time.ParseDuration(*f.Linger)
		if err != nil {
			return fmt.Errorf("invalid linger '%s': %w", *f.Linger, err)
		}
		cfg.Linger = d
	}
	return nil
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
