package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/tracefeatures/internal/units"
)

// DefaultConfigPath is the path to the canonical analysis defaults file.
const DefaultConfigPath = "config/analysis.defaults.json"

// Defaults used when a field is omitted.
const (
	DefaultSubsampleFactor = 5
	DefaultFramesPerSecond = 100.0
	DefaultComponents      = 3
	DefaultDatabasePath    = "tracefeatures.db"
)

// AnalysisConfig configures one aggregation run. Fields are pointers so a
// partial file only overrides what it names.
type AnalysisConfig struct {
	// Windowing
	SubsampleFactor *int     `json:"subsample_factor,omitempty"`
	FramesPerSecond *float64 `json:"frames_per_second,omitempty"`
	Workers         *int     `json:"workers,omitempty"` // 0 = one goroutine per trace

	// Reporting
	SpeedUnits   *string `json:"speed_units,omitempty"`   // mps, mph, kmph, kph
	AngularUnits *string `json:"angular_units,omitempty"` // rad or deg
	Components   *int    `json:"components,omitempty"`

	// Persistence
	DatabasePath *string `json:"database_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyAnalysisConfig returns a config with every field unset.
func EmptyAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{}
}

// DefaultAnalysisConfig returns a config with every field set to its default.
func DefaultAnalysisConfig() *AnalysisConfig {
	return &AnalysisConfig{
		SubsampleFactor: ptrInt(DefaultSubsampleFactor),
		FramesPerSecond: ptrFloat64(DefaultFramesPerSecond),
		Workers:         ptrInt(0),
		SpeedUnits:      ptrString(units.MPS),
		AngularUnits:    ptrString(units.Radians),
		Components:      ptrInt(DefaultComponents),
		DatabasePath:    ptrString(DefaultDatabasePath),
	}
}

// LoadAnalysisConfig loads an AnalysisConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadAnalysisConfig(path string) (*AnalysisConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyAnalysisConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *AnalysisConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadAnalysisConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *AnalysisConfig) Validate() error {
	if c.SubsampleFactor != nil && *c.SubsampleFactor < 1 {
		return fmt.Errorf("subsample_factor must be at least 1, got %d", *c.SubsampleFactor)
	}
	if c.FramesPerSecond != nil && !(*c.FramesPerSecond > 0) {
		return fmt.Errorf("frames_per_second must be positive, got %f", *c.FramesPerSecond)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if c.SpeedUnits != nil && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of %s, got %q", units.GetValidUnitsString(), *c.SpeedUnits)
	}
	if c.AngularUnits != nil && !units.IsValidAngular(*c.AngularUnits) {
		return fmt.Errorf("angular_units must be %q or %q, got %q", units.Radians, units.Degrees, *c.AngularUnits)
	}
	if c.Components != nil && *c.Components < 0 {
		return fmt.Errorf("components must be non-negative, got %d", *c.Components)
	}
	if c.DatabasePath != nil && *c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	return nil
}

// GetSubsampleFactor returns the subsample_factor value or the default.
func (c *AnalysisConfig) GetSubsampleFactor() int {
	if c.SubsampleFactor == nil {
		return DefaultSubsampleFactor
	}
	return *c.SubsampleFactor
}

// GetFramesPerSecond returns the frames_per_second value or the default.
func (c *AnalysisConfig) GetFramesPerSecond() float64 {
	if c.FramesPerSecond == nil {
		return DefaultFramesPerSecond
	}
	return *c.FramesPerSecond
}

// GetWorkers returns the workers value or the default.
func (c *AnalysisConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetSpeedUnits returns the speed_units value or the default.
func (c *AnalysisConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.MPS
	}
	return *c.SpeedUnits
}

// GetAngularUnits returns the angular_units value or the default.
func (c *AnalysisConfig) GetAngularUnits() string {
	if c.AngularUnits == nil {
		return units.Radians
	}
	return *c.AngularUnits
}

// GetComponents returns the components value or the default.
func (c *AnalysisConfig) GetComponents() int {
	if c.Components == nil {
		return DefaultComponents
	}
	return *c.Components
}

// GetDatabasePath returns the database_path value or the default.
func (c *AnalysisConfig) GetDatabasePath() string {
	if c.DatabasePath == nil {
		return DefaultDatabasePath
	}
	return *c.DatabasePath
}
