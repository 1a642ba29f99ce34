package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ringroad/internal/security"
	"github.com/banshee-data/ringroad/internal/sim"
)

// DefaultConfigPath is the path to the canonical simulation defaults file.
const DefaultConfigPath = "config/ringroad.defaults.json"

// Default output file names, appended to across runs.
const (
	DefaultSpeedFile = "flow-speed-data"
	DefaultFlowFile  = "flow-density-data"
)

// DefaultVehicleCounts is the standard sweep. The repeated 2
// is intentional; each entry is its own scenario.
var DefaultVehicleCounts = []int{1, 2, 2, 4, 7, 11, 15, 18, 21, 24, 30, 40, 60, 80, 99}

const defaultCooldown = 5 * time.Second

// SimConfig is the on-disk form of a sweep. Every field is optional; the
// Get* methods and ToSettings fill the gaps from sim.DefaultSettings.
// The same field names are used for JSON and YAML files.
type SimConfig struct {
	Variant       *string `json:"variant,omitempty" yaml:"variant,omitempty"`
	VehicleCounts []int   `json:"vehicle_counts,omitempty" yaml:"vehicle_counts,omitempty"`

	// Timing
	Dt       *float64 `json:"dt,omitempty" yaml:"dt,omitempty"`
	Duration *float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	Warmup   *float64 `json:"warmup,omitempty" yaml:"warmup,omitempty"`
	Scheme   *string  `json:"scheme,omitempty" yaml:"scheme,omitempty"`

	// Road geometry
	ScreenWidth     *float64 `json:"screen_width,omitempty" yaml:"screen_width,omitempty"`
	PixelsPerUnit   *float64 `json:"pixels_per_unit,omitempty" yaml:"pixels_per_unit,omitempty"`
	MarginPixels    *float64 `json:"margin_pixels,omitempty" yaml:"margin_pixels,omitempty"`
	DistanceScale   *float64 `json:"distance_scale,omitempty" yaml:"distance_scale,omitempty"`
	MinRoadFraction *float64 `json:"min_road_fraction,omitempty" yaml:"min_road_fraction,omitempty"`

	// Convoy placement
	LeadFraction        *float64 `json:"lead_fraction,omitempty" yaml:"lead_fraction,omitempty"`
	SpacingMin          *float64 `json:"spacing_min,omitempty" yaml:"spacing_min,omitempty"`
	SpacingMax          *float64 `json:"spacing_max,omitempty" yaml:"spacing_max,omitempty"`
	InitialVelocity     *float64 `json:"initial_velocity,omitempty" yaml:"initial_velocity,omitempty"`
	InitialAcceleration *float64 `json:"initial_acceleration,omitempty" yaml:"initial_acceleration,omitempty"`
	Seed                *uint64  `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Models
	BaselineStep *float64      `json:"baseline_step,omitempty" yaml:"baseline_step,omitempty"`
	IDM          *IDMConfig    `json:"idm,omitempty" yaml:"idm,omitempty"`
	Custom       *CustomConfig `json:"custom,omitempty" yaml:"custom,omitempty"`

	// Output
	OutputDir *string `json:"output_dir,omitempty" yaml:"output_dir,omitempty"`
	SpeedFile *string `json:"speed_file,omitempty" yaml:"speed_file,omitempty"`
	FlowFile  *string `json:"flow_file,omitempty" yaml:"flow_file,omitempty"`
	Cooldown  *string `json:"cooldown,omitempty" yaml:"cooldown,omitempty"` // duration string like "5s"
}

// IDMConfig overrides individual IDM parameters.
type IDMConfig struct {
	DesiredSpeed            *float64 `json:"desired_speed,omitempty" yaml:"desired_speed,omitempty"`
	MaxAcceleration         *float64 `json:"max_acceleration,omitempty" yaml:"max_acceleration,omitempty"`
	ComfortableDeceleration *float64 `json:"comfortable_deceleration,omitempty" yaml:"comfortable_deceleration,omitempty"`
	MinimumGap              *float64 `json:"minimum_gap,omitempty" yaml:"minimum_gap,omitempty"`
	TimeHeadway             *float64 `json:"time_headway,omitempty" yaml:"time_headway,omitempty"`
	Exponent                *float64 `json:"exponent,omitempty" yaml:"exponent,omitempty"`
	MaxBraking              *float64 `json:"max_braking,omitempty" yaml:"max_braking,omitempty"`
}

// CustomConfig overrides the custom model parameters.
type CustomConfig struct {
	IDM          *IDMConfig `json:"idm,omitempty" yaml:"idm,omitempty"`
	FollowerGain *float64   `json:"follower_gain,omitempty" yaml:"follower_gain,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// EmptySimConfig returns a SimConfig with all fields set to nil.
func EmptySimConfig() *SimConfig {
	return &SimConfig{}
}

// LoadSimConfig loads a SimConfig from a .json, .yaml or .yml file.
// Fields omitted from the file keep their defaults, so partial configs are
// safe.
func LoadSimConfig(path string) (*SimConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
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

	cfg := EmptySimConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories and
// panics if the file cannot be loaded. Intended for test setup.
func MustLoadDefaultConfig() *SimConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSimConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the configuration. Invalid simulation values are reported
// as *sim.ConfigError.
func (c *SimConfig) Validate() error {
	if _, err := c.GetVariant(); err != nil {
		return &sim.ConfigError{Field: "variant", Reason: err.Error()}
	}
	if c.VehicleCounts != nil && len(c.VehicleCounts) == 0 {
		return &sim.ConfigError{Field: "vehicle_counts", Reason: "must not be empty"}
	}
	for i, n := range c.VehicleCounts {
		if n <= 0 {
			return &sim.ConfigError{Field: "vehicle_counts", Reason: fmt.Sprintf("entry %d must be positive, got %d", i, n)}
		}
	}
	if c.Cooldown != nil && *c.Cooldown != "" {
		d, err := time.ParseDuration(*c.Cooldown)
		if err != nil {
			return &sim.ConfigError{Field: "cooldown", Reason: fmt.Sprintf("invalid duration %q: %v", *c.Cooldown, err)}
		}
		if d < 0 {
			return &sim.ConfigError{Field: "cooldown", Reason: "must be non-negative"}
		}
	}
	for _, f := range []struct{ field, name string }{
		{"speed_file", c.GetSpeedFile()},
		{"flow_file", c.GetFlowFile()},
	} {
		if err := security.ValidateFileName(c.GetOutputDir(), f.name); err != nil {
			return &sim.ConfigError{Field: f.field, Reason: err.Error()}
		}
	}
	if c.GetSpeedFile() == c.GetFlowFile() {
		return &sim.ConfigError{Field: "flow_file", Reason: "must differ from speed_file"}
	}
	_, err := c.ToSettings()
	return err
}

// ToSettings merges the configured values over sim.DefaultSettings and
// validates the result.
func (c *SimConfig) ToSettings() (sim.Settings, error) {
	s := sim.DefaultSettings()
	setFloat(&s.Dt, c.Dt)
	setFloat(&s.Duration, c.Duration)
	setFloat(&s.Warmup, c.Warmup)
	setFloat(&s.ScreenWidth, c.ScreenWidth)
	setFloat(&s.PixelsPerUnit, c.PixelsPerUnit)
	setFloat(&s.MarginPixels, c.MarginPixels)
	setFloat(&s.DistanceScale, c.DistanceScale)
	setFloat(&s.MinRoadFraction, c.MinRoadFraction)
	setFloat(&s.LeadFraction, c.LeadFraction)
	setFloat(&s.SpacingMin, c.SpacingMin)
	setFloat(&s.SpacingMax, c.SpacingMax)
	setFloat(&s.InitialVelocity, c.InitialVelocity)
	setFloat(&s.InitialAcceleration, c.InitialAcceleration)
	setFloat(&s.BaselineStep, c.BaselineStep)
	if c.Seed != nil {
		s.Seed = *c.Seed
	}
	if c.Scheme != nil {
		scheme, err := sim.ParseScheme(*c.Scheme)
		if err != nil {
			return s, &sim.ConfigError{Field: "scheme", Reason: err.Error()}
		}
		s.Scheme = scheme
	}
	c.IDM.apply(&s.IDM)
	if c.Custom != nil {
		c.Custom.IDM.apply(&s.Custom.IDM)
		setFloat(&s.Custom.FollowerGain, c.Custom.FollowerGain)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (c *IDMConfig) apply(p *sim.IDMParams) {
	if c == nil {
		return
	}
	setFloat(&p.DesiredSpeed, c.DesiredSpeed)
	setFloat(&p.MaxAcceleration, c.MaxAcceleration)
	setFloat(&p.ComfortableDeceleration, c.ComfortableDeceleration)
	setFloat(&p.MinimumGap, c.MinimumGap)
	setFloat(&p.TimeHeadway, c.TimeHeadway)
	setFloat(&p.Exponent, c.Exponent)
	setFloat(&p.MaxBraking, c.MaxBraking)
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

// GetVariant returns the configured model variant or the baseline.
func (c *SimConfig) GetVariant() (sim.Variant, error) {
	if c.Variant == nil {
		return sim.VariantBaseline, nil
	}
	return sim.ParseVariant(*c.Variant)
}

// GetVehicleCounts returns the configured sweep or DefaultVehicleCounts.
func (c *SimConfig) GetVehicleCounts() []int {
	if len(c.VehicleCounts) == 0 {
		return append([]int(nil), DefaultVehicleCounts...)
	}
	return append([]int(nil), c.VehicleCounts...)
}

// GetOutputDir returns the directory the line recorder writes into.
func (c *SimConfig) GetOutputDir() string {
	if c.OutputDir == nil || *c.OutputDir == "" {
		return "."
	}
	return *c.OutputDir
}

// GetSpeedFile returns the speed–density output file name.
func (c *SimConfig) GetSpeedFile() string {
	if c.SpeedFile == nil || *c.SpeedFile == "" {
		return DefaultSpeedFile
	}
	return *c.SpeedFile
}

// GetFlowFile returns the flow–density output file name.
func (c *SimConfig) GetFlowFile() string {
	if c.FlowFile == nil || *c.FlowFile == "" {
		return DefaultFlowFile
	}
	return *c.FlowFile
}

// GetCooldown returns the pause after the sweep, defaulting to 5s.
func (c *SimConfig) GetCooldown() time.Duration {
	if c.Cooldown == nil || *c.Cooldown == "" {
		return defaultCooldown
	}
	d, err := time.ParseDuration(*c.Cooldown)
	if err != nil {
		return defaultCooldown // default on parse error
	}
	return d
}
