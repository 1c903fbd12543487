package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// Default column names of the ATL24-style granule CSVs.
const (
	DefaultIndexColumn      = "index_ph"
	DefaultAlongTrackColumn = "x_atc"
	DefaultElevationColumn  = "geoid_corr_h"
	DefaultReferenceColumn  = "manual_label"
)

// DefaultDetectors are the base detector columns used for candidate selection
// and as classifier features.
var DefaultDetectors = []string{
	"bathypathfinder",
	"coastnet",
	"cshelph",
	"medianfilter",
	"openoceanspp",
	"qtrees",
}

// DefaultFeatureColumns is the expected feature order: detectors, geometry, density.
var DefaultFeatureColumns = []string{
	"bathypathfinder",
	"coastnet",
	"cshelph",
	"medianfilter",
	"openoceanspp",
	"qtrees",
	"geoid_corr_h",
	"surface_h",
	"density",
}

// TuningConfig holds the tunable parameters of the density, training and
// scoring stages. Fields omitted from the JSON file fall back to the
// defaults returned by the Get* accessors.
type TuningConfig struct {
	// Density params
	AspectRatio    *float64 `json:"aspect_ratio,omitempty"`
	Neighbors      *int     `json:"neighbors,omitempty"`
	NeutralDensity *float64 `json:"neutral_density,omitempty"`

	// Columns
	Detectors        []string `json:"detectors,omitempty"`
	FeatureColumns   []string `json:"feature_columns,omitempty"`
	IndexColumn      *string  `json:"index_column,omitempty"`
	AlongTrackColumn *string  `json:"along_track_column,omitempty"`
	ElevationColumn  *string  `json:"elevation_column,omitempty"`
	ReferenceColumn  *string  `json:"reference_column,omitempty"`

	// Scoring params
	CalibrationRatio *float64 `json:"calibration_ratio,omitempty"`

	// Training params
	L2Penalty     *float64 `json:"l2_penalty,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`

	// Workers bounds per-granule parallelism; 0 means GOMAXPROCS.
	Workers *int `json:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		AspectRatio:      ptrFloat64(10),
		Neighbors:        ptrInt(16),
		NeutralDensity:   ptrFloat64(-1),
		Detectors:        append([]string(nil), DefaultDetectors...),
		FeatureColumns:   append([]string(nil), DefaultFeatureColumns...),
		IndexColumn:      ptrString(DefaultIndexColumn),
		AlongTrackColumn: ptrString(DefaultAlongTrackColumn),
		ElevationColumn:  ptrString(DefaultElevationColumn),
		ReferenceColumn:  ptrString(DefaultReferenceColumn),
		CalibrationRatio: ptrFloat64(0.5),
		L2Penalty:        ptrFloat64(1e-3),
		MaxIterations:    ptrInt(200),
		Workers:          ptrInt(0),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
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

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/oracle/softmax/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.AspectRatio != nil && *c.AspectRatio <= 0 {
		return fmt.Errorf("aspect_ratio must be positive, got %f", *c.AspectRatio)
	}
	if c.Neighbors != nil && *c.Neighbors < 1 {
		return fmt.Errorf("neighbors must be at least 1, got %d", *c.Neighbors)
	}
	if c.CalibrationRatio != nil && (*c.CalibrationRatio <= 0 || *c.CalibrationRatio > 1) {
		return fmt.Errorf("calibration_ratio must be in (0, 1], got %f", *c.CalibrationRatio)
	}
	if c.L2Penalty != nil && *c.L2Penalty < 0 {
		return fmt.Errorf("l2_penalty must be non-negative, got %f", *c.L2Penalty)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return fmt.Errorf("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	if err := checkDistinct("detectors", c.Detectors); err != nil {
		return err
	}
	if err := checkDistinct("feature_columns", c.FeatureColumns); err != nil {
		return err
	}
	return nil
}

func checkDistinct(field string, names []string) error {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%s contains an empty column name", field)
		}
		if seen[n] {
			return fmt.Errorf("%s lists %q twice", field, n)
		}
		seen[n] = true
	}
	return nil
}

// GetAspectRatio returns the along-track scale divisor or the default.
func (c *TuningConfig) GetAspectRatio() float64 {
	if c.AspectRatio == nil {
		return 10
	}
	return *c.AspectRatio
}

// GetNeighbors returns the LOF neighbourhood size or the default.
func (c *TuningConfig) GetNeighbors() int {
	if c.Neighbors == nil {
		return 16
	}
	return *c.Neighbors
}

// GetNeutralDensity returns the degenerate-granule density or the default.
func (c *TuningConfig) GetNeutralDensity() float64 {
	if c.NeutralDensity == nil {
		return -1
	}
	return *c.NeutralDensity
}

// GetDetectors returns the detector columns or the default list.
func (c *TuningConfig) GetDetectors() []string {
	if len(c.Detectors) == 0 {
		return append([]string(nil), DefaultDetectors...)
	}
	return append([]string(nil), c.Detectors...)
}

// GetFeatureColumns returns the expected feature order or the default list.
func (c *TuningConfig) GetFeatureColumns() []string {
	if len(c.FeatureColumns) == 0 {
		return append([]string(nil), DefaultFeatureColumns...)
	}
	return append([]string(nil), c.FeatureColumns...)
}

// GetIndexColumn returns the per-granule index column name or the default.
func (c *TuningConfig) GetIndexColumn() string {
	if c.IndexColumn == nil || *c.IndexColumn == "" {
		return DefaultIndexColumn
	}
	return *c.IndexColumn
}

// GetAlongTrackColumn returns the along-track column name or the default.
func (c *TuningConfig) GetAlongTrackColumn() string {
	if c.AlongTrackColumn == nil || *c.AlongTrackColumn == "" {
		return DefaultAlongTrackColumn
	}
	return *c.AlongTrackColumn
}

// GetElevationColumn returns the corrected elevation column name or the default.
func (c *TuningConfig) GetElevationColumn() string {
	if c.ElevationColumn == nil || *c.ElevationColumn == "" {
		return DefaultElevationColumn
	}
	return *c.ElevationColumn
}

// GetReferenceColumn returns the manual label column name or the default.
func (c *TuningConfig) GetReferenceColumn() string {
	if c.ReferenceColumn == nil || *c.ReferenceColumn == "" {
		return DefaultReferenceColumn
	}
	return *c.ReferenceColumn
}

// GetCalibrationRatio returns the calibrated-F1 reference prevalence r0.
func (c *TuningConfig) GetCalibrationRatio() float64 {
	if c.CalibrationRatio == nil {
		return 0.5
	}
	return *c.CalibrationRatio
}

// GetL2Penalty returns the softmax weight decay or the default.
func (c *TuningConfig) GetL2Penalty() float64 {
	if c.L2Penalty == nil {
		return 1e-3
	}
	return *c.L2Penalty
}

// GetMaxIterations returns the optimiser iteration cap or the default.
func (c *TuningConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return 200
	}
	return *c.MaxIterations
}

// GetWorkers returns the granule worker count, resolving 0 to GOMAXPROCS.
func (c *TuningConfig) GetWorkers() int {
	if c.Workers == nil || *c.Workers == 0 {
		return runtime.GOMAXPROCS(0)
	}
	return *c.Workers
}
