// Package config loads, normalizes and validates the analysis
// configuration. The file is YAML (JSON parses as a YAML subset);
// defaults are filled in before the file is applied so an empty file is
// a valid roi-to-roi correlation analysis.
package config

import (
	"os"
	"strings"

	"connectomix/domain/connectivity"
	"connectomix/domain/core"
	"connectomix/internal/errors"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v2"
)

// Config is the resolved analysis configuration for one invocation
type Config struct {
	Method   string   `yaml:"method" validate:"required"`
	Measures []string `yaml:"connectivity_kinds" validate:"required,min=1"`

	// Seed methods
	SeedsFile string       `yaml:"seeds_file,omitempty"`
	Seeds     []SeedConfig `yaml:"seeds,omitempty"`
	Radius    float64      `yaml:"radius" validate:"gt=0"`

	// ROI methods
	Atlas     string   `yaml:"atlas,omitempty"`
	RoiMasks  []string `yaml:"roi_masks,omitempty"`
	RoiLabels []string `yaml:"roi_labels,omitempty"`

	// Signal cleaning
	Denoising       string   `yaml:"denoising,omitempty"`
	ConfoundColumns []string `yaml:"confound_columns,omitempty"`
	HighPass        float64  `yaml:"high_pass,omitempty" validate:"gte=0"`
	LowPass         float64  `yaml:"low_pass,omitempty" validate:"gte=0"`
	Standardize     bool     `yaml:"standardize"`

	// Estimation
	Shrinkage string `yaml:"shrinkage,omitempty" validate:"omitempty,oneof=auto always never"`

	Censoring CensoringConfig `yaml:"censoring"`

	// BIDS entity filters; empty means every value found in the dataset
	Subjects []string `yaml:"subjects,omitempty"`
	Tasks    []string `yaml:"tasks,omitempty"`
	Sessions []string `yaml:"sessions,omitempty"`
	Runs     []string `yaml:"runs,omitempty"`
	Spaces   []string `yaml:"spaces,omitempty"`

	Outputs OutputsConfig `yaml:"outputs"`
}

// SeedConfig is one inline seed definition, coordinates in millimeters
type SeedConfig struct {
	Name string  `yaml:"name" validate:"required"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	Z    float64 `yaml:"z"`
}

// CensoringConfig selects and composes the timepoint exclusion criteria
type CensoringConfig struct {
	DropInitialVolumes int     `yaml:"drop_initial_volumes" validate:"gte=0"`
	FDThreshold        float64 `yaml:"fd_threshold" validate:"gte=0"`
	FDColumn           string  `yaml:"fd_column,omitempty"`
	MinSegmentLength   int     `yaml:"min_segment_length" validate:"gte=0"`
	CustomMaskFile     string  `yaml:"custom_mask_file,omitempty"`

	ConditionSelection ConditionConfig `yaml:"condition_selection"`
}

// ConditionConfig restricts retained timepoints to task conditions. The
// retention floors live here but apply to every analysis: per condition
// when selection is enabled, to the censored series as a whole when not.
type ConditionConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Conditions       []string `yaml:"conditions,omitempty"`
	TransitionBuffer float64  `yaml:"transition_buffer" validate:"gte=0"`

	MinVolumesRetained   int     `yaml:"min_volumes_retained" validate:"gte=0"`
	MinFractionRetained  float64 `yaml:"min_fraction_retained" validate:"gte=0,lte=1"`
	WarnFractionRetained float64 `yaml:"warn_fraction_retained" validate:"gte=0,lte=1"`
}

// OutputsConfig toggles the optional artifacts
type OutputsConfig struct {
	Timeseries bool `yaml:"timeseries"`
	Xlsx       bool `yaml:"xlsx"`
	Report     bool `yaml:"report"`
}

// Default returns the configuration an empty file resolves to
func Default() *Config {
	return &Config{
		Method:    "roiToRoi",
		Measures:  []string{"correlation"},
		Radius:    5.0,
		Atlas:     "schaefer2018n100",
		Shrinkage: "auto",
		Censoring: CensoringConfig{
			FDColumn: "framewise_displacement",
			ConditionSelection: ConditionConfig{
				MinVolumesRetained:   50,
				MinFractionRetained:  0.3,
				WarnFractionRetained: 0.5,
			},
		},
		Outputs: OutputsConfig{Timeseries: true, Report: true},
	}
}

// Load reads a YAML config file over the defaults, normalizes it,
// expands the denoising strategy and validates the result. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.ReadFailed(path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.ParseFailed("config file "+path, err)
		}
	}
	cfg.normalize()
	if err := cfg.applyStrategy(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize cleans string fields the way hand-edited YAML tends to break
// them: surrounding whitespace and trailing commas
func (c *Config) normalize() {
	c.Method = cleanString(c.Method)
	c.Atlas = cleanString(c.Atlas)
	c.Denoising = cleanString(c.Denoising)
	c.Shrinkage = cleanString(c.Shrinkage)
	c.SeedsFile = cleanString(c.SeedsFile)
	c.Censoring.FDColumn = cleanString(c.Censoring.FDColumn)
	c.Censoring.CustomMaskFile = cleanString(c.Censoring.CustomMaskFile)

	c.Measures = cleanList(c.Measures)
	c.ConfoundColumns = cleanList(c.ConfoundColumns)
	c.RoiMasks = cleanList(c.RoiMasks)
	c.RoiLabels = cleanList(c.RoiLabels)
	c.Subjects = cleanList(c.Subjects)
	c.Tasks = cleanList(c.Tasks)
	c.Sessions = cleanList(c.Sessions)
	c.Runs = cleanList(c.Runs)
	c.Spaces = cleanList(c.Spaces)
	c.Censoring.ConditionSelection.Conditions = cleanList(c.Censoring.ConditionSelection.Conditions)

	for i := range c.Seeds {
		c.Seeds[i].Name = cleanString(c.Seeds[i].Name)
	}
}

// applyStrategy expands the denoising preset into confound columns and,
// for rigid strategies, into motion censoring parameters. Explicit
// censoring settings in the file win over the strategy's.
func (c *Config) applyStrategy() error {
	if c.Denoising == "" {
		return nil
	}
	if len(c.ConfoundColumns) > 0 {
		return core.NewConfigurationError("set either denoising (a strategy preset) or confound_columns, not both")
	}
	strategy, err := GetStrategy(c.Denoising)
	if err != nil {
		return err
	}
	c.ConfoundColumns = append([]string(nil), strategy.Confounds...)
	if strategy.Rigid {
		if c.Censoring.FDThreshold == 0 {
			c.Censoring.FDThreshold = strategy.FDThreshold
		}
		if c.Censoring.MinSegmentLength == 0 {
			c.Censoring.MinSegmentLength = strategy.MinSegmentLength
		}
	}
	return nil
}

// Validate checks struct tags and the semantic rules that tags cannot
// express. All failures surface as configuration errors so the CLI can
// abort before any per-subject work.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return core.NewConfigurationError("invalid config: %v", err)
	}

	method, err := connectivity.ParseMethod(c.Method)
	if err != nil {
		return err
	}
	measures := make([]connectivity.Measure, 0, len(c.Measures))
	for _, m := range c.Measures {
		parsed, err := connectivity.ParseMeasure(m)
		if err != nil {
			return err
		}
		measures = append(measures, parsed)
	}

	if method.IsVoxelwise() {
		for _, m := range measures {
			if m != connectivity.MeasureCorrelation {
				return core.NewConfigurationError("method %s produces voxel maps, which support only correlation (got %s)", method, m)
			}
		}
	}

	if method.UsesSeeds() {
		if c.SeedsFile == "" && len(c.Seeds) == 0 {
			return core.NewConfigurationError("method %s requires seeds_file or inline seeds", method)
		}
	} else {
		if c.Atlas == "" && len(c.RoiMasks) == 0 {
			return core.NewConfigurationError("method %s requires atlas or roi_masks", method)
		}
	}

	if c.HighPass > 0 && c.LowPass > 0 && c.HighPass >= c.LowPass {
		return core.NewConfigurationError("high_pass (%g Hz) must be below low_pass (%g Hz)", c.HighPass, c.LowPass)
	}

	cs := c.Censoring.ConditionSelection
	if cs.Enabled && len(cs.Conditions) == 0 {
		return core.NewConfigurationError("condition_selection is enabled but lists no conditions")
	}
	if c.Censoring.FDThreshold > 0 && c.Censoring.FDColumn == "" {
		return core.NewConfigurationError("fd_threshold is set but fd_column is empty")
	}
	return nil
}

// ParsedMethod returns the validated analysis method
func (c *Config) ParsedMethod() connectivity.Method {
	method, _ := connectivity.ParseMethod(c.Method)
	return method
}

// ParsedMeasures returns the validated measure set in config order
func (c *Config) ParsedMeasures() []connectivity.Measure {
	out := make([]connectivity.Measure, 0, len(c.Measures))
	for _, m := range c.Measures {
		parsed, err := connectivity.ParseMeasure(m)
		if err == nil {
			out = append(out, parsed)
		}
	}
	return out
}

// Hash returns the configuration fingerprint: a sha256 over the
// canonical YAML serialization of the resolved config
func (c *Config) Hash() (core.ConfigHash, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "cannot serialize config for hashing")
	}
	return core.NewConfigHash(data), nil
}

// Marshal returns the resolved config as YAML, for the copy archived
// under the output dataset
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "cannot serialize config")
	}
	return data, nil
}

func cleanString(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ",")
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if cleaned := cleanString(v); cleaned != "" {
			out = append(out, cleaned)
		}
	}
	return out
}
