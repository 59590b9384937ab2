package molseg

import (
	"os"

	"gopkg.in/yaml.v3"
)

//Config is the recognized fitting configuration surface.
type Config struct {
	NCellsInit           int     `yaml:"n_cells_init"`
	MinMoleculesPerCell  int     `yaml:"min_molecules_per_cell"`
	Scale                float64 `yaml:"scale"` // fixed std override for initial covariances, 0 = data-driven
	NewComponentWeight   float64 `yaml:"new_component_weight"`
	PriorComponentWeight float64 `yaml:"prior_component_weight"`
	ShapeDegFreedom      int     `yaml:"shape_deg_freedom"`
	CenterDegFreedom     int     `yaml:"n_degrees_of_freedom_center"`
	NFrames              int     `yaml:"n_frames"`
	MeanMolsPerFrame     int     `yaml:"mean_mols_per_frame"` // used when n_frames is 0
	FilterEdges          bool    `yaml:"filter"`
	NMads                float64 `yaml:"n_mads"`
	CompositionSmoothing float64 `yaml:"composition_smoothing"`
	Iterations           int     `yaml:"iterations"`
	Workers              int     `yaml:"workers"`
}

//DefaultConfig will return the fitting defaults.
func DefaultConfig() *Config {
	return &Config{
		NCellsInit:           100,
		MinMoleculesPerCell:  3,
		NewComponentWeight:   0.2,
		PriorComponentWeight: 1.0,
		ShapeDegFreedom:      1000,
		CenterDegFreedom:     1000,
		NFrames:              1,
		FilterEdges:          true,
		NMads:                2.0,
		CompositionSmoothing: 1.0,
		Iterations:           100,
		Workers:              1,
	}
}

//LoadConfig will read a YAML configuration file over the defaults. A missing
//file yields the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//Validate will reject configuration values that cannot parameterize a valid
//model.
func (cfg *Config) Validate() error {
	if cfg.Scale < 0 {
		return &InvalidConfigurationError{Option: "scale", Reason: "must be non-negative"}
	}
	if cfg.NewComponentWeight < 0 || cfg.PriorComponentWeight < 0 {
		return &InvalidConfigurationError{Option: "new_component_weight", Reason: "component weights must be non-negative"}
	}
	if cfg.NMads < 0 {
		return &InvalidConfigurationError{Option: "n_mads", Reason: "must be non-negative"}
	}
	if cfg.ShapeDegFreedom < 0 || cfg.CenterDegFreedom < 0 {
		return &InvalidConfigurationError{Option: "shape_deg_freedom", Reason: "degrees of freedom must be non-negative"}
	}
	if cfg.CompositionSmoothing < 0 {
		return &InvalidConfigurationError{Option: "composition_smoothing", Reason: "must be non-negative"}
	}
	return nil
}
