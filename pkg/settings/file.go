package settings

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"Toyol/pkg/types"

	"gopkg.in/yaml.v3"
)

// ErrNoConfigFile is returned when the configuration file does not exist
var ErrNoConfigFile = errors.New("configuration file not found")

// fileConfig mirrors types.Configuration with optional fields so that
// anything missing from the file keeps its default.
type fileConfig struct {
	ServiceEnabled    *bool                      `yaml:"serviceEnabled"`
	Categories        map[string]bool            `yaml:"categories"`
	Targets           map[string]types.JobTarget `yaml:"targets"`
	TimeMode          types.TimeMode             `yaml:"timeMode"`
	ManualHours       yaml.Node                  `yaml:"manualHours"`
	RefreshIntervalMs *types.Decimal             `yaml:"refreshIntervalMs"`
	AirportPolicy     types.AirportPolicy        `yaml:"airportPolicy"`
}

// LoadFile reads a YAML (or JSON) configuration file
func LoadFile(path string) (types.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Configuration{}, fmt.Errorf("%w: %s", ErrNoConfigFile, path)
		}
		return types.Configuration{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return types.Configuration{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data and merges it onto the default configuration.
// Categories and hours named in the file override the defaults; the rest stay.
func Parse(data []byte) (types.Configuration, error) {
	cfg := types.DefaultConfiguration()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return types.Configuration{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if fc.ServiceEnabled != nil {
		cfg.ServiceEnabled = *fc.ServiceEnabled
	}
	for name, on := range fc.Categories {
		cfg.CategoryFilters[name] = on
	}
	for name, target := range fc.Targets {
		cfg.PerCategoryTarget[name] = target
	}
	if fc.TimeMode != "" {
		cfg.TimeMode = fc.TimeMode
	}
	if fc.RefreshIntervalMs != nil {
		cfg.RefreshIntervalMs = *fc.RefreshIntervalMs
	}
	if fc.AirportPolicy != "" {
		cfg.AirportPolicy = fc.AirportPolicy
	}

	hours, err := decodeHours(&fc.ManualHours)
	if err != nil {
		return types.Configuration{}, err
	}
	for h, on := range hours {
		cfg.ManualHours[h] = on
	}

	if err := cfg.Validate(); err != nil {
		return types.Configuration{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeHours accepts either a mapping of hour to bool or a list of selected hours
func decodeHours(node *yaml.Node) (map[int]bool, error) {
	hours := make(map[int]bool)
	switch node.Kind {
	case 0:
		return hours, nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			h, err := strconv.Atoi(item.Value)
			if err != nil {
				return nil, fmt.Errorf("manualHours: invalid hour %q", item.Value)
			}
			hours[h] = true
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i], node.Content[i+1]
			h, err := strconv.Atoi(key.Value)
			if err != nil {
				return nil, fmt.Errorf("manualHours: invalid hour %q", key.Value)
			}
			var on bool
			if err := val.Decode(&on); err != nil {
				return nil, fmt.Errorf("manualHours[%d]: %w", h, err)
			}
			hours[h] = on
		}
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return hours, nil
		}
		return nil, fmt.Errorf("manualHours: expected a list or mapping")
	default:
		return nil, fmt.Errorf("manualHours: expected a list or mapping")
	}
	return hours, nil
}
