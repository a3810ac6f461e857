package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// TimeMode selects how the pickup hour gates a job
type TimeMode string

const (
	TimeModeRandom TimeMode = "Random" // any pickup hour
	TimeModeManual TimeMode = "Manual" // only the selected manual hours
)

// AirportPolicy selects how the airport sub-criteria are matched against job text
type AirportPolicy string

const (
	// AirportMarker requires the "(To KLIA)" / "(From KLIA)" markers
	AirportMarker AirportPolicy = "marker"
	// AirportLoose accepts any text mentioning KLIA for either direction
	AirportLoose AirportPolicy = "loose"
)

// DefaultRefreshIntervalMs is used when the configured interval is unparsable or not positive
const DefaultRefreshIntervalMs = 1000

// DefaultCategories are the service categories known to the job screen
var DefaultCategories = []string{"JustGrab", "Plus", "6 seats", "Premium", "Executive"}

// Decimal is a user-entered number. Valid is false when the input could not be parsed,
// which callers treat as "filter inapplicable" or substitute a default.
type Decimal struct {
	Value float64
	Valid bool
}

// NewDecimal returns a valid Decimal
func NewDecimal(v float64) Decimal {
	return Decimal{Value: v, Valid: true}
}

// ParseDecimal parses s leniently; empty or malformed input yields an invalid Decimal
func ParseDecimal(s string) Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return Decimal{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Decimal{}
	}
	return Decimal{Value: v, Valid: true}
}

func (d Decimal) String() string {
	if !d.Valid {
		return ""
	}
	return strconv.FormatFloat(d.Value, 'f', -1, 64)
}

// UnmarshalYAML accepts numbers and strings; anything unparsable loads as invalid
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		*d = Decimal{}
		return nil
	}
	*d = ParseDecimal(node.Value)
	return nil
}

// MarshalYAML writes the number, or an empty string when invalid
func (d Decimal) MarshalYAML() (interface{}, error) {
	if !d.Valid {
		return "", nil
	}
	return d.Value, nil
}

// UnmarshalJSON accepts numbers and strings
func (d *Decimal) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*d = Decimal{}
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*d = ParseDecimal(s)
		return nil
	}
	*d = ParseDecimal(raw)
	return nil
}

// MarshalJSON writes the number, or null when invalid
func (d Decimal) MarshalJSON() ([]byte, error) {
	if !d.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(d.Value, 'f', -1, 64)), nil
}

// JobTarget is a per-category override. When Enabled is false the whole
// target is ignored and the category passes on category and time gating alone.
type JobTarget struct {
	Enabled                 bool    `json:"enabled" yaml:"enabled"`
	WantsOriginAirport      bool    `json:"toAirport" yaml:"toAirport"`
	WantsDestinationAirport bool    `json:"fromAirport" yaml:"fromAirport"`
	MinPriceEnabled         bool    `json:"minPriceEnabled" yaml:"minPriceEnabled"`
	MinPrice                Decimal `json:"minPrice" yaml:"minPrice"`
	MaxDistanceEnabled      bool    `json:"maxDistanceEnabled" yaml:"maxDistanceEnabled"`
	MaxDistanceKm           Decimal `json:"maxDistanceKm" yaml:"maxDistanceKm"`
}

// HasSubCriteria reports whether any of the "or"-combined sub-criteria is selected
func (t JobTarget) HasSubCriteria() bool {
	return t.WantsOriginAirport || t.WantsDestinationAirport || t.MinPriceEnabled
}

// Configuration is the user's acceptance intent.
// Values are treated as immutable snapshots: use Clone before modifying a copy.
type Configuration struct {
	ServiceEnabled    bool                 `json:"serviceEnabled" yaml:"serviceEnabled"`
	CategoryFilters   map[string]bool      `json:"categories" yaml:"categories"`
	PerCategoryTarget map[string]JobTarget `json:"targets" yaml:"targets"`
	TimeMode          TimeMode             `json:"timeMode" yaml:"timeMode"`
	ManualHours       map[int]bool         `json:"manualHours" yaml:"manualHours"`
	RefreshIntervalMs Decimal              `json:"refreshIntervalMs" yaml:"refreshIntervalMs"`
	AirportPolicy     AirportPolicy        `json:"airportPolicy" yaml:"airportPolicy"`
}

// DefaultConfiguration returns the configuration of a fresh install:
// every known category off, random hours, 1s refresh, marker airport policy.
func DefaultConfiguration() Configuration {
	cfg := Configuration{
		CategoryFilters:   make(map[string]bool, len(DefaultCategories)),
		PerCategoryTarget: make(map[string]JobTarget),
		TimeMode:          TimeModeRandom,
		ManualHours:       make(map[int]bool, 24),
		RefreshIntervalMs: NewDecimal(DefaultRefreshIntervalMs),
		AirportPolicy:     AirportMarker,
	}
	for _, name := range DefaultCategories {
		cfg.CategoryFilters[name] = false
	}
	for h := 0; h < 24; h++ {
		cfg.ManualHours[h] = false
	}
	return cfg
}

// Clone returns a deep copy
func (c Configuration) Clone() Configuration {
	out := c
	out.CategoryFilters = make(map[string]bool, len(c.CategoryFilters))
	for k, v := range c.CategoryFilters {
		out.CategoryFilters[k] = v
	}
	out.PerCategoryTarget = make(map[string]JobTarget, len(c.PerCategoryTarget))
	for k, v := range c.PerCategoryTarget {
		out.PerCategoryTarget[k] = v
	}
	out.ManualHours = make(map[int]bool, len(c.ManualHours))
	for k, v := range c.ManualHours {
		out.ManualHours[k] = v
	}
	return out
}

// SelectedHours returns the manual hours set to true, ascending
func (c Configuration) SelectedHours() []int {
	var hours []int
	for h, on := range c.ManualHours {
		if on {
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)
	return hours
}

// RefreshBaseMs returns the refresh interval, falling back to the default
// when the configured value is unparsable or not positive.
func (c Configuration) RefreshBaseMs() int64 {
	if !c.RefreshIntervalMs.Valid || c.RefreshIntervalMs.Value <= 0 {
		return DefaultRefreshIntervalMs
	}
	return int64(c.RefreshIntervalMs.Value)
}

// Validate checks structural constraints that cannot be defaulted
func (c Configuration) Validate() error {
	for h := range c.ManualHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("manual hour %d out of range 0..23", h)
		}
	}
	switch c.TimeMode {
	case TimeModeRandom, TimeModeManual, "":
	default:
		return fmt.Errorf("unknown time mode %q", c.TimeMode)
	}
	switch c.AirportPolicy {
	case AirportMarker, AirportLoose, "":
	default:
		return fmt.Errorf("unknown airport policy %q", c.AirportPolicy)
	}
	return nil
}
