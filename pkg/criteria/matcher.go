package criteria

import (
	"strings"

	"Toyol/pkg/types"
)

// Reasons reported by Evaluate
const (
	ReasonNoCategory      = "no enabled category in text"
	ReasonHourNotSelected = "pickup hour not selected"
	ReasonTargetDisabled  = "category target disabled"
	ReasonDistance        = "pickup distance unknown or too far"
	ReasonNoSubCriteria   = "no sub-criteria selected"
	ReasonSubCriteriaMet  = "sub-criteria matched"
	ReasonSubCriteriaMiss = "no sub-criteria matched"
)

const (
	toAirportMarker   = "(to klia)"
	fromAirportMarker = "(from klia)"
	airportCode       = "klia"
)

// Decision is the outcome of evaluating one candidate text
type Decision struct {
	Accepted bool   `json:"accepted"`
	Category string `json:"category,omitempty"`
	Reason   string `json:"reason"`
}

// Matches reports whether text describes an acceptable job under cfg
func Matches(text string, cfg types.Configuration) bool {
	return Evaluate(text, cfg).Accepted
}

// Evaluate runs the acceptance gates in order and stops at the first that fails.
// Category and pickup hour are coarse gates checked before any per-category
// filter; a category target without sub-criteria accepts everything in it.
func Evaluate(text string, cfg types.Configuration) Decision {
	category, ok := MatchCategory(text, cfg.CategoryFilters)
	if !ok {
		return Decision{Reason: ReasonNoCategory}
	}

	if cfg.TimeMode == types.TimeModeManual {
		if selected := cfg.SelectedHours(); len(selected) > 0 {
			hour, found := ExtractHour(text)
			if !found || !containsInt(selected, hour) {
				return Decision{Category: category, Reason: ReasonHourNotSelected}
			}
		}
	}

	target, ok := cfg.PerCategoryTarget[category]
	if !ok || !target.Enabled {
		return Decision{Accepted: true, Category: category, Reason: ReasonTargetDisabled}
	}

	// An unparsable limit makes the distance filter inapplicable
	if target.MaxDistanceEnabled && !target.WantsDestinationAirport && target.MaxDistanceKm.Valid {
		dist, found := ExtractDistanceKm(text)
		if !found || dist > target.MaxDistanceKm.Value {
			return Decision{Category: category, Reason: ReasonDistance}
		}
	}

	if !target.HasSubCriteria() {
		return Decision{Accepted: true, Category: category, Reason: ReasonNoSubCriteria}
	}

	toAirport, fromAirport := AirportMarkers(text, cfg.AirportPolicy)
	originMatch := target.WantsOriginAirport && toAirport
	destMatch := target.WantsDestinationAirport && fromAirport
	priceMatch := false
	if target.MinPriceEnabled && target.MinPrice.Valid {
		if price, found := ExtractPrice(text); found && price >= target.MinPrice.Value {
			priceMatch = true
		}
	}

	if originMatch || destMatch || priceMatch {
		return Decision{Accepted: true, Category: category, Reason: ReasonSubCriteriaMet}
	}
	return Decision{Category: category, Reason: ReasonSubCriteriaMiss}
}

// MatchCategory finds the enabled category whose name appears in text, ignoring case.
// When several enabled names appear, the longest (most specific) wins, ties broken
// alphabetically, so the result never depends on map order.
func MatchCategory(text string, filters map[string]bool) (string, bool) {
	lower := strings.ToLower(text)
	best := ""
	for name, enabled := range filters {
		if !enabled || name == "" {
			continue
		}
		if !strings.Contains(lower, strings.ToLower(name)) {
			continue
		}
		if best == "" || len(name) > len(best) || (len(name) == len(best) && name < best) {
			best = name
		}
	}
	return best, best != ""
}

// AirportMarkers reports whether text describes a trip to and/or from the airport
// under the given policy.
func AirportMarkers(text string, policy types.AirportPolicy) (toAirport, fromAirport bool) {
	lower := strings.ToLower(text)
	if policy == types.AirportLoose {
		mentioned := strings.Contains(lower, airportCode)
		return mentioned, mentioned
	}
	return strings.Contains(lower, toAirportMarker), strings.Contains(lower, fromAirportMarker)
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
