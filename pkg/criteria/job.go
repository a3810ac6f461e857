package criteria

import "Toyol/pkg/types"

// Job is the structured view of a candidate's text, exposed to filter scripts
// and diagnostics. Absent fields are nil.
type Job struct {
	Text        string   `json:"text"`
	Category    string   `json:"category,omitempty"`
	Hour        *int     `json:"hour,omitempty"`
	Price       *float64 `json:"price,omitempty"`
	DistanceKm  *float64 `json:"distanceKm,omitempty"`
	ToAirport   bool     `json:"toAirport"`
	FromAirport bool     `json:"fromAirport"`
}

// Parse extracts every known field from text
func Parse(text string, cfg types.Configuration) Job {
	job := Job{Text: text}
	job.Category, _ = MatchCategory(text, cfg.CategoryFilters)
	if h, ok := ExtractHour(text); ok {
		job.Hour = &h
	}
	if p, ok := ExtractPrice(text); ok {
		job.Price = &p
	}
	if d, ok := ExtractDistanceKm(text); ok {
		job.DistanceKm = &d
	}
	job.ToAirport, job.FromAirport = AirportMarkers(text, cfg.AirportPolicy)
	return job
}
