package types

import "time"

const (
	// DefaultLimit is the number of slots returned when a request does not set one.
	DefaultLimit = 25
	// MaxLimit caps the number of slots a single search may return.
	MaxLimit = 100
)

// Request describes one availability search. Zero-valued fields are unset.
type Request struct {
	Query            string   `json:"query,omitempty"`
	When             string   `json:"when,omitempty"`
	BudgetMax        *float64 `json:"budget_max,omitempty"`
	DistanceMilesMax *float64 `json:"distance_miles_max,omitempty"`
	Service          string   `json:"service,omitempty"`
	Stylist          string   `json:"stylist,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
	Limit            int      `json:"limit"`
}

// NewRequest returns a request with every filter unset and the default limit.
func NewRequest() Request {
	return Request{Limit: DefaultLimit}
}

// HasCoordinates reports whether both latitude and longitude are set.
func (r Request) HasCoordinates() bool {
	return r.Lat != nil && r.Lng != nil
}

// EffectiveLimit resolves the limit actually applied to results.
// Zero means the default, negative values yield no results and anything
// above MaxLimit is clamped.
func (r Request) EffectiveLimit() int {
	switch {
	case r.Limit == 0:
		return DefaultLimit
	case r.Limit < 0:
		return 0
	case r.Limit > MaxLimit:
		return MaxLimit
	}
	return r.Limit
}

// Result represents aggregated search results.
type Result struct {
	Slots              []Slot `json:"slots"`
	ProvidersTotal     int    `json:"providers_total"`
	ProvidersSucceeded int    `json:"providers_succeeded"`
	ProvidersFailed    int    `json:"providers_failed"`
}

// Slot is the provider-agnostic view of one bookable appointment.
type Slot struct {
	ID              string    `json:"id"`
	Provider        string    `json:"provider"`
	LocationName    string    `json:"location_name"`
	ServiceName     string    `json:"service_name"`
	StylistName     *string   `json:"stylist_name"`
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes"`
	PriceCents      int       `json:"price_cents"`
	Currency        string    `json:"currency"`
	Latitude        *float64  `json:"latitude"`
	Longitude       *float64  `json:"longitude"`
	BookURL         *string   `json:"book_url"`
	Score           float64   `json:"score"`
}
