package providers

import (
	"context"
	"errors"
	"time"

	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// DefaultCurrency is assumed when a provider omits the currency code.
const DefaultCurrency = "USD"

// Slot represents one bookable appointment as a provider reports it.
type Slot struct {
	Provider             string    `json:"provider"`
	ProviderLocationID   string    `json:"provider_location_id"`
	ProviderLocationName string    `json:"provider_location_name"`
	StylistName          string    `json:"stylist_name,omitempty"`
	ServiceName          string    `json:"service_name"`
	StartTime            time.Time `json:"start_time"`
	DurationMinutes      int       `json:"duration_minutes"`
	PriceCents           int       `json:"price_cents"`
	Currency             string    `json:"currency,omitempty"`
	Latitude             *float64  `json:"latitude,omitempty"`
	Longitude            *float64  `json:"longitude,omitempty"`
	ProviderURL          string    `json:"provider_url,omitempty"`
	ProviderInternalID   string    `json:"provider_internal_id,omitempty"`
}

// PriceDollars returns the slot price in whole currency units.
func (s Slot) PriceDollars() float64 {
	return float64(s.PriceCents) / 100
}

// HasCoordinates reports whether the slot location is known.
func (s Slot) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// Provider defines the interface for availability connectors.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Fetch returns the slots the provider offers for a search.
	// No availability is an empty slice, not an error.
	Fetch(ctx context.Context, req types.Request) ([]Slot, error)
}

// ErrProviderUnavailable is returned when a provider is unavailable.
var ErrProviderUnavailable = errors.New("provider unavailable")
