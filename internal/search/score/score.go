// Package score ranks candidate slots against a search request.
package score

import (
	"math"
	"strings"
	"time"

	"github.com/alex-user-go/slotfinder/internal/providers"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// Term weights and limits.
const (
	PriceCeilingDollars = 100.0
	EarlyWindow         = 24 * time.Hour
	EarlyBonus          = 0.2
	ServiceWeight       = 0.5
	StylistBonus        = 0.3
	ProximityWeight     = 0.5
	ProximityRadiusDeg  = 0.1
)

// Breakdown holds the individual terms of a score.
type Breakdown struct {
	Price     float64
	Early     float64
	Service   float64
	Stylist   float64
	Proximity float64
}

// Total sums the terms and rounds to four decimal places.
func (b Breakdown) Total() float64 {
	sum := b.Price + b.Early + b.Service + b.Stylist + b.Proximity
	return math.Round(sum*1e4) / 1e4
}

// Score returns the composite desirability of slot for req at instant now.
// Higher is better.
func Score(slot providers.Slot, req types.Request, now time.Time) float64 {
	return Explain(slot, req, now).Total()
}

// Explain computes every term of the score.
func Explain(slot providers.Slot, req types.Request, now time.Time) Breakdown {
	return Breakdown{
		Price:     priceTerm(slot),
		Early:     earlyTerm(slot, now),
		Service:   serviceTerm(slot, req),
		Stylist:   stylistTerm(slot, req),
		Proximity: proximityTerm(slot, req),
	}
}

// priceTerm falls linearly from 1 at $0 to 0 at PriceCeilingDollars.
func priceTerm(slot providers.Slot) float64 {
	return math.Max(0, 1-slot.PriceDollars()/PriceCeilingDollars)
}

func earlyTerm(slot providers.Slot, now time.Time) float64 {
	if slot.StartTime.Before(now.Add(EarlyWindow)) {
		return EarlyBonus
	}
	return 0
}

func serviceTerm(slot providers.Slot, req types.Request) float64 {
	if req.Service == "" {
		return 0
	}
	ratio := PartialRatio(strings.ToLower(req.Service), strings.ToLower(slot.ServiceName))
	return ServiceWeight * float64(ratio) / 100
}

func stylistTerm(slot providers.Slot, req types.Request) float64 {
	if req.Stylist == "" || slot.StylistName == "" {
		return 0
	}
	if strings.Contains(strings.ToLower(slot.StylistName), strings.ToLower(req.Stylist)) {
		return StylistBonus
	}
	return 0
}

// proximityTerm uses the Manhattan distance in degrees as a cheap stand-in
// for real distance.
func proximityTerm(slot providers.Slot, req types.Request) float64 {
	if !req.HasCoordinates() || !slot.HasCoordinates() {
		return 0
	}
	delta := math.Abs(*slot.Latitude-*req.Lat) + math.Abs(*slot.Longitude-*req.Lng)
	return ProximityWeight * math.Max(0, 1-delta/ProximityRadiusDeg)
}
