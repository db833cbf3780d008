// Package mock provides simulated availability connectors. They generate
// random but plausible salon slots and can be used in-process or served
// over HTTP for the HTTP connector to consume.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/providers"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

const (
	slotsPerFetch  = 10
	defaultLatency = 50 * time.Millisecond
	defaultLat     = 37.7749
	defaultLng     = -122.4194
)

// profile describes what one simulated provider offers.
type profile struct {
	name        string
	idPrefix    string
	locPrefix   string
	baseOffset  time.Duration
	spreadHours int
	jitter      float64
	prices      []int
	locations   []string
	stylists    []string // "" means no stylist assigned
	services    []string
	durations   []int
	bookURL     string
}

var squareProfile = profile{
	name:        "square",
	idPrefix:    "sq",
	locPrefix:   "sq_loc",
	baseOffset:  time.Hour,
	spreadHours: 48,
	jitter:      0.02,
	prices:      []int{2500, 3000, 3500, 4000, 4500},
	locations:   []string{"Downtown Cuts", "Clip & Go", "Fade Factory"},
	stylists:    []string{"Alex", "Jamie", "Riley", ""},
	services:    []string{"Men's Cut", "Women's Cut", "Kids Cut", "Fade + Beard"},
	durations:   []int{30, 45, 60},
	bookURL:     "https://example.com/square/booking",
}

var vagaroProfile = profile{
	name:        "vagaro",
	idPrefix:    "vg",
	locPrefix:   "vg_loc",
	baseOffset:  2 * time.Hour,
	spreadHours: 72,
	jitter:      0.03,
	prices:      []int{2000, 2800, 3200, 3800, 5000},
	locations:   []string{"Shear Genius", "Salon Nova", "Urban Trim"},
	stylists:    []string{"Taylor", "Morgan", ""},
	services:    []string{"Trim", "Full Cut", "Blowout + Cut"},
	durations:   []int{30, 45, 60},
	bookURL:     "https://example.com/vagaro/booking",
}

// Provider is a simulated connector.
type Provider struct {
	profile     profile
	mu          sync.Mutex
	rng         *rand.Rand
	latency     time.Duration
	failureRate float64
	now         func() time.Time
	logger      *zap.Logger
}

// Option configures a mock Provider.
type Option func(*Provider)

// WithSeed makes the generated data reproducible.
func WithSeed(seed int64) Option {
	return func(p *Provider) {
		p.rng = rand.New(rand.NewSource(seed))
	}
}

// WithLatency sets the simulated response time.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) {
		p.latency = d
	}
}

// WithFailureRate makes Fetch fail with the given probability.
func WithFailureRate(rate float64) Option {
	return func(p *Provider) {
		p.failureRate = rate
	}
}

// WithClock overrides the time source used for slot start times.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		p.now = now
	}
}

// WithLogger sets the logger used when serving over HTTP.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// NewSquare creates the simulated Square connector.
func NewSquare(opts ...Option) *Provider {
	return newProvider(squareProfile, opts)
}

// NewVagaro creates the simulated Vagaro connector.
func NewVagaro(opts ...Option) *Provider {
	return newProvider(vagaroProfile, opts)
}

// New creates a simulated connector by name.
func New(kind string, opts ...Option) (*Provider, error) {
	switch kind {
	case squareProfile.name:
		return NewSquare(opts...), nil
	case vagaroProfile.name:
		return NewVagaro(opts...), nil
	default:
		return nil, fmt.Errorf("unknown mock provider %q", kind)
	}
}

func newProvider(prof profile, opts []Option) *Provider {
	p := &Provider{
		profile: prof,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		latency: defaultLatency,
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return p.profile.name
}

// Fetch simulates a provider round trip and returns freshly generated slots.
func (p *Provider) Fetch(ctx context.Context, req types.Request) ([]providers.Slot, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failureRate > 0 && p.rng.Float64() < p.failureRate {
		return nil, providers.ErrProviderUnavailable
	}

	return p.generate(req), nil
}

// generate must be called with p.mu held.
func (p *Provider) generate(req types.Request) []providers.Slot {
	prof := p.profile
	base := p.now().Truncate(time.Hour).Add(prof.baseOffset)

	centerLat, centerLng := defaultLat, defaultLng
	if req.Lat != nil {
		centerLat = *req.Lat
	}
	if req.Lng != nil {
		centerLng = *req.Lng
	}

	slots := make([]providers.Slot, 0, slotsPerFetch)
	for i := 0; i < slotsPerFetch; i++ {
		start := base.Add(time.Duration(p.rng.Intn(prof.spreadHours+1)) * time.Hour)
		lat := centerLat + p.uniform(-prof.jitter, prof.jitter)
		lng := centerLng + p.uniform(-prof.jitter, prof.jitter)

		slots = append(slots, providers.Slot{
			Provider:             prof.name,
			ProviderLocationID:   fmt.Sprintf("%s_%d", prof.locPrefix, 1+p.rng.Intn(3)),
			ProviderLocationName: pick(p.rng, prof.locations),
			StylistName:          pick(p.rng, prof.stylists),
			ServiceName:          pick(p.rng, prof.services),
			StartTime:            start,
			DurationMinutes:      pick(p.rng, prof.durations),
			PriceCents:           pick(p.rng, prof.prices),
			Currency:             providers.DefaultCurrency,
			Latitude:             &lat,
			Longitude:            &lng,
			ProviderURL:          prof.bookURL,
			ProviderInternalID:   fmt.Sprintf("%s_%d", prof.idPrefix, i),
		})
	}
	return slots
}

func (p *Provider) uniform(lo, hi float64) float64 {
	return lo + p.rng.Float64()*(hi-lo)
}

func pick[T any](rng *rand.Rand, values []T) T {
	return values[rng.Intn(len(values))]
}

// ServeHTTP exposes the connector in the format HTTPProvider consumes.
func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req := providers.DecodeQuery(r.URL.Query())

	slots, err := p.Fetch(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(slots); err != nil {
		p.logger.Error("failed to encode response", zap.String("provider", p.profile.name), zap.Error(err))
	}
}
