package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/providers"
	"github.com/alex-user-go/slotfinder/internal/search/score"
	"github.com/alex-user-go/slotfinder/internal/search/temporal"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// ErrAllProvidersFailed is returned when every registered provider failed.
var ErrAllProvidersFailed = errors.New("all providers failed")

// Aggregator aggregates results from multiple providers.
type Aggregator struct {
	providers []providers.Provider
	timeout   time.Duration
	parser    *temporal.Parser
	now       func() time.Time
	metrics   *obs.Metrics
	logger    *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock sets the source of the current instant.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates a new Aggregator. A zero timeout waits for every
// provider however long it takes.
func NewAggregator(providers []providers.Provider, timeout time.Duration, metrics *obs.Metrics, logger *zap.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers: providers,
		timeout:   timeout,
		now:       time.Now,
		metrics:   metrics,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.parser = temporal.NewParser(a.now)
	return a
}

// Providers returns the number of registered providers.
func (a *Aggregator) Providers() int {
	return len(a.providers)
}

type fetchOutcome struct {
	slots []providers.Slot
	err   error
}

// candidate is a raw slot together with its composite id.
type candidate struct {
	id   string
	slot providers.Slot
}

// Search queries all providers concurrently, drops slots outside the
// request's budget and time bound, then returns the rest ranked by score,
// price and start time.
func (a *Aggregator) Search(ctx context.Context, req types.Request) (*types.Result, error) {
	start := time.Now()
	now := a.now()
	notBefore, hasBound := a.parser.ParseAt(req.When, now)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	outcomes := make([]fetchOutcome, len(a.providers))
	var wg sync.WaitGroup
	for i, provider := range a.providers {
		wg.Go(func() {
			outcomes[i] = a.fetch(ctx, provider, req)
		})
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, context.Cause(ctx)
	}

	var (
		succeeded int
		failed    int
		errs      []error
		raw       []candidate
	)
	unnamed := make(map[string]int)
	for i, o := range outcomes {
		if o.err != nil {
			failed++
			errs = append(errs, o.err)
			a.metrics.IncProviderErrors(a.providers[i].Name())
			continue
		}
		succeeded++
		for _, s := range o.slots {
			raw = append(raw, candidate{id: slotID(s, unnamed), slot: s})
		}
	}

	if len(errs) > 0 {
		a.logger.Error("provider search errors",
			zap.Int("failed_count", failed),
			zap.Int("providers_total", len(a.providers)),
			zap.Errors("errors", errs))

		if failed == len(a.providers) {
			return nil, fmt.Errorf("%w: %w", ErrAllProvidersFailed, errors.Join(errs...))
		}
	}

	candidates := filterSlots(raw, req, notBefore, hasBound)
	ranked := rankSlots(candidates, req, now)

	if limit := req.EffectiveLimit(); len(ranked) > limit {
		ranked = ranked[:limit]
	}

	a.metrics.ObserveSearch(time.Since(start), len(ranked))
	a.logger.Debug("search completed",
		zap.Int("candidates", len(raw)),
		zap.Int("kept", len(candidates)),
		zap.Int("returned", len(ranked)),
		zap.Bool("time_bound", hasBound))

	return &types.Result{
		Slots:              ranked,
		ProvidersTotal:     len(a.providers),
		ProvidersSucceeded: succeeded,
		ProvidersFailed:    failed,
	}, nil
}

// fetch isolates one provider call: a panic counts as that provider failing.
func (a *Aggregator) fetch(ctx context.Context, p providers.Provider, req types.Request) (out fetchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("provider panicked", zap.String("provider", p.Name()), zap.Any("panic", r))
			out = fetchOutcome{err: fmt.Errorf("%s: panic: %v", p.Name(), r)}
		}
	}()

	slots, err := p.Fetch(ctx, req)
	if err != nil {
		return fetchOutcome{err: fmt.Errorf("%s: %w", p.Name(), err)}
	}
	return fetchOutcome{slots: slots}
}

// slotID builds "<provider>:<internal id>". Records without an internal id
// are numbered per provider in arrival order instead.
func slotID(s providers.Slot, unnamed map[string]int) string {
	if id := strings.TrimSpace(s.ProviderInternalID); id != "" {
		return s.Provider + ":" + id
	}
	n := unnamed[s.Provider]
	unnamed[s.Provider] = n + 1
	return s.Provider + ":#" + strconv.Itoa(n)
}

// filterSlots applies the hard constraints. Invalid records are dropped too
// and, when two records share an id, the cheaper one is kept.
func filterSlots(raw []candidate, req types.Request, notBefore time.Time, hasBound bool) []candidate {
	kept := make([]candidate, 0, len(raw))
	index := make(map[string]int, len(raw))

	for _, c := range raw {
		s := c.slot
		if !valid(s) {
			continue
		}
		if req.BudgetMax != nil && s.PriceDollars() > *req.BudgetMax {
			continue
		}
		if hasBound && s.StartTime.Before(notBefore) {
			continue
		}

		if i, ok := index[c.id]; ok {
			if s.PriceCents < kept[i].slot.PriceCents {
				kept[i] = c
			}
			continue
		}
		index[c.id] = len(kept)
		kept = append(kept, c)
	}
	return kept
}

func rankSlots(candidates []candidate, req types.Request, now time.Time) []types.Slot {
	ranked := make([]types.Slot, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, normalizeSlot(c.id, c.slot, score.Score(c.slot, req, now)))
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.PriceCents != b.PriceCents {
			return a.PriceCents < b.PriceCents
		}
		return a.StartTime.Before(b.StartTime)
	})
	return ranked
}

func valid(s providers.Slot) bool {
	return strings.TrimSpace(s.Provider) != "" &&
		strings.TrimSpace(s.ServiceName) != "" &&
		s.PriceCents >= 0
}

func normalizeSlot(id string, s providers.Slot, scored float64) types.Slot {
	currency := strings.ToUpper(strings.TrimSpace(s.Currency))
	if currency == "" {
		currency = providers.DefaultCurrency
	}

	return types.Slot{
		ID:              id,
		Provider:        s.Provider,
		LocationName:    s.ProviderLocationName,
		ServiceName:     s.ServiceName,
		StylistName:     optional(s.StylistName),
		StartTime:       s.StartTime,
		DurationMinutes: s.DurationMinutes,
		PriceCents:      s.PriceCents,
		Currency:        currency,
		Latitude:        s.Latitude,
		Longitude:       s.Longitude,
		BookURL:         optional(s.ProviderURL),
		Score:           scored,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
