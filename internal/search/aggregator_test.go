package search_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/providers"
	"github.com/alex-user-go/slotfinder/internal/providers/mock"
	"github.com/alex-user-go/slotfinder/internal/search"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

// mockProvider is a test provider that returns predefined results.
type mockProvider struct {
	name    string
	slots   []providers.Slot
	err     error
	delay   time.Duration
	panics  bool
	calls   atomic.Int32
	lastReq types.Request
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Fetch(ctx context.Context, req types.Request) ([]providers.Slot, error) {
	m.calls.Add(1)
	m.lastReq = req
	if m.panics {
		panic("connector exploded")
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
	return m.slots, m.err
}

func slot(provider, id string, priceCents int, start time.Time) providers.Slot {
	return providers.Slot{
		Provider:             provider,
		ProviderLocationID:   provider + "_loc",
		ProviderLocationName: "Shop " + id,
		ServiceName:          "Trim",
		StartTime:            start,
		DurationMinutes:      30,
		PriceCents:           priceCents,
		ProviderInternalID:   id,
	}
}

func newAggregator(ps []providers.Provider, timeout time.Duration) (*search.Aggregator, *obs.Metrics) {
	logger := zap.NewNop()
	metrics := obs.NewMetrics(logger)
	return search.NewAggregator(ps, timeout, metrics, logger, search.WithClock(clock)), metrics
}

func floatPtr(v float64) *float64 { return &v }

func TestAggregator_Search_MergingAndRanking(t *testing.T) {
	ps := []providers.Provider{
		&mockProvider{
			name: "square",
			slots: []providers.Slot{
				slot("square", "sq_1", 4000, now.Add(48*time.Hour)),
				slot("square", "sq_2", 2000, now.Add(48*time.Hour)),
			},
		},
		&mockProvider{
			name: "vagaro",
			slots: []providers.Slot{
				slot("vagaro", "vg_1", 3000, now.Add(48*time.Hour)),
				slot("vagaro", "vg_2", 3000, now.Add(2*time.Hour)),
			},
		},
	}

	agg, _ := newAggregator(ps, 2*time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ProvidersTotal != 2 || result.ProvidersSucceeded != 2 || result.ProvidersFailed != 0 {
		t.Errorf("unexpected stats: %+v", result)
	}

	wantIDs := []string{"vagaro:vg_2", "square:sq_2", "vagaro:vg_1", "square:sq_1"}
	if len(result.Slots) != len(wantIDs) {
		t.Fatalf("expected %d slots, got %d", len(wantIDs), len(result.Slots))
	}
	for i, want := range wantIDs {
		if result.Slots[i].ID != want {
			t.Errorf("slot %d = %s, want %s", i, result.Slots[i].ID, want)
		}
	}

	// vg_2 is within 24h: 0.7 + 0.2 early bonus.
	if result.Slots[0].Score != 0.9 {
		t.Errorf("expected top score 0.9, got %v", result.Slots[0].Score)
	}
}

func TestAggregator_Search_TieBreaks(t *testing.T) {
	later := now.Add(50 * time.Hour)
	earlier := now.Add(30 * time.Hour)
	ps := []providers.Provider{
		&mockProvider{
			name: "p",
			slots: []providers.Slot{
				slot("p", "late", 3000, later),
				slot("p", "early", 3000, earlier),
			},
		},
	}

	agg, _ := newAggregator(ps, time.Second)
	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Slots[0].ID != "p:early" || result.Slots[1].ID != "p:late" {
		t.Errorf("equal score and price must sort by start time, got %s then %s",
			result.Slots[0].ID, result.Slots[1].ID)
	}
}

func TestAggregator_Search_Filters(t *testing.T) {
	tests := []struct {
		name    string
		req     types.Request
		wantIDs []string
	}{
		{
			name:    "no filters",
			req:     types.NewRequest(),
			wantIDs: []string{"p:soon_cheap", "p:late_cheap", "p:soon_pricey", "p:late_pricey"},
		},
		{
			name:    "budget drops pricey",
			req:     types.Request{BudgetMax: floatPtr(30)},
			wantIDs: []string{"p:soon_cheap", "p:late_cheap"},
		},
		{
			name:    "budget is inclusive",
			req:     types.Request{BudgetMax: floatPtr(25)},
			wantIDs: []string{"p:soon_cheap", "p:late_cheap"},
		},
		{
			name:    "tomorrow drops slots before 9am next day",
			req:     types.Request{When: "tomorrow"},
			wantIDs: []string{"p:late_cheap", "p:late_pricey"},
		},
		{
			name:    "budget and time together",
			req:     types.Request{When: "tomorrow", BudgetMax: floatPtr(30)},
			wantIDs: []string{"p:late_cheap"},
		},
		{
			name:    "unparseable phrase applies no time filter",
			req:     types.Request{When: "qwxz zzyq"},
			wantIDs: []string{"p:soon_cheap", "p:late_cheap", "p:soon_pricey", "p:late_pricey"},
		},
		{
			name:    "budget below every price",
			req:     types.Request{BudgetMax: floatPtr(5)},
			wantIDs: []string{},
		},
	}

	ps := []providers.Provider{
		&mockProvider{
			name: "p",
			slots: []providers.Slot{
				slot("p", "soon_cheap", 2500, now.Add(3*time.Hour)),
				slot("p", "soon_pricey", 8000, now.Add(4*time.Hour)),
				slot("p", "late_cheap", 2500, now.Add(30*time.Hour)),
				slot("p", "late_pricey", 8000, now.Add(31*time.Hour)),
			},
		},
	}
	agg, _ := newAggregator(ps, time.Second)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := agg.Search(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Slots) != len(tt.wantIDs) {
				t.Fatalf("expected %d slots, got %d", len(tt.wantIDs), len(result.Slots))
			}
			for i, want := range tt.wantIDs {
				if result.Slots[i].ID != want {
					t.Errorf("slot %d = %s, want %s", i, result.Slots[i].ID, want)
				}
			}
		})
	}
}

func TestAggregator_Search_Limit(t *testing.T) {
	var slots []providers.Slot
	for i := 0; i < 150; i++ {
		slots = append(slots, slot("p", fmt.Sprintf("s%d", i), 1000+i, now.Add(time.Duration(i)*time.Hour)))
	}
	agg, _ := newAggregator([]providers.Provider{&mockProvider{name: "p", slots: slots}}, time.Second)

	tests := []struct {
		name  string
		limit int
		want  int
	}{
		{"default when zero", 0, types.DefaultLimit},
		{"explicit", 3, 3},
		{"one", 1, 1},
		{"negative yields nothing", -1, 0},
		{"clamped to max", 1000, types.MaxLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := agg.Search(context.Background(), types.Request{Limit: tt.limit})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Slots) != tt.want {
				t.Errorf("expected %d slots, got %d", tt.want, len(result.Slots))
			}
		})
	}
}

func TestAggregator_Search_Deduplication(t *testing.T) {
	ps := []providers.Provider{
		&mockProvider{
			name: "square",
			slots: []providers.Slot{
				slot("square", "sq_1", 4000, now.Add(48*time.Hour)),
				slot("square", "sq_1", 3500, now.Add(48*time.Hour)),
				slot("square", "sq_2", 2000, now.Add(48*time.Hour)),
			},
		},
	}

	agg, _ := newAggregator(ps, time.Second)
	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Slots) != 2 {
		t.Fatalf("expected 2 unique slots, got %d", len(result.Slots))
	}
	seen := map[string]bool{}
	for _, s := range result.Slots {
		if seen[s.ID] {
			t.Errorf("duplicate id %s", s.ID)
		}
		seen[s.ID] = true
		if s.ID == "square:sq_1" && s.PriceCents != 3500 {
			t.Errorf("expected cheaper duplicate kept, got %d", s.PriceCents)
		}
	}
}

func TestAggregator_Search_InvalidDataFiltered(t *testing.T) {
	valid := slot("p", "ok", 2000, now.Add(48*time.Hour))
	valid.Currency = "usd"
	noID := slot("p", "", 2000, now.Add(48*time.Hour))
	noService := slot("p", "svc", 2000, now.Add(48*time.Hour))
	noService.ServiceName = " "
	negative := slot("p", "neg", -100, now.Add(48*time.Hour))
	noProvider := slot("", "anon", 2000, now.Add(48*time.Hour))

	ps := []providers.Provider{
		&mockProvider{name: "p", slots: []providers.Slot{valid, noID, noService, negative, noProvider}},
	}
	agg, _ := newAggregator(ps, time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Slots) != 2 {
		t.Fatalf("expected 2 valid slots, got %d", len(result.Slots))
	}
	ids := map[string]bool{}
	for _, s := range result.Slots {
		ids[s.ID] = true
		if s.Currency != "USD" {
			t.Errorf("slot %s: expected currency USD (normalized), got %s", s.ID, s.Currency)
		}
	}
	if !ids["p:ok"] || !ids["p:#0"] {
		t.Errorf("expected ids p:ok and p:#0, got %v", ids)
	}
}

func TestAggregator_Search_MissingInternalID(t *testing.T) {
	start := now.Add(48 * time.Hour)
	ps := []providers.Provider{
		&mockProvider{name: "a", slots: []providers.Slot{
			slot("p", "", 2000, start),
			slot("p", " ", 2500, start),
		}},
		&mockProvider{name: "b", slots: []providers.Slot{
			slot("p", "", 3000, start),
		}},
	}
	agg, _ := newAggregator(ps, time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []struct {
		id    string
		price int
	}{
		{"p:#0", 2000},
		{"p:#1", 2500},
		{"p:#2", 3000},
	}
	if len(result.Slots) != len(want) {
		t.Fatalf("expected %d slots, got %d", len(want), len(result.Slots))
	}
	for i, w := range want {
		got := result.Slots[i]
		if got.ID != w.id || got.PriceCents != w.price {
			t.Errorf("slot %d = (%s, %d), want (%s, %d)", i, got.ID, got.PriceCents, w.id, w.price)
		}
	}
}

func TestAggregator_Search_Normalization(t *testing.T) {
	raw := slot("square", "sq_9", 4000, now.Add(2*time.Hour))
	raw.ProviderLocationName = "Fade Factory"
	raw.StylistName = "Alex"
	raw.ServiceName = "Fade + Beard"
	raw.ProviderURL = "https://example.com/square/booking"
	raw.Latitude = floatPtr(37.7749)
	raw.Longitude = floatPtr(-122.4194)

	bare := slot("square", "sq_10", 4000, now.Add(2*time.Hour))

	agg, _ := newAggregator([]providers.Provider{&mockProvider{name: "square", slots: []providers.Slot{raw, bare}}}, time.Second)

	req := types.Request{Service: "fade", Stylist: "alex", Lat: floatPtr(37.7749), Lng: floatPtr(-122.4194)}
	result, err := agg.Search(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := result.Slots[0]
	if got.ID != "square:sq_9" {
		t.Fatalf("expected square:sq_9 first, got %s", got.ID)
	}
	if got.LocationName != "Fade Factory" || got.ServiceName != "Fade + Beard" {
		t.Errorf("fields not carried over: %+v", got)
	}
	if got.StylistName == nil || *got.StylistName != "Alex" {
		t.Errorf("stylist not carried over: %v", got.StylistName)
	}
	if got.BookURL == nil || *got.BookURL != raw.ProviderURL {
		t.Errorf("book url not carried over: %v", got.BookURL)
	}
	if got.Currency != "USD" {
		t.Errorf("expected default currency USD, got %q", got.Currency)
	}
	if got.Score < 2.0999 || got.Score > 2.1001 {
		t.Errorf("expected score 2.1, got %v", got.Score)
	}

	other := result.Slots[1]
	if other.StylistName != nil || other.BookURL != nil || other.Latitude != nil {
		t.Errorf("absent optional fields must stay nil: %+v", other)
	}
}

func TestAggregator_Search_RequestPassedToEveryProvider(t *testing.T) {
	p1 := &mockProvider{name: "a"}
	p2 := &mockProvider{name: "b"}
	agg, _ := newAggregator([]providers.Provider{p1, p2}, time.Second)

	req := types.Request{Service: "fade", Stylist: "alex", Limit: 5}
	if _, err := agg.Search(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, p := range []*mockProvider{p1, p2} {
		if p.calls.Load() != 1 {
			t.Errorf("provider %s called %d times, want 1", p.name, p.calls.Load())
		}
		if p.lastReq.Service != "fade" || p.lastReq.Stylist != "alex" {
			t.Errorf("provider %s got request %+v", p.name, p.lastReq)
		}
	}
}

func TestAggregator_Search_Timeout(t *testing.T) {
	ps := []providers.Provider{
		&mockProvider{
			name:  "fast-provider",
			delay: 50 * time.Millisecond,
			slots: []providers.Slot{slot("fast", "f1", 2000, now.Add(48*time.Hour))},
		},
		&mockProvider{
			name:  "slow-provider",
			delay: 2 * time.Second,
			slots: []providers.Slot{slot("slow", "s1", 2000, now.Add(48*time.Hour))},
		},
	}

	agg, metrics := newAggregator(ps, 500*time.Millisecond)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ProvidersSucceeded != 1 || result.ProvidersFailed != 1 {
		t.Errorf("expected 1 succeeded and 1 failed provider, got %+v", result)
	}
	if len(result.Slots) != 1 || result.Slots[0].ID != "fast:f1" {
		t.Fatalf("expected only fast:f1, got %+v", result.Slots)
	}
	if got := metrics.Snapshot().ProviderErrors; got != 1 {
		t.Errorf("expected 1 provider error recorded, got %d", got)
	}
}

func TestAggregator_Search_PartialFailure(t *testing.T) {
	ps := []providers.Provider{
		&mockProvider{
			name:  "success-provider",
			slots: []providers.Slot{slot("ok", "1", 2000, now.Add(48*time.Hour))},
		},
		&mockProvider{name: "failed-provider", err: providers.ErrProviderUnavailable},
		&mockProvider{name: "panicking-provider", panics: true},
	}

	agg, _ := newAggregator(ps, 2*time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.ProvidersSucceeded != 1 || result.ProvidersFailed != 2 {
		t.Errorf("expected 1 succeeded and 2 failed, got %+v", result)
	}
	if len(result.Slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(result.Slots))
	}
}

func TestAggregator_Search_AllProvidersFail(t *testing.T) {
	providerErr := errors.New("all providers down")
	ps := []providers.Provider{
		&mockProvider{name: "provider1", err: providerErr},
		&mockProvider{name: "provider2", err: providerErr},
	}

	agg, _ := newAggregator(ps, 2*time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if !errors.Is(err, search.ErrAllProvidersFailed) {
		t.Fatalf("expected ErrAllProvidersFailed, got %v", err)
	}
	if !errors.Is(err, providerErr) {
		t.Errorf("expected wrapped provider error, got %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result when all providers fail, got %v", result)
	}
}

func TestAggregator_Search_ErrorNamesProviderOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ps := []providers.Provider{providers.NewHTTPProvider("square", srv.URL, time.Second)}
	agg, _ := newAggregator(ps, 2*time.Second)

	_, err := agg.Search(context.Background(), types.NewRequest())
	if !errors.Is(err, providers.ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "square: provider unavailable") {
		t.Errorf("error %q should name the provider", err)
	}
	if n := strings.Count(err.Error(), "square:"); n != 1 {
		t.Errorf("provider named %d times in %q, want 1", n, err)
	}
}

func TestAggregator_Search_NoProviders(t *testing.T) {
	agg, _ := newAggregator(nil, time.Second)

	result, err := agg.Search(context.Background(), types.NewRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Slots) != 0 || result.ProvidersTotal != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestAggregator_Search_ContextCancellation(t *testing.T) {
	ps := []providers.Provider{
		&mockProvider{
			name:  "slow-provider",
			delay: 2 * time.Second,
			slots: []providers.Slot{slot("slow", "1", 2000, now.Add(48*time.Hour))},
		},
	}

	agg, _ := newAggregator(ps, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := agg.Search(ctx, types.NewRequest())
	if err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
	if result != nil {
		t.Errorf("expected nil result from cancelled context, got %v", result)
	}
}

// TestAggregator_Search_Properties checks the ordering, budget and limit
// guarantees over randomly generated mock data.
func TestAggregator_Search_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 20; i++ {
		seed := rng.Int63()
		ps := []providers.Provider{
			mock.NewSquare(mock.WithSeed(seed), mock.WithLatency(0), mock.WithClock(clock)),
			mock.NewVagaro(mock.WithSeed(seed+1), mock.WithLatency(0), mock.WithClock(clock)),
		}
		agg, _ := newAggregator(ps, time.Second)

		budget := float64(20 + rng.Intn(40))
		req := types.Request{
			BudgetMax: &budget,
			Service:   []string{"", "fade", "Women's Cut", "trim"}[rng.Intn(4)],
			Stylist:   []string{"", "alex", "morgan"}[rng.Intn(3)],
			Lat:       floatPtr(37.7749),
			Lng:       floatPtr(-122.4194),
			Limit:     1 + rng.Intn(25),
		}

		result, err := agg.Search(context.Background(), req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if len(result.Slots) > req.Limit {
			t.Errorf("got %d slots, limit %d", len(result.Slots), req.Limit)
		}
		for j, s := range result.Slots {
			if float64(s.PriceCents)/100 > budget {
				t.Errorf("slot %s price %d exceeds budget %v", s.ID, s.PriceCents, budget)
			}
			if j == 0 {
				continue
			}
			prev := result.Slots[j-1]
			switch {
			case prev.Score < s.Score:
				t.Errorf("scores not descending at %d: %v < %v", j, prev.Score, s.Score)
			case prev.Score == s.Score && prev.PriceCents > s.PriceCents:
				t.Errorf("prices not ascending among equal scores at %d", j)
			case prev.Score == s.Score && prev.PriceCents == s.PriceCents && prev.StartTime.After(s.StartTime):
				t.Errorf("start times not ascending among equal score and price at %d", j)
			}
		}
	}
}
