package handler

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alex-user-go/slotfinder/internal/booking"
	"github.com/alex-user-go/slotfinder/internal/middleware"
	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/search"
	"github.com/alex-user-go/slotfinder/internal/search/cache"
	"github.com/alex-user-go/slotfinder/internal/search/query"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("pages").
	Funcs(template.FuncMap{"formatPrice": FormatPrice}).
	ParseFS(templateFS, "templates/*.html"))

// Handler handles HTTP requests.
type Handler struct {
	aggregator *search.Aggregator
	cache      *cache.Cache
	bookings   *booking.Service
	metrics    *obs.Metrics
	logger     *zap.Logger
}

// New creates a new Handler.
func New(
	aggregator *search.Aggregator,
	searchCache *cache.Cache,
	bookings *booking.Service,
	metrics *obs.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		aggregator: aggregator,
		cache:      searchCache,
		bookings:   bookings,
		metrics:    metrics,
		logger:     logger,
	}
}

// Register mounts the search, interpret, booking and page routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/", h.IndexHandler)
	r.GET("/api/search/haircuts", h.SearchHandler)
	r.GET("/api/interpret", h.InterpretHandler)
	r.POST("/api/book", h.BookHandler)
}

// SearchResponse represents the complete API response.
type SearchResponse struct {
	Search  types.Request `json:"search"`
	Stats   SearchStats   `json:"stats"`
	Results []types.Slot  `json:"results"`
}

// SearchStats contains search statistics.
type SearchStats struct {
	ProvidersTotal     int    `json:"providers_total"`
	ProvidersSucceeded int    `json:"providers_succeeded"`
	ProvidersFailed    int    `json:"providers_failed"`
	Cache              string `json:"cache"`
	DurationMs         int64  `json:"duration_ms"`
}

// SearchHandler handles /api/search/haircuts requests.
func (h *Handler) SearchHandler(c *gin.Context) {
	startTime := time.Now()
	h.metrics.IncRequests()
	requestID := middleware.RequestID(c.Request.Context())

	req, err := ParseSearchParams(c.Request.URL.Query())
	if err != nil {
		h.logger.Debug("invalid request parameters", zap.String("request_id", requestID), zap.Error(err))
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	if noCache(c.Request) {
		h.invalidate(c.Request.Context(), req, requestID)
	}

	result, cacheHit, err := h.search(c.Request.Context(), req)
	if err != nil {
		h.logger.Error("search failed",
			zap.String("request_id", requestID),
			zap.Error(err),
			zap.String("query", req.Query),
			zap.String("when", req.When),
		)
		writeError(c, searchErrorStatus(err), "search failed")
		return
	}

	cacheStatus := "miss"
	if cacheHit {
		cacheStatus = "hit"
		h.metrics.IncCacheHits()
	}

	results := result.Slots
	if results == nil {
		results = []types.Slot{}
	}

	c.JSON(http.StatusOK, SearchResponse{
		Search: req,
		Stats: SearchStats{
			ProvidersTotal:     result.ProvidersTotal,
			ProvidersSucceeded: result.ProvidersSucceeded,
			ProvidersFailed:    result.ProvidersFailed,
			Cache:              cacheStatus,
			DurationMs:         time.Since(startTime).Milliseconds(),
		},
		Results: results,
	})
}

// InterpretHandler shows how a conversational query is understood.
func (h *Handler) InterpretHandler(c *gin.Context) {
	c.JSON(http.StatusOK, query.Interpret(c.Query("q")))
}

// BookHandler confirms a booking for a previously returned slot.
func (h *Handler) BookHandler(c *gin.Context) {
	var req booking.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	confirmation, err := h.bookings.Confirm(req)
	if errors.Is(err, booking.ErrInvalidRequest) {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("booking failed",
			zap.String("request_id", middleware.RequestID(c.Request.Context())),
			zap.Error(err),
		)
		writeError(c, http.StatusInternalServerError, "booking failed")
		return
	}

	h.metrics.IncBookings()
	c.JSON(http.StatusOK, confirmation)
}

type pageData struct {
	Query   string
	Results []types.Slot
	Error   string
}

// IndexHandler renders the search page, or results when q is given.
func (h *Handler) IndexHandler(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		h.render(c, http.StatusOK, "index.html", pageData{})
		return
	}

	h.metrics.IncRequests()
	data := pageData{Query: q}
	status := http.StatusOK

	result, cacheHit, err := h.search(c.Request.Context(), query.Interpret(q))
	switch {
	case err != nil:
		h.logger.Error("search failed",
			zap.String("request_id", middleware.RequestID(c.Request.Context())),
			zap.Error(err),
			zap.String("query", q),
		)
		status = searchErrorStatus(err)
		data.Error = "Search is unavailable right now. Please try again."
	default:
		if cacheHit {
			h.metrics.IncCacheHits()
		}
		data.Results = result.Slots
	}

	h.render(c, status, "results.html", data)
}

func (h *Handler) render(c *gin.Context, status int, name string, data pageData) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := pages.ExecuteTemplate(c.Writer, name, data); err != nil {
		// Can't change status after the header is written, just log
		h.logger.Error("failed to render page", zap.String("template", name), zap.Error(err))
	}
}

func (h *Handler) search(ctx context.Context, req types.Request) (*types.Result, bool, error) {
	key := h.cache.Key(req)
	return h.cache.GetOrFetch(ctx, key, func(ctx context.Context) (*types.Result, error) {
		return h.aggregator.Search(ctx, req)
	})
}

// invalidate drops the cached result for req so the next lookup refetches.
// A failing store only costs the refresh.
func (h *Handler) invalidate(ctx context.Context, req types.Request, requestID string) {
	if err := h.cache.Invalidate(ctx, h.cache.Key(req)); err != nil {
		h.logger.Warn("cache invalidate failed", zap.String("request_id", requestID), zap.Error(err))
	}
}

// noCache reports whether the client asked to bypass cached results.
func noCache(r *http.Request) bool {
	for _, v := range r.Header.Values("Cache-Control") {
		for _, directive := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(directive), "no-cache") {
				return true
			}
		}
	}
	return false
}

func searchErrorStatus(err error) int {
	if errors.Is(err, search.ErrAllProvidersFailed) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// FormatPrice renders cents as dollars, e.g. 1234 -> $12.34.
func FormatPrice(cents int) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100)
}

// ParseSearchParams builds a search request from query parameters.
// A non-empty q is interpreted conversationally and the structured
// parameters are ignored.
func ParseSearchParams(values url.Values) (types.Request, error) {
	if q := strings.TrimSpace(values.Get("q")); q != "" {
		return query.Interpret(q), nil
	}

	req := types.NewRequest()
	req.When = strings.TrimSpace(values.Get("when"))
	req.Service = strings.TrimSpace(values.Get("service"))
	req.Stylist = strings.TrimSpace(values.Get("stylist"))

	var err error
	if req.BudgetMax, err = parseFloat(values, "budget_max", 0, math.MaxFloat64); err != nil {
		return types.Request{}, err
	}
	if req.DistanceMilesMax, err = parseFloat(values, "distance_miles_max", 0, math.MaxFloat64); err != nil {
		return types.Request{}, err
	}
	if req.Lat, err = parseFloat(values, "lat", -90, 90); err != nil {
		return types.Request{}, err
	}
	if req.Lng, err = parseFloat(values, "lng", -180, 180); err != nil {
		return types.Request{}, err
	}

	if limitStr := strings.TrimSpace(values.Get("limit")); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return types.Request{}, fmt.Errorf("limit must be an integer")
		}
		if limit < 0 {
			return types.Request{}, fmt.Errorf("limit must not be negative")
		}
		req.Limit = limit
	}

	return req, nil
}

func parseFloat(values url.Values, name string, lo, hi float64) (*float64, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	if v < lo || v > hi {
		if hi == math.MaxFloat64 {
			return nil, fmt.Errorf("%s must not be negative", name)
		}
		return nil, fmt.Errorf("%s must be between %g and %g", name, lo, hi)
	}
	return &v, nil
}

// writeError writes a JSON error response.
func writeError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}
