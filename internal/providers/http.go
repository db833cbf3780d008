package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// HTTPProvider fetches availability from a remote connector over HTTP.
type HTTPProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTPProvider.
func NewHTTPProvider(name, baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Fetch requests slots with a GET to {baseURL}/slots.
func (p *HTTPProvider) Fetch(ctx context.Context, req types.Request) ([]Slot, error) {
	u, err := url.Parse(p.baseURL + "/slots")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.RawQuery = EncodeQuery(req).Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, ErrProviderUnavailable
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var slots []Slot
	if err := json.NewDecoder(resp.Body).Decode(&slots); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return slots, nil
}

// EncodeQuery renders the request fields a remote connector understands.
func EncodeQuery(req types.Request) url.Values {
	q := url.Values{}
	if req.When != "" {
		q.Set("when", req.When)
	}
	if req.Service != "" {
		q.Set("service", req.Service)
	}
	if req.Stylist != "" {
		q.Set("stylist", req.Stylist)
	}
	if req.Lat != nil {
		q.Set("lat", strconv.FormatFloat(*req.Lat, 'f', -1, 64))
	}
	if req.Lng != nil {
		q.Set("lng", strconv.FormatFloat(*req.Lng, 'f', -1, 64))
	}
	return q
}

// DecodeQuery is the inverse of EncodeQuery. Malformed coordinates are ignored.
func DecodeQuery(q url.Values) types.Request {
	req := types.NewRequest()
	req.When = q.Get("when")
	req.Service = q.Get("service")
	req.Stylist = q.Get("stylist")
	if v, err := strconv.ParseFloat(q.Get("lat"), 64); err == nil {
		req.Lat = &v
	}
	if v, err := strconv.ParseFloat(q.Get("lng"), 64); err == nil {
		req.Lng = &v
	}
	return req
}
