package booking

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrInvalidRequest is returned when a booking request is missing fields.
var ErrInvalidRequest = errors.New("invalid booking request")

// StatusConfirmed is the only status the mock flow produces.
const StatusConfirmed = "confirmed"

// Request asks a provider to hold a slot for a customer.
type Request struct {
	Provider           string `json:"provider"`
	ProviderInternalID string `json:"provider_internal_id"`
	CustomerName       string `json:"customer_name"`
	CustomerPhone      string `json:"customer_phone"`
}

// Validate reports every missing field at once.
func (r Request) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Provider) == "" {
		missing = append(missing, "provider")
	}
	if strings.TrimSpace(r.ProviderInternalID) == "" {
		missing = append(missing, "provider_internal_id")
	}
	if strings.TrimSpace(r.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(r.CustomerPhone) == "" {
		missing = append(missing, "customer_phone")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// Confirmation is returned for an accepted booking.
type Confirmation struct {
	Status             string `json:"status"`
	Provider           string `json:"provider"`
	ProviderInternalID string `json:"provider_internal_id"`
	ConfirmationCode   string `json:"confirmation_code"`
	BookingID          string `json:"booking_id"`
}

// Service confirms bookings without contacting the provider. Nothing is
// persisted.
type Service struct {
	mu     sync.Mutex
	rng    *rand.Rand
	logger *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithSeed makes confirmation codes reproducible.
func WithSeed(seed int64) Option {
	return func(s *Service) { s.rng = rand.New(rand.NewSource(seed)) }
}

// NewService creates a booking Service.
func NewService(logger *zap.Logger, opts ...Option) *Service {
	s := &Service{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Confirm validates req and issues a confirmation code CONF-NNNNN with a
// five digit number.
func (s *Service) Confirm(req Request) (*Confirmation, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	n := 10000 + s.rng.Intn(90000)
	s.mu.Unlock()

	c := &Confirmation{
		Status:             StatusConfirmed,
		Provider:           req.Provider,
		ProviderInternalID: req.ProviderInternalID,
		ConfirmationCode:   fmt.Sprintf("CONF-%d", n),
		BookingID:          uuid.NewString(),
	}

	s.logger.Info("booking confirmed",
		zap.String("provider", c.Provider),
		zap.String("provider_internal_id", c.ProviderInternalID),
		zap.String("booking_id", c.BookingID),
	)

	return c, nil
}
