// Package publisher implements the rate-limited location writer. Publish
// never surfaces an error: failing a location write must not interrupt the
// sampling loop that feeds it.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/flotilla-app/flotilla/internal/metrics"
	"github.com/flotilla-app/flotilla/internal/models"
	"github.com/flotilla-app/flotilla/internal/storage"
)

// DefaultMinInterval is the minimum gap between accepted writes.
const DefaultMinInterval = 30 * time.Second

// LocationWriter is the slice of the location store the publisher needs.
type LocationWriter interface {
	UpsertLocation(ctx context.Context, userID string, pos models.Position, groupID string) (*models.LocationRecord, error)
}

// Publisher pushes positions to a LocationWriter at most once per minimum
// interval. The throttle is owned by the instance: one publisher per device
// process gives the process-wide cooldown, and a server can hold one per
// user so devices do not share a gate.
type Publisher struct {
	writer      LocationWriter
	log         *slog.Logger
	minInterval time.Duration
	now         func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*models.LocationRecord]
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithClock injects the time source used by the throttle.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) { p.now = now }
}

// WithMinInterval overrides the minimum gap between accepted writes.
func WithMinInterval(d time.Duration) Option {
	return func(p *Publisher) { p.minInterval = d }
}

// New creates a Publisher.
func New(writer LocationWriter, log *slog.Logger, opts ...Option) *Publisher {
	p := &Publisher{
		writer:      writer,
		log:         log,
		minInterval: DefaultMinInterval,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.limiter = rate.NewLimiter(rate.Every(p.minInterval), 1)
	p.breaker = gobreaker.NewCircuitBreaker[*models.LocationRecord](gobreaker.Settings{
		Name:    "location-upsert",
		Timeout: p.minInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	return p
}

// Publish writes the position tagged with groupID. A call arriving before
// the minimum interval has elapsed is a silent no-op. Write failures are
// swallowed and logged; a failed write does not consume the interval, so the
// next sample may retry immediately.
func (p *Publisher) Publish(ctx context.Context, userID string, pos models.Position, groupID string) {
	now := p.now()

	p.mu.Lock()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() || r.DelayFrom(now) > 0 {
		if r.OK() {
			r.CancelAt(now)
		}
		p.mu.Unlock()
		metrics.LocationsThrottled.Inc()
		p.log.Debug("Location publish throttled", "user_id", userID)
		return
	}
	p.mu.Unlock()

	_, err := p.breaker.Execute(func() (*models.LocationRecord, error) {
		return p.writer.UpsertLocation(ctx, userID, pos, groupID)
	})
	if err != nil {
		p.mu.Lock()
		r.CancelAt(p.now())
		p.mu.Unlock()

		kind := classify(err)
		metrics.PublishFailures.WithLabelValues(kind).Inc()
		p.log.Error("Location publish failed",
			"user_id", userID,
			"group_id", groupID,
			"kind", kind,
			"error", err,
		)
		return
	}

	metrics.LocationsPublished.Inc()
	p.log.Debug("Location published",
		"user_id", userID,
		"latitude", pos.Latitude,
		"longitude", pos.Longitude,
		"group_id", groupID,
	)
}

// ResetThrottle clears the cooldown so the next Publish is accepted.
func (p *Publisher) ResetThrottle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter = rate.NewLimiter(rate.Every(p.minInterval), 1)
}

// classify buckets a write failure for logging and metrics only; the
// no-throw contract does not change with the kind.
func classify(err error) string {
	switch {
	case errors.Is(err, storage.ErrPermissionDenied):
		return "permission"
	case errors.Is(err, storage.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		return "unavailable"
	default:
		return "other"
	}
}
