// Package timesource provides a rollback-resistant notion of "now".
//
// The Oracle keeps the offset between the local clock and an external time
// source. Once an offset is known, every reading is local time plus that
// offset, so winding the local clock back does not move the answer back
// unless the offset is refreshed. Fetch failures never surface as errors;
// the previous offset (or zero) is used instead.
package timesource

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/MacJediWizard/trialguard/internal/clock"
	"github.com/MacJediWizard/trialguard/internal/metrics"
)

// DefaultRotation is how long one endpoint stays selected.
const DefaultRotation = time.Minute

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Oracle answers "what time is it" using the local clock corrected by an
// offset fetched from external endpoints.
type Oracle struct {
	endpoints []string
	rotation  time.Duration
	client    Doer
	clock     clock.Clock
	limiter   *rate.Limiter
	online    bool
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu        sync.Mutex
	offset    time.Duration
	hasOffset bool
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithClient sets the HTTP client used for fetches.
func WithClient(c Doer) Option {
	return func(o *Oracle) { o.client = c }
}

// WithClock sets the local clock.
func WithClock(c clock.Clock) Option {
	return func(o *Oracle) { o.clock = c }
}

// WithRotation sets how long each endpoint stays selected.
func WithRotation(d time.Duration) Option {
	return func(o *Oracle) {
		if d > 0 {
			o.rotation = d
		}
	}
}

// WithMinInterval limits fetches to at most one per interval. Zero means
// unlimited. A fetch refused by the limiter counts as a failed fetch.
func WithMinInterval(d time.Duration) Option {
	return func(o *Oracle) {
		if d <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		o.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithOnline enables or disables external verification.
func WithOnline(enabled bool) Option {
	return func(o *Oracle) { o.online = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger.With().Str("component", "timesource").Logger()
	}
}

// WithMetrics records fetch outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Oracle) { o.metrics = m }
}

// New creates an Oracle over endpoints. With no endpoints it behaves as
// if online verification were disabled.
func New(endpoints []string, opts ...Option) *Oracle {
	o := &Oracle{
		endpoints: append([]string(nil), endpoints...),
		rotation:  DefaultRotation,
		client:    &http.Client{Timeout: time.Second},
		clock:     clock.Real(),
		limiter:   rate.NewLimiter(rate.Inf, 1),
		online:    true,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Now returns local time plus the cached offset. When no offset is cached,
// or force is set, one endpoint is queried first; if that fails the
// previous offset (zero if never set) is applied.
func (o *Oracle) Now(ctx context.Context, force bool) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()

	local := o.clock.Now()
	if o.hasOffset && !force {
		return local.Add(o.offset)
	}
	if !o.online || len(o.endpoints) == 0 {
		return local.Add(o.offset)
	}

	if !o.limiter.AllowN(local, 1) {
		o.logger.Debug().Msg("time source fetch rate limited")
		o.metrics.RecordTimeSourceRequest(metrics.ResultRateLimited)
		return local.Add(o.offset)
	}

	endpoint := o.endpoints[SelectEndpoint(len(o.endpoints), local, o.rotation)]
	external, err := Fetch(ctx, o.client, endpoint)
	if err != nil {
		o.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("time source unavailable")
		o.metrics.RecordTimeSourceRequest(metrics.ResultFailure)
		return local.Add(o.offset)
	}

	o.offset = external.Sub(local)
	o.hasOffset = true
	o.metrics.RecordTimeSourceRequest(metrics.ResultSuccess)
	o.logger.Debug().
		Str("endpoint", endpoint).
		Dur("offset", o.offset).
		Msg("time source offset updated")

	return external
}

// Extrapolate returns local time plus the cached offset without any I/O.
func (o *Oracle) Extrapolate() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.clock.Now().Add(o.offset)
}

// Offset returns the cached offset and whether one has been fetched.
func (o *Oracle) Offset() (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset, o.hasOffset
}

// Reset forgets the cached offset.
func (o *Oracle) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.offset = 0
	o.hasOffset = false
}

// SelectEndpoint picks the endpoint index for local time: the index
// advances once per rotation period and wraps around n.
func SelectEndpoint(n int, local time.Time, rotation time.Duration) int {
	if n <= 0 {
		return 0
	}
	secs := int64(rotation / time.Second)
	if secs <= 0 {
		secs = 1
	}
	idx := (local.Unix() / secs) % int64(n)
	if idx < 0 {
		idx += int64(n)
	}
	return int(idx)
}
