// Package license implements the trial guard: a tamper-resistant,
// fixed-length trial that survives reinstallation and local clock changes.
//
// A Guard owns one trial record per application. The record is created on
// first use, stored encrypted in redundant backends, and moves to the
// terminal corrupted state as soon as it is seen on a different machine,
// under a different application name, or past its expiration. Answers are
// cached for a configurable window so hot paths avoid storage and network
// I/O.
package license

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/trialguard/internal/clock"
	"github.com/MacJediWizard/trialguard/internal/config"
	"github.com/MacJediWizard/trialguard/internal/crypto"
	"github.com/MacJediWizard/trialguard/internal/fingerprint"
	"github.com/MacJediWizard/trialguard/internal/httpclient"
	"github.com/MacJediWizard/trialguard/internal/metrics"
	"github.com/MacJediWizard/trialguard/internal/models"
	"github.com/MacJediWizard/trialguard/internal/storage"
	"github.com/MacJediWizard/trialguard/internal/timesource"
)

// Corruption reasons, also used as metric labels.
const (
	ReasonMachineMismatch = "machine_mismatch"
	ReasonAppMismatch     = "app_mismatch"
	ReasonExpired         = "expired"
	ReasonManual          = "manual"
)

// ErrNilConfig is returned by New when no configuration is given.
var ErrNilConfig = errors.New("nil trial configuration")

// Fingerprinter computes the current machine identifier.
type Fingerprinter interface {
	Compute(ctx context.Context) string
}

// TimeOracle supplies rollback-resistant time.
type TimeOracle interface {
	// Now returns the current time, refreshing the external offset when
	// force is set or none is cached.
	Now(ctx context.Context, force bool) time.Time
	// Extrapolate returns the current time from the cached offset without I/O.
	Extrapolate() time.Time
	// Reset forgets the cached offset.
	Reset()
}

// Guard enforces a trial for one application.
type Guard struct {
	cfg           config.TrialConfig
	clock         clock.Clock
	fingerprinter Fingerprinter
	oracle        TimeOracle
	store         *storage.Store
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	mu        sync.Mutex
	cached    *models.LicenseRecord
	fetchedAt time.Time
}

type options struct {
	logger        zerolog.Logger
	clock         clock.Clock
	fingerprinter Fingerprinter
	oracle        TimeOracle
	backends      []storage.Backend
	metrics       *metrics.Metrics
	rand          func() float64
	cipher        crypto.CipherMode
}

// Option configures a Guard.
type Option func(*options)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithClock sets the local clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithFingerprinter replaces the hardware fingerprinter.
func WithFingerprinter(f Fingerprinter) Option {
	return func(o *options) { o.fingerprinter = f }
}

// WithOracle replaces the external time oracle.
func WithOracle(oracle TimeOracle) Option {
	return func(o *options) { o.oracle = oracle }
}

// WithBackends replaces the storage backends. The first is primary.
func WithBackends(backends ...storage.Backend) Option {
	return func(o *options) { o.backends = backends }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRand replaces the random source deciding secondary writes.
func WithRand(fn func() float64) Option {
	return func(o *options) { o.rand = fn }
}

// WithCipher selects the cipher for new records.
func WithCipher(mode crypto.CipherMode) Option {
	return func(o *options) { o.cipher = mode }
}

// New validates cfg, builds the collaborators not supplied through opts and
// runs an initial forced check, creating the trial on first use.
//
// The record key is derived from the fingerprint computed here. A record
// copied from another machine therefore fails to decrypt and is treated as
// absent, while a fingerprint that changes during the life of the Guard is
// caught by validation and corrupts the trial.
func New(ctx context.Context, cfg *config.TrialConfig, opts ...Option) (*Guard, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	c := *cfg
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	o := options{
		logger: zerolog.Nop(),
		clock:  clock.Real(),
		rand:   rand.Float64,
		cipher: crypto.CipherAEAD,
	}
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger.With().Str("component", "trial_guard").Str("app", c.AppName).Logger()

	if o.fingerprinter == nil {
		o.fingerprinter = fingerprint.New(o.logger)
	}

	if o.oracle == nil {
		client, err := httpclient.NewWithConfig(&c)
		if err != nil {
			return nil, fmt.Errorf("create time source client: %w", err)
		}
		o.oracle = timesource.New(c.TimeSources,
			timesource.WithClient(client),
			timesource.WithClock(o.clock),
			timesource.WithRotation(c.SourceRotation),
			timesource.WithMinInterval(c.MinFetchInterval),
			timesource.WithOnline(c.OnlineVerification),
			timesource.WithLogger(o.logger),
			timesource.WithMetrics(o.metrics),
		)
	}

	if len(o.backends) == 0 {
		o.backends = []storage.Backend{
			storage.NewFileBackend(c.LicenseFile),
			storage.NewRegistryBackend(c.RegistryKey, c.RegistryValue),
		}
	}

	machineID := o.fingerprinter.Compute(ctx)
	vault, err := crypto.NewVault(crypto.DeriveKey(machineID, []byte(c.Salt)), o.cipher, o.logger)
	if err != nil {
		return nil, fmt.Errorf("create vault: %w", err)
	}

	g := &Guard{
		cfg:           c,
		clock:         o.clock,
		fingerprinter: o.fingerprinter,
		oracle:        o.oracle,
		store: storage.NewStore(vault, o.backends,
			storage.WithSecondaryProbability(c.SecondaryWriteProbability),
			storage.WithRand(o.rand),
			storage.WithStoreLogger(o.logger),
			storage.WithStoreMetrics(o.metrics),
		),
		metrics: o.metrics,
		logger:  logger,
	}

	g.mu.Lock()
	g.resolve(ctx, true)
	g.mu.Unlock()

	return g, nil
}

// IsTrialValid reports whether the trial is uncorrupted and not expired.
func (g *Guard) IsTrialValid(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, now := g.resolve(ctx, false)
	valid := isValid(record, now)
	g.metrics.RecordCheck(valid)
	return valid
}

// RemainingDays returns the fractional number of days left, never negative.
// A corrupted trial has zero days left.
func (g *Guard) RemainingDays(ctx context.Context) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, now := g.resolve(ctx, false)
	days := record.RemainingSeconds(now) / models.SecondsPerDay
	g.metrics.SetRemainingDays(days)
	return days
}

// ExpirationDate returns when the trial ends. It reports false for a
// corrupted trial.
func (g *Guard) ExpirationDate(ctx context.Context) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, _ := g.resolve(ctx, false)
	if record.TrialCorrupted {
		return time.Time{}, false
	}
	return record.ExpiresAt(), true
}

// State returns the lifecycle state of the trial.
func (g *Guard) State(ctx context.Context) models.TrialState {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, _ := g.resolve(ctx, false)
	return record.State()
}

// CorruptTrial permanently invalidates the trial. When no record exists a
// corrupted one is created.
func (g *Guard) CorruptTrial(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, ok := g.store.Load(ctx)
	if !ok {
		record = g.cached
	}
	if record == nil {
		record = g.newRecord(ctx, g.oracle.Now(ctx, false))
	}
	g.corrupt(ctx, record, ReasonManual)
	g.remember(record)
}

// ResetTrial erases every stored copy, forgets cached state and starts a
// new trial. It is an administrative operation.
func (g *Guard) ResetTrial(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.store.Erase(ctx); err != nil {
		return fmt.Errorf("erase trial: %w", err)
	}
	g.cached = nil
	g.fetchedAt = time.Time{}
	g.oracle.Reset()

	g.resolve(ctx, true)
	g.logger.Info().Msg("trial reset")
	return nil
}

// resolve returns the current record and time. Inside the cache window it
// answers from memory; otherwise it reloads, re-validates and persists any
// transition. A new trial is only created when nothing has been resolved
// yet. Callers must hold g.mu.
func (g *Guard) resolve(ctx context.Context, force bool) (*models.LicenseRecord, time.Time) {
	if !force && g.cacheFresh() {
		return g.cached, g.oracle.Extrapolate()
	}

	start := g.clock.Now()
	now := g.oracle.Now(ctx, true)

	record, ok := g.store.Load(ctx)
	switch {
	case !ok && g.cached != nil:
		record = g.restore(ctx, g.cached, now)
	case !ok:
		record = g.initialize(ctx, now)
	case record.TrialCorrupted:
		// terminal; nothing to re-validate or re-save
	default:
		if reason := g.violation(ctx, record, now); reason != "" {
			g.corrupt(ctx, record, reason)
		}
	}

	g.remember(record)
	g.metrics.RecordReconciliation(g.clock.Now().Sub(start).Seconds())
	return record, now
}

func (g *Guard) cacheFresh() bool {
	if g.cached == nil || g.cfg.CacheDuration <= 0 {
		return false
	}
	return g.clock.Now().Sub(g.fetchedAt) < g.cfg.CacheDuration
}

func (g *Guard) remember(record *models.LicenseRecord) {
	g.cached = record
	g.fetchedAt = g.clock.Now()
}

func (g *Guard) initialize(ctx context.Context, now time.Time) *models.LicenseRecord {
	record := g.newRecord(ctx, now)
	g.save(ctx, record)
	g.logger.Info().
		Time("installed_at", record.InstalledAt()).
		Time("expires_at", record.ExpiresAt()).
		Msg("trial initialized")
	return record
}

// restore re-persists a record this Guard already resolved when storage no
// longer returns it. A corrupted record stays corrupted.
func (g *Guard) restore(ctx context.Context, record *models.LicenseRecord, now time.Time) *models.LicenseRecord {
	g.logger.Warn().Str("state", string(record.State())).Msg("trial record missing from storage, restoring from memory")
	if !record.TrialCorrupted {
		if reason := g.violation(ctx, record, now); reason != "" {
			g.corrupt(ctx, record, reason)
			return record
		}
	}
	g.save(ctx, record)
	return record
}

func (g *Guard) newRecord(ctx context.Context, now time.Time) *models.LicenseRecord {
	return models.NewLicenseRecord(g.cfg.AppName, g.fingerprinter.Compute(ctx), now, g.cfg.TrialDays)
}

// violation returns why record may no longer be used, or "".
func (g *Guard) violation(ctx context.Context, record *models.LicenseRecord, now time.Time) string {
	switch {
	case record.MachineID != g.fingerprinter.Compute(ctx):
		return ReasonMachineMismatch
	case record.AppName != g.cfg.AppName:
		return ReasonAppMismatch
	case record.ExpiredAt(now):
		return ReasonExpired
	default:
		return ""
	}
}

func (g *Guard) corrupt(ctx context.Context, record *models.LicenseRecord, reason string) {
	record.Corrupt()
	g.save(ctx, record)
	g.metrics.RecordCorruption(reason)
	g.logger.Warn().Str("reason", reason).Msg("trial corrupted")
}

func (g *Guard) save(ctx context.Context, record *models.LicenseRecord) {
	if err := g.store.Save(ctx, record); err != nil {
		g.logger.Warn().Err(err).Msg("trial state could not be persisted")
	}
}

func isValid(record *models.LicenseRecord, now time.Time) bool {
	return record != nil && !record.TrialCorrupted && !record.ExpiredAt(now)
}
