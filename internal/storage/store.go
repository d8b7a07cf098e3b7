package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/rs/zerolog"

	"github.com/MacJediWizard/trialguard/internal/metrics"
	"github.com/MacJediWizard/trialguard/internal/models"
)

// DefaultSecondaryProbability is the chance a secondary backend is also
// written after a successful primary write.
const DefaultSecondaryProbability = 0.05

// ErrNothingPersisted is returned by Save when no backend accepted the blob.
var ErrNothingPersisted = errors.New("license record not persisted to any backend")

// Sealer encrypts and decrypts records. *crypto.Vault satisfies it.
type Sealer interface {
	Encrypt(record *models.LicenseRecord) ([]byte, error)
	Decrypt(blob []byte) (*models.LicenseRecord, bool)
}

// Store writes sealed records to redundant backends and reconciles them on
// load.
type Store struct {
	sealer    Sealer
	backends  []Backend
	secondary float64
	rand      func() float64
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSecondaryProbability sets the chance of writing secondary backends
// after a successful primary write.
func WithSecondaryProbability(p float64) StoreOption {
	return func(s *Store) { s.secondary = p }
}

// WithRand replaces the random source used for secondary writes. fn must
// return values in [0, 1).
func WithRand(fn func() float64) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.rand = fn
		}
	}
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger.With().Str("component", "state_store").Logger()
	}
}

// WithStoreMetrics records write outcomes.
func WithStoreMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates a store over backends. The first backend is primary.
func NewStore(sealer Sealer, backends []Backend, opts ...StoreOption) *Store {
	s := &Store{
		sealer:    sealer,
		backends:  backends,
		secondary: DefaultSecondaryProbability,
		rand:      rand.Float64,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backends returns the configured backends in order.
func (s *Store) Backends() []Backend {
	return s.backends
}

// Save encrypts record once and writes it. The primary backend is always
// attempted; each secondary is written if the primary failed, otherwise
// with the configured probability. An error is returned only when nothing
// was written.
func (s *Store) Save(ctx context.Context, record *models.LicenseRecord) error {
	blob, err := s.sealer.Encrypt(record)
	if err != nil {
		return fmt.Errorf("encrypt license record: %w", err)
	}

	var (
		errs           []error
		written        int
		primaryWritten bool
	)
	for i, b := range s.backends {
		if i > 0 && primaryWritten && s.rand() >= s.secondary {
			continue
		}

		if err := s.write(ctx, b, blob); err != nil {
			errs = append(errs, err)
			continue
		}
		written++
		if i == 0 {
			primaryWritten = true
		}
	}

	if written == 0 {
		errs = append([]error{ErrNothingPersisted}, errs...)
		return errors.Join(errs...)
	}
	return nil
}

func (s *Store) write(ctx context.Context, b Backend, blob []byte) error {
	if !b.Available() {
		s.metrics.RecordStoreWrite(b.Name(), metrics.ResultSkipped)
		return fmt.Errorf("%s backend unavailable", b.Name())
	}
	if err := b.Write(ctx, blob); err != nil {
		s.logger.Debug().Err(err).Str("backend", b.Name()).Msg("license write failed")
		s.metrics.RecordStoreWrite(b.Name(), metrics.ResultFailure)
		return fmt.Errorf("write %s backend: %w", b.Name(), err)
	}
	s.logger.Debug().Str("backend", b.Name()).Msg("license data saved")
	s.metrics.RecordStoreWrite(b.Name(), metrics.ResultSuccess)
	return nil
}

// Load reads every available backend and returns the decryptable record
// with the earliest installation time. Ties keep backend order.
func (s *Store) Load(ctx context.Context) (*models.LicenseRecord, bool) {
	var best *models.LicenseRecord
	var bestFrom string

	for _, b := range s.backends {
		if !b.Available() {
			continue
		}

		blob, err := b.Read(ctx)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			s.logger.Debug().Err(err).Str("backend", b.Name()).Msg("license read failed")
			continue
		}

		record, ok := s.sealer.Decrypt(blob)
		if !ok {
			s.logger.Warn().Str("backend", b.Name()).Msg("discarding unreadable license data")
			continue
		}

		if best == nil || record.InstallationTime < best.InstallationTime {
			best = record
			bestFrom = b.Name()
		}
	}

	if best == nil {
		return nil, false
	}
	s.logger.Debug().Str("backend", bestFrom).Msg("license data loaded")
	return best, true
}

// Erase removes the record from every backend.
func (s *Store) Erase(ctx context.Context) error {
	var errs []error
	for _, b := range s.backends {
		if !b.Available() {
			continue
		}
		if err := b.Erase(ctx); err != nil {
			errs = append(errs, fmt.Errorf("erase %s backend: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
