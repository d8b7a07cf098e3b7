// Package fingerprint derives a stable machine identifier from best-effort
// hardware and OS probes.
//
// Each probe either yields a value or is skipped. Successful values are
// concatenated in the fixed probe order and hashed, so the identifier is
// deterministic on one machine as long as the probes keep answering the
// same way. When every probe is skipped a low-entropy fallback built from
// the hostname, architecture and processor label is hashed instead; it is
// still deterministic but far less unique.
package fingerprint

import (
	"context"
	"encoding/hex"
	"errors"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"
)

// ErrNoValue is returned by probes that ran but found nothing usable.
var ErrNoValue = errors.New("probe returned no value")

// Probe is a single hardware or OS identity source.
type Probe interface {
	Name() string
	Probe(ctx context.Context) (string, error)
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc struct {
	ProbeName string
	Fn        func(ctx context.Context) (string, error)
}

// Name returns the probe name.
func (p ProbeFunc) Name() string { return p.ProbeName }

// Probe runs the wrapped function.
func (p ProbeFunc) Probe(ctx context.Context) (string, error) { return p.Fn(ctx) }

// Result is the outcome of running one probe.
type Result struct {
	Name    string
	Value   string
	Skipped bool
	Err     error
}

// Combine runs probes in order and concatenates the values of those that
// succeeded. A probe that errors or returns an empty value is skipped.
func Combine(ctx context.Context, probes []Probe) ([]Result, string) {
	results := make([]Result, 0, len(probes))
	var b strings.Builder

	for _, p := range probes {
		value, err := p.Probe(ctx)
		value = strings.TrimSpace(value)
		if err == nil && value == "" {
			err = ErrNoValue
		}
		if err != nil {
			results = append(results, Result{Name: p.Name(), Skipped: true, Err: err})
			continue
		}
		results = append(results, Result{Name: p.Name(), Value: value})
		b.WriteString(value)
	}

	return results, b.String()
}

// Digest hashes s with BLAKE3-256 and renders it as lower-case hex.
func Digest(s string) string {
	sum := blake3.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Fingerprinter computes the machine identifier.
type Fingerprinter struct {
	probes   []Probe
	fallback func() string
	logger   zerolog.Logger
}

// Option configures a Fingerprinter.
type Option func(*Fingerprinter)

// WithProbes replaces the default probe list.
func WithProbes(probes ...Probe) Option {
	return func(f *Fingerprinter) {
		f.probes = probes
	}
}

// WithFallback replaces the all-probes-skipped fallback source.
func WithFallback(fn func() string) Option {
	return func(f *Fingerprinter) {
		f.fallback = fn
	}
}

// New creates a Fingerprinter using the default probes unless overridden.
func New(logger zerolog.Logger, opts ...Option) *Fingerprinter {
	f := &Fingerprinter{
		probes:   DefaultProbes(),
		fallback: platformFallback,
		logger:   logger.With().Str("component", "fingerprint").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Compute returns the machine identifier. It never fails.
func (f *Fingerprinter) Compute(ctx context.Context) string {
	results, combined := Combine(ctx, f.probes)
	for _, r := range results {
		if r.Skipped {
			f.logger.Debug().Str("probe", r.Name).Err(r.Err).Msg("probe skipped")
			continue
		}
		f.logger.Debug().Str("probe", r.Name).Msg("probe succeeded")
	}

	if combined == "" {
		f.logger.Debug().Msg("all probes skipped, using platform fallback")
		combined = f.fallback()
	}

	return Digest(combined)
}

// platformFallback combines hostname, architecture and processor label.
func platformFallback() string {
	hostname, _ := os.Hostname()
	return hostname + runtime.GOARCH + processorLabel()
}

func processorLabel() string {
	if id := os.Getenv("PROCESSOR_IDENTIFIER"); id != "" {
		return id
	}
	return runtime.GOOS
}
