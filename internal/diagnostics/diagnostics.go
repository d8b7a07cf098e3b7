// Package diagnostics runs self-tests of the trial environment: machine
// fingerprint probes, storage backends, the license directory and the
// external time sources.
package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/MacJediWizard/trialguard/internal/clock"
	"github.com/MacJediWizard/trialguard/internal/config"
	"github.com/MacJediWizard/trialguard/internal/fingerprint"
	"github.com/MacJediWizard/trialguard/internal/storage"
	"github.com/MacJediWizard/trialguard/internal/timesource"
)

// CheckStatus represents the status of a diagnostic check.
type CheckStatus string

const (
	StatusPass CheckStatus = "pass"
	StatusFail CheckStatus = "fail"
	StatusWarn CheckStatus = "warn"
	StatusSkip CheckStatus = "skip"
)

// Check names.
const (
	CheckConfig        = "config"
	CheckFingerprint   = "fingerprint"
	CheckLicenseDir    = "license_dir"
	CheckDiskSpace     = "disk_space"
	CheckTimeSources   = "time_sources"
	checkBackendPrefix = "backend_"
)

// MaxClockSkew is the local clock deviation above which the time source
// check warns.
const MaxClockSkew = 5 * time.Minute

// minFreeBytes is the free space below which the disk space check warns.
const minFreeBytes = 1 << 20

// CheckResult contains the result of a single diagnostic check.
type CheckResult struct {
	Name     string         `json:"name"`
	Status   CheckStatus    `json:"status"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	Duration time.Duration  `json:"duration_ms"`
}

// Result contains all diagnostic results.
type Result struct {
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	AppName   string        `json:"app_name"`
	OS        string        `json:"os"`
	Arch      string        `json:"arch"`
	Checks    []CheckResult `json:"checks"`
	Summary   Summary       `json:"summary"`
}

// Summary contains a summary of the diagnostic results.
type Summary struct {
	Total   int  `json:"total"`
	Passed  int  `json:"passed"`
	Failed  int  `json:"failed"`
	Warned  int  `json:"warned"`
	Skipped int  `json:"skipped"`
	Healthy bool `json:"healthy"`
}

// Runner executes diagnostic checks.
type Runner struct {
	cfg      *config.TrialConfig
	version  string
	probes   []fingerprint.Probe
	backends []storage.Backend
	client   timesource.Doer
	clock    clock.Clock
}

// Option configures a Runner.
type Option func(*Runner)

// WithProbes replaces the fingerprint probes.
func WithProbes(probes ...fingerprint.Probe) Option {
	return func(r *Runner) { r.probes = probes }
}

// WithBackends replaces the storage backends derived from the config.
func WithBackends(backends ...storage.Backend) Option {
	return func(r *Runner) { r.backends = backends }
}

// WithClient sets the HTTP client used to reach time sources.
func WithClient(c timesource.Doer) Option {
	return func(r *Runner) { r.client = c }
}

// WithClock sets the local clock compared against time sources.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner creates a new diagnostics runner.
func NewRunner(cfg *config.TrialConfig, version string, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		version: version,
		probes:  fingerprint.DefaultProbes(),
		clock:   clock.Real(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backends == nil && cfg != nil {
		r.backends = []storage.Backend{
			storage.NewFileBackend(cfg.LicenseFile),
			storage.NewRegistryBackend(cfg.RegistryKey, cfg.RegistryValue),
		}
	}
	return r
}

// Run executes all diagnostic checks.
func (r *Runner) Run(ctx context.Context) *Result {
	result := &Result{
		Timestamp: r.clock.Now(),
		Version:   r.version,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
	if r.cfg != nil {
		result.AppName = r.cfg.AppName
	}

	result.Checks = append(result.Checks, r.checkConfig())
	result.Checks = append(result.Checks, r.checkFingerprint(ctx))
	for _, b := range r.backends {
		result.Checks = append(result.Checks, r.checkBackend(ctx, b))
	}
	result.Checks = append(result.Checks, r.checkLicenseDir())
	result.Checks = append(result.Checks, r.checkDiskSpace(ctx))
	result.Checks = append(result.Checks, r.checkTimeSources(ctx))

	result.Summary = summarize(result.Checks)
	return result
}

func summarize(checks []CheckResult) Summary {
	s := Summary{Total: len(checks)}
	for _, c := range checks {
		switch c.Status {
		case StatusPass:
			s.Passed++
		case StatusFail:
			s.Failed++
		case StatusWarn:
			s.Warned++
		case StatusSkip:
			s.Skipped++
		}
	}
	s.Healthy = s.Failed == 0
	return s
}

func (r *Runner) checkConfig() CheckResult {
	start := time.Now()
	result := CheckResult{Name: CheckConfig}

	switch {
	case r.cfg == nil:
		result.Status = StatusFail
		result.Message = "No configuration loaded"
	default:
		if err := r.cfg.Validate(); err != nil {
			result.Status = StatusFail
			result.Message = err.Error()
			break
		}
		result.Status = StatusPass
		result.Message = "Configuration is valid"
		result.Details = map[string]any{
			"trial_days":          r.cfg.TrialDays,
			"online_verification": r.cfg.OnlineVerification,
			"cache_duration":      r.cfg.CacheDuration.String(),
			"time_sources":        len(r.cfg.TimeSources),
		}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkFingerprint(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: CheckFingerprint}

	results, combined := fingerprint.Combine(ctx, r.probes)
	details := make(map[string]any, len(results))
	for _, pr := range results {
		if pr.Skipped {
			details[pr.Name] = "skipped: " + pr.Err.Error()
			continue
		}
		details[pr.Name] = "ok"
	}
	result.Details = details

	if combined == "" {
		result.Status = StatusWarn
		result.Message = "All probes skipped, platform fallback in use"
	} else {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("Machine ID %s", shortID(fingerprint.Digest(combined)))
	}

	result.Duration = time.Since(start)
	return result
}

// checkBackend only reads. Writing would risk clobbering a trial record.
func (r *Runner) checkBackend(ctx context.Context, b storage.Backend) CheckResult {
	start := time.Now()
	result := CheckResult{Name: checkBackendPrefix + b.Name()}

	if !b.Available() {
		result.Status = StatusSkip
		result.Message = "Backend not available on this platform"
		result.Duration = time.Since(start)
		return result
	}

	blob, err := b.Read(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		result.Status = StatusPass
		result.Message = "No trial record stored"
	case err != nil:
		result.Status = StatusFail
		result.Message = fmt.Sprintf("Read failed: %v", err)
	default:
		result.Status = StatusPass
		result.Message = "Trial record present"
		result.Details = map[string]any{"bytes": len(blob)}
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkLicenseDir() CheckResult {
	start := time.Now()
	result := CheckResult{Name: CheckLicenseDir}

	if r.cfg == nil || r.cfg.LicenseFile == "" {
		result.Status = StatusSkip
		result.Message = "No license file configured"
		result.Duration = time.Since(start)
		return result
	}

	dir := filepath.Dir(r.cfg.LicenseFile)
	result.Details = map[string]any{"path": dir}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			result.Status = StatusWarn
			result.Message = "License directory does not exist yet"
		} else {
			result.Status = StatusFail
			result.Message = fmt.Sprintf("Cannot access license directory: %v", err)
		}
		result.Duration = time.Since(start)
		return result
	}

	if !info.IsDir() {
		result.Status = StatusFail
		result.Message = "License path parent is not a directory"
		result.Duration = time.Since(start)
		return result
	}

	mode := info.Mode().Perm()
	result.Details["mode"] = fmt.Sprintf("%04o", mode)

	scratch, err := os.CreateTemp(dir, ".diag-*")
	if err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("License directory is not writable: %v", err)
		result.Duration = time.Since(start)
		return result
	}
	scratch.Close()
	os.Remove(scratch.Name())

	if runtime.GOOS != "windows" && mode&0o022 != 0 {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("License directory is writable by others (%04o)", mode)
	} else {
		result.Status = StatusPass
		result.Message = "License directory is writable"
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkDiskSpace(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: CheckDiskSpace}

	if r.cfg == nil || r.cfg.LicenseFile == "" {
		result.Status = StatusSkip
		result.Message = "No license file configured"
		result.Duration = time.Since(start)
		return result
	}

	path := existingParent(filepath.Dir(r.cfg.LicenseFile))
	usage, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Could not check disk space: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	result.Details = map[string]any{
		"path":       path,
		"free_bytes": usage.Free,
		"used_pct":   usage.UsedPercent,
	}
	if usage.Free < minFreeBytes {
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Low disk space: %s free", formatBytes(usage.Free))
	} else {
		result.Status = StatusPass
		result.Message = fmt.Sprintf("%s free", formatBytes(usage.Free))
	}

	result.Duration = time.Since(start)
	return result
}

func (r *Runner) checkTimeSources(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Name: CheckTimeSources}

	switch {
	case r.cfg == nil || !r.cfg.OnlineVerification:
		result.Status = StatusSkip
		result.Message = "Online verification disabled"
		result.Duration = time.Since(start)
		return result
	case len(r.cfg.TimeSources) == 0:
		result.Status = StatusWarn
		result.Message = "No time sources configured"
		result.Duration = time.Since(start)
		return result
	case r.client == nil:
		result.Status = StatusSkip
		result.Message = "No HTTP client configured"
		result.Duration = time.Since(start)
		return result
	}

	details := make(map[string]any, len(r.cfg.TimeSources))
	reachable := 0
	var maxSkew time.Duration
	for _, endpoint := range r.cfg.TimeSources {
		external, err := timesource.Fetch(ctx, r.client, endpoint)
		if err != nil {
			details[endpoint] = err.Error()
			continue
		}
		reachable++
		skew := external.Sub(r.clock.Now())
		if skew < 0 {
			skew = -skew
		}
		maxSkew = max(maxSkew, skew)
		details[endpoint] = fmt.Sprintf("ok (skew %s)", skew.Round(time.Second))
	}
	result.Details = details

	switch {
	case reachable == 0:
		result.Status = StatusFail
		result.Message = "No time source reachable, local clock will be used"
	case maxSkew > MaxClockSkew:
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("Local clock deviates by %s", maxSkew.Round(time.Second))
	case reachable < len(r.cfg.TimeSources):
		result.Status = StatusWarn
		result.Message = fmt.Sprintf("%d of %d time sources reachable", reachable, len(r.cfg.TimeSources))
	default:
		result.Status = StatusPass
		result.Message = fmt.Sprintf("All %d time sources reachable", reachable)
	}

	result.Duration = time.Since(start)
	return result
}

// existingParent walks up from path to the nearest existing directory.
func existingParent(path string) string {
	for {
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(bytes uint64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ToJSON converts the result to JSON.
func (r *Result) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
