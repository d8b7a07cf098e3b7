package models

import (
	"math"
	"time"
)

// SecondsPerDay is the length of one trial day in seconds.
const SecondsPerDay = 24 * 60 * 60

// TrialState is the lifecycle state of a trial.
type TrialState string

const (
	// TrialStateUninitialized means no record exists in any backend.
	TrialStateUninitialized TrialState = "uninitialized"
	// TrialStateActive means a valid, uncorrupted record exists.
	TrialStateActive TrialState = "active"
	// TrialStateCorrupted is terminal. Only an administrative reset leaves it.
	TrialStateCorrupted TrialState = "corrupted"
)

// LicenseRecord is the persisted trial state. Times are unix seconds.
type LicenseRecord struct {
	InstallationTime float64 `cbor:"installation_time" json:"installation_time"`
	ExpirationTime   float64 `cbor:"expiration_time" json:"expiration_time"`
	MachineID        string  `cbor:"machine_id" json:"machine_id"`
	TrialUsed        bool    `cbor:"trial_used" json:"trial_used"`
	TrialCorrupted   bool    `cbor:"trial_corrupted" json:"trial_corrupted"`
	AppName          string  `cbor:"app_name" json:"app_name"`
}

// NewLicenseRecord creates an uncorrupted record for a trial starting at
// installedAt and lasting trialDays.
func NewLicenseRecord(appName, machineID string, installedAt time.Time, trialDays int) *LicenseRecord {
	installation := UnixSeconds(installedAt)
	return &LicenseRecord{
		InstallationTime: installation,
		ExpirationTime:   installation + float64(trialDays)*SecondsPerDay,
		MachineID:        machineID,
		TrialUsed:        true,
		AppName:          appName,
	}
}

// InstalledAt returns the installation time.
func (r *LicenseRecord) InstalledAt() time.Time {
	return FromUnixSeconds(r.InstallationTime)
}

// ExpiresAt returns the expiration time. A corrupted record expires at the
// unix epoch.
func (r *LicenseRecord) ExpiresAt() time.Time {
	return FromUnixSeconds(r.ExpirationTime)
}

// Corrupt marks the record permanently invalid.
func (r *LicenseRecord) Corrupt() {
	r.TrialCorrupted = true
	r.ExpirationTime = 0
}

// State reports the lifecycle state of the record. A nil record is
// uninitialized.
func (r *LicenseRecord) State() TrialState {
	switch {
	case r == nil:
		return TrialStateUninitialized
	case r.TrialCorrupted:
		return TrialStateCorrupted
	default:
		return TrialStateActive
	}
}

// RemainingSeconds returns max(0, expiration - now). Corrupted records have
// nothing left.
func (r *LicenseRecord) RemainingSeconds(now time.Time) float64 {
	if r == nil || r.TrialCorrupted {
		return 0
	}
	return math.Max(0, r.ExpirationTime-UnixSeconds(now))
}

// ExpiredAt reports whether now is strictly past the expiration time.
func (r *LicenseRecord) ExpiredAt(now time.Time) bool {
	return UnixSeconds(now) > r.ExpirationTime
}

// UnixSeconds converts t to fractional unix seconds.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// FromUnixSeconds converts fractional unix seconds to a time.
func FromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*float64(time.Second))))
}
