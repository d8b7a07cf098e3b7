package license

import (
	"context"
	"time"

	"github.com/MacJediWizard/trialguard/internal/models"
)

// Status is a point-in-time snapshot of the trial.
type Status struct {
	AppName       string            `json:"app_name"`
	State         models.TrialState `json:"state"`
	Valid         bool              `json:"valid"`
	RemainingDays float64           `json:"remaining_days"`
	InstalledAt   time.Time         `json:"installed_at"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CheckedAt     time.Time         `json:"checked_at"`
}

// Status returns a consistent snapshot taken under one lock.
func (g *Guard) Status(ctx context.Context) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	record, now := g.resolve(ctx, false)
	s := Status{
		AppName:       g.cfg.AppName,
		State:         record.State(),
		Valid:         isValid(record, now),
		RemainingDays: record.RemainingSeconds(now) / models.SecondsPerDay,
		InstalledAt:   record.InstalledAt(),
		CheckedAt:     now,
	}
	if !record.TrialCorrupted {
		expires := record.ExpiresAt()
		s.ExpiresAt = &expires
	}
	return s
}
