package clock

import (
	"testing"
	"time"
)

func TestFakeClock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Fake(start)

	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("Now() = %v, want %v", got, start)
	}

	c.Advance(90 * time.Minute)
	if got, want := c.Now(), start.Add(90*time.Minute); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}

	c.Advance(-3 * time.Hour)
	if got, want := c.Now(), start.Add(-90*time.Minute); !got.Equal(want) {
		t.Errorf("after rollback, Now() = %v, want %v", got, want)
	}

	later := start.Add(48 * time.Hour)
	c.Set(later)
	if got := c.Now(); !got.Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", got, later)
	}
}

func TestRealClock(t *testing.T) {
	before := time.Now()
	got := Real().Now()
	after := time.Now()

	if got.Before(before) || got.After(after) {
		t.Errorf("Real().Now() = %v, want between %v and %v", got, before, after)
	}
}
