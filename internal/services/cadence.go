package services

import (
	"time"

	"github.com/prudhvinik1/ussync/internal/config"
	"github.com/prudhvinik1/ussync/internal/models"
	"github.com/prudhvinik1/ussync/internal/utils"
)

// CadencePolicy emits a fix once the device moved more than DistanceMeters
// or Interval elapsed since the last emission, whichever comes first.
type CadencePolicy struct {
	DistanceMeters float64
	Interval       time.Duration
}

func ForegroundPolicy(c config.Cadence) CadencePolicy {
	return CadencePolicy{DistanceMeters: c.ForegroundDistanceMeters, Interval: c.ForegroundInterval}
}

func BackgroundPolicy(c config.Cadence) CadencePolicy {
	return CadencePolicy{DistanceMeters: c.BackgroundDistanceMeters, Interval: c.BackgroundInterval}
}

func BackgroundOptionsFor(c config.Cadence) BackgroundOptions {
	return BackgroundOptions{
		DistanceMeters:   c.BackgroundDistanceMeters,
		Interval:         c.BackgroundInterval,
		DeferredInterval: c.BackgroundDeferredInterval,
	}
}

// CadenceGate applies a CadencePolicy to a sequence of readings.
// Not safe for concurrent use.
type CadenceGate struct {
	policy   CadencePolicy
	last     *models.Fix
	lastEmit time.Time
}

func NewCadenceGate(policy CadencePolicy) *CadenceGate {
	return &CadenceGate{policy: policy}
}

// ShouldEmit reports whether reading passes the policy at time now.
func (g *CadenceGate) ShouldEmit(reading models.Fix, now time.Time) bool {
	if g.last == nil {
		return true
	}
	if g.policy.Interval > 0 && now.Sub(g.lastEmit) >= g.policy.Interval {
		return true
	}
	moved := utils.DistanceMeters(g.last.Latitude, g.last.Longitude, reading.Latitude, reading.Longitude)
	return moved > g.policy.DistanceMeters
}

// Emitted records fix as the last emission and returns it with its timestamp
// clamped so emitted timestamps never go backwards.
func (g *CadenceGate) Emitted(fix models.Fix, now time.Time) models.Fix {
	if g.last != nil && fix.Timestamp < g.last.Timestamp {
		fix.Timestamp = g.last.Timestamp
	}
	g.last = &fix
	g.lastEmit = now
	return fix
}
