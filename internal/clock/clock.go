// Package clock abstracts time reads so the store and backoff policy can be
// tested without sleeping or racing wall-clock comparisons, per the Clock
// design note in spec.md §9. This is a small enough seam that no
// third-party library earns its keep here — see DESIGN.md.
package clock

import "time"

// Clock is the only way store and backoff code may read "now".
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Frozen always returns a fixed instant; tests advance it explicitly via
// Set to control retry_ms_at comparisons deterministically.
type Frozen struct {
	at time.Time
}

// NewFrozen returns a Frozen clock starting at at.
func NewFrozen(at time.Time) *Frozen {
	return &Frozen{at: at}
}

func (f *Frozen) Now() time.Time { return f.at }

// Set moves the frozen clock to a new instant.
func (f *Frozen) Set(at time.Time) { f.at = at }

// Advance moves the frozen clock forward by d.
func (f *Frozen) Advance(d time.Duration) { f.at = f.at.Add(d) }

var _ Clock = Real{}
var _ Clock = (*Frozen)(nil)
