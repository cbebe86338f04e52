package proctor

import (
	"time"

	"github.com/stemsi/proctorquiz/internal/model"
)

// Tracker tallies integrity violations for one attempt. It is not safe for
// concurrent use; Session serializes access to it.
type Tracker struct {
	max        int
	now        func() time.Time
	violations []model.Violation
}

// NewTracker returns a tracker that trips once more than max violations have
// been recorded.
func NewTracker(max int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if max < 0 {
		max = 0
	}
	return &Tracker{max: max, now: now}
}

// Record appends a timestamped violation. Repeats are never collapsed.
func (t *Tracker) Record(kind model.ViolationKind) model.Violation {
	v := model.Violation{Kind: kind, At: t.now().UTC()}
	t.violations = append(t.violations, v)
	return v
}

// Count returns the number of recorded violations of every kind.
func (t *Tracker) Count() int { return len(t.violations) }

// Max returns the configured cap.
func (t *Tracker) Max() int { return t.max }

// OverLimit reports whether the count strictly exceeds the cap: a cap of N
// tolerates exactly N violations.
func (t *Tracker) OverLimit() bool {
	return len(t.violations) > t.max
}

// Violations returns a copy of the recorded events in recording order.
func (t *Tracker) Violations() []model.Violation {
	out := make([]model.Violation, len(t.violations))
	copy(out, t.violations)
	return out
}
