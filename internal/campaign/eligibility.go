package campaign

import (
	"fmt"
	"time"

	apperrors "followup-dispatcher/internal/common/errors"
)

// Stage3Policy selects what stage 3 timing is measured from.
type Stage3Policy int

const (
	// PolicyRelativeToStage2 requires stage 2 to have been sent and measures
	// from its marker. Stage 3 can never precede stage 2.
	PolicyRelativeToStage2 Stage3Policy = iota
	// PolicyRelativeToApplication measures from the application date only,
	// so stage 3 still goes out if stage 2 keeps failing.
	PolicyRelativeToApplication
)

// ParseStage3Policy maps the configuration spelling to a policy.
func ParseStage3Policy(s string) (Stage3Policy, error) {
	switch s {
	case "relative_to_stage2", "":
		return PolicyRelativeToStage2, nil
	case "relative_to_application":
		return PolicyRelativeToApplication, nil
	default:
		return 0, apperrors.NewConfigInvalidError(fmt.Sprintf("unknown stage 3 policy %q", s))
	}
}

func (p Stage3Policy) String() string {
	if p == PolicyRelativeToApplication {
		return "relative_to_application"
	}
	return "relative_to_stage2"
}

const day = 24 * time.Hour

// Evaluator decides which stages are due for a record. It has no state
// beyond its thresholds and performs no I/O.
type Evaluator struct {
	Policy Stage3Policy
	// Stage2After is D2, whole days after application.
	Stage2After int
	// Stage3AfterStage2 is D3rel, used by PolicyRelativeToStage2.
	Stage3AfterStage2 int
	// Stage3AfterApplied is D3abs, used by PolicyRelativeToApplication.
	Stage3AfterApplied int
}

// DefaultEvaluator returns the thresholds the campaign shipped with.
func DefaultEvaluator() Evaluator {
	return Evaluator{
		Policy:             PolicyRelativeToStage2,
		Stage2After:        1,
		Stage3AfterStage2:  7,
		Stage3AfterApplied: 8,
	}
}

// Due is the set of stages due for one record.
type Due struct {
	Stage2 bool
	Stage3 bool
}

// Has reports whether stage is due.
func (d Due) Has(stage Stage) bool {
	switch stage {
	case Stage2:
		return d.Stage2
	case Stage3:
		return d.Stage3
	default:
		return false
	}
}

// None reports whether nothing is due.
func (d Due) None() bool {
	return !d.Stage2 && !d.Stage3
}

// Evaluate returns the stages due at now. A present but malformed timestamp
// is returned as INVALID_TIMESTAMP; nothing is due in that case.
func (e Evaluator) Evaluate(rec ApplicationRecord, now time.Time) (Due, error) {
	applied, err := parseTimestamp("applied", rec.Applied)
	if err != nil {
		return Due{}, err
	}
	stage2At, err := parseTimestamp("stage2SentAt", rec.Stage2SentAt)
	if err != nil {
		return Due{}, err
	}
	stage3At, err := parseTimestamp("stage3SentAt", rec.Stage3SentAt)
	if err != nil {
		return Due{}, err
	}

	var due Due

	if stage2At == nil && applied != nil && ElapsedDays(*applied, now) >= e.Stage2After {
		due.Stage2 = true
	}

	if stage3At == nil {
		switch e.Policy {
		case PolicyRelativeToStage2:
			due.Stage3 = stage2At != nil && ElapsedDays(*stage2At, now) >= e.Stage3AfterStage2
		case PolicyRelativeToApplication:
			due.Stage3 = applied != nil && ElapsedDays(*applied, now) >= e.Stage3AfterApplied
		}
	}

	return due, nil
}

// ElapsedDays is floor((now - t) / 24h) with fixed-length days.
func ElapsedDays(t, now time.Time) int {
	d := now.Sub(t)
	days := int(d / day)
	if d < 0 && d%day != 0 {
		days--
	}
	return days
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// ParseTimestamp parses a stored marker or application time.
func ParseTimestamp(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// parseTimestamp returns nil for an absent value.
func parseTimestamp(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := ParseTimestamp(value)
	if err != nil {
		return nil, apperrors.NewInvalidTimestampError(field, value, err)
	}
	return &t, nil
}
