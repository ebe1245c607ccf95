package detect

import (
	"fmt"
	"time"
)

// Comparison decides when a room's case count counts as overloaded.
type Comparison string

const (
	GreaterThan        Comparison = "gt"
	GreaterThanOrEqual Comparison = "gte"
)

const DefaultOverloadThreshold = 3

// Policy configures the rules. The zero value is not usable; start from
// DefaultPolicy.
type Policy struct {
	OverloadThreshold  int
	OverloadComparison Comparison
	// UrgentDays are the weekdays that offer dedicated urgent slots. An urgent
	// case on any other day is misrouted. Empty means every urgent case is flagged.
	UrgentDays []time.Weekday
	// UrgentSlot overrides UrgentDays when set.
	UrgentSlot func(start time.Time) bool
	Scoring    Scoring
}

func DefaultPolicy() Policy {
	return Policy{
		OverloadThreshold:  DefaultOverloadThreshold,
		OverloadComparison: GreaterThan,
		UrgentDays:         []time.Weekday{time.Saturday, time.Sunday},
		Scoring:            DefaultScoring(),
	}
}

func (p Policy) Validate() error {
	if p.OverloadThreshold < 0 {
		return &ConfigurationError{Field: "overload_threshold", Reason: fmt.Sprintf("must be >= 0, got %d", p.OverloadThreshold)}
	}
	switch p.OverloadComparison {
	case GreaterThan, GreaterThanOrEqual:
	default:
		return &ConfigurationError{Field: "overload_comparison", Reason: fmt.Sprintf("must be %q or %q, got %q", GreaterThan, GreaterThanOrEqual, p.OverloadComparison)}
	}
	for _, d := range p.UrgentDays {
		if d < time.Sunday || d > time.Saturday {
			return &ConfigurationError{Field: "urgent_days", Reason: fmt.Sprintf("invalid weekday %d", int(d))}
		}
	}
	return p.Scoring.Validate()
}

func (p Policy) overloaded(count int) bool {
	if p.OverloadComparison == GreaterThanOrEqual {
		return count >= p.OverloadThreshold
	}
	return count > p.OverloadThreshold
}

func (p Policy) urgentSlot(start time.Time) bool {
	if p.UrgentSlot != nil {
		return p.UrgentSlot(start)
	}
	wd := start.Weekday()
	for _, d := range p.UrgentDays {
		if d == wd {
			return true
		}
	}
	return false
}
