// Package detect scans a surgical schedule for staff double-booking,
// urgent cases parked in routine slots and overloaded rooms.
//
// Detection is a pure function of the records and the policy: the same input
// always yields the same findings in the same order, and the records are never
// modified.
package detect

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"surgiplan/internal/domain"
	"surgiplan/internal/textnorm"
)

const timeLayout = "2006-01-02 15:04"

// MaxDurationHours bounds a single case.
const MaxDurationHours = 24

// Detector is safe for concurrent use.
type Detector struct {
	policy Policy
}

// New validates the policy up front so a bad configuration fails before any
// record is scanned.
func New(policy Policy) (*Detector, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Detector{policy: policy}, nil
}

func (d *Detector) Policy() Policy {
	return d.policy
}

// Detect returns findings grouped by rule: staff overlaps, misrouted urgent
// cases, then room overloads. Any invalid record aborts the whole pass with an
// *InvalidScheduleError and no findings.
func (d *Detector) Detect(records []domain.Record) ([]domain.Finding, error) {
	if err := Validate(records); err != nil {
		return nil, err
	}
	sorted := make([]domain.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.CompareIDs(sorted[i].ID, sorted[j].ID) < 0
	})

	findings := make([]domain.Finding, 0)
	findings = append(findings, staffOverlaps(sorted)...)
	findings = append(findings, d.misroutedUrgencies(sorted)...)
	findings = append(findings, d.roomOverloads(sorted)...)
	return findings, nil
}

// Validate reports every record detection cannot reason about, in row order.
func Validate(records []domain.Record) error {
	var errs []Problem
	seen := make(map[string]int, len(records))
	for i, r := range records {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			errs = append(errs, Problem{Field: "id", Reason: fmt.Sprintf("record #%d has an empty id", i+1)})
		} else {
			if seen[id] == 1 {
				errs = append(errs, Problem{RecordID: id, Field: "id", Reason: "duplicate id"})
			}
			seen[id]++
		}
		switch {
		case math.IsNaN(r.DurationHours) || math.IsInf(r.DurationHours, 0) || r.DurationHours <= 0:
			errs = append(errs, Problem{RecordID: id, Field: "duration_hours", Reason: fmt.Sprintf("must be positive, got %v", r.DurationHours)})
		case r.DurationHours > MaxDurationHours:
			errs = append(errs, Problem{RecordID: id, Field: "duration_hours", Reason: fmt.Sprintf("must be at most %d hours, got %v", MaxDurationHours, r.DurationHours)})
		}
		if r.Start.IsZero() {
			errs = append(errs, Problem{RecordID: id, Field: "start", Reason: "missing or malformed date/time"})
		}
		if strings.TrimSpace(r.Room) == "" {
			errs = append(errs, Problem{RecordID: id, Field: "room", Reason: "required"})
		}
		if strings.TrimSpace(r.Surgeon) == "" {
			errs = append(errs, Problem{RecordID: id, Field: "surgeon", Reason: "required"})
		}
		if strings.TrimSpace(r.InstrumentNurse) == "" {
			errs = append(errs, Problem{RecordID: id, Field: "instrument_nurse", Reason: "required"})
		}
		switch r.Priority {
		case domain.PriorityLow, domain.PriorityMedium, domain.PriorityHigh, domain.PriorityUrgent:
		default:
			errs = append(errs, Problem{RecordID: id, Field: "priority", Reason: fmt.Sprintf("unknown priority %q", r.Priority)})
		}
	}
	if len(errs) > 0 {
		return &InvalidScheduleError{Problems: errs}
	}
	return nil
}

// Overlaps reports whether two cases share an instant under half-open
// semantics; a case ending exactly when the other starts does not overlap.
func Overlaps(a, b domain.Record) bool {
	return a.Start.Before(b.End()) && b.Start.Before(a.End())
}

// staffOverlaps compares every pair. records must be sorted by id.
// TODO: switch to a sweep line per staff member if rosters grow past a few
// hundred cases; the pairwise scan is quadratic.
func staffOverlaps(records []domain.Record) []domain.Finding {
	var out []domain.Finding
	// staff identity ignores case, accents and punctuation
	surgeons := make([]string, len(records))
	nurses := make([]string, len(records))
	for i, r := range records {
		surgeons[i] = textnorm.Fold(r.Surgeon)
		nurses[i] = textnorm.Fold(r.InstrumentNurse)
	}
	for i := 0; i < len(records); i++ {
		a := records[i]
		for j := i + 1; j < len(records); j++ {
			b := records[j]
			sameSurgeon := surgeons[i] == surgeons[j]
			sameNurse := nurses[i] == nurses[j]
			if !sameSurgeon && !sameNurse {
				continue
			}
			if !Overlaps(a, b) {
				continue
			}
			var resources, names []string
			if sameSurgeon {
				resources = append(resources, domain.ResourceSurgeon)
				names = append(names, "surgeon "+a.Surgeon)
			}
			if sameNurse {
				resources = append(resources, domain.ResourceInstrumentNurse)
				names = append(names, "instrument nurse "+a.InstrumentNurse)
			}
			out = append(out, domain.Finding{
				Kind:      domain.KindStaffOverlap,
				Severity:  domain.KindStaffOverlap.Severity(),
				RecordIDs: []string{a.ID, b.ID},
				Resources: resources,
				Message: fmt.Sprintf("Staff double-booked: %s assigned to cases %s (%s-%s) and %s (%s-%s)",
					strings.Join(names, " and "),
					a.ID, a.Start.Format(timeLayout), a.End().Format("15:04"),
					b.ID, b.Start.Format(timeLayout), b.End().Format("15:04")),
			})
		}
	}
	return out
}

func (d *Detector) misroutedUrgencies(records []domain.Record) []domain.Finding {
	var out []domain.Finding
	for _, r := range records {
		if r.Priority != domain.PriorityUrgent || d.policy.urgentSlot(r.Start) {
			continue
		}
		out = append(out, domain.Finding{
			Kind:      domain.KindMisroutedUrgency,
			Severity:  domain.KindMisroutedUrgency.Severity(),
			RecordIDs: []string{r.ID},
			Room:      r.Room,
			Message: fmt.Sprintf("Urgent case %s (%s) is scheduled in a routine slot on %s %s",
				r.ID, r.Procedure, r.Start.Weekday(), r.Start.Format(timeLayout)),
		})
	}
	return out
}

func (d *Detector) roomOverloads(records []domain.Record) []domain.Finding {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Room]++
	}
	rooms := make([]string, 0, len(counts))
	for room := range counts {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)

	verb := "exceeding"
	if d.policy.OverloadComparison == GreaterThanOrEqual {
		verb = "reaching"
	}
	var out []domain.Finding
	for _, room := range rooms {
		n := counts[room]
		if !d.policy.overloaded(n) {
			continue
		}
		out = append(out, domain.Finding{
			Kind:      domain.KindRoomOverload,
			Severity:  domain.KindRoomOverload.Severity(),
			RecordIDs: []string{},
			Room:      room,
			Count:     n,
			Message:   fmt.Sprintf("Room %s has %d cases, %s the threshold of %d", room, n, verb, d.policy.OverloadThreshold),
		})
	}
	return out
}
