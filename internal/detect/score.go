package detect

import (
	"fmt"
	"sort"

	"surgiplan/internal/domain"
	"surgiplan/internal/textnorm"
)

// Scoring weighs a case's claim to an early slot: urgency, high-mortality
// specialties, low socio-economic stratum and long waits each add points.
type Scoring struct {
	UrgentWeight        int
	SpecialtyWeight     int
	StratumWeight       int
	WaitWeight          int
	PrioritySpecialties []string
	LowStrata           []int
	LongWaitDays        int
}

func DefaultScoring() Scoring {
	return Scoring{
		UrgentWeight:        3,
		SpecialtyWeight:     2,
		StratumWeight:       1,
		WaitWeight:          1,
		PrioritySpecialties: []string{"Oncología", "Cardiología"},
		LowStrata:           []int{1, 2},
		LongWaitDays:        10,
	}
}

func (s Scoring) Validate() error {
	weights := []struct {
		field string
		value int
	}{
		{"scoring.urgent_weight", s.UrgentWeight},
		{"scoring.specialty_weight", s.SpecialtyWeight},
		{"scoring.stratum_weight", s.StratumWeight},
		{"scoring.wait_weight", s.WaitWeight},
	}
	for _, w := range weights {
		if w.value < 0 {
			return &ConfigurationError{Field: w.field, Reason: fmt.Sprintf("must be >= 0, got %d", w.value)}
		}
	}
	if s.LongWaitDays < 0 {
		return &ConfigurationError{Field: "scoring.long_wait_days", Reason: fmt.Sprintf("must be >= 0, got %d", s.LongWaitDays)}
	}
	return nil
}

func (s Scoring) Score(r domain.Record) int {
	score := 0
	if r.Priority == domain.PriorityUrgent {
		score += s.UrgentWeight
	}
	specialty := textnorm.Fold(r.Specialty)
	for _, sp := range s.PrioritySpecialties {
		if textnorm.Fold(sp) == specialty {
			score += s.SpecialtyWeight
			break
		}
	}
	for _, st := range s.LowStrata {
		if r.Stratum == st {
			score += s.StratumWeight
			break
		}
	}
	if r.WaitDays > s.LongWaitDays {
		score += s.WaitWeight
	}
	return score
}

type Ranked struct {
	domain.Record
	Score int `json:"score"`
}

// Rank returns the records ordered by descending score, ties by id.
func (s Scoring) Rank(records []domain.Record) []Ranked {
	out := make([]Ranked, len(records))
	for i, r := range records {
		out[i] = Ranked{Record: r, Score: s.Score(r)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return domain.CompareIDs(out[i].ID, out[j].ID) < 0
	})
	return out
}
