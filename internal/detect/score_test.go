package detect_test

import (
	"testing"

	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
)

func TestScore(t *testing.T) {
	s := detect.DefaultScoring()
	cases := []struct {
		name string
		rec  domain.Record
		want int
	}{
		{"plain", domain.Record{Priority: domain.PriorityMedium, Specialty: "Ginecología", Stratum: 3, WaitDays: 8}, 0},
		{"urgent low stratum long wait", domain.Record{Priority: domain.PriorityUrgent, Specialty: "Ortopedia", Stratum: 1, WaitDays: 12}, 5},
		{"oncology without accent", domain.Record{Priority: domain.PriorityHigh, Specialty: "ONCOLOGIA", Stratum: 2, WaitDays: 10}, 3},
		{"everything", domain.Record{Priority: domain.PriorityUrgent, Specialty: "Cardiología", Stratum: 2, WaitDays: 30}, 7},
	}
	for _, tc := range cases {
		if got := s.Score(tc.rec); got != tc.want {
			t.Errorf("%s: score = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestRankIsStableByID(t *testing.T) {
	records := []domain.Record{
		{ID: "3", Priority: domain.PriorityUrgent, Stratum: 1, WaitDays: 12},
		{ID: "10", Priority: domain.PriorityLow},
		{ID: "2", Priority: domain.PriorityLow},
		{ID: "1", Priority: domain.PriorityHigh, Stratum: 2},
	}
	ranked := detect.DefaultScoring().Rank(records)
	var ids []string
	for _, r := range ranked {
		ids = append(ids, r.ID)
	}
	want := []string{"3", "1", "2", "10"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", ids, want)
		}
	}
	if ranked[0].Score != 5 {
		t.Fatalf("top score = %d, want 5", ranked[0].Score)
	}
}
