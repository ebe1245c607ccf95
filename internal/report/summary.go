package report

import (
	"fmt"
	"sort"
	"strings"

	"surgiplan/internal/domain"
)

// Summary is the plain-text context block sent to the assistant ahead of a
// question. It holds aggregates only, never patient names.
func Summary(records []domain.Record, findings []domain.Finding) string {
	var b strings.Builder
	var hours float64
	rooms, surgeons, specialties, priorities := map[string]int{}, map[string]int{}, map[string]int{}, map[string]int{}
	for _, r := range records {
		hours += r.DurationHours
		rooms[r.Room]++
		surgeons[r.Surgeon]++
		if r.Specialty != "" {
			specialties[r.Specialty]++
		}
		priorities[string(r.Priority)]++
	}
	fmt.Fprintf(&b, "Surgical schedule: %d cases, %.1f scheduled hours.\n", len(records), hours)
	writeCounts(&b, "Cases per room", rooms)
	writeCounts(&b, "Cases per surgeon", surgeons)
	writeCounts(&b, "Cases per specialty", specialties)
	writeCounts(&b, "Cases per priority", priorities)

	kinds := map[string]int{}
	for _, f := range findings {
		kinds[string(f.Kind)]++
	}
	fmt.Fprintf(&b, "Findings: %d.\n", len(findings))
	writeCounts(&b, "Findings per kind", kinds)
	for _, f := range findings {
		fmt.Fprintf(&b, "- %s\n", Line(f))
	}
	return b.String()
}

func writeCounts(b *strings.Builder, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	fmt.Fprintf(b, "%s: %s.\n", title, strings.Join(parts, ", "))
}
