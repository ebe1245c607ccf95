package server

import (
	"time"

	"surgiplan/internal/domain"
)

// Request payloads

// RecordRequest is one surgical case submitted as JSON.
type RecordRequest struct {
	ID              string    `json:"id"`
	Patient         string    `json:"patient,omitempty"`
	Procedure       string    `json:"procedure"`
	Specialty       string    `json:"specialty,omitempty"`
	DurationHours   float64   `json:"duration_hours"`
	Start           time.Time `json:"start" format:"date-time"`
	Room            string    `json:"room"`
	Priority        string    `json:"priority" example:"urgent" doc:"low, medium, high or urgent (Spanish labels accepted)"`
	Surgeon         string    `json:"surgeon"`
	InstrumentNurse string    `json:"instrument_nurse"`
	AssistantNurse  string    `json:"assistant_nurse,omitempty"`
	Stratum         int       `json:"stratum,omitempty"`
	WaitDays        int       `json:"wait_days,omitempty"`
}

type AnalyzeRecordsRequest struct {
	Source  string          `json:"source,omitempty" example:"or-board"`
	Records []RecordRequest `json:"records"`
}

type AskRequest struct {
	Question   string `json:"question" minLength:"1"`
	AnalysisID string `json:"analysis_id,omitempty"`
}

// Response payloads

type AnalysisResponse struct {
	ID            string                `json:"id"`
	Source        string                `json:"source"`
	RecordCount   int                   `json:"record_count"`
	CriticalCount int                   `json:"critical_count"`
	Findings      []domain.Finding      `json:"findings"`
	Policy        domain.PolicySnapshot `json:"policy"`
	Stored        bool                  `json:"stored"`
	CreatedAt     string                `json:"created_at" format:"date-time"`
	Records       []domain.Record       `json:"records,omitempty"`
}

type paginatedAnalyses struct {
	Items      []domain.AnalysisSummary `json:"items"`
	NextCursor string                   `json:"next_cursor,omitempty"`
}

type SummaryResponse struct {
	Summary string `json:"summary"`
}

type SessionResponse struct {
	ID           string `json:"id"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	LastActiveAt string `json:"last_active_at" format:"date-time"`
	EndedAt      string `json:"ended_at,omitempty" format:"date-time"`
}

type SuggestionsResponse struct {
	Questions []string `json:"questions"`
	Available bool     `json:"available"`
}

func analysisResponse(a domain.Analysis, stored bool) AnalysisResponse {
	findings := a.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	return AnalysisResponse{
		ID:            a.ID,
		Source:        a.Source,
		RecordCount:   a.RecordCount,
		CriticalCount: a.CriticalCount(),
		Findings:      findings,
		Policy:        a.Policy,
		Stored:        stored,
		CreatedAt:     a.CreatedAt,
	}
}

func sessionResponse(s domain.AssistantSession) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		EndedAt:      s.EndedAt,
	}
}

// toRecords converts request records. An unknown priority is kept as given
// so detection reports it together with every other problem.
func toRecords(in []RecordRequest) []domain.Record {
	out := make([]domain.Record, len(in))
	for i, r := range in {
		p, err := domain.ParsePriority(r.Priority)
		if err != nil {
			p = domain.Priority(r.Priority)
		}
		out[i] = domain.Record{
			ID:              r.ID,
			Patient:         r.Patient,
			Procedure:       r.Procedure,
			Specialty:       r.Specialty,
			DurationHours:   r.DurationHours,
			Start:           r.Start,
			Room:            r.Room,
			Priority:        p,
			Surgeon:         r.Surgeon,
			InstrumentNurse: r.InstrumentNurse,
			AssistantNurse:  r.AssistantNurse,
			Stratum:         r.Stratum,
			WaitDays:        r.WaitDays,
		}
	}
	return out
}
