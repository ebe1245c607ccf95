package engine

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"surgiplan/internal/config"
	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
	"surgiplan/internal/events"
	"surgiplan/internal/loader"
	"surgiplan/internal/repo"
	"surgiplan/internal/report"
	"surgiplan/pkg/logger"
)

var (
	// ErrStorageDisabled is returned by history operations when no database is attached.
	ErrStorageDisabled = errors.New("analysis storage is disabled")
	ErrInvalidInput    = errors.New("invalid input")
)

// Engine runs load, detect and persist. A nil DB analyses without storing.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Detector *detect.Detector
	Location *time.Location
	ActorID  string
	// ActorRoles are recorded on analysis events when set.
	ActorRoles []string
	Log        *logger.Logger
	Now        func() time.Time
}

// New validates cfg and builds the detector. db may be nil.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	policy, err := cfg.Policy()
	if err != nil {
		return Engine{}, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return Engine{}, err
	}
	det, err := detect.New(policy)
	if err != nil {
		return Engine{}, err
	}
	if !cfg.Storage.Enabled {
		db = nil
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Detector: det,
		Location: loc,
		ActorID:  "local",
		Log:      logger.NewNop(),
		Now:      time.Now,
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) log() *logger.Logger {
	if e.Log == nil {
		return logger.NewNop()
	}
	return e.Log
}

// Stores reports whether runs are persisted.
func (e Engine) Stores() bool { return e.DB != nil }

// Load parses a schedule file in the configured timezone.
func (e Engine) Load(name string, data []byte) ([]domain.Record, error) {
	return loader.Load(name, data, loader.Options{Location: e.Location})
}

// AnalyzeFile loads a CSV or XLSX schedule and analyses it.
func (e Engine) AnalyzeFile(ctx context.Context, name string, data []byte) (domain.Analysis, error) {
	records, err := e.Load(name, data)
	if err != nil {
		e.reject(ctx, name, err)
		return domain.Analysis{}, err
	}
	return e.Analyze(ctx, name, records)
}

// Analyze runs one detection pass. An invalid schedule yields no run at all;
// the rejection is only recorded as an event.
func (e Engine) Analyze(ctx context.Context, source string, records []domain.Record) (domain.Analysis, error) {
	start := e.now()
	findings, err := e.Detector.Detect(records)
	if err != nil {
		e.reject(ctx, source, err)
		return domain.Analysis{}, err
	}
	a := domain.Analysis{
		ID:          uuid.NewString(),
		Source:      source,
		RecordCount: len(records),
		Findings:    findings,
		Records:     append([]domain.Record(nil), records...),
		Policy:      e.policySnapshot(),
		CreatedAt:   start.UTC().Format(time.RFC3339),
	}
	e.log().Info("analysis completed",
		logger.String("analysis_id", a.ID),
		logger.String("source", source),
		logger.Int("records", a.RecordCount),
		logger.Int("findings", len(findings)),
		logger.Int("critical", a.CriticalCount()))
	if e.DB == nil {
		return a, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Analysis{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAnalysisTx(ctx, tx, a); err != nil {
		return domain.Analysis{}, fmt.Errorf("store analysis: %w", err)
	}
	payload := events.EventPayload{
		"source":   source,
		"records":  a.RecordCount,
		"findings": len(findings),
		"critical": a.CriticalCount(),
	}
	if err := e.Events.Append(ctx, tx, events.AnalysisCompleted, "analysis", a.ID, e.ActorID, e.withRoles(payload)); err != nil {
		return domain.Analysis{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Analysis{}, err
	}
	return a, nil
}

func (e Engine) reject(ctx context.Context, source string, cause error) {
	fields := []logger.Field{logger.String("source", source), logger.Error(cause)}
	payload := events.EventPayload{"source": source, "error": cause.Error()}
	var invalid *detect.InvalidScheduleError
	if errors.As(cause, &invalid) {
		fields = append(fields, logger.Int("problems", len(invalid.Problems)))
		payload["problems"] = invalid.Problems
	}
	e.log().Warn("analysis rejected", fields...)
	if e.DB == nil {
		return
	}
	if err := e.Events.Append(ctx, nil, events.AnalysisRejected, "analysis", "", e.ActorID, e.withRoles(payload)); err != nil {
		e.log().Error("record rejection event", logger.Error(err))
	}
}

func (e Engine) withRoles(payload events.EventPayload) events.EventPayload {
	if len(e.ActorRoles) == 0 {
		return payload
	}
	if payload == nil {
		payload = events.EventPayload{}
	}
	payload["roles"] = e.ActorRoles
	return payload
}

func (e Engine) policySnapshot() domain.PolicySnapshot {
	p := e.Detector.Policy()
	days := make([]string, len(p.UrgentDays))
	for i, d := range p.UrgentDays {
		days[i] = d.String()
	}
	return domain.PolicySnapshot{
		OverloadThreshold:  p.OverloadThreshold,
		OverloadComparison: string(p.OverloadComparison),
		UrgentDays:         days,
	}
}

// Rank orders records by ethical priority score.
func (e Engine) Rank(records []domain.Record) []detect.Ranked {
	return e.Detector.Policy().Scoring.Rank(records)
}

func (e Engine) GetAnalysis(ctx context.Context, id string) (domain.Analysis, error) {
	if e.DB == nil {
		return domain.Analysis{}, ErrStorageDisabled
	}
	return e.Repo.GetAnalysis(ctx, id)
}

func (e Engine) ListAnalyses(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.AnalysisSummary, error) {
	if e.DB == nil {
		return nil, ErrStorageDisabled
	}
	return e.Repo.ListAnalyses(ctx, limit, cursorCreatedAt, cursorID)
}

// DeleteAnalysis removes a stored run; its events stay for audit.
func (e Engine) DeleteAnalysis(ctx context.Context, id string) error {
	if e.DB == nil {
		return ErrStorageDisabled
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAnalysisTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.AnalysisDeleted, "analysis", id, e.ActorID, e.withRoles(nil)); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) History(ctx context.Context, limit int, analysisID string) ([]domain.Event, error) {
	if e.DB == nil {
		return nil, ErrStorageDisabled
	}
	return e.Repo.LatestEvents(ctx, limit, "", "analysis", analysisID)
}

type ExportFormat string

const (
	ExportXLSX     ExportFormat = "xlsx"
	ExportPDF      ExportFormat = "pdf"
	ExportText     ExportFormat = "txt"
	ExportMarkdown ExportFormat = "md"
)

func (f ExportFormat) ContentType() string {
	switch f {
	case ExportXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportPDF:
		return "application/pdf"
	case ExportMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Render produces an export of a run.
func (e Engine) Render(a domain.Analysis, format ExportFormat) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case ExportXLSX:
		return report.XLSX(a.Findings, e.Rank(a.Records))
	case ExportPDF:
		if err := report.PDF(&buf, a); err != nil {
			return nil, fmt.Errorf("render pdf: %w", err)
		}
	case ExportText:
		if err := report.Text(&buf, a.Findings); err != nil {
			return nil, err
		}
	case ExportMarkdown:
		buf.WriteString(report.Markdown(a))
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", ErrInvalidInput, format)
	}
	return buf.Bytes(), nil
}

// Export renders a stored run.
func (e Engine) Export(ctx context.Context, id string, format ExportFormat) ([]byte, error) {
	a, err := e.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Render(a, format)
}

// Summary is the assistant context block of a stored run.
func (e Engine) Summary(ctx context.Context, id string) (string, error) {
	a, err := e.GetAnalysis(ctx, id)
	if err != nil {
		return "", err
	}
	return report.Summary(a.Records, a.Findings), nil
}

// SummarizeFile builds the assistant context block straight from a file.
func (e Engine) SummarizeFile(name string, data []byte) (string, error) {
	records, err := e.Load(name, data)
	if err != nil {
		return "", err
	}
	findings, err := e.Detector.Detect(records)
	if err != nil {
		return "", err
	}
	return report.Summary(records, findings), nil
}
