package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"surgiplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertAnalysis(ctx context.Context, a domain.Analysis) error {
	return r.insertAnalysis(ctx, r.DB, a)
}

func (r Repo) InsertAnalysisTx(ctx context.Context, tx *sql.Tx, a domain.Analysis) error {
	return r.insertAnalysis(ctx, tx, a)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r Repo) insertAnalysis(ctx context.Context, ex execer, a domain.Analysis) error {
	findings := a.Findings
	if findings == nil {
		findings = []domain.Finding{}
	}
	fj, err := json.Marshal(findings)
	if err != nil {
		return fmt.Errorf("marshal findings: %w", err)
	}
	rj, err := json.Marshal(a.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}
	pj, err := json.Marshal(a.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO analyses(id,source,record_count,finding_count,critical_count,findings_json,records_json,policy_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Source, a.RecordCount, len(a.Findings), a.CriticalCount(), string(fj), string(rj), string(pj), a.CreatedAt)
	return err
}

func (r Repo) GetAnalysis(ctx context.Context, id string) (domain.Analysis, error) {
	var (
		a          domain.Analysis
		fj, rj, pj string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,source,record_count,findings_json,records_json,policy_json,created_at FROM analyses WHERE id=?`, id).
		Scan(&a.ID, &a.Source, &a.RecordCount, &fj, &rj, &pj, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(fj), &a.Findings); err != nil {
		return a, fmt.Errorf("decode findings of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(rj), &a.Records); err != nil {
		return a, fmt.Errorf("decode records of %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(pj), &a.Policy); err != nil {
		return a, fmt.Errorf("decode policy of %s: %w", id, err)
	}
	return a, nil
}

// ListAnalyses returns runs newest first. The cursor is the created_at and id
// of the last item of the previous page.
func (r Repo) ListAnalyses(ctx context.Context, limit int, cursorCreatedAt, cursorID string) ([]domain.AnalysisSummary, error) {
	var (
		clauses = []string{"1=1"}
		args    []any
	)
	if cursorCreatedAt != "" && cursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, cursorCreatedAt, cursorCreatedAt, cursorID)
	}
	query := `SELECT id,source,record_count,finding_count,critical_count,created_at FROM analyses WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.AnalysisSummary{}
	for rows.Next() {
		var s domain.AnalysisSummary
		if err := rows.Scan(&s.ID, &s.Source, &s.RecordCount, &s.FindingCount, &s.CriticalCount, &s.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) DeleteAnalysis(ctx context.Context, id string) error {
	return r.deleteAnalysis(ctx, r.DB, id)
}

func (r Repo) DeleteAnalysisTx(ctx context.Context, tx *sql.Tx, id string) error {
	return r.deleteAnalysis(ctx, tx, id)
}

func (r Repo) deleteAnalysis(ctx context.Context, ex execer, id string) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM analyses WHERE id=?`, id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveSession inserts or replaces an assistant session.
func (r Repo) SaveSession(ctx context.Context, s domain.AssistantSession) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO assistant_sessions(id,thread_id,created_at,last_active_at,ended_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET thread_id=excluded.thread_id, last_active_at=excluded.last_active_at, ended_at=excluded.ended_at`,
		s.ID, nullable(s.ThreadID), s.CreatedAt, s.LastActiveAt, nullable(s.EndedAt))
	return err
}

func (r Repo) GetSession(ctx context.Context, id string) (domain.AssistantSession, error) {
	var (
		s               domain.AssistantSession
		thread, endedAt sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id,thread_id,created_at,last_active_at,ended_at FROM assistant_sessions WHERE id=?`, id).
		Scan(&s.ID, &thread, &s.CreatedAt, &s.LastActiveAt, &endedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	s.ThreadID = thread.String
	s.EndedAt = endedAt.String
	return s, err
}

// LatestEvents returns events newest first, optionally filtered.
func (r Repo) LatestEvents(ctx context.Context, limit int, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
