package engine_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"surgiplan/internal/assistant"
	"surgiplan/internal/config"
	"surgiplan/internal/db"
	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
	"surgiplan/internal/engine"
	"surgiplan/internal/events"
	"surgiplan/internal/migrate"
	"surgiplan/internal/repo"
)

const scheduleCSV = "ID,Paciente,Procedimiento,Especialidad,Duración_horas,Fecha,Hora_inicio,Quirófano,Prioridad,Cirujano,Instrumentador\n" +
	"1,Ana,Apendicectomía,Cirugía General,2,2025-06-24,08:00,Q1,Alta,Dr. Pérez,Inst. Gómez\n" +
	"2,Luis,Bypass,Cardiología,3,2025-06-24,09:00,Q2,Urgente,Dr. Pérez,Inst. Ruiz\n" +
	"3,Marta,Mastectomía,Oncología,1.5,2025-06-25,07:30,Q1,Media,Dr. López,Inst. Gómez\n"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	eng, err := engine.New(conn, cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC) }
	eng.ActorID = "tester"
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func TestAnalyzeFileStoresRun(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.AnalyzeFile(env.Ctx, "programacion.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if a.RecordCount != 3 || len(a.Findings) != 2 {
		t.Fatalf("unexpected run: %d records, %d findings", a.RecordCount, len(a.Findings))
	}
	if a.Findings[0].Kind != domain.KindStaffOverlap || a.Findings[1].Kind != domain.KindMisroutedUrgency {
		t.Fatalf("unexpected findings %+v", a.Findings)
	}
	if a.CreatedAt != "2025-06-20T12:00:00Z" {
		t.Fatalf("created_at = %s", a.CreatedAt)
	}

	got, err := env.Engine.GetAnalysis(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Findings) != 2 || got.Findings[0].Message != a.Findings[0].Message {
		t.Fatalf("stored findings differ: %+v", got.Findings)
	}
	if len(got.Records) != 3 || !got.Records[1].Start.Equal(a.Records[1].Start) {
		t.Fatalf("stored records differ")
	}
	if got.Policy.OverloadThreshold != 3 || got.Policy.OverloadComparison != "gt" {
		t.Fatalf("policy snapshot = %+v", got.Policy)
	}

	list, err := env.Engine.ListAnalyses(env.Ctx, 10, "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].FindingCount != 2 || list[0].CriticalCount != 1 {
		t.Fatalf("list = %+v", list)
	}

	history, err := env.Engine.History(env.Ctx, 10, a.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Type != events.AnalysisCompleted || history[0].ActorID != "tester" {
		t.Fatalf("history = %+v", history)
	}
}

func TestRejectedScheduleIsNeverStored(t *testing.T) {
	env := newTestEnv(t)
	bad := strings.Replace(scheduleCSV, "\n2,", "\n1,", 1)
	_, err := env.Engine.AnalyzeFile(env.Ctx, "dup.csv", []byte(bad))
	var invalid *detect.InvalidScheduleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}

	list, err := env.Engine.ListAnalyses(env.Ctx, 10, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("rejected pass was stored: %+v", list)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, events.AnalysisRejected, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(evts) != 1 || !strings.Contains(evts[0].Payload, "dup.csv") {
		t.Fatalf("rejection events = %+v", evts)
	}
}

func TestLoaderProblemsAreRejectedToo(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.AnalyzeFile(env.Ctx, "x.csv", []byte("ID,Paciente\n1,Ana\n"))
	var invalid *detect.InvalidScheduleError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected invalid schedule, got %v", err)
	}
	evts, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, events.AnalysisRejected, "", "")
	if len(evts) != 1 {
		t.Fatalf("expected one rejection event, got %d", len(evts))
	}
}

func TestStorageDisabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Storage.Enabled = false })
	a, err := env.Engine.AnalyzeFile(env.Ctx, "p.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if _, err := env.Engine.GetAnalysis(env.Ctx, a.ID); !errors.Is(err, engine.ErrStorageDisabled) {
		t.Fatalf("expected storage disabled, got %v", err)
	}
}

func TestPolicyComesFromConfig(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Detection.OverloadThreshold = 1
		c.Detection.OverloadComparison = "gte"
		c.Detection.UrgentDays = []string{"martes"}
	})
	a, err := env.Engine.AnalyzeFile(env.Ctx, "p.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	var kinds []domain.FindingKind
	for _, f := range a.Findings {
		kinds = append(kinds, f.Kind)
	}
	// Tuesday now has urgent slots; both rooms reach the threshold of 1
	want := []domain.FindingKind{domain.KindStaffOverlap, domain.KindRoomOverload, domain.KindRoomOverload}
	if len(kinds) != len(want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("kinds = %v, want %v", kinds, want)
		}
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	cfg := config.Default()
	cfg.Detection.OverloadThreshold = -2
	_, err := engine.New(nil, cfg)
	var cfgErr *detect.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestExportFormats(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.AnalyzeFile(env.Ctx, "p.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatal(err)
	}
	checks := map[engine.ExportFormat]func([]byte) bool{
		engine.ExportXLSX:     func(b []byte) bool { return bytes.HasPrefix(b, []byte("PK")) },
		engine.ExportPDF:      func(b []byte) bool { return bytes.HasPrefix(b, []byte("%PDF-")) },
		engine.ExportText:     func(b []byte) bool { return bytes.Count(b, []byte("\n")) == 2 },
		engine.ExportMarkdown: func(b []byte) bool { return bytes.Contains(b, []byte("| staff_overlap |")) },
	}
	for format, ok := range checks {
		out, err := env.Engine.Export(env.Ctx, a.ID, format)
		if err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if !ok(out) {
			t.Fatalf("%s export looks wrong: %q", format, out[:min(len(out), 80)])
		}
	}
	if _, err := env.Engine.Export(env.Ctx, a.ID, "docx"); !errors.Is(err, engine.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

type instantClient struct{ prompts []string }

func (c *instantClient) CreateThread(context.Context) (string, error) { return "thread_1", nil }
func (c *instantClient) AddMessage(_ context.Context, _, text string) error {
	c.prompts = append(c.prompts, text)
	return nil
}
func (c *instantClient) StartRun(context.Context, string) (assistant.Run, error) {
	return assistant.Run{ID: "run_1", Status: assistant.RunCompleted}, nil
}
func (c *instantClient) GetRun(context.Context, string, string) (assistant.Run, error) {
	return assistant.Run{ID: "run_1", Status: assistant.RunCompleted}, nil
}
func (c *instantClient) CancelRun(context.Context, string, string) error { return nil }
func (c *instantClient) LatestReply(context.Context, string, string) (string, error) {
	return "Dr. Pérez is double-booked.", nil
}

func TestAskWithStoredAnalysis(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.AnalyzeFile(env.Ctx, "p.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatal(err)
	}
	client := &instantClient{}
	svc := env.Engine.AssistantWith(client)
	sess, err := svc.StartSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	ans, err := env.Engine.Ask(env.Ctx, svc, engine.Question{SessionID: sess.ID, Text: "Any conflicts?", AnalysisID: a.ID})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Reply != "Dr. Pérez is double-booked." {
		t.Fatalf("reply = %q", ans.Reply)
	}
	if len(client.prompts) != 1 || !strings.Contains(client.prompts[0], "Surgical schedule: 3 cases") {
		t.Fatalf("prompt did not carry the summary: %q", client.prompts)
	}

	stored, err := env.Engine.Repo.GetSession(env.Ctx, sess.ID)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if stored.ThreadID != "thread_1" {
		t.Fatalf("thread id = %q", stored.ThreadID)
	}

	// a fresh service resumes the same conversation from the database
	resumed := env.Engine.AssistantWith(client)
	if _, err := env.Engine.Ask(env.Ctx, resumed, engine.Question{SessionID: sess.ID, Text: "And tomorrow?"}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := resumed.EndSession(env.Ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	for _, typ := range []string{events.SessionStarted, events.QuestionAnswered, events.SessionEnded} {
		evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, typ, "assistant_session", sess.ID)
		if err != nil || len(evts) == 0 {
			t.Fatalf("missing %s event: %v", typ, err)
		}
	}
}

func TestAskWithoutProviderIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	svc := env.Engine.NewAssistant()
	sess, err := svc.StartSession(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Ask(env.Ctx, svc, engine.Question{SessionID: sess.ID, Text: "hello"})
	if !errors.Is(err, assistant.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	evts, _ := env.Engine.Repo.LatestEvents(env.Ctx, 10, events.QuestionFailed, "", "")
	if len(evts) != 1 {
		t.Fatalf("expected a failure event, got %d", len(evts))
	}
}

func TestDeleteAnalysisKeepsAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.AnalyzeFile(env.Ctx, "programacion.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if err := env.Engine.DeleteAnalysis(env.Ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetAnalysis(env.Ctx, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.Engine.DeleteAnalysis(env.Ctx, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}

	history, err := env.Engine.History(env.Ctx, 10, a.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	types := map[string]bool{}
	for _, e := range history {
		types[e.Type] = true
	}
	if len(history) != 2 || !types[events.AnalysisCompleted] || !types[events.AnalysisDeleted] {
		t.Fatalf("history = %+v", history)
	}
}
