package surgiplansdk_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"surgiplan/internal/config"
	"surgiplan/internal/db"
	"surgiplan/internal/engine"
	"surgiplan/internal/migrate"
	"surgiplan/internal/server"
	surgiplansdk "surgiplan/sdk/go"
)

const scheduleCSV = "ID,Paciente,Procedimiento,Especialidad,Duración_horas,Fecha,Hora_inicio,Quirófano,Prioridad,Cirujano,Instrumentador\n" +
	"1,Ana,Apendicectomía,Cirugía General,2,2025-06-24,08:00,Q1,Alta,Dr. Pérez,Inst. Gómez\n" +
	"2,Luis,Bypass,Cardiología,3,2025-06-24,09:00,Q2,Urgente,Dr. Pérez,Inst. Ruiz\n"

func startServer(t *testing.T, secret string) string {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Now = func() time.Time { return time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC) }
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	return "http://" + ln.Addr().String()
}

func apiError(t *testing.T, err error) *surgiplansdk.APIError {
	t.Helper()
	var apiErr *surgiplansdk.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	return apiErr
}

func TestClientRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := surgiplansdk.New(startServer(t, ""))

	run, err := c.Analyze(ctx, "programacion.csv", []byte(scheduleCSV))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	want := []surgiplansdk.Finding{
		{Kind: "staff_overlap", Severity: "critical", RecordIDs: []string{"1", "2"}},
		{Kind: "misrouted_urgency", Severity: "warning", RecordIDs: []string{"2"}},
	}
	ignore := cmpopts.IgnoreFields(surgiplansdk.Finding{}, "Message", "Resources", "Room", "Count")
	if diff := cmp.Diff(want, run.Findings, ignore); diff != "" {
		t.Fatalf("findings mismatch (-want +got):\n%s", diff)
	}
	if !run.Stored || run.CriticalCount != 1 {
		t.Fatalf("unexpected run %+v", run)
	}

	page, err := c.ListAnalyses(ctx, 10, "")
	if err != nil || len(page.Items) != 1 || page.Items[0].ID != run.ID {
		t.Fatalf("list: %+v %v", page, err)
	}

	got, err := c.GetAnalysis(ctx, run.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(run.Findings, got.Findings); diff != "" {
		t.Fatalf("stored findings differ (-created +fetched):\n%s", diff)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected records on fetch, got %d", len(got.Records))
	}

	ranked, err := c.Ranking(ctx, run.ID)
	if err != nil || len(ranked) != 2 || ranked[0].ID != "2" {
		t.Fatalf("ranking: %+v %v", ranked, err)
	}

	txt, err := c.Export(ctx, run.ID, "txt")
	if err != nil || !strings.HasPrefix(string(txt), "[CRITICAL] staff_overlap") {
		t.Fatalf("export: %q %v", txt, err)
	}

	if err := c.DeleteAnalysis(ctx, run.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = c.GetAnalysis(ctx, run.ID)
	if apiErr := apiError(t, err); apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestClientDecodesInvalidSchedule(t *testing.T) {
	c := surgiplansdk.New(startServer(t, ""))
	bad := strings.Replace(scheduleCSV, "Urgente", "Pronto", 1)
	_, err := c.Analyze(context.Background(), "programacion.csv", []byte(bad))
	apiErr := apiError(t, err)
	if apiErr.StatusCode != http.StatusUnprocessableEntity || apiErr.Code != "invalid_schedule" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	problems := apiErr.Problems()
	if len(problems) != 1 {
		t.Fatalf("expected one problem, got %v", problems)
	}
	want := surgiplansdk.Problem{RecordID: "2", Row: 3, Field: "Prioridad", Reason: problems[0].Reason}
	if problems[0] != want || problems[0].Reason == "" {
		t.Fatalf("unexpected problem %+v", problems[0])
	}
	if got := problems[0].String(); !strings.HasPrefix(got, "row 3 record 2: Prioridad: ") {
		t.Fatalf("unexpected problem text %q", got)
	}
}

func TestClientRecordsAndAssistant(t *testing.T) {
	ctx := context.Background()
	c := surgiplansdk.New(startServer(t, ""))
	start := time.Date(2025, 6, 28, 8, 0, 0, 0, time.UTC)
	run, err := c.AnalyzeRecords(ctx, "board", []surgiplansdk.Record{
		{ID: "a", Procedure: "Bypass", DurationHours: 2, Start: start, Room: "Q1", Priority: "urgent", Surgeon: "Dr. Pérez", InstrumentNurse: "Inst. Ruiz"},
	})
	if err != nil || len(run.Findings) != 0 || run.Source != "board" {
		t.Fatalf("analyze records: %+v %v", run, err)
	}

	sess, err := c.StartSession(ctx)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	_, err = c.Ask(ctx, sess.ID, "¿Hay conflictos?", run.ID)
	if apiErr := apiError(t, err); apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if err := c.EndSession(ctx, sess.ID); err != nil {
		t.Fatalf("end session: %v", err)
	}
}

func TestClientBearerToken(t *testing.T) {
	ctx := context.Background()
	base := startServer(t, "s3cret")

	_, err := surgiplansdk.New(base).ListAnalyses(ctx, 0, "")
	if apiErr := apiError(t, err); apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unexpected error %+v", apiErr)
	}

	token, err := server.IssueToken("s3cret", "dr-scheduler", nil)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if _, err := surgiplansdk.New(base, surgiplansdk.WithToken(token)).ListAnalyses(ctx, 0, ""); err != nil {
		t.Fatalf("list with token: %v", err)
	}
}
