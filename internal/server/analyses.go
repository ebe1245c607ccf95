package server

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"surgiplan/internal/assistant"
	"surgiplan/internal/detect"
	"surgiplan/internal/domain"
	"surgiplan/internal/engine"
	"surgiplan/internal/loader"
)

const maxUploadBytes = 32 << 20

var uploadErrors = []int{
	http.StatusBadRequest,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

// fileInput carries a CSV or XLSX file as the raw request body.
type fileInput struct {
	Filename string `query:"filename" required:"true" doc:"Original file name; the extension selects CSV or XLSX" example:"programacion.xlsx"`
	RawBody  []byte
}

func registerHealth(api huma.API, e engine.Engine, svc *assistant.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"status":    "ok",
			"storage":   e.Stores(),
			"assistant": svc != nil && svc.Available(),
		}}, nil
	})
}

func registerAnalyses(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "analyze-file",
		Method:        http.MethodPost,
		Path:          "/analyses",
		Summary:       "Analyse a schedule file",
		Description:   "Loads a CSV or XLSX surgical schedule, runs conflict detection and stores the run.",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Errors:        uploadErrors,
	}, func(ctx context.Context, input *fileInput) (*struct {
		Body AnalysisResponse `json:"body"`
	}, error) {
		if len(input.RawBody) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "file body required", nil)
		}
		eng := engineFor(ctx, e)
		a, err := eng.AnalyzeFile(ctx, filepath.Base(input.Filename), input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnalysisResponse `json:"body"`
		}{Body: analysisResponse(a, eng.Stores())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "analyze-records",
		Method:        http.MethodPost,
		Path:          "/analyses/records",
		Summary:       "Analyse records",
		Description:   "Runs conflict detection over records submitted as JSON.",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUploadBytes,
		Errors:        uploadErrors,
	}, func(ctx context.Context, input *struct {
		Body AnalyzeRecordsRequest `json:"body"`
	}) (*struct {
		Body AnalysisResponse `json:"body"`
	}, error) {
		source := strings.TrimSpace(input.Body.Source)
		if source == "" {
			source = "api"
		}
		eng := engineFor(ctx, e)
		a, err := eng.Analyze(ctx, source, toRecords(input.Body.Records))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AnalysisResponse `json:"body"`
		}{Body: analysisResponse(a, eng.Stores())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-analyses",
		Method:      http.MethodGet,
		Path:        "/analyses",
		Summary:     "List stored runs",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedAnalyses `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListAnalyses(ctx, limit+1, cursorTS, cursorID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAnalyses{Items: items}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
			resp.Items = items[:limit]
		}
		return &struct {
			Body paginatedAnalyses `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-analysis",
		Method:      http.MethodGet,
		Path:        "/analyses/{analysis_id}",
		Summary:     "Get a stored run",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnalysisID string `path:"analysis_id"`
	}) (*struct {
		Body AnalysisResponse `json:"body"`
	}, error) {
		a, err := e.GetAnalysis(ctx, input.AnalysisID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := analysisResponse(a, true)
		resp.Records = a.Records
		return &struct {
			Body AnalysisResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-analysis",
		Method:        http.MethodDelete,
		Path:          "/analyses/{analysis_id}",
		Summary:       "Delete a stored run",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnalysisID string `path:"analysis_id"`
	}) (*struct{}, error) {
		if err := engineFor(ctx, e).DeleteAnalysis(ctx, input.AnalysisID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-analysis",
		Method:      http.MethodGet,
		Path:        "/analyses/{analysis_id}/export",
		Summary:     "Export a stored run",
		Description: "Renders the findings as an XLSX workbook, a PDF report, plain text or markdown.",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnalysisID string `path:"analysis_id"`
		Format     string `query:"format" enum:"xlsx,pdf,txt,md" default:"xlsx"`
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		format := engine.ExportFormat(input.Format)
		data, err := e.Export(ctx, input.AnalysisID, format)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        format.ContentType(),
			ContentDisposition: fmt.Sprintf(`attachment; filename="analysis-%s.%s"`, input.AnalysisID, format),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rank-analysis",
		Method:      http.MethodGet,
		Path:        "/analyses/{analysis_id}/ranking",
		Summary:     "Cases of a run ranked by ethical priority",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnalysisID string `path:"analysis_id"`
	}) (*struct {
		Body []detect.Ranked `json:"body"`
	}, error) {
		a, err := e.GetAnalysis(ctx, input.AnalysisID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []detect.Ranked `json:"body"`
		}{Body: e.Rank(a.Records)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "analysis-events",
		Method:      http.MethodGet,
		Path:        "/analyses/{analysis_id}/events",
		Summary:     "Audit events of a run",
		Errors:      []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AnalysisID string `path:"analysis_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.History(ctx, normalizeLimit(input.Limit), input.AnalysisID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

// registerFiles exposes the read-only helpers that never store anything.
func registerFiles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:  "inspect-file",
		Method:       http.MethodPost,
		Path:         "/inspect",
		Summary:      "Profile a schedule file",
		MaxBodyBytes: maxUploadBytes,
		Errors:       []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *fileInput) (*struct {
		Body loader.Profile `json:"body"`
	}, error) {
		p, err := loader.Inspect(input.Filename, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body loader.Profile `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "summarize-file",
		Method:       http.MethodPost,
		Path:         "/summary",
		Summary:      "Assistant context block for a schedule file",
		MaxBodyBytes: maxUploadBytes,
		Errors:       uploadErrors,
	}, func(ctx context.Context, input *fileInput) (*struct {
		Body SummaryResponse `json:"body"`
	}, error) {
		s, err := e.SummarizeFile(input.Filename, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SummaryResponse `json:"body"`
		}{Body: SummaryResponse{Summary: s}}, nil
	})
}
