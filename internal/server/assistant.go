package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"surgiplan/internal/assistant"
	"surgiplan/internal/engine"
)

func registerAssistant(api huma.API, e engine.Engine, svc *assistant.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "assistant-suggestions",
		Method:      http.MethodGet,
		Path:        "/assistant/suggestions",
		Summary:     "Suggested questions",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SuggestionsResponse `json:"body"`
	}, error) {
		return &struct {
			Body SuggestionsResponse `json:"body"`
		}{Body: SuggestionsResponse{Questions: assistant.SuggestedQuestions(), Available: svc.Available()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "start-assistant-session",
		Method:        http.MethodPost,
		Path:          "/assistant/sessions",
		Summary:       "Start an assistant session",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		sess, err := svc.StartSession(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(sess)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assistant-session",
		Method:      http.MethodGet,
		Path:        "/assistant/sessions/{session_id}",
		Summary:     "Get an assistant session",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct {
		Body SessionResponse `json:"body"`
	}, error) {
		sess, err := svc.Session(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SessionResponse `json:"body"`
		}{Body: sessionResponse(sess)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "end-assistant-session",
		Method:        http.MethodDelete,
		Path:          "/assistant/sessions/{session_id}",
		Summary:       "End an assistant session",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id"`
	}) (*struct{}, error) {
		if err := svc.EndSession(ctx, input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ask-assistant",
		Method:      http.MethodPost,
		Path:        "/assistant/sessions/{session_id}/questions",
		Summary:     "Ask the assistant",
		Description: "Relays a question within the session's conversation. With analysis_id the run's schedule summary is sent as context.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusGone,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}, func(ctx context.Context, input *struct {
		SessionID string     `path:"session_id"`
		Body      AskRequest `json:"body"`
	}) (*struct {
		Body assistant.Answer `json:"body"`
	}, error) {
		if strings.TrimSpace(input.Body.Question) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "question is required", nil)
		}
		ans, err := engineFor(ctx, e).Ask(ctx, svc, engine.Question{
			SessionID:  input.SessionID,
			Text:       input.Body.Question,
			AnalysisID: input.Body.AnalysisID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body assistant.Answer `json:"body"`
		}{Body: ans}, nil
	})
}
