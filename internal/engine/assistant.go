package engine

import (
	"context"
	"errors"
	"os"

	"surgiplan/internal/assistant"
	"surgiplan/internal/domain"
	"surgiplan/internal/events"
	"surgiplan/internal/repo"
	"surgiplan/pkg/logger"
)

// SessionStore keeps assistant sessions in the workspace database.
type SessionStore struct {
	Repo    repo.Repo
	Events  events.Writer
	ActorID string
}

func (s SessionStore) SaveSession(ctx context.Context, sess domain.AssistantSession) error {
	prev, err := s.Repo.GetSession(ctx, sess.ID)
	isNew := errors.Is(err, repo.ErrNotFound)
	if err != nil && !isNew {
		return err
	}
	if err := s.Repo.SaveSession(ctx, sess); err != nil {
		return err
	}
	switch {
	case isNew:
		return s.Events.Append(ctx, nil, events.SessionStarted, "assistant_session", sess.ID, s.ActorID, nil)
	case prev.EndedAt == "" && sess.EndedAt != "":
		return s.Events.Append(ctx, nil, events.SessionEnded, "assistant_session", sess.ID, s.ActorID, nil)
	}
	return nil
}

func (s SessionStore) LoadSession(ctx context.Context, id string) (*domain.AssistantSession, error) {
	sess, err := s.Repo.GetSession(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (e Engine) sessionStore() assistant.Store {
	if e.DB == nil {
		return nil
	}
	return SessionStore{Repo: e.Repo, Events: e.Events, ActorID: e.ActorID}
}

// NewAssistant wires the configured provider. When the assistant is disabled
// or misconfigured the service still works for sessions, and questions fail
// with assistant.ErrUnavailable.
func (e Engine) NewAssistant() *assistant.Service {
	cfg := e.Config.Assistant
	var client assistant.Client
	if cfg.Enabled {
		c, err := assistant.NewOpenAIClient(assistant.OpenAIConfig{
			APIKey:      os.Getenv(cfg.APIKeyEnv),
			AssistantID: cfg.AssistantID,
			BaseURL:     cfg.BaseURL,
		})
		if err != nil {
			e.log().Warn("assistant disabled", logger.Error(err))
		} else {
			client = c
		}
	}
	return e.AssistantWith(client)
}

// AssistantWith builds the service around an explicit client; nil means unavailable.
func (e Engine) AssistantWith(client assistant.Client) *assistant.Service {
	cfg := e.Config.Assistant
	return assistant.NewService(client, e.sessionStore(), assistant.Options{
		PollInterval: cfg.PollEvery(),
		MaxWait:      cfg.MaxWaitFor(),
		SessionTTL:   cfg.TTL(),
		Now:          e.Now,
		Logger:       e.log(),
	})
}

// Question is one assistant request. Summary, when set, is used as context
// as is; otherwise the summary of AnalysisID is used if the config allows it.
type Question struct {
	SessionID  string
	Text       string
	AnalysisID string
	Summary    string
}

// Ask relays a question and records the outcome as an event.
func (e Engine) Ask(ctx context.Context, svc *assistant.Service, q Question) (assistant.Answer, error) {
	summary := q.Summary
	if summary == "" && q.AnalysisID != "" && e.Config.Assistant.IncludeSummary {
		s, err := e.Summary(ctx, q.AnalysisID)
		if err != nil {
			return assistant.Answer{}, err
		}
		summary = s
	}
	ans, err := svc.Ask(ctx, q.SessionID, q.Text, summary)
	if e.DB != nil {
		evt, payload := events.QuestionAnswered, events.EventPayload{"run_id": ans.RunID, "analysis_id": q.AnalysisID}
		if err != nil {
			evt, payload = events.QuestionFailed, events.EventPayload{"error": err.Error(), "analysis_id": q.AnalysisID}
		}
		if werr := e.Events.Append(ctx, nil, evt, "assistant_session", q.SessionID, e.ActorID, payload); werr != nil {
			e.log().Warn("record assistant event", logger.Error(werr))
		}
	}
	return ans, err
}
