// Package assistant relays questions about a schedule to an external
// conversational assistant. Detection never depends on it: every failure here
// surfaces as an error to the caller and nothing else.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"surgiplan/internal/domain"
	"surgiplan/pkg/logger"
)

// Store persists sessions so a conversation survives a process restart.
// LoadSession returns nil, nil for an unknown id.
type Store interface {
	SaveSession(ctx context.Context, s domain.AssistantSession) error
	LoadSession(ctx context.Context, id string) (*domain.AssistantSession, error)
}

type Options struct {
	PollInterval time.Duration
	MaxWait      time.Duration
	SessionTTL   time.Duration
	Now          func() time.Time
	Logger       *logger.Logger
}

// Answer is one completed question.
type Answer struct {
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Question  string `json:"question"`
	Reply     string `json:"reply"`
}

type session struct {
	// mu serialises questions; a thread accepts no message while a run is active
	mu  sync.Mutex
	rec domain.AssistantSession
	// active is guarded by Service.mu so sweeping never waits on a question
	active time.Time
}

// Service owns the conversation state of every session. It is safe for
// concurrent use.
type Service struct {
	client Client
	store  Store
	opts   Options
	log    *logger.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService builds a service. A nil client yields a service whose questions
// fail with ErrUnavailable; a nil store keeps sessions in memory only.
func NewService(client Client, store Store, opts Options) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = 2 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		client:   client,
		store:    store,
		opts:     opts,
		log:      log.Named("assistant"),
		sessions: map[string]*session{},
	}
}

// Available reports whether questions can be answered at all.
func (s *Service) Available() bool { return s.client != nil }

func (s *Service) now() string {
	return s.opts.Now().UTC().Format(time.RFC3339)
}

// StartSession opens a conversation. The provider thread is created with the
// first question.
func (s *Service) StartSession(ctx context.Context) (domain.AssistantSession, error) {
	now := s.now()
	rec := domain.AssistantSession{ID: uuid.NewString(), CreatedAt: now, LastActiveAt: now}
	if err := s.save(ctx, rec); err != nil {
		return domain.AssistantSession{}, err
	}
	s.mu.Lock()
	s.sessions[rec.ID] = &session{rec: rec, active: s.opts.Now()}
	s.mu.Unlock()
	s.log.Debug("session started", logger.String("session_id", rec.ID))
	return rec, nil
}

// EndSession closes a conversation; later questions fail with ErrSessionEnded.
func (s *Service) EndSession(ctx context.Context, id string) error {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.EndedAt != "" {
		return nil
	}
	sess.rec.EndedAt = s.now()
	if err := s.save(ctx, sess.rec); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}

// Session returns the current state of a session.
func (s *Service) Session(ctx context.Context, id string) (domain.AssistantSession, error) {
	sess, err := s.lookup(ctx, id)
	if err != nil {
		return domain.AssistantSession{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.rec, nil
}

// Ask sends a question, prefixed with the schedule summary when one is given,
// and waits for the reply. Waiting is bounded by ctx and Options.MaxWait; a run
// still pending at that point is cancelled.
func (s *Service) Ask(ctx context.Context, sessionID, question, summary string) (Answer, error) {
	if strings.TrimSpace(question) == "" {
		return Answer{}, errors.New("question is empty")
	}
	sess, err := s.lookup(ctx, sessionID)
	if err != nil {
		return Answer{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.rec.EndedAt != "" {
		return Answer{}, ErrSessionEnded
	}
	// session errors win over a missing provider
	if s.client == nil {
		return Answer{}, ErrUnavailable
	}
	log := s.log.With(logger.String("session_id", sessionID))

	if sess.rec.ThreadID == "" {
		threadID, err := s.client.CreateThread(ctx)
		if err != nil {
			return Answer{}, s.unavailable(err)
		}
		sess.rec.ThreadID = threadID
		log.Debug("thread created", logger.String("thread_id", threadID))
		if err := s.save(ctx, sess.rec); err != nil {
			return Answer{}, err
		}
	}
	threadID := sess.rec.ThreadID
	if err := s.client.AddMessage(ctx, threadID, ComposePrompt(summary, question)); err != nil {
		return Answer{}, s.unavailable(err)
	}
	run, err := s.client.StartRun(ctx, threadID)
	if err != nil {
		return Answer{}, s.unavailable(err)
	}
	run, err = s.wait(ctx, threadID, run)
	if err != nil {
		log.Warn("run did not complete", logger.String("run_id", run.ID), logger.Error(err))
		return Answer{}, err
	}
	reply, err := s.client.LatestReply(ctx, threadID, run.ID)
	if err != nil {
		return Answer{}, s.unavailable(err)
	}

	sess.rec.LastActiveAt = s.now()
	if err := s.save(ctx, sess.rec); err != nil {
		return Answer{}, err
	}
	return Answer{SessionID: sessionID, RunID: run.ID, Question: question, Reply: reply}, nil
}

func (s *Service) wait(parent context.Context, threadID string, run Run) (Run, error) {
	ctx, cancel := context.WithTimeout(parent, s.opts.MaxWait)
	defer cancel()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for !run.Status.Terminal() {
		select {
		case <-ctx.Done():
			s.cancelRun(threadID, run.ID)
			if err := parent.Err(); err != nil {
				return run, err
			}
			return run, ErrTimeout
		case <-ticker.C:
		}
		next, err := s.client.GetRun(ctx, threadID, run.ID)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return run, s.unavailable(err)
		}
		run = next
	}
	if run.Status != RunCompleted {
		msg := fmt.Sprintf("run ended with status %s", run.Status)
		if run.LastError != "" {
			msg += ": " + run.LastError
		}
		return run, fmt.Errorf("%w: %s", ErrUnavailable, msg)
	}
	return run, nil
}

func (s *Service) cancelRun(threadID, runID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.CancelRun(ctx, threadID, runID); err != nil {
		s.log.Debug("cancel run failed", logger.String("run_id", runID), logger.Error(err))
	}
}

func (s *Service) unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// lookup finds a live session and marks it active.
func (s *Service) lookup(ctx context.Context, id string) (*session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		if s.store == nil {
			return nil, ErrSessionNotFound
		}
		rec, err := s.store.LoadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, ErrSessionNotFound
		}
		if rec.EndedAt != "" {
			return nil, ErrSessionEnded
		}
		active, err := time.Parse(time.RFC3339, rec.LastActiveAt)
		if err != nil {
			active = s.opts.Now()
		}
		s.mu.Lock()
		if existing, ok := s.sessions[id]; ok {
			sess = existing
		} else {
			sess = &session{rec: *rec, active: active}
			s.sessions[id] = sess
		}
		s.mu.Unlock()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(sess) {
		return nil, ErrSessionEnded
	}
	sess.active = s.opts.Now()
	return sess, nil
}

func (s *Service) expiredLocked(sess *session) bool {
	return s.opts.Now().Sub(sess.active) > s.opts.SessionTTL
}

// Sweep drops idle sessions from memory and marks them ended in the store.
func (s *Service) Sweep(ctx context.Context) int {
	s.mu.Lock()
	var idle []*session
	for id, sess := range s.sessions {
		if s.expiredLocked(sess) {
			idle = append(idle, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()
	for _, sess := range idle {
		sess.mu.Lock()
		sess.rec.EndedAt = s.now()
		rec := sess.rec
		sess.mu.Unlock()
		if err := s.save(ctx, rec); err != nil {
			s.log.Warn("persist expired session", logger.String("session_id", rec.ID), logger.Error(err))
		}
	}
	return len(idle)
}

func (s *Service) save(ctx context.Context, rec domain.AssistantSession) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		return fmt.Errorf("save assistant session: %w", err)
	}
	return nil
}
