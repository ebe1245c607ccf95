package assistant

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable means no assistant is configured or the provider failed.
	ErrUnavailable     = errors.New("assistant unavailable")
	ErrSessionNotFound = errors.New("assistant session not found")
	ErrSessionEnded    = errors.New("assistant session ended")
	ErrTimeout         = errors.New("assistant did not answer in time")
)

type RunStatus string

const (
	RunQueued         RunStatus = "queued"
	RunInProgress     RunStatus = "in_progress"
	RunRequiresAction RunStatus = "requires_action"
	RunCancelling     RunStatus = "cancelling"
	RunCancelled      RunStatus = "cancelled"
	RunFailed         RunStatus = "failed"
	RunCompleted      RunStatus = "completed"
	RunIncomplete     RunStatus = "incomplete"
	RunExpired        RunStatus = "expired"
)

// Terminal reports whether polling can stop.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunExpired, RunIncomplete, RunRequiresAction:
		return true
	}
	return false
}

type Run struct {
	ID     string
	Status RunStatus
	// LastError is the provider's message for failed runs.
	LastError string
}

// Client is the part of a thread-based assistant API the service drives: one
// thread per conversation, one run per question.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, text string) error
	StartRun(ctx context.Context, threadID string) (Run, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// LatestReply returns the newest assistant message produced by the run.
	LatestReply(ctx context.Context, threadID, runID string) (string, error)
}
